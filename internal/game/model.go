package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const KingdomID = 1

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrRuleBlocked  = errors.New("rule violation")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTxConflict   = errors.New("transaction conflict, retry later")
)

// RuleError carries a message meant for direct display. Kind is one of the
// sentinel errors above so callers can branch with errors.Is.
type RuleError struct {
	Kind error
	Msg  string
}

func (e *RuleError) Error() string { return e.Msg }

func (e *RuleError) Unwrap() error { return e.Kind }

func rule(kind error, format string, args ...any) error {
	return &RuleError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Resources are the four basic consumables every player holds.
type Resources struct {
	Bananas    int64 `json:"bananas"`
	Peanuts    int64 `json:"peanuts"`
	Bread      int64 `json:"bread"`
	Sandwiches int64 `json:"sandwiches"`
}

func (r Resources) Total() int64 {
	return r.Bananas + r.Peanuts + r.Bread + r.Sandwiches
}

func (r Resources) IsZero() bool {
	return r == Resources{}
}

// Purse is a coin balance plus the basic resources. Player pockets and the
// parked treasury share this shape.
type Purse struct {
	RoyalCoins int64 `json:"royal_coins"`
	Resources
}

func (p Purse) Add(o Purse) Purse {
	return Purse{
		RoyalCoins: p.RoyalCoins + o.RoyalCoins,
		Resources: Resources{
			Bananas:    p.Bananas + o.Bananas,
			Peanuts:    p.Peanuts + o.Peanuts,
			Bread:      p.Bread + o.Bread,
			Sandwiches: p.Sandwiches + o.Sandwiches,
		},
	}
}

func (p Purse) Sub(o Purse) Purse {
	return p.Add(Purse{
		RoyalCoins: -o.RoyalCoins,
		Resources: Resources{
			Bananas:    -o.Bananas,
			Peanuts:    -o.Peanuts,
			Bread:      -o.Bread,
			Sandwiches: -o.Sandwiches,
		},
	})
}

// Share returns floor(amount * bps / 10000) for every field.
func (p Purse) Share(bps int64) Purse {
	part := func(v int64) int64 {
		if v <= 0 || bps <= 0 {
			return 0
		}
		return v/10_000*bps + v%10_000*bps/10_000
	}
	return Purse{
		RoyalCoins: part(p.RoyalCoins),
		Resources: Resources{
			Bananas:    part(p.Bananas),
			Peanuts:    part(p.Peanuts),
			Bread:      part(p.Bread),
			Sandwiches: part(p.Sandwiches),
		},
	}
}

type Knight struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Valor int64  `json:"valor"`
	Wit   int64  `json:"wit"`
	Tier  int    `json:"tier"`
}

// UnmarshalJSON accepts the older "stickiness" key for the secondary attribute
// and numeric ids.
func (k *Knight) UnmarshalJSON(raw []byte) error {
	var in struct {
		ID         json.RawMessage `json:"id"`
		Name       string          `json:"name"`
		Valor      int64           `json:"valor"`
		Wit        *int64          `json:"wit"`
		Stickiness *int64          `json:"stickiness"`
		Tier       int             `json:"tier"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return err
	}
	id, err := decodeID(in.ID)
	if err != nil {
		return fmt.Errorf("knight id: %w", err)
	}
	*k = Knight{ID: id, Name: in.Name, Valor: in.Valor, Tier: in.Tier}
	switch {
	case in.Wit != nil:
		k.Wit = *in.Wit
	case in.Stickiness != nil:
		k.Wit = *in.Stickiness
	}
	return nil
}

// IDList decodes a JSON array of string or numeric ids.
type IDList []string

func (l *IDList) UnmarshalJSON(raw []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return err
	}
	out := make(IDList, 0, len(items))
	for _, item := range items {
		id, err := decodeID(item)
		if err != nil {
			return err
		}
		out = append(out, id)
	}
	*l = out
	return nil
}

func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("id must be a string or number")
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return "", fmt.Errorf("id must be an integer, got %s", n.String())
	}
	return n.String(), nil
}

type PlayerProgress struct {
	UserID string `json:"user_id"`
	Purse
	Treasury    Purse     `json:"treasury"`
	CastleLevel int       `json:"castle_level"`
	Knights     []Knight  `json:"knights"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Wealth is what the election ranks by: pocket coins plus parked coins.
func (p PlayerProgress) Wealth() int64 {
	return p.RoyalCoins + p.Treasury.RoyalCoins
}

type RaidStats struct {
	UserID             string    `json:"user_id"`
	TotalAttacks       int       `json:"total_attacks"`
	SuccessfulAttacks  int       `json:"successful_attacks"`
	AttackRating       int       `json:"attack_rating"`
	TotalDefenses      int       `json:"total_defenses"`
	SuccessfulDefenses int       `json:"successful_defenses"`
	DefenseRating      int       `json:"defense_rating"`
	LastAttackAt       time.Time `json:"-"`
	LastRaidedAt       time.Time `json:"-"`
}

type RaidHistory struct {
	ID                string    `json:"id"`
	AttackerID        string    `json:"attacker_id"`
	AttackerName      string    `json:"attacker_name"`
	DefenderID        string    `json:"defender_id"`
	DefenderName      string    `json:"defender_name"`
	AttackerKnightIDs []string  `json:"attacker_knight_ids"`
	DefenderKnightIDs []string  `json:"defender_knight_ids"`
	AttackPower       int64     `json:"attack_power"`
	DefensePower      int64     `json:"defense_power"`
	Success           bool      `json:"success"`
	ResourcesStolen   Resources `json:"resources_stolen"`
	CoinsStolen       int64     `json:"coins_stolen"`
	CreatedAt         time.Time `json:"-"`
	CreatedAtMs       int64     `json:"created_at"`
}

// KingdomState is the singleton throne row. Zero times mean "not set" and an
// empty CurrentKingID means there is no ruler.
type KingdomState struct {
	CurrentKingID            string
	KingCrownedAt            time.Time
	NextElectionAt           time.Time
	KingFreeChangesRemaining int
	RoyalTreasuryBalance     int64
	ActiveDoctrines          map[DoctrineCategory]string
	UpdatedAt                time.Time
}

// WealthRow is one entry of the election ranking.
type WealthRow struct {
	UserID string
	Wealth int64
}

// Profile is the display identity of a player.
type Profile struct {
	UserID      string
	DisplayName string
}

func epochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func minutesLeft(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Minutes()))
}
