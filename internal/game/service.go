package game

import (
	"context"
	"log/slog"
	mathrand "math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var displayNameRE = regexp.MustCompile(`^[a-zA-Z0-9_ ]{3,32}$`)

type Service struct {
	store     Store
	log       *slog.Logger
	policy    Policy
	rand      RandomSource
	now       func() time.Time
	announcer Announcer
	// raids stealing at least this many coins are announced
	announceMinCoins int64
	elections        singleflight.Group
}

type Option func(*Service)

func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithRandom(r RandomSource) Option {
	return func(s *Service) { s.rand = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithAnnouncer(a Announcer, minCoins int64) Option {
	return func(s *Service) {
		if a != nil {
			s.announcer = a
		}
		s.announceMinCoins = minCoins
	}
}

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     store,
		log:       logger,
		policy:    DefaultPolicy(),
		rand:      &lockedRand{r: mathrand.New(mathrand.NewSource(time.Now().UnixNano()))},
		now:       time.Now,
		announcer: noopAnnouncer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() Policy {
	return s.policy
}

// EnsurePlayer records the display name and creates an empty progress row the
// first time a user shows up.
func (s *Service) EnsurePlayer(ctx context.Context, userID, email, displayName string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return rule(ErrInvalidInput, "user id is required")
	}
	displayName = strings.TrimSpace(displayName)
	if !displayNameRE.MatchString(displayName) {
		displayName = displayNameFromEmail(email)
	}
	return s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.UpsertProfile(ctx, Profile{UserID: userID, DisplayName: displayName}); err != nil {
			return err
		}
		rows, err := tx.LockProgress(ctx, userID)
		if err != nil {
			return err
		}
		if _, ok := rows[userID]; ok {
			return nil
		}
		return tx.SaveProgress(ctx, PlayerProgress{
			UserID:      userID,
			CastleLevel: 1,
			Knights:     []Knight{},
			UpdatedAt:   s.now(),
		})
	})
}

func (s *Service) Knights(ctx context.Context, userID string) (ProgressView, error) {
	var out ProgressView
	err := s.store.InTx(ctx, func(tx Tx) error {
		rows, err := tx.LockProgress(ctx, userID)
		if err != nil {
			return err
		}
		p, ok := rows[userID]
		if !ok {
			p = PlayerProgress{UserID: userID, CastleLevel: 1}
		}
		out = ProgressView{
			UserID:      userID,
			CastleLevel: castleLevel(p),
			Pocket:      p.Purse,
			Treasury:    p.Treasury,
			Knights:     make([]KnightView, 0, len(p.Knights)),
			MaxParty:    s.policy.MaxRaidParty,
		}
		for _, k := range s.policy.StrongestParty(p.Knights) {
			out.Knights = append(out.Knights, KnightView{Knight: k, Power: s.policy.KnightPower(k)})
		}
		// StrongestParty truncates; list the rest too.
		if len(p.Knights) > len(out.Knights) {
			shown := make(map[string]struct{}, len(out.Knights))
			for _, k := range out.Knights {
				shown[k.ID] = struct{}{}
			}
			for _, k := range p.Knights {
				if _, ok := shown[k.ID]; !ok {
					out.Knights = append(out.Knights, KnightView{Knight: k, Power: s.policy.KnightPower(k)})
				}
			}
		}
		return nil
	})
	return out, err
}

type lockedRand struct {
	mu sync.Mutex
	r  *mathrand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func castleLevel(p PlayerProgress) int {
	if p.CastleLevel < 1 {
		return 1
	}
	return p.CastleLevel
}

func displayNameFromEmail(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	local, _, _ := strings.Cut(email, "@")
	return sanitizeDisplayName(local)
}

func sanitizeDisplayName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "player"
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	res := strings.Trim(string(out), "_")
	if len(res) < 3 {
		res = "player_" + res
	}
	if len(res) > 32 {
		res = res[:32]
	}
	return res
}
