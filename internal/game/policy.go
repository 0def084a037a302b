package game

import (
	"fmt"
	"time"
)

// Policy holds every balance number the raid resolver and the kingdom use.
type Policy struct {
	TierMultipliers []int64 `yaml:"tier_multipliers"`
	MaxRaidParty    int     `yaml:"max_raid_party"`

	VarianceMin float64 `yaml:"variance_min"`
	VarianceMax float64 `yaml:"variance_max"`
	StealMinBps int64   `yaml:"steal_min_bps"`
	StealMaxBps int64   `yaml:"steal_max_bps"`

	AttackCooldown    time.Duration `yaml:"attack_cooldown"`
	DefenseImmunity   time.Duration `yaml:"defense_immunity"`
	MaxCastleLevelGap int           `yaml:"max_castle_level_gap"`

	RatingStart      int `yaml:"rating_start"`
	RatingMin        int `yaml:"rating_min"`
	RatingMax        int `yaml:"rating_max"`
	AttackWinDelta   int `yaml:"attack_win_delta"`
	AttackLossDelta  int `yaml:"attack_loss_delta"`
	DefenseWinDelta  int `yaml:"defense_win_delta"`
	DefenseLossDelta int `yaml:"defense_loss_delta"`

	ElectionEvery       time.Duration `yaml:"election_every"`
	FreeDoctrineChanges int           `yaml:"free_doctrine_changes"`
	DoctrineChangeCost  int64         `yaml:"doctrine_change_cost"`

	HistoryLimit int `yaml:"history_limit"`
	TargetLimit  int `yaml:"target_limit"`
}

func DefaultPolicy() Policy {
	return Policy{
		TierMultipliers: []int64{1, 3, 5, 10},
		MaxRaidParty:    15,

		VarianceMin: 0.95,
		VarianceMax: 1.05,
		StealMinBps: 500,
		StealMaxBps: 1500,

		AttackCooldown:    6 * time.Hour,
		DefenseImmunity:   time.Hour,
		MaxCastleLevelGap: 1,

		RatingStart:      100,
		RatingMin:        50,
		RatingMax:        300,
		AttackWinDelta:   10,
		AttackLossDelta:  5,
		DefenseWinDelta:  10,
		DefenseLossDelta: 10,

		ElectionEvery:       30 * 24 * time.Hour,
		FreeDoctrineChanges: 1,
		DoctrineChangeCost:  1000,

		HistoryLimit: 50,
		TargetLimit:  25,
	}
}

func (p Policy) Validate() error {
	if len(p.TierMultipliers) != 4 {
		return fmt.Errorf("tier_multipliers must list exactly 4 values, got %d", len(p.TierMultipliers))
	}
	for i, m := range p.TierMultipliers {
		if m <= 0 {
			return fmt.Errorf("tier %d multiplier must be > 0", i+1)
		}
	}
	if p.MaxRaidParty <= 0 {
		return fmt.Errorf("max_raid_party must be > 0")
	}
	if p.VarianceMin <= 0 || p.VarianceMax < p.VarianceMin {
		return fmt.Errorf("variance range [%.3f, %.3f] is invalid", p.VarianceMin, p.VarianceMax)
	}
	if p.StealMinBps < 0 || p.StealMaxBps < p.StealMinBps || p.StealMaxBps > 10_000 {
		return fmt.Errorf("steal range [%d, %d] bps is invalid", p.StealMinBps, p.StealMaxBps)
	}
	if p.AttackCooldown < 0 || p.DefenseImmunity < 0 {
		return fmt.Errorf("cooldowns must be >= 0")
	}
	if p.MaxCastleLevelGap < 0 {
		return fmt.Errorf("max_castle_level_gap must be >= 0")
	}
	if p.AttackWinDelta < 0 || p.AttackLossDelta < 0 || p.DefenseWinDelta < 0 || p.DefenseLossDelta < 0 {
		return fmt.Errorf("rating deltas must be >= 0")
	}
	if p.RatingMin > p.RatingMax || p.RatingStart < p.RatingMin || p.RatingStart > p.RatingMax {
		return fmt.Errorf("rating bounds [%d, %d] with start %d are invalid", p.RatingMin, p.RatingMax, p.RatingStart)
	}
	if p.ElectionEvery <= 0 {
		return fmt.Errorf("election_every must be > 0")
	}
	if p.FreeDoctrineChanges < 0 || p.DoctrineChangeCost < 0 {
		return fmt.Errorf("doctrine allowances must be >= 0")
	}
	if p.HistoryLimit <= 0 || p.TargetLimit <= 0 {
		return fmt.Errorf("history_limit and target_limit must be > 0")
	}
	return nil
}

// TierMultiplier reports the power multiplier for a knight tier. Tiers outside
// 1..4 are not valid and report false.
func (p Policy) TierMultiplier(tier int) (int64, bool) {
	if tier < 1 || tier > len(p.TierMultipliers) {
		return 0, false
	}
	return p.TierMultipliers[tier-1], true
}

func (p Policy) clampRating(v int) int {
	if v < p.RatingMin {
		return p.RatingMin
	}
	if v > p.RatingMax {
		return p.RatingMax
	}
	return v
}
