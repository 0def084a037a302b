package game

import (
	"math"
	"sort"
	"time"
)

// RandomSource yields uniform floats in [0, 1).
type RandomSource interface {
	Float64() float64
}

// KnightPower is (valor + wit) * tier multiplier. Knights with an unknown tier
// contribute nothing.
func (p Policy) KnightPower(k Knight) int64 {
	mult, ok := p.TierMultiplier(k.Tier)
	if !ok {
		return 0
	}
	return (k.Valor + k.Wit) * mult
}

func (p Policy) PartyPower(knights []Knight) int64 {
	var total int64
	for _, k := range knights {
		total += p.KnightPower(k)
	}
	return total
}

// StrongestParty returns at most MaxRaidParty knights ordered by power,
// strongest first. Ties keep id order so the pick is stable.
func (p Policy) StrongestParty(knights []Knight) []Knight {
	out := make([]Knight, len(knights))
	copy(out, knights)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := p.KnightPower(out[i]), p.KnightPower(out[j])
		if pi != pj {
			return pi > pj
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > p.MaxRaidParty {
		out = out[:p.MaxRaidParty]
	}
	return out
}

func (p Policy) varianceMultiplier(u float64) float64 {
	return p.VarianceMin + u*(p.VarianceMax-p.VarianceMin)
}

func (p Policy) stealBps(u float64) int64 {
	span := p.StealMaxBps - p.StealMinBps
	bps := p.StealMinBps + int64(math.Floor(u*float64(span)))
	if bps > p.StealMaxBps {
		bps = p.StealMaxBps
	}
	return bps
}

type RaidOutcome struct {
	Success      bool
	AttackPower  int64
	DefensePower int64
	AttackRoll   float64
	DefenseRoll  float64
	StealBps     int64
	Stolen       Purse
}

// ResolveRaid rolls both sides and, on success, works out what leaves the
// defender's pocket. Draw order: attacker variance, defender variance, steal.
func (p Policy) ResolveRaid(attackPower, defensePower int64, defender Purse, rnd RandomSource) RaidOutcome {
	out := RaidOutcome{
		AttackPower:  attackPower,
		DefensePower: defensePower,
	}
	out.AttackRoll = float64(attackPower) * p.varianceMultiplier(rnd.Float64())
	out.DefenseRoll = float64(defensePower) * p.varianceMultiplier(rnd.Float64())
	out.Success = out.AttackRoll > out.DefenseRoll
	if !out.Success {
		return out
	}
	out.StealBps = p.stealBps(rnd.Float64())
	out.Stolen = defender.Share(out.StealBps)
	return out
}

// ApplyRaidStats records one resolved raid on both stat rows.
func (p Policy) ApplyRaidStats(attacker, defender *RaidStats, success bool, now time.Time) {
	attacker.TotalAttacks++
	attacker.LastAttackAt = now
	defender.TotalDefenses++
	defender.LastRaidedAt = now
	if success {
		attacker.SuccessfulAttacks++
		attacker.AttackRating = p.clampRating(attacker.AttackRating + p.AttackWinDelta)
		defender.DefenseRating = p.clampRating(defender.DefenseRating - p.DefenseLossDelta)
		return
	}
	defender.SuccessfulDefenses++
	defender.DefenseRating = p.clampRating(defender.DefenseRating + p.DefenseWinDelta)
	attacker.AttackRating = p.clampRating(attacker.AttackRating - p.AttackLossDelta)
}

func (p Policy) NewRaidStats(userID string) RaidStats {
	return RaidStats{
		UserID:        userID,
		AttackRating:  p.RatingStart,
		DefenseRating: p.RatingStart,
	}
}

// AttackReadyAt is when the attacker may launch the next raid.
func (p Policy) AttackReadyAt(st RaidStats) time.Time {
	if st.LastAttackAt.IsZero() {
		return time.Time{}
	}
	return st.LastAttackAt.Add(p.AttackCooldown)
}

// ImmuneUntil is when the defender becomes attackable again.
func (p Policy) ImmuneUntil(st RaidStats) time.Time {
	if st.LastRaidedAt.IsZero() {
		return time.Time{}
	}
	return st.LastRaidedAt.Add(p.DefenseImmunity)
}

func (p Policy) castleLevelsMatch(a, b int) bool {
	gap := a - b
	if gap < 0 {
		gap = -gap
	}
	return gap <= p.MaxCastleLevelGap
}
