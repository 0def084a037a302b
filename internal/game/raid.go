package game

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
)

func (s *Service) LaunchRaid(ctx context.Context, in RaidInput) (RaidResult, error) {
	var out RaidResult
	in.AttackerID = strings.TrimSpace(in.AttackerID)
	in.DefenderID = strings.TrimSpace(in.DefenderID)
	if in.AttackerID == "" {
		return out, ErrUnauthorized
	}
	if in.DefenderID == "" || len(in.KnightIDs) == 0 {
		return out, rule(ErrInvalidInput, "defender_id and knight_ids are required")
	}
	seen := make(map[string]struct{}, len(in.KnightIDs))
	for i, id := range in.KnightIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return out, rule(ErrInvalidInput, "knight_ids must not contain empty ids")
		}
		if _, dup := seen[id]; dup {
			return out, rule(ErrInvalidInput, "knight %s was selected more than once", id)
		}
		seen[id] = struct{}{}
		in.KnightIDs[i] = id
	}
	if in.DefenderID == in.AttackerID {
		return out, rule(ErrInvalidInput, "You cannot raid your own castle")
	}

	var notice *RaidNotice
	err := s.store.InTx(ctx, func(tx Tx) error {
		out = RaidResult{}
		notice = nil
		now := s.now()

		stats, err := tx.LockRaidStats(ctx, in.AttackerID, in.DefenderID)
		if err != nil {
			return err
		}
		atkStats, ok := stats[in.AttackerID]
		if !ok {
			atkStats = s.policy.NewRaidStats(in.AttackerID)
		}
		defStats, ok := stats[in.DefenderID]
		if !ok {
			defStats = s.policy.NewRaidStats(in.DefenderID)
		}
		if ready := s.policy.AttackReadyAt(atkStats); now.Before(ready) {
			return rule(ErrRuleBlocked, "Raid cooldown active. You can attack again in %d minutes", minutesLeft(ready.Sub(now)))
		}

		progress, err := tx.LockProgress(ctx, in.AttackerID, in.DefenderID)
		if err != nil {
			return err
		}
		attacker := progress[in.AttackerID]
		owned := make(map[string]Knight, len(attacker.Knights))
		for _, k := range attacker.Knights {
			owned[k.ID] = k
		}
		party := make([]Knight, 0, len(in.KnightIDs))
		for _, id := range in.KnightIDs {
			k, ok := owned[id]
			if !ok {
				return rule(ErrInvalidInput, "One or more selected knights do not belong to you")
			}
			if _, ok := s.policy.TierMultiplier(k.Tier); !ok {
				return rule(ErrInvalidInput, "Knight %s has unknown tier %d", k.ID, k.Tier)
			}
			party = append(party, k)
		}
		if len(party) > s.policy.MaxRaidParty {
			return rule(ErrInvalidInput, "Maximum raid party size is %d knights", s.policy.MaxRaidParty)
		}

		defender, ok := progress[in.DefenderID]
		if !ok {
			return rule(ErrInvalidInput, "Raid target not found")
		}
		if until := s.policy.ImmuneUntil(defStats); now.Before(until) {
			return rule(ErrRuleBlocked, "This castle was raided recently and is protected for %d more minutes", minutesLeft(until.Sub(now)))
		}
		atkLevel, defLevel := castleLevel(attacker), castleLevel(defender)
		if !s.policy.castleLevelsMatch(atkLevel, defLevel) {
			return rule(ErrRuleBlocked, "Castle level mismatch: your castle is level %d and the target is level %d. Raids are only allowed within %d level(s)", atkLevel, defLevel, s.policy.MaxCastleLevelGap)
		}

		guards := s.policy.StrongestParty(defender.Knights)
		outcome := s.policy.ResolveRaid(s.policy.PartyPower(party), s.policy.PartyPower(guards), defender.Purse, s.rand)

		if outcome.Success {
			defender.Purse = defender.Purse.Sub(outcome.Stolen)
			attacker.Purse = attacker.Purse.Add(outcome.Stolen)
			defender.UpdatedAt = now
			attacker.UpdatedAt = now
			if err := tx.SaveProgress(ctx, defender); err != nil {
				return err
			}
			if err := tx.SaveProgress(ctx, attacker); err != nil {
				return err
			}
		}

		s.policy.ApplyRaidStats(&atkStats, &defStats, outcome.Success, now)
		if err := tx.SaveRaidStats(ctx, atkStats); err != nil {
			return err
		}
		if err := tx.SaveRaidStats(ctx, defStats); err != nil {
			return err
		}

		names, err := tx.DisplayNames(ctx, in.AttackerID, in.DefenderID)
		if err != nil {
			return err
		}
		entry := RaidHistory{
			ID:                uuid.NewString(),
			AttackerID:        in.AttackerID,
			AttackerName:      nameOr(names, in.AttackerID),
			DefenderID:        in.DefenderID,
			DefenderName:      nameOr(names, in.DefenderID),
			AttackerKnightIDs: knightIDs(party),
			DefenderKnightIDs: knightIDs(guards),
			AttackPower:       int64(math.Round(outcome.AttackRoll)),
			DefensePower:      int64(math.Round(outcome.DefenseRoll)),
			Success:           outcome.Success,
			ResourcesStolen:   outcome.Stolen.Resources,
			CoinsStolen:       outcome.Stolen.RoyalCoins,
			CreatedAt:         now,
		}
		if err := tx.InsertRaidHistory(ctx, entry); err != nil {
			return err
		}

		out = RaidResult{
			Success:          outcome.Success,
			AttackPower:      entry.AttackPower,
			DefensePower:     entry.DefensePower,
			BaseAttackPower:  outcome.AttackPower,
			BaseDefensePower: outcome.DefensePower,
			ResourcesStolen:  outcome.Stolen.Resources,
			CoinsStolen:      outcome.Stolen.RoyalCoins,
			RaidID:           entry.ID,
		}
		if outcome.Success && s.announceMinCoins > 0 && outcome.Stolen.RoyalCoins >= s.announceMinCoins {
			notice = &RaidNotice{
				AttackerName: entry.AttackerName,
				DefenderName: entry.DefenderName,
				CoinsStolen:  outcome.Stolen.RoyalCoins,
				Resources:    outcome.Stolen.Resources,
			}
		}
		return nil
	})
	if err != nil {
		return RaidResult{}, err
	}

	s.log.Info("raid resolved",
		"raid_id", out.RaidID,
		"attacker", in.AttackerID,
		"defender", in.DefenderID,
		"success", out.Success,
		"attack_power", out.AttackPower,
		"defense_power", out.DefensePower,
		"coins_stolen", out.CoinsStolen,
	)
	if notice != nil {
		s.announcer.GreatRaid(ctx, *notice)
	}
	return out, nil
}

// RaidTargets lists castles within matchmaking range of the caller, weakest
// defense first.
func (s *Service) RaidTargets(ctx context.Context, userID string) ([]RaidTarget, error) {
	var out []RaidTarget
	err := s.store.InTx(ctx, func(tx Tx) error {
		out = nil
		now := s.now()
		mine, err := tx.LockProgress(ctx, userID)
		if err != nil {
			return err
		}
		level := castleLevel(mine[userID])
		candidates, err := tx.ProgressInLevelRange(ctx, level-s.policy.MaxCastleLevelGap, level+s.policy.MaxCastleLevelGap)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(candidates))
		for _, c := range candidates {
			if c.UserID != userID {
				ids = append(ids, c.UserID)
			}
		}
		if len(ids) == 0 {
			return nil
		}
		stats, err := tx.GetRaidStats(ctx, ids...)
		if err != nil {
			return err
		}
		names, err := tx.DisplayNames(ctx, ids...)
		if err != nil {
			return err
		}
		for _, c := range candidates {
			if c.UserID == userID {
				continue
			}
			st, ok := stats[c.UserID]
			if !ok {
				st = s.policy.NewRaidStats(c.UserID)
			}
			var immune int64
			if until := s.policy.ImmuneUntil(st); now.Before(until) {
				immune = until.UnixMilli()
			}
			out = append(out, RaidTarget{
				UserID:        c.UserID,
				DisplayName:   nameOr(names, c.UserID),
				CastleLevel:   castleLevel(c),
				DefenseRating: st.DefenseRating,
				DefensePower:  s.policy.PartyPower(s.policy.StrongestParty(c.Knights)),
				KnightCount:   len(c.Knights),
				Resources:     c.Resources,
				ResourceTotal: c.Resources.Total(),
				RoyalCoins:    c.RoyalCoins,
				ImmuneUntil:   immune,
			})
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].DefensePower != out[j].DefensePower {
				return out[i].DefensePower < out[j].DefensePower
			}
			return out[i].UserID < out[j].UserID
		})
		if len(out) > s.policy.TargetLimit {
			out = out[:s.policy.TargetLimit]
		}
		return nil
	})
	if out == nil {
		out = []RaidTarget{}
	}
	return out, err
}

func (s *Service) RaidHistory(ctx context.Context, userID string) ([]RaidHistory, error) {
	var out []RaidHistory
	err := s.store.InTx(ctx, func(tx Tx) error {
		rows, err := tx.ListRaidHistory(ctx, userID, s.policy.HistoryLimit)
		if err != nil {
			return err
		}
		out = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].CreatedAtMs = epochMillis(out[i].CreatedAt)
	}
	if out == nil {
		out = []RaidHistory{}
	}
	return out, nil
}

// RaidStats returns the caller's counters, creating the row on first use.
func (s *Service) RaidStats(ctx context.Context, userID string) (RaidStatsView, error) {
	var st RaidStats
	err := s.store.InTx(ctx, func(tx Tx) error {
		rows, err := tx.LockRaidStats(ctx, userID)
		if err != nil {
			return err
		}
		var ok bool
		st, ok = rows[userID]
		if ok {
			return nil
		}
		st = s.policy.NewRaidStats(userID)
		return tx.SaveRaidStats(ctx, st)
	})
	if err != nil {
		return RaidStatsView{}, err
	}
	view := RaidStatsView{
		RaidStats:    st,
		LastAttackAt: epochMillis(st.LastAttackAt),
		LastRaidedAt: epochMillis(st.LastRaidedAt),
	}
	now := s.now()
	if ready := s.policy.AttackReadyAt(st); now.Before(ready) {
		view.AttackReadyAt = ready.UnixMilli()
	}
	if until := s.policy.ImmuneUntil(st); now.Before(until) {
		view.ImmuneUntil = until.UnixMilli()
	}
	return view, nil
}

func knightIDs(knights []Knight) []string {
	out := make([]string, 0, len(knights))
	for _, k := range knights {
		out = append(out, k.ID)
	}
	return out
}

func nameOr(names map[string]string, userID string) string {
	if n := strings.TrimSpace(names[userID]); n != "" {
		return n
	}
	return "Unknown"
}
