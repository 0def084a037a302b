package game

import (
	"context"
	"math"
	"strings"
	"time"
)

const (
	noRulerName     = "No Ruler"
	electionTimeout = 30 * time.Second
)

type electionRun struct {
	state      KingdomState
	held       bool
	crowned    bool
	kingWealth int64
}

// KingdomState returns the throne, running the election first when it is due.
func (s *Service) KingdomState(ctx context.Context) (KingdomView, error) {
	run, err := s.elect(ctx)
	if err != nil {
		return KingdomView{}, err
	}
	k := run.state

	view := KingdomView{
		KingName:                 noRulerName,
		KingCrownedAt:            epochMillis(k.KingCrownedAt),
		NextElectionAt:           epochMillis(k.NextElectionAt),
		KingFreeChangesRemaining: k.KingFreeChangesRemaining,
		RoyalTreasuryBalance:     k.RoyalTreasuryBalance,
		ActiveDoctrines:          doctrineViews(k.ActiveDoctrines),
		ElectionHeld:             run.held,
		DoctrineCatalog:          make(map[string][]string, len(DoctrineCategories)),
	}
	for _, c := range DoctrineCategories {
		view.DoctrineCatalog[string(c)] = doctrineKeys(c)
	}
	if k.CurrentKingID == "" {
		return view, nil
	}
	kingID := k.CurrentKingID
	view.KingID = &kingID
	view.KingName = s.kingName(ctx, kingID)
	return view, nil
}

// RunElection runs the election check without building a view. The worker
// sweep calls it so the crown turns over even when nobody reads the kingdom.
func (s *Service) RunElection(ctx context.Context) (held bool, err error) {
	run, err := s.elect(ctx)
	if err != nil {
		return false, err
	}
	return run.held, nil
}

// elect shares one election run between concurrent callers in this process.
// The shared run is detached from any single caller; each caller stops
// waiting when its own ctx ends.
func (s *Service) elect(ctx context.Context) (electionRun, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.elections.DoChan("kingdom", func() (any, error) {
		ctx, cancel := context.WithTimeout(shared, electionTimeout)
		defer cancel()
		run, err := s.runElection(ctx)
		if err != nil {
			return electionRun{}, err
		}
		if run.crowned {
			kingID := run.state.CurrentKingID
			s.announcer.Coronation(ctx, CoronationNotice{
				KingID:   kingID,
				KingName: s.kingName(ctx, kingID),
				Wealth:   run.kingWealth,
			})
		}
		return run, nil
	})
	select {
	case <-ctx.Done():
		return electionRun{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return electionRun{}, res.Err
		}
		return res.Val.(electionRun), nil
	}
}

func (s *Service) runElection(ctx context.Context) (electionRun, error) {
	var run electionRun
	err := s.store.InTx(ctx, func(tx Tx) error {
		run = electionRun{}
		now := s.now()
		k, found, err := tx.LockKingdom(ctx)
		if err != nil {
			return err
		}
		dirty := !found
		if !found {
			k = KingdomState{}
		}
		if s.policy.ElectionDue(k, now) {
			rows, err := tx.WealthRanking(ctx, 1)
			if err != nil {
				return err
			}
			if top, ok := TopWealth(rows); ok {
				prev := k.CurrentKingID
				s.policy.Crown(&k, top.UserID, now)
				run.held = true
				run.crowned = prev != top.UserID
				run.kingWealth = top.Wealth
				dirty = true
			}
		}
		if dirty {
			k.UpdatedAt = now
			if err := tx.SaveKingdom(ctx, k); err != nil {
				return err
			}
		}
		run.state = k
		return nil
	})
	if err != nil {
		return electionRun{}, err
	}
	if run.held {
		s.log.Info("kingdom election held",
			"king_id", run.state.CurrentKingID,
			"new_king", run.crowned,
			"wealth", run.kingWealth,
			"next_election_at", run.state.NextElectionAt,
		)
	}
	return run, nil
}

// kingName is best effort: a failed lookup falls back to the placeholder.
func (s *Service) kingName(ctx context.Context, kingID string) string {
	var names map[string]string
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		names, err = tx.DisplayNames(ctx, kingID)
		return err
	})
	if err != nil {
		s.log.Warn("resolve king name failed", "king_id", kingID, "err", err)
		return noRulerName
	}
	if n := strings.TrimSpace(names[kingID]); n != "" {
		return n
	}
	return noRulerName
}

func (s *Service) SetDoctrine(ctx context.Context, in DoctrineInput) (DoctrineResult, error) {
	var out DoctrineResult
	category, knownCategory := ParseDoctrineCategory(in.Category)
	doctrine := strings.ToLower(strings.TrimSpace(in.Doctrine))

	err := s.store.InTx(ctx, func(tx Tx) error {
		out = DoctrineResult{}
		k, found, err := tx.LockKingdom(ctx)
		if err != nil {
			return err
		}
		if !found || k.CurrentKingID == "" {
			return rule(ErrRuleBlocked, "The kingdom has no ruler yet")
		}
		if k.CurrentKingID != in.UserID {
			return rule(ErrForbidden, "Only the current king can change doctrines")
		}
		if !knownCategory {
			return rule(ErrInvalidInput, "Unknown doctrine category %q", strings.TrimSpace(in.Category))
		}
		if _, ok := lookupDoctrine(category, doctrine); !ok {
			return rule(ErrInvalidInput, "Unknown %s doctrine %q. Choose one of: %s", category, doctrine, strings.Join(doctrineKeys(category), ", "))
		}
		if k.ActiveDoctrines[category] == doctrine {
			return rule(ErrInvalidInput, "%s is already the active %s doctrine", doctrine, category)
		}
		usedFree, err := s.policy.ChargeDoctrineChange(&k)
		if err != nil {
			return err
		}
		if k.ActiveDoctrines == nil {
			k.ActiveDoctrines = make(map[DoctrineCategory]string, len(DoctrineCategories))
		}
		k.ActiveDoctrines[category] = doctrine
		k.UpdatedAt = s.now()
		if err := tx.SaveKingdom(ctx, k); err != nil {
			return err
		}
		out = DoctrineResult{
			KingFreeChangesRemaining: k.KingFreeChangesRemaining,
			RoyalTreasuryBalance:     k.RoyalTreasuryBalance,
			UsedFreeChange:           usedFree,
			ActiveDoctrines:          doctrineViews(k.ActiveDoctrines),
		}
		return nil
	})
	if err != nil {
		return DoctrineResult{}, err
	}
	s.log.Info("doctrine changed",
		"king_id", in.UserID,
		"category", category,
		"doctrine", doctrine,
		"used_free_change", out.UsedFreeChange,
		"treasury", out.RoyalTreasuryBalance,
	)
	return out, nil
}

func (s *Service) AddTax(ctx context.Context, userID string, amount int64) (TaxResult, error) {
	var out TaxResult
	if amount <= 0 {
		return out, rule(ErrInvalidInput, "taxAmount must be a positive integer")
	}
	err := s.store.InTx(ctx, func(tx Tx) error {
		k, _, err := tx.LockKingdom(ctx)
		if err != nil {
			return err
		}
		if k.RoyalTreasuryBalance > math.MaxInt64-amount {
			return rule(ErrInvalidInput, "taxAmount would overflow the treasury")
		}
		k.RoyalTreasuryBalance += amount
		k.UpdatedAt = s.now()
		if err := tx.SaveKingdom(ctx, k); err != nil {
			return err
		}
		out.RoyalTreasuryBalance = k.RoyalTreasuryBalance
		return nil
	})
	if err != nil {
		return TaxResult{}, err
	}
	s.log.Debug("tax paid", "user_id", userID, "amount", amount, "treasury", out.RoyalTreasuryBalance)
	return out, nil
}

func doctrineViews(active map[DoctrineCategory]string) []DoctrineView {
	out := make([]DoctrineView, 0, len(active))
	for _, c := range DoctrineCategories {
		key, ok := active[c]
		if !ok || key == "" {
			continue
		}
		v := DoctrineView{Category: c, Key: key}
		if d, ok := lookupDoctrine(c, key); ok {
			v.DisplayName = d.DisplayName
			v.Modifier = d.Modifier
		}
		out = append(out, v)
	}
	return out
}
