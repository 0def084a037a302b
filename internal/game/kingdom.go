package game

import "time"

// ElectionDue is true when there is no king, no scheduled election, or the
// scheduled election time has passed.
func (p Policy) ElectionDue(k KingdomState, now time.Time) bool {
	if k.CurrentKingID == "" || k.NextElectionAt.IsZero() {
		return true
	}
	return !k.NextElectionAt.After(now)
}

// Crown installs kingID (possibly the sitting king) and opens a fresh term.
func (p Policy) Crown(k *KingdomState, kingID string, now time.Time) {
	k.CurrentKingID = kingID
	k.KingCrownedAt = now
	k.NextElectionAt = now.Add(p.ElectionEvery)
	k.KingFreeChangesRemaining = p.FreeDoctrineChanges
	if len(k.ActiveDoctrines) == 0 {
		k.ActiveDoctrines = DefaultDoctrines()
	}
}

// ChargeDoctrineChange takes either one free change or exactly
// DoctrineChangeCost from the treasury, never both.
func (p Policy) ChargeDoctrineChange(k *KingdomState) (usedFree bool, err error) {
	if k.KingFreeChangesRemaining > 0 {
		k.KingFreeChangesRemaining--
		return true, nil
	}
	if k.RoyalTreasuryBalance < p.DoctrineChangeCost {
		return false, rule(ErrRuleBlocked, "Not enough treasury balance. Need %d coins, have %d", p.DoctrineChangeCost, k.RoyalTreasuryBalance)
	}
	k.RoyalTreasuryBalance -= p.DoctrineChangeCost
	return false, nil
}

// TopWealth picks the richest row, lowest user id on ties.
func TopWealth(rows []WealthRow) (WealthRow, bool) {
	if len(rows) == 0 {
		return WealthRow{}, false
	}
	best := rows[0]
	for _, r := range rows[1:] {
		if r.Wealth > best.Wealth || (r.Wealth == best.Wealth && r.UserID < best.UserID) {
			best = r
		}
	}
	return best, true
}
