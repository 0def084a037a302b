package game

import (
	"errors"
	"testing"
	"time"
)

func TestChargeDoctrineChangeIsExclusive(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name        string
		free        int
		treasury    int64
		wantFree    bool
		wantErr     bool
		wantLeft    int
		wantBalance int64
	}{
		{"free change", 1, 5000, true, false, 0, 5000},
		{"paid change", 0, 1500, false, false, 0, 500},
		{"exact balance", 0, 1000, false, false, 0, 0},
		{"short", 0, 500, false, true, 0, 500},
	}
	for _, tc := range tests {
		k := KingdomState{KingFreeChangesRemaining: tc.free, RoyalTreasuryBalance: tc.treasury}
		usedFree, err := p.ChargeDoctrineChange(&k)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err = %v", tc.name, err)
		}
		if usedFree != tc.wantFree || k.KingFreeChangesRemaining != tc.wantLeft || k.RoyalTreasuryBalance != tc.wantBalance {
			t.Fatalf("%s: usedFree=%v left=%d balance=%d", tc.name, usedFree, k.KingFreeChangesRemaining, k.RoyalTreasuryBalance)
		}
	}
}

func TestChargeDoctrineChangeMessage(t *testing.T) {
	k := KingdomState{RoyalTreasuryBalance: 500}
	_, err := DefaultPolicy().ChargeDoctrineChange(&k)
	if err == nil || err.Error() != "Not enough treasury balance. Need 1000 coins, have 500" {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(err, ErrRuleBlocked) {
		t.Fatalf("expected ErrRuleBlocked, got %v", err)
	}
}

func TestElectionDue(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		k    KingdomState
		want bool
	}{
		{"no king", KingdomState{NextElectionAt: now.Add(time.Hour)}, true},
		{"no schedule", KingdomState{CurrentKingID: "u"}, true},
		{"future", KingdomState{CurrentKingID: "u", NextElectionAt: now.Add(time.Hour)}, false},
		{"exactly now", KingdomState{CurrentKingID: "u", NextElectionAt: now}, true},
		{"past", KingdomState{CurrentKingID: "u", NextElectionAt: now.Add(-time.Hour)}, true},
	}
	for _, tc := range tests {
		if got := p.ElectionDue(tc.k, now); got != tc.want {
			t.Fatalf("%s: ElectionDue = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCrownSeedsDoctrinesOnce(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var k KingdomState
	p.Crown(&k, "u1", now)
	if k.CurrentKingID != "u1" || !k.NextElectionAt.Equal(now.Add(30*24*time.Hour)) || k.KingFreeChangesRemaining != 1 {
		t.Fatalf("unexpected crown state %+v", k)
	}
	if k.ActiveDoctrines[DoctrineReligious] != "sun_cult" || len(k.ActiveDoctrines) != 4 {
		t.Fatalf("defaults not seeded: %v", k.ActiveDoctrines)
	}

	k.ActiveDoctrines[DoctrineMilitary] = "war_college"
	k.KingFreeChangesRemaining = 0
	p.Crown(&k, "u2", now.Add(time.Hour))
	if k.ActiveDoctrines[DoctrineMilitary] != "war_college" {
		t.Fatalf("re-crown must keep existing doctrines")
	}
	if k.KingFreeChangesRemaining != 1 {
		t.Fatalf("free changes should reset on coronation")
	}
}

func TestTopWealthBreaksTiesByID(t *testing.T) {
	if _, ok := TopWealth(nil); ok {
		t.Fatalf("empty ranking has no winner")
	}
	got, _ := TopWealth([]WealthRow{{"c", 10}, {"b", 30}, {"a", 30}, {"d", 5}})
	if got.UserID != "a" {
		t.Fatalf("winner = %s, want a", got.UserID)
	}
}

func TestParseDoctrineCategory(t *testing.T) {
	if c, ok := ParseDoctrineCategory(" Military "); !ok || c != DoctrineMilitary {
		t.Fatalf("expected military, got %q %v", c, ok)
	}
	if _, ok := ParseDoctrineCategory("naval"); ok {
		t.Fatalf("naval is not a category")
	}
	for _, c := range DoctrineCategories {
		if len(doctrineKeys(c)) != 3 {
			t.Fatalf("%s should list 3 doctrines", c)
		}
	}
}
