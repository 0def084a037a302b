package game_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"nexus/internal/db/sqlite"
	"nexus/internal/game"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRand struct {
	mu   sync.Mutex
	vals []float64
	i    int
}

func (s *scriptedRand) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

type recordingAnnouncer struct {
	mu          sync.Mutex
	coronations []game.CoronationNotice
	raids       []game.RaidNotice
}

func (a *recordingAnnouncer) Coronation(_ context.Context, n game.CoronationNotice) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.coronations = append(a.coronations, n)
}

func (a *recordingAnnouncer) GreatRaid(_ context.Context, n game.RaidNotice) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.raids = append(a.raids, n)
}

type realm struct {
	svc       *game.Service
	store     *sqlite.Store
	now       time.Time
	rand      *scriptedRand
	announcer *recordingAnnouncer
}

func newRealm(t *testing.T, opts ...game.Option) *realm {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "realm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	r := &realm{
		store:     store,
		now:       time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		rand:      &scriptedRand{vals: []float64{0.5}},
		announcer: &recordingAnnouncer{},
	}
	base := []game.Option{
		game.WithRandom(r.rand),
		game.WithClock(func() time.Time { return r.now }),
		game.WithAnnouncer(r.announcer, 100),
	}
	r.svc = game.NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)), append(base, opts...)...)
	return r
}

func (r *realm) advance(d time.Duration) { r.now = r.now.Add(d) }

func (r *realm) script(vals ...float64) { r.rand.vals, r.rand.i = vals, 0 }

func (r *realm) put(t *testing.T, players ...game.PlayerProgress) {
	t.Helper()
	ctx := context.Background()
	err := r.store.InTx(ctx, func(tx game.Tx) error {
		for _, p := range players {
			if err := tx.UpsertProfile(ctx, game.Profile{UserID: p.UserID, DisplayName: "name_" + p.UserID}); err != nil {
				return err
			}
			if err := tx.SaveProgress(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func (r *realm) progress(t *testing.T, id string) game.PlayerProgress {
	t.Helper()
	var out game.PlayerProgress
	err := r.store.InTx(context.Background(), func(tx game.Tx) error {
		rows, err := tx.LockProgress(context.Background(), id)
		out = rows[id]
		return err
	})
	require.NoError(t, err)
	return out
}

func squad(prefix string, n int, valor int64, tier int) []game.Knight {
	out := make([]game.Knight, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, game.Knight{ID: fmt.Sprintf("%s%d", prefix, i), Valor: valor, Tier: tier})
	}
	return out
}

func ids(knights []game.Knight) []string {
	out := make([]string, 0, len(knights))
	for _, k := range knights {
		out = append(out, k.ID)
	}
	return out
}

func ruleMessage(t *testing.T, err error) string {
	t.Helper()
	var re *game.RuleError
	require.True(t, errors.As(err, &re), "expected a rule error, got %v", err)
	return re.Msg
}

func TestLaunchRaidEvenMatchConservesLoot(t *testing.T) {
	r := newRealm(t)
	attackers := []game.Knight{{ID: "a1", Valor: 60, Wit: 40, Tier: 1}}
	defenders := []game.Knight{{ID: "d1", Valor: 50, Wit: 50, Tier: 1}}
	r.put(t,
		game.PlayerProgress{UserID: "atk", CastleLevel: 1, Purse: game.Purse{RoyalCoins: 7}, Knights: attackers},
		game.PlayerProgress{
			UserID:      "def",
			CastleLevel: 1,
			Purse:       game.Purse{RoyalCoins: 1000, Resources: game.Resources{Bananas: 205, Peanuts: 99, Bread: 10, Sandwiches: 3}},
			Knights:     defenders,
		},
	)
	r.script(1.0, 0.0, 0.5)

	res, err := r.svc.LaunchRaid(context.Background(), game.RaidInput{AttackerID: "atk", DefenderID: "def", KnightIDs: []string{"a1"}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.EqualValues(t, 105, res.AttackPower)
	assert.EqualValues(t, 95, res.DefensePower)
	assert.EqualValues(t, 100, res.BaseAttackPower)
	assert.EqualValues(t, 100, res.CoinsStolen)
	assert.Equal(t, game.Resources{Bananas: 20, Peanuts: 9, Bread: 1, Sandwiches: 0}, res.ResourcesStolen)

	atk, def := r.progress(t, "atk"), r.progress(t, "def")
	assert.EqualValues(t, 107, atk.RoyalCoins)
	assert.EqualValues(t, 900, def.RoyalCoins)
	assert.Equal(t, game.Resources{Bananas: 20, Peanuts: 9, Bread: 1}, atk.Resources)
	assert.Equal(t, game.Resources{Bananas: 185, Peanuts: 90, Bread: 9, Sandwiches: 3}, def.Resources)

	history, err := r.svc.RaidHistory(context.Background(), "def")
	require.NoError(t, err)
	require.Len(t, history, 1)
	h := history[0]
	assert.Equal(t, res.RaidID, h.ID)
	assert.Equal(t, "name_atk", h.AttackerName)
	assert.Equal(t, []string{"a1"}, h.AttackerKnightIDs)
	assert.Equal(t, []string{"d1"}, h.DefenderKnightIDs)
	assert.Equal(t, r.now.UnixMilli(), h.CreatedAtMs)

	require.Len(t, r.announcer.raids, 1)
	assert.EqualValues(t, 100, r.announcer.raids[0].CoinsStolen)
}

func TestLaunchRaidFailureKeepsPurses(t *testing.T) {
	r := newRealm(t)
	r.put(t,
		game.PlayerProgress{UserID: "atk", CastleLevel: 1, Knights: []game.Knight{{ID: "a1", Valor: 10, Tier: 1}}},
		game.PlayerProgress{UserID: "def", CastleLevel: 1, Purse: game.Purse{RoyalCoins: 500}, Knights: []game.Knight{{ID: "d1", Valor: 10, Tier: 4}}},
	)

	res, err := r.svc.LaunchRaid(context.Background(), game.RaidInput{AttackerID: "atk", DefenderID: "def", KnightIDs: []string{"a1"}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Zero(t, res.CoinsStolen)
	assert.EqualValues(t, 500, r.progress(t, "def").RoyalCoins)

	atkStats, err := r.svc.RaidStats(context.Background(), "atk")
	require.NoError(t, err)
	assert.Equal(t, 1, atkStats.TotalAttacks)
	assert.Equal(t, 95, atkStats.AttackRating)
	assert.Equal(t, r.now.Add(6*time.Hour).UnixMilli(), atkStats.AttackReadyAt)

	defStats, err := r.svc.RaidStats(context.Background(), "def")
	require.NoError(t, err)
	assert.Equal(t, 1, defStats.SuccessfulDefenses)
	assert.Equal(t, 110, defStats.DefenseRating)
	// immunity applies whatever the outcome
	assert.Equal(t, r.now.Add(time.Hour).UnixMilli(), defStats.ImmuneUntil)
	assert.Empty(t, r.announcer.raids)
}

func TestLaunchRaidPartyCap(t *testing.T) {
	r := newRealm(t)
	army := squad("k", 16, 10, 1)
	r.put(t,
		game.PlayerProgress{UserID: "atk", CastleLevel: 1, Knights: army},
		game.PlayerProgress{UserID: "def", CastleLevel: 1},
	)
	_, err := r.svc.LaunchRaid(context.Background(), game.RaidInput{AttackerID: "atk", DefenderID: "def", KnightIDs: ids(army)})
	require.ErrorIs(t, err, game.ErrInvalidInput)
	assert.Equal(t, "Maximum raid party size is 15 knights", ruleMessage(t, err))

	_, err = r.svc.LaunchRaid(context.Background(), game.RaidInput{AttackerID: "atk", DefenderID: "def", KnightIDs: ids(army[:15])})
	require.NoError(t, err)
}

func TestLaunchRaidValidation(t *testing.T) {
	r := newRealm(t)
	r.put(t,
		game.PlayerProgress{UserID: "atk", CastleLevel: 1, Knights: append(squad("a", 2, 10, 1), game.Knight{ID: "odd", Valor: 10, Tier: 7})},
		game.PlayerProgress{UserID: "def", CastleLevel: 1, Knights: squad("d", 1, 10, 1)},
	)
	ctx := context.Background()
	tests := []struct {
		name string
		in   game.RaidInput
		msg  string
	}{
		{"missing defender", game.RaidInput{AttackerID: "atk", KnightIDs: []string{"a0"}}, "defender_id and knight_ids are required"},
		{"missing knights", game.RaidInput{AttackerID: "atk", DefenderID: "def"}, "defender_id and knight_ids are required"},
		{"self raid", game.RaidInput{AttackerID: "atk", DefenderID: "atk", KnightIDs: []string{"a0"}}, "You cannot raid your own castle"},
		{"foreign knight", game.RaidInput{AttackerID: "atk", DefenderID: "def", KnightIDs: []string{"a0", "d0"}}, "One or more selected knights do not belong to you"},
		{"unknown defender", game.RaidInput{AttackerID: "atk", DefenderID: "ghost", KnightIDs: []string{"a0"}}, "Raid target not found"},
		{"unknown tier", game.RaidInput{AttackerID: "atk", DefenderID: "def", KnightIDs: []string{"a0", "odd"}}, "Knight odd has unknown tier 7"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.svc.LaunchRaid(ctx, tc.in)
			require.Error(t, err)
			assert.Equal(t, tc.msg, ruleMessage(t, err))
		})
	}

	_, err := r.svc.LaunchRaid(ctx, game.RaidInput{AttackerID: "atk", DefenderID: "def", KnightIDs: []string{"a0", "a0"}})
	require.ErrorIs(t, err, game.ErrInvalidInput)

	// nothing above may have consumed the cooldown
	st, err := r.svc.RaidStats(ctx, "atk")
	require.NoError(t, err)
	assert.Zero(t, st.TotalAttacks)
}

func TestLaunchRaidCooldownGate(t *testing.T) {
	r := newRealm(t)
	r.put(t,
		game.PlayerProgress{UserID: "atk", CastleLevel: 1, Knights: squad("a", 1, 10, 1)},
		game.PlayerProgress{UserID: "def1", CastleLevel: 1},
		game.PlayerProgress{UserID: "def2", CastleLevel: 1},
	)
	ctx := context.Background()
	raid := func(def string) error {
		_, err := r.svc.LaunchRaid(ctx, game.RaidInput{AttackerID: "atk", DefenderID: def, KnightIDs: []string{"a0"}})
		return err
	}

	require.NoError(t, raid("def1"))

	r.advance(5*time.Hour + 30*time.Minute)
	err := raid("def2")
	require.ErrorIs(t, err, game.ErrRuleBlocked)
	assert.Equal(t, "Raid cooldown active. You can attack again in 30 minutes", ruleMessage(t, err))

	r.advance(30 * time.Minute)
	require.NoError(t, raid("def2"))
}

func TestLaunchRaidImmunityGate(t *testing.T) {
	r := newRealm(t)
	r.put(t,
		game.PlayerProgress{UserID: "atk1", CastleLevel: 1, Knights: squad("a", 1, 10, 1)},
		game.PlayerProgress{UserID: "atk2", CastleLevel: 1, Knights: squad("b", 1, 10, 1)},
		game.PlayerProgress{UserID: "def", CastleLevel: 1},
	)
	ctx := context.Background()

	_, err := r.svc.LaunchRaid(ctx, game.RaidInput{AttackerID: "atk1", DefenderID: "def", KnightIDs: []string{"a0"}})
	require.NoError(t, err)

	r.advance(15 * time.Minute)
	_, err = r.svc.LaunchRaid(ctx, game.RaidInput{AttackerID: "atk2", DefenderID: "def", KnightIDs: []string{"b0"}})
	require.ErrorIs(t, err, game.ErrRuleBlocked)
	assert.Equal(t, "This castle was raided recently and is protected for 45 more minutes", ruleMessage(t, err))

	r.advance(45 * time.Minute)
	_, err = r.svc.LaunchRaid(ctx, game.RaidInput{AttackerID: "atk2", DefenderID: "def", KnightIDs: []string{"b0"}})
	require.NoError(t, err)
}

func TestLaunchRaidCastleLevelGate(t *testing.T) {
	r := newRealm(t)
	r.put(t,
		game.PlayerProgress{UserID: "atk", CastleLevel: 1, Knights: squad("a", 1, 10, 1)},
		game.PlayerProgress{UserID: "far", CastleLevel: 3},
		game.PlayerProgress{UserID: "near", CastleLevel: 2},
	)
	ctx := context.Background()

	_, err := r.svc.LaunchRaid(ctx, game.RaidInput{AttackerID: "atk", DefenderID: "far", KnightIDs: []string{"a0"}})
	require.ErrorIs(t, err, game.ErrRuleBlocked)
	assert.Contains(t, ruleMessage(t, err), "your castle is level 1 and the target is level 3")

	_, err = r.svc.LaunchRaid(ctx, game.RaidInput{AttackerID: "atk", DefenderID: "near", KnightIDs: []string{"a0"}})
	require.NoError(t, err)
}

func TestRaidTargets(t *testing.T) {
	r := newRealm(t)
	r.put(t,
		game.PlayerProgress{UserID: "me", CastleLevel: 2, Knights: squad("m", 1, 100, 4)},
		game.PlayerProgress{UserID: "strong", CastleLevel: 3, Knights: squad("s", 3, 10, 2), Purse: game.Purse{RoyalCoins: 50}},
		game.PlayerProgress{UserID: "weak", CastleLevel: 1, Knights: squad("w", 1, 10, 1), Purse: game.Purse{Resources: game.Resources{Bananas: 4, Bread: 6}}},
		game.PlayerProgress{UserID: "outofrange", CastleLevel: 4},
	)
	ctx := context.Background()

	targets, err := r.svc.RaidTargets(ctx, "me")
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "weak", targets[0].UserID)
	assert.EqualValues(t, 10, targets[0].DefensePower)
	assert.EqualValues(t, 10, targets[0].ResourceTotal)
	assert.Equal(t, 100, targets[0].DefenseRating)
	assert.Equal(t, "strong", targets[1].UserID)
	assert.EqualValues(t, 90, targets[1].DefensePower)
	assert.Equal(t, "name_strong", targets[1].DisplayName)
	assert.Zero(t, targets[1].ImmuneUntil)

	_, err = r.svc.LaunchRaid(ctx, game.RaidInput{AttackerID: "me", DefenderID: "weak", KnightIDs: []string{"m0"}})
	require.NoError(t, err)

	targets, err = r.svc.RaidTargets(ctx, "me")
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, r.now.Add(time.Hour).UnixMilli(), targets[0].ImmuneUntil)
	assert.Equal(t, 90, targets[0].DefenseRating)
}

func TestRaidHistoryNewestFirstAndLimited(t *testing.T) {
	policy := game.DefaultPolicy()
	policy.AttackCooldown = 0
	policy.DefenseImmunity = 0
	policy.HistoryLimit = 3
	r := newRealm(t, game.WithPolicy(policy))
	r.put(t,
		game.PlayerProgress{UserID: "atk", CastleLevel: 1, Knights: squad("a", 1, 10, 1)},
		game.PlayerProgress{UserID: "def", CastleLevel: 1},
		game.PlayerProgress{UserID: "bystander", CastleLevel: 1},
	)
	ctx := context.Background()

	var raidIDs []string
	for i := 0; i < 5; i++ {
		res, err := r.svc.LaunchRaid(ctx, game.RaidInput{AttackerID: "atk", DefenderID: "def", KnightIDs: []string{"a0"}})
		require.NoError(t, err)
		raidIDs = append(raidIDs, res.RaidID)
		r.advance(time.Minute)
	}

	history, err := r.svc.RaidHistory(ctx, "atk")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, raidIDs[4], history[0].ID)
	assert.Equal(t, raidIDs[2], history[2].ID)

	none, err := r.svc.RaidHistory(ctx, "bystander")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestRaidStatsCreatedLazily(t *testing.T) {
	r := newRealm(t)
	st, err := r.svc.RaidStats(context.Background(), "newcomer")
	require.NoError(t, err)
	assert.Equal(t, "newcomer", st.UserID)
	assert.Equal(t, 100, st.AttackRating)
	assert.Equal(t, 100, st.DefenseRating)
	assert.Zero(t, st.LastAttackAt)
	assert.Zero(t, st.AttackReadyAt)
}

func TestKingdomStateWithoutPlayers(t *testing.T) {
	r := newRealm(t)
	ctx := context.Background()

	view, err := r.svc.KingdomState(ctx)
	require.NoError(t, err)
	assert.Nil(t, view.KingID)
	assert.Equal(t, "No Ruler", view.KingName)
	assert.Zero(t, view.NextElectionAt)
	assert.False(t, view.ElectionHeld)
	assert.Empty(t, view.ActiveDoctrines)
	assert.Len(t, view.DoctrineCatalog, 4)

	// the row now exists and a second read is still kingless
	view, err = r.svc.KingdomState(ctx)
	require.NoError(t, err)
	assert.Nil(t, view.KingID)
	assert.Empty(t, r.announcer.coronations)
}

func TestKingdomElectionIsStableWithinTerm(t *testing.T) {
	r := newRealm(t)
	ctx := context.Background()
	r.put(t,
		game.PlayerProgress{UserID: "rich", Purse: game.Purse{RoyalCoins: 100}, Treasury: game.Purse{RoyalCoins: 900}},
		game.PlayerProgress{UserID: "poor", Purse: game.Purse{RoyalCoins: 999}},
	)

	first, err := r.svc.KingdomState(ctx)
	require.NoError(t, err)
	require.NotNil(t, first.KingID)
	assert.Equal(t, "rich", *first.KingID)
	assert.Equal(t, "name_rich", first.KingName)
	assert.True(t, first.ElectionHeld)
	assert.Equal(t, r.now.Add(30*24*time.Hour).UnixMilli(), first.NextElectionAt)
	assert.Equal(t, 1, first.KingFreeChangesRemaining)
	assert.Len(t, first.ActiveDoctrines, 4)
	require.Len(t, r.announcer.coronations, 1)
	assert.EqualValues(t, 1000, r.announcer.coronations[0].Wealth)

	r.put(t, game.PlayerProgress{UserID: "upstart", Purse: game.Purse{RoyalCoins: 50_000}})
	for i := 0; i < 3; i++ {
		r.advance(24 * time.Hour)
		again, err := r.svc.KingdomState(ctx)
		require.NoError(t, err)
		assert.Equal(t, "rich", *again.KingID)
		assert.Equal(t, first.NextElectionAt, again.NextElectionAt)
		assert.Equal(t, first.KingCrownedAt, again.KingCrownedAt)
		assert.False(t, again.ElectionHeld)
	}

	r.advance(27 * 24 * time.Hour)
	next, err := r.svc.KingdomState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "upstart", *next.KingID)
	assert.True(t, next.ElectionHeld)
	assert.Len(t, r.announcer.coronations, 2)
}

func TestRunElectionReportsWhetherHeld(t *testing.T) {
	r := newRealm(t)
	ctx := context.Background()

	held, err := r.svc.RunElection(ctx)
	require.NoError(t, err)
	assert.False(t, held)

	r.put(t, game.PlayerProgress{UserID: "solo", Purse: game.Purse{RoyalCoins: 1}})
	held, err = r.svc.RunElection(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	held, err = r.svc.RunElection(ctx)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestSetDoctrineCharges(t *testing.T) {
	r := newRealm(t)
	ctx := context.Background()
	r.put(t,
		game.PlayerProgress{UserID: "king", Purse: game.Purse{RoyalCoins: 10_000}},
		game.PlayerProgress{UserID: "peasant", Purse: game.Purse{RoyalCoins: 1}},
	)

	_, err := r.svc.SetDoctrine(ctx, game.DoctrineInput{UserID: "king", Category: "military", Doctrine: "war_college"})
	require.ErrorIs(t, err, game.ErrRuleBlocked, "no ruler before the first election")

	_, err = r.svc.KingdomState(ctx)
	require.NoError(t, err)

	_, err = r.svc.SetDoctrine(ctx, game.DoctrineInput{UserID: "peasant", Category: "nonsense", Doctrine: "war_college"})
	require.ErrorIs(t, err, game.ErrForbidden)

	_, err = r.svc.SetDoctrine(ctx, game.DoctrineInput{UserID: "king", Category: "naval", Doctrine: "war_college"})
	require.ErrorIs(t, err, game.ErrInvalidInput)

	_, err = r.svc.SetDoctrine(ctx, game.DoctrineInput{UserID: "king", Category: "military", Doctrine: "grand_feasts"})
	require.ErrorIs(t, err, game.ErrInvalidInput)

	_, err = r.svc.SetDoctrine(ctx, game.DoctrineInput{UserID: "king", Category: "military", Doctrine: "shield_wall"})
	require.ErrorIs(t, err, game.ErrInvalidInput, "already active")

	res, err := r.svc.SetDoctrine(ctx, game.DoctrineInput{UserID: "king", Category: "Military", Doctrine: "War_College"})
	require.NoError(t, err)
	assert.True(t, res.UsedFreeChange)
	assert.Zero(t, res.KingFreeChangesRemaining)
	assert.Zero(t, res.RoyalTreasuryBalance)

	_, err = r.svc.AddTax(ctx, "peasant", 500)
	require.NoError(t, err)
	_, err = r.svc.SetDoctrine(ctx, game.DoctrineInput{UserID: "king", Category: "economic", Doctrine: "royal_mint"})
	require.ErrorIs(t, err, game.ErrRuleBlocked)
	assert.Equal(t, "Not enough treasury balance. Need 1000 coins, have 500", ruleMessage(t, err))

	tax, err := r.svc.AddTax(ctx, "peasant", 700)
	require.NoError(t, err)
	assert.EqualValues(t, 1200, tax.RoyalTreasuryBalance)

	res, err = r.svc.SetDoctrine(ctx, game.DoctrineInput{UserID: "king", Category: "economic", Doctrine: "royal_mint"})
	require.NoError(t, err)
	assert.False(t, res.UsedFreeChange)
	assert.EqualValues(t, 200, res.RoyalTreasuryBalance)

	view, err := r.svc.KingdomState(ctx)
	require.NoError(t, err)
	byCategory := map[game.DoctrineCategory]string{}
	for _, d := range view.ActiveDoctrines {
		byCategory[d.Category] = d.Key
	}
	assert.Equal(t, "war_college", byCategory[game.DoctrineMilitary])
	assert.Equal(t, "royal_mint", byCategory[game.DoctrineEconomic])
	assert.Equal(t, "sun_cult", byCategory[game.DoctrineReligious])
}

func TestAddTaxValidation(t *testing.T) {
	r := newRealm(t)
	ctx := context.Background()
	for _, amount := range []int64{0, -5} {
		_, err := r.svc.AddTax(ctx, "u", amount)
		require.ErrorIs(t, err, game.ErrInvalidInput)
		assert.Equal(t, "taxAmount must be a positive integer", ruleMessage(t, err))
	}

	res, err := r.svc.AddTax(ctx, "u", 42)
	require.NoError(t, err)
	assert.EqualValues(t, 42, res.RoyalTreasuryBalance)
}

func TestEnsurePlayerAndKnights(t *testing.T) {
	r := newRealm(t)
	ctx := context.Background()

	require.NoError(t, r.svc.EnsurePlayer(ctx, "u1", "Lady.Guinevere@camelot.test", ""))
	require.NoError(t, r.svc.EnsurePlayer(ctx, "u2", "x@camelot.test", "Percival"))

	err := r.store.InTx(ctx, func(tx game.Tx) error {
		names, err := tx.DisplayNames(ctx, "u1", "u2")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"u1": "lady_guinevere", "u2": "Percival"}, names)
		return nil
	})
	require.NoError(t, err)

	p := r.progress(t, "u1")
	p.Knights = []game.Knight{{ID: "k1", Valor: 1, Tier: 1}, {ID: "k2", Valor: 1, Tier: 4}}
	r.put(t, p)
	// a second EnsurePlayer must not wipe progress
	require.NoError(t, r.svc.EnsurePlayer(ctx, "u1", "Lady.Guinevere@camelot.test", ""))

	view, err := r.svc.Knights(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, view.Knights, 2)
	assert.Equal(t, "k2", view.Knights[0].ID)
	assert.EqualValues(t, 10, view.Knights[0].Power)
	assert.Equal(t, 15, view.MaxParty)
	assert.Equal(t, 1, view.CastleLevel)
}

func TestConcurrentKingdomReadsCrownOnce(t *testing.T) {
	r := newRealm(t)
	r.put(t, game.PlayerProgress{UserID: "king", Purse: game.Purse{RoyalCoins: 10}})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.svc.KingdomState(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, r.announcer.coronations, 1)
}

func TestConcurrentRaidsByOneAttackerLandOnce(t *testing.T) {
	r := newRealm(t)
	const n = 6
	players := []game.PlayerProgress{{UserID: "atk", CastleLevel: 1, Knights: squad("a", 1, 50, 2)}}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("def%d", i)
		players = append(players, game.PlayerProgress{UserID: id, CastleLevel: 1, Purse: game.Purse{RoyalCoins: 1000}, Knights: squad(id+"-", 1, 10, 1)})
	}
	r.put(t, players...)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(def string) {
			defer wg.Done()
			_, err := r.svc.LaunchRaid(context.Background(), game.RaidInput{AttackerID: "atk", DefenderID: def, KnightIDs: []string{"a0"}})
			errs <- err
		}(fmt.Sprintf("def%d", i))
	}
	wg.Wait()
	close(errs)

	landed := 0
	for err := range errs {
		if err == nil {
			landed++
			continue
		}
		require.ErrorIs(t, err, game.ErrRuleBlocked)
		assert.Contains(t, ruleMessage(t, err), "Raid cooldown active")
	}
	assert.Equal(t, 1, landed)

	st, err := r.svc.RaidStats(context.Background(), "atk")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalAttacks)
}

func TestConcurrentDoctrineChangesSpendFreeChangeOnce(t *testing.T) {
	r := newRealm(t)
	ctx := context.Background()
	r.put(t, game.PlayerProgress{UserID: "king", Purse: game.Purse{RoyalCoins: 10}})
	_, err := r.svc.KingdomState(ctx)
	require.NoError(t, err)
	_, err = r.svc.AddTax(ctx, "king", 1000)
	require.NoError(t, err)

	changes := []game.DoctrineInput{
		{UserID: "king", Category: "military", Doctrine: "war_college"},
		{UserID: "king", Category: "economic", Doctrine: "royal_mint"},
	}
	var wg sync.WaitGroup
	results := make(chan game.DoctrineResult, len(changes))
	errs := make(chan error, len(changes))
	for _, in := range changes {
		wg.Add(1)
		go func(in game.DoctrineInput) {
			defer wg.Done()
			res, err := r.svc.SetDoctrine(ctx, in)
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}(in)
	}
	wg.Wait()
	close(results)
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	free := 0
	for res := range results {
		if res.UsedFreeChange {
			free++
		}
	}
	assert.Equal(t, 1, free)

	view, err := r.svc.KingdomState(ctx)
	require.NoError(t, err)
	assert.Zero(t, view.KingFreeChangesRemaining)
	assert.Zero(t, view.RoyalTreasuryBalance)
}

// gatedStore holds the first transaction open until release is closed.
type gatedStore struct {
	game.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) InTx(ctx context.Context, fn func(tx game.Tx) error) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return g.Store.InTx(ctx, fn)
}

func TestKingdomStateSurvivesAnotherCallerCancelling(t *testing.T) {
	r := newRealm(t)
	r.put(t, game.PlayerProgress{UserID: "king", Purse: game.Purse{RoyalCoins: 10}})
	gate := &gatedStore{Store: r.store, entered: make(chan struct{}), release: make(chan struct{})}
	svc := game.NewService(gate, slog.New(slog.NewTextHandler(io.Discard, nil)),
		game.WithClock(func() time.Time { return r.now }),
		game.WithAnnouncer(r.announcer, 100),
	)

	ctx1, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.KingdomState(ctx1)
		firstErr <- err
	}()
	<-gate.entered

	secondView := make(chan game.KingdomView, 1)
	secondErr := make(chan error, 1)
	go func() {
		view, err := svc.KingdomState(context.Background())
		secondView <- view
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller kept waiting on the shared election")
	}

	close(gate.release)
	view := <-secondView
	require.NoError(t, <-secondErr)
	require.NotNil(t, view.KingID)
	assert.Equal(t, "king", *view.KingID)
	assert.Len(t, r.announcer.coronations, 1)
}
