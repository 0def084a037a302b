package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nexus/internal/game"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Store is the Postgres realm store. Every transaction runs SERIALIZABLE and
// is retried on serialization failures.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate realm schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) InTx(ctx context.Context, fn func(tx game.Tx) error) error {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(pgTx{tx: tx}); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			return game.ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return game.ErrTxConflict
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) UpsertProfile(ctx context.Context, p game.Profile) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO realm.profiles (user_id, display_name, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET display_name = EXCLUDED.display_name, updated_at = now()
	`, p.UserID, p.DisplayName)
	return err
}

func (t pgTx) DisplayNames(ctx context.Context, userIDs ...string) (map[string]string, error) {
	out := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx, `
		SELECT user_id, display_name
		FROM realm.profiles
		WHERE user_id = ANY($1)
	`, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}

const progressColumns = `user_id, royal_coins, bananas, peanuts, bread, sandwiches, treasury, castle_level, knights, updated_at`

func (t pgTx) LockProgress(ctx context.Context, userIDs ...string) (map[string]game.PlayerProgress, error) {
	out := make(map[string]game.PlayerProgress, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx, `
		SELECT `+progressColumns+`
		FROM realm.player_progress
		WHERE user_id = ANY($1)
		ORDER BY user_id
		FOR UPDATE
	`, userIDs)
	if err != nil {
		return nil, err
	}
	list, err := scanProgressRows(rows)
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		out[p.UserID] = p
	}
	return out, nil
}

func (t pgTx) SaveProgress(ctx context.Context, p game.PlayerProgress) error {
	treasury, err := json.Marshal(p.Treasury)
	if err != nil {
		return err
	}
	knights := p.Knights
	if knights == nil {
		knights = []game.Knight{}
	}
	knightsJSON, err := json.Marshal(knights)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO realm.player_progress (`+progressColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9::jsonb, $10)
		ON CONFLICT (user_id) DO UPDATE
		SET royal_coins = EXCLUDED.royal_coins,
		    bananas = EXCLUDED.bananas,
		    peanuts = EXCLUDED.peanuts,
		    bread = EXCLUDED.bread,
		    sandwiches = EXCLUDED.sandwiches,
		    treasury = EXCLUDED.treasury,
		    castle_level = EXCLUDED.castle_level,
		    knights = EXCLUDED.knights,
		    updated_at = EXCLUDED.updated_at
	`, p.UserID, p.RoyalCoins, p.Bananas, p.Peanuts, p.Bread, p.Sandwiches,
		string(treasury), p.CastleLevel, string(knightsJSON), nowIfZero(p.UpdatedAt))
	return err
}

func (t pgTx) ProgressInLevelRange(ctx context.Context, minLevel, maxLevel int) ([]game.PlayerProgress, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+progressColumns+`
		FROM realm.player_progress
		WHERE GREATEST(castle_level, 1) BETWEEN $1 AND $2
		ORDER BY user_id
	`, minLevel, maxLevel)
	if err != nil {
		return nil, err
	}
	return scanProgressRows(rows)
}

func (t pgTx) WealthRanking(ctx context.Context, limit int) ([]game.WealthRow, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT user_id,
		       royal_coins + COALESCE((treasury->>'royal_coins')::bigint, 0) AS wealth
		FROM realm.player_progress
		ORDER BY wealth DESC, user_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []game.WealthRow
	for rows.Next() {
		var r game.WealthRow
		if err := rows.Scan(&r.UserID, &r.Wealth); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const statsColumns = `user_id, total_attacks, successful_attacks, attack_rating, total_defenses, successful_defenses, defense_rating, last_attack_at, last_raided_at`

func (t pgTx) LockRaidStats(ctx context.Context, userIDs ...string) (map[string]game.RaidStats, error) {
	return t.raidStats(ctx, true, userIDs)
}

func (t pgTx) GetRaidStats(ctx context.Context, userIDs ...string) (map[string]game.RaidStats, error) {
	return t.raidStats(ctx, false, userIDs)
}

func (t pgTx) raidStats(ctx context.Context, lock bool, userIDs []string) (map[string]game.RaidStats, error) {
	out := make(map[string]game.RaidStats, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	q := `SELECT ` + statsColumns + ` FROM realm.raid_stats WHERE user_id = ANY($1) ORDER BY user_id`
	if lock {
		q += ` FOR UPDATE`
	}
	rows, err := t.tx.Query(ctx, q, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var st game.RaidStats
		var lastAttack, lastRaided *time.Time
		if err := rows.Scan(&st.UserID, &st.TotalAttacks, &st.SuccessfulAttacks, &st.AttackRating,
			&st.TotalDefenses, &st.SuccessfulDefenses, &st.DefenseRating, &lastAttack, &lastRaided); err != nil {
			return nil, err
		}
		st.LastAttackAt = derefTime(lastAttack)
		st.LastRaidedAt = derefTime(lastRaided)
		out[st.UserID] = st
	}
	return out, rows.Err()
}

func (t pgTx) SaveRaidStats(ctx context.Context, st game.RaidStats) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO realm.raid_stats (`+statsColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE
		SET total_attacks = EXCLUDED.total_attacks,
		    successful_attacks = EXCLUDED.successful_attacks,
		    attack_rating = EXCLUDED.attack_rating,
		    total_defenses = EXCLUDED.total_defenses,
		    successful_defenses = EXCLUDED.successful_defenses,
		    defense_rating = EXCLUDED.defense_rating,
		    last_attack_at = EXCLUDED.last_attack_at,
		    last_raided_at = EXCLUDED.last_raided_at
	`, st.UserID, st.TotalAttacks, st.SuccessfulAttacks, st.AttackRating,
		st.TotalDefenses, st.SuccessfulDefenses, st.DefenseRating,
		nullTime(st.LastAttackAt), nullTime(st.LastRaidedAt))
	return err
}

func (t pgTx) InsertRaidHistory(ctx context.Context, h game.RaidHistory) error {
	attackers, err := json.Marshal(nonNil(h.AttackerKnightIDs))
	if err != nil {
		return err
	}
	defenders, err := json.Marshal(nonNil(h.DefenderKnightIDs))
	if err != nil {
		return err
	}
	stolen, err := json.Marshal(h.ResourcesStolen)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO realm.raid_history (
			id, attacker_id, attacker_name, defender_id, defender_name,
			attacker_knight_ids, defender_knight_ids, attack_power, defense_power,
			success, resources_stolen, coins_stolen, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9, $10, $11::jsonb, $12, $13)
	`, h.ID, h.AttackerID, h.AttackerName, h.DefenderID, h.DefenderName,
		string(attackers), string(defenders), h.AttackPower, h.DefensePower,
		h.Success, string(stolen), h.CoinsStolen, nowIfZero(h.CreatedAt))
	return err
}

func (t pgTx) ListRaidHistory(ctx context.Context, userID string, limit int) ([]game.RaidHistory, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id::text, attacker_id, attacker_name, defender_id, defender_name,
		       attacker_knight_ids, defender_knight_ids, attack_power, defense_power,
		       success, resources_stolen, coins_stolen, created_at
		FROM realm.raid_history
		WHERE attacker_id = $1 OR defender_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]game.RaidHistory, 0, limit)
	for rows.Next() {
		var h game.RaidHistory
		var attackers, defenders, stolen []byte
		if err := rows.Scan(&h.ID, &h.AttackerID, &h.AttackerName, &h.DefenderID, &h.DefenderName,
			&attackers, &defenders, &h.AttackPower, &h.DefensePower,
			&h.Success, &stolen, &h.CoinsStolen, &h.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(attackers, &h.AttackerKnightIDs); err != nil {
			return nil, fmt.Errorf("decode attacker knights for raid %s: %w", h.ID, err)
		}
		if err := json.Unmarshal(defenders, &h.DefenderKnightIDs); err != nil {
			return nil, fmt.Errorf("decode defender knights for raid %s: %w", h.ID, err)
		}
		if err := json.Unmarshal(stolen, &h.ResourcesStolen); err != nil {
			return nil, fmt.Errorf("decode stolen resources for raid %s: %w", h.ID, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (t pgTx) LockKingdom(ctx context.Context) (game.KingdomState, bool, error) {
	var k game.KingdomState
	var kingID *string
	var crowned, nextElection *time.Time
	var doctrines []byte
	err := t.tx.QueryRow(ctx, `
		SELECT current_king_id, king_crowned_at, next_election_at,
		       king_free_changes_remaining, royal_treasury_balance, active_doctrines, updated_at
		FROM realm.kingdom_state
		WHERE id = $1
		FOR UPDATE
	`, game.KingdomID).Scan(&kingID, &crowned, &nextElection,
		&k.KingFreeChangesRemaining, &k.RoyalTreasuryBalance, &doctrines, &k.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return game.KingdomState{}, false, nil
	}
	if err != nil {
		return game.KingdomState{}, false, err
	}
	if kingID != nil {
		k.CurrentKingID = *kingID
	}
	k.KingCrownedAt = derefTime(crowned)
	k.NextElectionAt = derefTime(nextElection)
	if len(doctrines) > 0 {
		if err := json.Unmarshal(doctrines, &k.ActiveDoctrines); err != nil {
			return game.KingdomState{}, false, fmt.Errorf("decode active doctrines: %w", err)
		}
	}
	return k, true, nil
}

func (t pgTx) SaveKingdom(ctx context.Context, k game.KingdomState) error {
	var doctrines *string
	if len(k.ActiveDoctrines) > 0 {
		raw, err := json.Marshal(k.ActiveDoctrines)
		if err != nil {
			return err
		}
		s := string(raw)
		doctrines = &s
	}
	var kingID *string
	if k.CurrentKingID != "" {
		kingID = &k.CurrentKingID
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO realm.kingdom_state (
			id, current_king_id, king_crowned_at, next_election_at,
			king_free_changes_remaining, royal_treasury_balance, active_doctrines, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
		ON CONFLICT (id) DO UPDATE
		SET current_king_id = EXCLUDED.current_king_id,
		    king_crowned_at = EXCLUDED.king_crowned_at,
		    next_election_at = EXCLUDED.next_election_at,
		    king_free_changes_remaining = EXCLUDED.king_free_changes_remaining,
		    royal_treasury_balance = EXCLUDED.royal_treasury_balance,
		    active_doctrines = EXCLUDED.active_doctrines,
		    updated_at = EXCLUDED.updated_at
	`, game.KingdomID, kingID, nullTime(k.KingCrownedAt), nullTime(k.NextElectionAt),
		k.KingFreeChangesRemaining, k.RoyalTreasuryBalance, doctrines, nowIfZero(k.UpdatedAt))
	return err
}

func scanProgressRows(rows pgx.Rows) ([]game.PlayerProgress, error) {
	defer rows.Close()
	var out []game.PlayerProgress
	for rows.Next() {
		var p game.PlayerProgress
		var treasury, knights []byte
		if err := rows.Scan(&p.UserID, &p.RoyalCoins, &p.Bananas, &p.Peanuts, &p.Bread, &p.Sandwiches,
			&treasury, &p.CastleLevel, &knights, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if len(treasury) > 0 {
			if err := json.Unmarshal(treasury, &p.Treasury); err != nil {
				return nil, fmt.Errorf("decode treasury for %s: %w", p.UserID, err)
			}
		}
		if len(knights) > 0 {
			if err := json.Unmarshal(knights, &p.Knights); err != nil {
				return nil, fmt.Errorf("decode knights for %s: %w", p.UserID, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40P01 is a deadlock; both are safe to retry from the top.
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func nowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
