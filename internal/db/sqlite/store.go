// Package sqlite is a single-node realm store on SQLite. Transactions start
// with BEGIN IMMEDIATE over one connection, so they run strictly one at a time.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"nexus/internal/game"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type Store struct {
	conn *sqlx.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS player_progress (
		user_id TEXT PRIMARY KEY,
		royal_coins INTEGER NOT NULL DEFAULT 0 CHECK (royal_coins >= 0),
		bananas INTEGER NOT NULL DEFAULT 0 CHECK (bananas >= 0),
		peanuts INTEGER NOT NULL DEFAULT 0 CHECK (peanuts >= 0),
		bread INTEGER NOT NULL DEFAULT 0 CHECK (bread >= 0),
		sandwiches INTEGER NOT NULL DEFAULT 0 CHECK (sandwiches >= 0),
		treasury_json TEXT NOT NULL DEFAULT '{}',
		castle_level INTEGER NOT NULL DEFAULT 1,
		knights_json TEXT NOT NULL DEFAULT '[]',
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS raid_stats (
		user_id TEXT PRIMARY KEY,
		total_attacks INTEGER NOT NULL DEFAULT 0,
		successful_attacks INTEGER NOT NULL DEFAULT 0,
		attack_rating INTEGER NOT NULL DEFAULT 100,
		total_defenses INTEGER NOT NULL DEFAULT 0,
		successful_defenses INTEGER NOT NULL DEFAULT 0,
		defense_rating INTEGER NOT NULL DEFAULT 100,
		last_attack_at INTEGER,
		last_raided_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS raid_history (
		id TEXT PRIMARY KEY,
		attacker_id TEXT NOT NULL,
		attacker_name TEXT NOT NULL,
		defender_id TEXT NOT NULL,
		defender_name TEXT NOT NULL,
		attacker_knight_ids_json TEXT NOT NULL,
		defender_knight_ids_json TEXT NOT NULL,
		attack_power INTEGER NOT NULL,
		defense_power INTEGER NOT NULL,
		success INTEGER NOT NULL,
		resources_stolen_json TEXT NOT NULL,
		coins_stolen INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS kingdom_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		current_king_id TEXT,
		king_crowned_at INTEGER,
		next_election_at INTEGER,
		king_free_changes_remaining INTEGER NOT NULL DEFAULT 0,
		royal_treasury_balance INTEGER NOT NULL DEFAULT 0 CHECK (royal_treasury_balance >= 0),
		active_doctrines_json TEXT,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_progress_castle_level ON player_progress(castle_level);
	CREATE INDEX IF NOT EXISTS idx_raid_history_attacker ON raid_history(attacker_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_raid_history_defender ON raid_history(defender_id, created_at);
	`
	_, err := s.conn.Exec(schema)
	return err
}

func (s *Store) InTx(ctx context.Context, fn func(tx game.Tx) error) error {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type sqliteTx struct {
	tx *sqlx.Tx
}

type progressRow struct {
	UserID       string `db:"user_id"`
	RoyalCoins   int64  `db:"royal_coins"`
	Bananas      int64  `db:"bananas"`
	Peanuts      int64  `db:"peanuts"`
	Bread        int64  `db:"bread"`
	Sandwiches   int64  `db:"sandwiches"`
	TreasuryJSON string `db:"treasury_json"`
	CastleLevel  int    `db:"castle_level"`
	KnightsJSON  string `db:"knights_json"`
	UpdatedAt    int64  `db:"updated_at"`
}

func (r progressRow) decode() (game.PlayerProgress, error) {
	p := game.PlayerProgress{
		UserID:      r.UserID,
		CastleLevel: r.CastleLevel,
		UpdatedAt:   fromMillis(sql.NullInt64{Int64: r.UpdatedAt, Valid: true}),
	}
	p.RoyalCoins = r.RoyalCoins
	p.Bananas = r.Bananas
	p.Peanuts = r.Peanuts
	p.Bread = r.Bread
	p.Sandwiches = r.Sandwiches
	if r.TreasuryJSON != "" {
		if err := json.Unmarshal([]byte(r.TreasuryJSON), &p.Treasury); err != nil {
			return p, fmt.Errorf("decode treasury for %s: %w", r.UserID, err)
		}
	}
	if r.KnightsJSON != "" {
		if err := json.Unmarshal([]byte(r.KnightsJSON), &p.Knights); err != nil {
			return p, fmt.Errorf("decode knights for %s: %w", r.UserID, err)
		}
	}
	return p, nil
}

type statsRow struct {
	UserID             string        `db:"user_id"`
	TotalAttacks       int           `db:"total_attacks"`
	SuccessfulAttacks  int           `db:"successful_attacks"`
	AttackRating       int           `db:"attack_rating"`
	TotalDefenses      int           `db:"total_defenses"`
	SuccessfulDefenses int           `db:"successful_defenses"`
	DefenseRating      int           `db:"defense_rating"`
	LastAttackAt       sql.NullInt64 `db:"last_attack_at"`
	LastRaidedAt       sql.NullInt64 `db:"last_raided_at"`
}

type historyRow struct {
	ID                string `db:"id"`
	AttackerID        string `db:"attacker_id"`
	AttackerName      string `db:"attacker_name"`
	DefenderID        string `db:"defender_id"`
	DefenderName      string `db:"defender_name"`
	AttackerKnightIDs string `db:"attacker_knight_ids_json"`
	DefenderKnightIDs string `db:"defender_knight_ids_json"`
	AttackPower       int64  `db:"attack_power"`
	DefensePower      int64  `db:"defense_power"`
	Success           bool   `db:"success"`
	ResourcesStolen   string `db:"resources_stolen_json"`
	CoinsStolen       int64  `db:"coins_stolen"`
	CreatedAt         int64  `db:"created_at"`
}

type kingdomRow struct {
	CurrentKingID            sql.NullString `db:"current_king_id"`
	KingCrownedAt            sql.NullInt64  `db:"king_crowned_at"`
	NextElectionAt           sql.NullInt64  `db:"next_election_at"`
	KingFreeChangesRemaining int            `db:"king_free_changes_remaining"`
	RoyalTreasuryBalance     int64          `db:"royal_treasury_balance"`
	ActiveDoctrinesJSON      sql.NullString `db:"active_doctrines_json"`
	UpdatedAt                int64          `db:"updated_at"`
}

func (t *sqliteTx) UpsertProfile(ctx context.Context, p game.Profile) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO profiles (user_id, display_name, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET display_name = excluded.display_name, updated_at = excluded.updated_at
	`, p.UserID, p.DisplayName, time.Now().UnixMilli())
	return err
}

func (t *sqliteTx) DisplayNames(ctx context.Context, userIDs ...string) (map[string]string, error) {
	out := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(`SELECT user_id, display_name FROM profiles WHERE user_id IN (?)`, userIDs)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		UserID      string `db:"user_id"`
		DisplayName string `db:"display_name"`
	}
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(q), args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.UserID] = r.DisplayName
	}
	return out, nil
}

const progressColumns = `user_id, royal_coins, bananas, peanuts, bread, sandwiches, treasury_json, castle_level, knights_json, updated_at`

func (t *sqliteTx) LockProgress(ctx context.Context, userIDs ...string) (map[string]game.PlayerProgress, error) {
	out := make(map[string]game.PlayerProgress, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(`SELECT `+progressColumns+` FROM player_progress WHERE user_id IN (?)`, userIDs)
	if err != nil {
		return nil, err
	}
	var rows []progressRow
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(q), args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		p, err := r.decode()
		if err != nil {
			return nil, err
		}
		out[p.UserID] = p
	}
	return out, nil
}

func (t *sqliteTx) SaveProgress(ctx context.Context, p game.PlayerProgress) error {
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
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO player_progress (`+progressColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			royal_coins = excluded.royal_coins,
			bananas = excluded.bananas,
			peanuts = excluded.peanuts,
			bread = excluded.bread,
			sandwiches = excluded.sandwiches,
			treasury_json = excluded.treasury_json,
			castle_level = excluded.castle_level,
			knights_json = excluded.knights_json,
			updated_at = excluded.updated_at
	`, p.UserID, p.RoyalCoins, p.Bananas, p.Peanuts, p.Bread, p.Sandwiches,
		string(treasury), p.CastleLevel, string(knightsJSON), millisOrNow(p.UpdatedAt))
	return err
}

func (t *sqliteTx) ProgressInLevelRange(ctx context.Context, minLevel, maxLevel int) ([]game.PlayerProgress, error) {
	var rows []progressRow
	if err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+progressColumns+` FROM player_progress
		WHERE MAX(castle_level, 1) BETWEEN ? AND ?
		ORDER BY user_id
	`, minLevel, maxLevel); err != nil {
		return nil, err
	}
	out := make([]game.PlayerProgress, 0, len(rows))
	for _, r := range rows {
		p, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// WealthRanking decodes the parked treasury in Go; the JSON1 functions are not
// needed for a table this size.
func (t *sqliteTx) WealthRanking(ctx context.Context, limit int) ([]game.WealthRow, error) {
	var rows []progressRow
	if err := t.tx.SelectContext(ctx, &rows, `SELECT `+progressColumns+` FROM player_progress`); err != nil {
		return nil, err
	}
	out := make([]game.WealthRow, 0, len(rows))
	for _, r := range rows {
		p, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, game.WealthRow{UserID: p.UserID, Wealth: p.Wealth()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Wealth != out[j].Wealth {
			return out[i].Wealth > out[j].Wealth
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

const statsColumns = `user_id, total_attacks, successful_attacks, attack_rating, total_defenses, successful_defenses, defense_rating, last_attack_at, last_raided_at`

func (t *sqliteTx) LockRaidStats(ctx context.Context, userIDs ...string) (map[string]game.RaidStats, error) {
	return t.GetRaidStats(ctx, userIDs...)
}

func (t *sqliteTx) GetRaidStats(ctx context.Context, userIDs ...string) (map[string]game.RaidStats, error) {
	out := make(map[string]game.RaidStats, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(`SELECT `+statsColumns+` FROM raid_stats WHERE user_id IN (?)`, userIDs)
	if err != nil {
		return nil, err
	}
	var rows []statsRow
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(q), args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.UserID] = game.RaidStats{
			UserID:             r.UserID,
			TotalAttacks:       r.TotalAttacks,
			SuccessfulAttacks:  r.SuccessfulAttacks,
			AttackRating:       r.AttackRating,
			TotalDefenses:      r.TotalDefenses,
			SuccessfulDefenses: r.SuccessfulDefenses,
			DefenseRating:      r.DefenseRating,
			LastAttackAt:       fromMillis(r.LastAttackAt),
			LastRaidedAt:       fromMillis(r.LastRaidedAt),
		}
	}
	return out, nil
}

func (t *sqliteTx) SaveRaidStats(ctx context.Context, st game.RaidStats) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO raid_stats (`+statsColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			total_attacks = excluded.total_attacks,
			successful_attacks = excluded.successful_attacks,
			attack_rating = excluded.attack_rating,
			total_defenses = excluded.total_defenses,
			successful_defenses = excluded.successful_defenses,
			defense_rating = excluded.defense_rating,
			last_attack_at = excluded.last_attack_at,
			last_raided_at = excluded.last_raided_at
	`, st.UserID, st.TotalAttacks, st.SuccessfulAttacks, st.AttackRating,
		st.TotalDefenses, st.SuccessfulDefenses, st.DefenseRating,
		toMillis(st.LastAttackAt), toMillis(st.LastRaidedAt))
	return err
}

func (t *sqliteTx) InsertRaidHistory(ctx context.Context, h game.RaidHistory) error {
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
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO raid_history (
			id, attacker_id, attacker_name, defender_id, defender_name,
			attacker_knight_ids_json, defender_knight_ids_json, attack_power, defense_power,
			success, resources_stolen_json, coins_stolen, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.AttackerID, h.AttackerName, h.DefenderID, h.DefenderName,
		string(attackers), string(defenders), h.AttackPower, h.DefensePower,
		h.Success, string(stolen), h.CoinsStolen, millisOrNow(h.CreatedAt))
	return err
}

func (t *sqliteTx) ListRaidHistory(ctx context.Context, userID string, limit int) ([]game.RaidHistory, error) {
	var rows []historyRow
	if err := t.tx.SelectContext(ctx, &rows, `
		SELECT id, attacker_id, attacker_name, defender_id, defender_name,
			attacker_knight_ids_json, defender_knight_ids_json, attack_power, defense_power,
			success, resources_stolen_json, coins_stolen, created_at
		FROM raid_history
		WHERE attacker_id = ? OR defender_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, userID, userID, limit); err != nil {
		return nil, err
	}
	out := make([]game.RaidHistory, 0, len(rows))
	for _, r := range rows {
		h := game.RaidHistory{
			ID:           r.ID,
			AttackerID:   r.AttackerID,
			AttackerName: r.AttackerName,
			DefenderID:   r.DefenderID,
			DefenderName: r.DefenderName,
			AttackPower:  r.AttackPower,
			DefensePower: r.DefensePower,
			Success:      r.Success,
			CoinsStolen:  r.CoinsStolen,
			CreatedAt:    fromMillis(sql.NullInt64{Int64: r.CreatedAt, Valid: true}),
		}
		if err := json.Unmarshal([]byte(r.AttackerKnightIDs), &h.AttackerKnightIDs); err != nil {
			return nil, fmt.Errorf("decode attacker knights for raid %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(r.DefenderKnightIDs), &h.DefenderKnightIDs); err != nil {
			return nil, fmt.Errorf("decode defender knights for raid %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(r.ResourcesStolen), &h.ResourcesStolen); err != nil {
			return nil, fmt.Errorf("decode stolen resources for raid %s: %w", r.ID, err)
		}
		out = append(out, h)
	}
	return out, nil
}

func (t *sqliteTx) LockKingdom(ctx context.Context) (game.KingdomState, bool, error) {
	var r kingdomRow
	err := t.tx.GetContext(ctx, &r, `
		SELECT current_king_id, king_crowned_at, next_election_at,
			king_free_changes_remaining, royal_treasury_balance, active_doctrines_json, updated_at
		FROM kingdom_state WHERE id = ?
	`, game.KingdomID)
	if errors.Is(err, sql.ErrNoRows) {
		return game.KingdomState{}, false, nil
	}
	if err != nil {
		return game.KingdomState{}, false, err
	}
	k := game.KingdomState{
		CurrentKingID:            r.CurrentKingID.String,
		KingCrownedAt:            fromMillis(r.KingCrownedAt),
		NextElectionAt:           fromMillis(r.NextElectionAt),
		KingFreeChangesRemaining: r.KingFreeChangesRemaining,
		RoyalTreasuryBalance:     r.RoyalTreasuryBalance,
		UpdatedAt:                fromMillis(sql.NullInt64{Int64: r.UpdatedAt, Valid: true}),
	}
	if r.ActiveDoctrinesJSON.Valid && r.ActiveDoctrinesJSON.String != "" {
		if err := json.Unmarshal([]byte(r.ActiveDoctrinesJSON.String), &k.ActiveDoctrines); err != nil {
			return game.KingdomState{}, false, fmt.Errorf("decode active doctrines: %w", err)
		}
	}
	return k, true, nil
}

func (t *sqliteTx) SaveKingdom(ctx context.Context, k game.KingdomState) error {
	var doctrines sql.NullString
	if len(k.ActiveDoctrines) > 0 {
		raw, err := json.Marshal(k.ActiveDoctrines)
		if err != nil {
			return err
		}
		doctrines = sql.NullString{String: string(raw), Valid: true}
	}
	kingID := sql.NullString{String: k.CurrentKingID, Valid: k.CurrentKingID != ""}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO kingdom_state (
			id, current_king_id, king_crowned_at, next_election_at,
			king_free_changes_remaining, royal_treasury_balance, active_doctrines_json, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_king_id = excluded.current_king_id,
			king_crowned_at = excluded.king_crowned_at,
			next_election_at = excluded.next_election_at,
			king_free_changes_remaining = excluded.king_free_changes_remaining,
			royal_treasury_balance = excluded.royal_treasury_balance,
			active_doctrines_json = excluded.active_doctrines_json,
			updated_at = excluded.updated_at
	`, game.KingdomID, kingID, toMillis(k.KingCrownedAt), toMillis(k.NextElectionAt),
		k.KingFreeChangesRemaining, k.RoyalTreasuryBalance, doctrines, millisOrNow(k.UpdatedAt))
	return err
}

func toMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

func millisOrNow(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
