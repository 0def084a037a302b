package game

import "context"

// Store runs fn inside one transaction. Implementations may call fn more than
// once when the backend reports a serialization conflict, so fn must not have
// side effects outside tx.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the row-level surface the realm needs. Lock* methods hold the rows
// until the transaction ends; they skip ids that have no row.
type Tx interface {
	UpsertProfile(ctx context.Context, p Profile) error
	DisplayNames(ctx context.Context, userIDs ...string) (map[string]string, error)

	LockProgress(ctx context.Context, userIDs ...string) (map[string]PlayerProgress, error)
	SaveProgress(ctx context.Context, p PlayerProgress) error
	// ProgressInLevelRange lists players whose castle level is in [minLevel, maxLevel].
	ProgressInLevelRange(ctx context.Context, minLevel, maxLevel int) ([]PlayerProgress, error)
	WealthRanking(ctx context.Context, limit int) ([]WealthRow, error)

	LockRaidStats(ctx context.Context, userIDs ...string) (map[string]RaidStats, error)
	GetRaidStats(ctx context.Context, userIDs ...string) (map[string]RaidStats, error)
	SaveRaidStats(ctx context.Context, st RaidStats) error

	InsertRaidHistory(ctx context.Context, h RaidHistory) error
	ListRaidHistory(ctx context.Context, userID string, limit int) ([]RaidHistory, error)

	// LockKingdom returns the singleton row, or found=false when it does not exist yet.
	LockKingdom(ctx context.Context) (k KingdomState, found bool, err error)
	SaveKingdom(ctx context.Context, k KingdomState) error
}

// Announcer publishes notable realm events. Implementations must not block.
type Announcer interface {
	Coronation(ctx context.Context, n CoronationNotice)
	GreatRaid(ctx context.Context, n RaidNotice)
}

type CoronationNotice struct {
	KingID   string
	KingName string
	Wealth   int64
}

type RaidNotice struct {
	AttackerName string
	DefenderName string
	CoinsStolen  int64
	Resources    Resources
}

type noopAnnouncer struct{}

func (noopAnnouncer) Coronation(context.Context, CoronationNotice) {}

func (noopAnnouncer) GreatRaid(context.Context, RaidNotice) {}
