package game

type RaidInput struct {
	AttackerID string
	DefenderID string
	KnightIDs  []string
}

type RaidResult struct {
	Success          bool      `json:"success"`
	AttackPower      int64     `json:"attack_power"`
	DefensePower     int64     `json:"defense_power"`
	BaseAttackPower  int64     `json:"base_attack_power"`
	BaseDefensePower int64     `json:"base_defense_power"`
	ResourcesStolen  Resources `json:"resources_stolen"`
	CoinsStolen      int64     `json:"coins_stolen"`
	RaidID           string    `json:"raid_id"`
}

type RaidTarget struct {
	UserID        string    `json:"user_id"`
	DisplayName   string    `json:"display_name"`
	CastleLevel   int       `json:"castle_level"`
	DefenseRating int       `json:"defense_rating"`
	DefensePower  int64     `json:"defense_power"`
	KnightCount   int       `json:"knight_count"`
	Resources     Resources `json:"resources"`
	ResourceTotal int64     `json:"resource_total"`
	RoyalCoins    int64     `json:"royal_coins"`
	ImmuneUntil   int64     `json:"immune_until"`
}

type RaidStatsView struct {
	RaidStats
	LastAttackAt  int64 `json:"last_attack_at"`
	LastRaidedAt  int64 `json:"last_raided_at"`
	AttackReadyAt int64 `json:"attack_ready_at"`
	ImmuneUntil   int64 `json:"immune_until"`
}

type KnightView struct {
	Knight
	Power int64 `json:"power"`
}

type ProgressView struct {
	UserID      string       `json:"user_id"`
	CastleLevel int          `json:"castle_level"`
	Pocket      Purse        `json:"pocket"`
	Treasury    Purse        `json:"treasury"`
	Knights     []KnightView `json:"knights"`
	MaxParty    int          `json:"max_party"`
}

type DoctrineView struct {
	Category    DoctrineCategory `json:"category"`
	Key         string           `json:"key"`
	DisplayName string           `json:"display_name"`
	Modifier    string           `json:"modifier"`
}

type KingdomView struct {
	KingID                   *string             `json:"king_id"`
	KingName                 string              `json:"king_name"`
	KingCrownedAt            int64               `json:"king_crowned_at"`
	NextElectionAt           int64               `json:"next_election_at"`
	KingFreeChangesRemaining int                 `json:"king_free_changes_remaining"`
	RoyalTreasuryBalance     int64               `json:"royal_treasury_balance"`
	ActiveDoctrines          []DoctrineView      `json:"active_doctrines"`
	ElectionHeld             bool                `json:"election_held"`
	DoctrineCatalog          map[string][]string `json:"doctrine_catalog"`
}

type DoctrineInput struct {
	UserID   string
	Category string
	Doctrine string
}

type DoctrineResult struct {
	KingFreeChangesRemaining int            `json:"king_free_changes_remaining"`
	RoyalTreasuryBalance     int64          `json:"royal_treasury_balance"`
	UsedFreeChange           bool           `json:"used_free_change"`
	ActiveDoctrines          []DoctrineView `json:"active_doctrines"`
}

type TaxResult struct {
	RoyalTreasuryBalance int64 `json:"royal_treasury_balance"`
}
