package game

import (
	"sort"
	"strings"
)

type DoctrineCategory string

const (
	DoctrineReligious DoctrineCategory = "religious"
	DoctrineEconomic  DoctrineCategory = "economic"
	DoctrineMilitary  DoctrineCategory = "military"
	DoctrineCultural  DoctrineCategory = "cultural"
)

var DoctrineCategories = []DoctrineCategory{
	DoctrineReligious,
	DoctrineEconomic,
	DoctrineMilitary,
	DoctrineCultural,
}

type doctrineSpec struct {
	Key         string
	DisplayName string
	Modifier    string
}

var doctrineCatalog = map[DoctrineCategory][]doctrineSpec{
	DoctrineReligious: {
		{Key: "sun_cult", DisplayName: "Cult of the Sun", Modifier: "banana_yield_+10pct"},
		{Key: "moon_vigil", DisplayName: "Moon Vigil", Modifier: "defense_immunity_+15min"},
		{Key: "ancestor_rites", DisplayName: "Ancestor Rites", Modifier: "knight_training_cost_-10pct"},
	},
	DoctrineEconomic: {
		{Key: "barter_guilds", DisplayName: "Barter Guilds", Modifier: "resource_trade_fee_-5pct"},
		{Key: "royal_mint", DisplayName: "Royal Mint", Modifier: "coin_income_+5pct"},
		{Key: "free_markets", DisplayName: "Free Markets", Modifier: "tax_inflow_+10pct"},
	},
	DoctrineMilitary: {
		{Key: "shield_wall", DisplayName: "Shield Wall", Modifier: "defense_power_+5pct"},
		{Key: "cavalry_charge", DisplayName: "Cavalry Charge", Modifier: "attack_power_+5pct"},
		{Key: "war_college", DisplayName: "War College", Modifier: "tier_upgrade_cost_-10pct"},
	},
	DoctrineCultural: {
		{Key: "bardic_lore", DisplayName: "Bardic Lore", Modifier: "quest_rewards_+5pct"},
		{Key: "grand_feasts", DisplayName: "Grand Feasts", Modifier: "sandwich_yield_+10pct"},
		{Key: "scholars_hall", DisplayName: "Scholars' Hall", Modifier: "wit_growth_+10pct"},
	},
}

// DefaultDoctrines are seeded on a coronation when no doctrine is active yet.
func DefaultDoctrines() map[DoctrineCategory]string {
	out := make(map[DoctrineCategory]string, len(DoctrineCategories))
	for _, c := range DoctrineCategories {
		out[c] = doctrineCatalog[c][0].Key
	}
	return out
}

func ParseDoctrineCategory(s string) (DoctrineCategory, bool) {
	c := DoctrineCategory(strings.ToLower(strings.TrimSpace(s)))
	_, ok := doctrineCatalog[c]
	return c, ok
}

func lookupDoctrine(category DoctrineCategory, key string) (doctrineSpec, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, d := range doctrineCatalog[category] {
		if d.Key == key {
			return d, true
		}
	}
	return doctrineSpec{}, false
}

func doctrineKeys(category DoctrineCategory) []string {
	specs := doctrineCatalog[category]
	keys := make([]string, 0, len(specs))
	for _, d := range specs {
		keys = append(keys, d.Key)
	}
	sort.Strings(keys)
	return keys
}
