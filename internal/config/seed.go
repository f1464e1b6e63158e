package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Seed is the optional rule and fee bootstrap file named by SEED_FILE.
// Amounts are decimal strings so no float ever touches money.
type Seed struct {
	Rules []RuleSeed             `mapstructure:"rules"`
	Fees  map[string]FeeSchedule `mapstructure:"fees"`
}

// RuleSeed describes one rule to create on startup when its key is unknown
type RuleSeed struct {
	Key           string     `mapstructure:"key"`
	Name          string     `mapstructure:"name"`
	Description   string     `mapstructure:"description"`
	Type          string     `mapstructure:"type"`
	Formula       string     `mapstructure:"formula"`
	FlatAmount    string     `mapstructure:"flat_amount"`
	Rate          string     `mapstructure:"rate"`
	Tiers         []TierSeed `mapstructure:"tiers"`
	MinAmount     string     `mapstructure:"min_amount"`
	MaxAmount     string     `mapstructure:"max_amount"`
	Currency      string     `mapstructure:"currency"`
	EffectiveFrom string     `mapstructure:"effective_from"`
	EffectiveTo   string     `mapstructure:"effective_to"`
	Priority      int        `mapstructure:"priority"`
}

// TierSeed is one threshold row of a tiered rule or fee schedule
type TierSeed struct {
	Threshold  string `mapstructure:"threshold"`
	Rate       string `mapstructure:"rate"`
	FlatAmount string `mapstructure:"flat_amount"`
}

// FeeSchedule is the payout fee policy of one method
type FeeSchedule struct {
	Kind  string     `mapstructure:"kind"`
	Flat  string     `mapstructure:"flat"`
	Rate  string     `mapstructure:"rate"`
	Tiers []TierSeed `mapstructure:"tiers"`
}

// LoadSeed reads a YAML, JSON or TOML seed file. An empty path yields an empty seed.
func LoadSeed(path string) (*Seed, error) {
	seed := &Seed{Fees: map[string]FeeSchedule{}}
	if path == "" {
		return seed, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading seed file %s: %w", path, err)
	}
	if err := v.Unmarshal(seed); err != nil {
		return nil, fmt.Errorf("error decoding seed file %s: %w", path, err)
	}

	// viper lowercases map keys; methods are lowercase already
	fees := make(map[string]FeeSchedule, len(seed.Fees))
	for method, schedule := range seed.Fees {
		fees[strings.ToLower(method)] = schedule
	}
	seed.Fees = fees
	return seed, nil
}
