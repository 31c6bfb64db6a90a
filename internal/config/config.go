// Package config loads the node's coherence policy configuration from YAML.
// Every knob has an embedded default; a missing file means defaults, a
// malformed file is a startup error, never a silent reset.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full policy configuration for one node.
type Config struct {
	// DataDir is where the JSON stores and the transaction archive live.
	DataDir string `yaml:"data_dir"`
	// KeyFile holds the node's Ed25519 private key.
	KeyFile string `yaml:"key_file"`

	// HistoryCap bounds every persisted history array.
	HistoryCap int `yaml:"history_cap"`
	// StakeLockDays is the lock applied to tier stakes.
	StakeLockDays int `yaml:"stake_lock_days"`
	// ExpirePercent is the slash applied to stakes swept by the expiry valve.
	ExpirePercent int `yaml:"expire_percent"`
	// SweepInterval is how often the expiry sweeper runs, in minutes.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`

	// TaskTimeoutsMinutes keys are task types (VERIFY, COUNTEREXAMPLE,
	// SYNTHESIZE, SECURITY_REVIEW).
	TaskTimeoutsMinutes map[string]int `yaml:"task_timeouts_minutes"`
	// RewardBases keys are reward actions (CLAIM_VERIFIED, ...).
	RewardBases map[string]int64 `yaml:"reward_bases"`
}

// Default returns the built-in policy configuration.
func Default() Config {
	return Config{
		DataDir:              ".coherence",
		KeyFile:              ".coherence/node.key",
		HistoryCap:           1000,
		StakeLockDays:        7,
		ExpirePercent:        10,
		SweepIntervalMinutes: 5,
		TaskTimeoutsMinutes: map[string]int{
			"VERIFY":          60,
			"COUNTEREXAMPLE":  120,
			"SYNTHESIZE":      240,
			"SECURITY_REVIEW": 480,
		},
		RewardBases: map[string]int64{
			"CLAIM_ACCEPTED":            15,
			"CLAIM_VERIFIED":            10,
			"COUNTEREXAMPLE_FOUND":      25,
			"SYNTHESIS_PUBLISHED":       40,
			"SECURITY_REVIEW_COMPLETED": 60,
			"VOUCH_RECEIVED":            5,
		},
	}
}

// Load reads the configuration from path, layered over the defaults. A
// missing file returns the defaults; malformed YAML is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HistoryCap <= 0 {
		return fmt.Errorf("history_cap must be positive, got %d", c.HistoryCap)
	}
	if c.ExpirePercent < 0 || c.ExpirePercent > 100 {
		return fmt.Errorf("expire_percent must be 0-100, got %d", c.ExpirePercent)
	}
	if c.StakeLockDays < 0 {
		return fmt.Errorf("stake_lock_days must not be negative, got %d", c.StakeLockDays)
	}
	for typ, mins := range c.TaskTimeoutsMinutes {
		if mins <= 0 {
			return fmt.Errorf("task timeout for %s must be positive, got %d", typ, mins)
		}
	}
	for action, base := range c.RewardBases {
		if base <= 0 {
			return fmt.Errorf("reward base for %s must be positive, got %d", action, base)
		}
	}
	return nil
}
