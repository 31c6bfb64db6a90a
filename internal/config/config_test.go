package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.HistoryCap != def.HistoryCap || cfg.ExpirePercent != def.ExpirePercent {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
	if cfg.TaskTimeoutsMinutes["VERIFY"] != 60 {
		t.Errorf("VERIFY timeout = %d, want 60", cfg.TaskTimeoutsMinutes["VERIFY"])
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
history_cap: 50
expire_percent: 25
task_timeouts_minutes:
  VERIFY: 30
  COUNTEREXAMPLE: 120
  SYNTHESIZE: 240
  SECURITY_REVIEW: 480
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HistoryCap != 50 || cfg.ExpirePercent != 25 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.TaskTimeoutsMinutes["VERIFY"] != 30 {
		t.Errorf("VERIFY timeout = %d, want 30", cfg.TaskTimeoutsMinutes["VERIFY"])
	}
	// Untouched knobs keep their defaults.
	if cfg.StakeLockDays != Default().StakeLockDays {
		t.Errorf("StakeLockDays = %d, want default %d", cfg.StakeLockDays, Default().StakeLockDays)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("history_cap: [not an int"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config loaded without error")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero history cap", "history_cap: 0"},
		{"expire percent over 100", "expire_percent: 150"},
		{"negative lock days", "stake_lock_days: -1"},
		{"zero task timeout", "task_timeouts_minutes:\n  VERIFY: 0"},
		{"zero reward base", "reward_bases:\n  CLAIM_VERIFIED: 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.body), 0644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("invalid config loaded without error")
			}
		})
	}
}
