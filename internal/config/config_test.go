package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPathOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
lease:
  ttl: 5m
decompose:
  size_threshold_hours: 6
scheduler:
  tie_break: shortest_first
board:
  disabled: true
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Lease.TTL != 5*time.Minute {
		t.Errorf("lease ttl = %s, want 5m", cfg.Lease.TTL)
	}
	if cfg.Decompose.SizeThresholdHours != 6 {
		t.Errorf("size threshold = %.1f, want 6", cfg.Decompose.SizeThresholdHours)
	}
	if cfg.Scheduler.TieBreak != "shortest_first" {
		t.Errorf("tie break = %q", cfg.Scheduler.TieBreak)
	}
	if !cfg.Board.Disabled {
		t.Error("board should be disabled")
	}

	// Untouched keys keep their defaults.
	if cfg.Decompose.KeywordMinimum != 3 {
		t.Errorf("keyword minimum = %d, want default 3", cfg.Decompose.KeywordMinimum)
	}
	if cfg.TUI.RefreshRate != 100*time.Millisecond {
		t.Errorf("refresh rate = %s, want default 100ms", cfg.TUI.RefreshRate)
	}
}

func TestLoadFromPathExpandsAPIKey(t *testing.T) {
	t.Setenv("HIVEMIND_TEST_KEY", "sk-test-123")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
anthropic:
  api_key: ${HIVEMIND_TEST_KEY}
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-test-123" {
		t.Errorf("api key = %q, want expanded value", cfg.Anthropic.APIKey)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestDefaultMatchesSetDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Lease.TTL != 10*time.Minute {
		t.Errorf("lease ttl = %s", cfg.Lease.TTL)
	}
	if cfg.Scheduler.TieBreak != "priority_created" {
		t.Errorf("tie break = %q", cfg.Scheduler.TieBreak)
	}
	if cfg.Decompose.SizeThresholdHours != 4 {
		t.Errorf("size threshold = %.1f", cfg.Decompose.SizeThresholdHours)
	}
}
