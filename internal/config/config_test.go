package config

import (
	"testing"
)

// TestDefaults verifies default values survive a load with only the required
// key set.
func TestDefaults(t *testing.T) {
	t.Setenv("MODSWIPE_API_KEY", "test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Nexus.BaseURL != "https://api.nexusmods.com" {
		t.Errorf("Nexus.BaseURL = %q, want the public endpoint", cfg.Nexus.BaseURL)
	}
	if cfg.Nexus.APIKey != "test-key" {
		t.Errorf("Nexus.APIKey = %q, want test-key", cfg.Nexus.APIKey)
	}
	if cfg.Supply.LowQueueThreshold != 20 {
		t.Errorf("Supply.LowQueueThreshold = %d, want 20", cfg.Supply.LowQueueThreshold)
	}
	if cfg.Supply.CooldownSeconds != 60 {
		t.Errorf("Supply.CooldownSeconds = %d, want 60", cfg.Supply.CooldownSeconds)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
}

// TestMissingAPIKey verifies the loader refuses to start without credentials.
func TestMissingAPIKey(t *testing.T) {
	t.Setenv("MODSWIPE_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a missing API key")
	}
}

// TestEnvOverride verifies MODSWIPE_* variables override defaults.
func TestEnvOverride(t *testing.T) {
	t.Setenv("MODSWIPE_API_KEY", "test-key")
	t.Setenv("MODSWIPE_PORT", "9999")
	t.Setenv("MODSWIPE_BASE_URL", "http://localhost:8080")
	t.Setenv("MODSWIPE_LOW_QUEUE_THRESHOLD", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Nexus.BaseURL != "http://localhost:8080" {
		t.Errorf("Nexus.BaseURL = %q, want the override", cfg.Nexus.BaseURL)
	}
	if cfg.Supply.LowQueueThreshold != 5 {
		t.Errorf("Supply.LowQueueThreshold = %d, want 5", cfg.Supply.LowQueueThreshold)
	}
}

// TestEnvOverride_BadInt verifies an unparseable integer falls back to the
// default instead of failing the load.
func TestEnvOverride_BadInt(t *testing.T) {
	t.Setenv("MODSWIPE_API_KEY", "test-key")
	t.Setenv("MODSWIPE_PORT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want the 4600 default", cfg.Server.Port)
	}
}
