package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "snchat" {
		t.Errorf("expected Name=snchat, got %s", cfg.Name)
	}
	if cfg.Polling.MaxAttempts != 30 {
		t.Errorf("expected MaxAttempts=30, got %d", cfg.Polling.MaxAttempts)
	}
	if cfg.Chat.UseServiceNow {
		t.Error("expected UseServiceNow=false by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("SNCHAT_SERVER_URL", "")
	t.Setenv("SNCHAT_DEBUG", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Server.BaseURL = "https://chat.example.com"
	cfg.Polling.MaxAttempts = 60
	cfg.Chat.UseServiceNow = true

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Server.BaseURL != "https://chat.example.com" {
		t.Errorf("expected BaseURL=https://chat.example.com, got %s", loaded.Server.BaseURL)
	}
	if loaded.Polling.MaxAttempts != 60 {
		t.Errorf("expected MaxAttempts=60, got %d", loaded.Polling.MaxAttempts)
	}
	if !loaded.Chat.UseServiceNow {
		t.Error("expected UseServiceNow=true")
	}
}

func TestConfig_LoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("SNCHAT_SERVER_URL", "")

	path := filepath.Join(t.TempDir(), "missing", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load of missing file should fall back to defaults, got %v", err)
	}
	if cfg.Server.BaseURL != "http://localhost:8000" {
		t.Errorf("expected default BaseURL, got %s", cfg.Server.BaseURL)
	}
	if cfg.History.DatabasePath == "" {
		t.Error("expected history database path to be resolved")
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SNCHAT_SERVER_URL", "http://chat:9000")
	t.Setenv("SNCHAT_USE_SERVICENOW", "true")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Server.BaseURL != "http://chat:9000" {
		t.Errorf("expected BaseURL=http://chat:9000, got %s", cfg.Server.BaseURL)
	}
	if !cfg.Chat.UseServiceNow {
		t.Error("expected UseServiceNow=true from env")
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()

	cfg.Polling.MaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero max_attempts")
	}

	cfg = DefaultConfig()
	cfg.Polling.Interval = "not-a-duration"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for bad interval")
	}

	cfg = DefaultConfig()
	cfg.Chat.UnknownItemPolicy = "explode"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for bad unknown_item_policy")
	}
}

func TestConfig_Helpers(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.GetServerTimeout() != 30*time.Second {
		t.Errorf("expected 30s server timeout, got %v", cfg.GetServerTimeout())
	}
	if cfg.GetPollInterval() != time.Second {
		t.Errorf("expected 1s poll interval, got %v", cfg.GetPollInterval())
	}

	cfg.Polling.Interval = "garbage"
	if cfg.GetPollInterval() != time.Second {
		t.Error("GetPollInterval should fall back to 1s on parse failure")
	}
}
