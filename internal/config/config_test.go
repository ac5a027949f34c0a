package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Model != DefaultModel {
		t.Errorf("Expected default model, got %q", cfg.Model)
	}
	if cfg.HistoryLimit != DefaultHistoryLimit {
		t.Errorf("Expected default history limit, got %d", cfg.HistoryLimit)
	}
	if cfg.Throttle() != DefaultThrottleWindow {
		t.Errorf("Expected default throttle window, got %v", cfg.Throttle())
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxTokens != 4000 {
		t.Errorf("Expected default max tokens, got %d", cfg.MaxTokens)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aura.toml")
	content := `
model = "claude-3-5-haiku-20241022"
db_path = "/tmp/test.db"
user_id = "alice"
max_tokens = 2048
history_limit = 5
throttle_window = "150ms"
debug = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Model != "claude-3-5-haiku-20241022" {
		t.Errorf("Unexpected model %q", cfg.Model)
	}
	if cfg.DBPath != "/tmp/test.db" || cfg.UserID != "alice" || !cfg.Debug {
		t.Errorf("Unexpected config %+v", cfg)
	}
	if cfg.MaxTokens != 2048 || cfg.HistoryLimit != 5 {
		t.Errorf("Unexpected limits %d/%d", cfg.MaxTokens, cfg.HistoryLimit)
	}
	if cfg.Throttle() != 150*time.Millisecond {
		t.Errorf("Expected 150ms throttle window, got %v", cfg.Throttle())
	}
}

func TestLoadBadThrottleWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aura.toml")
	if err := os.WriteFile(path, []byte(`throttle_window = "soon"`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected parse error for bad duration")
	}
}

func TestThrottleZeroFallsBack(t *testing.T) {
	var cfg Config
	if cfg.Throttle() != DefaultThrottleWindow {
		t.Errorf("Zero window must fall back to default, got %v", cfg.Throttle())
	}
}
