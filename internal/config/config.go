package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultModel is the Anthropic model used for orchestrator calls.
	DefaultModel = "claude-3-5-sonnet-20241022"

	// DefaultThrottleWindow is the minimum gap between non-final
	// snapshot writes for the same record.
	DefaultThrottleWindow = 200 * time.Millisecond

	// DefaultHistoryLimit is how many prior messages are sent to the
	// model as conversation context.
	DefaultHistoryLimit = 20
)

// Config holds application configuration
type Config struct {
	Model          string   `toml:"model"`
	APIKey         string   `toml:"-"` // from ANTHROPIC_API_KEY only, never from file
	DBPath         string   `toml:"db_path"`
	SessionID      string   `toml:"-"`
	UserID         string   `toml:"user_id"`
	Listen         string   `toml:"listen"` // address for the live snapshot feed, empty disables
	Debug          bool     `toml:"debug"`
	MaxTokens      int      `toml:"max_tokens"`
	HistoryLimit   int      `toml:"history_limit"`
	ThrottleWindow duration `toml:"throttle_window"`
}

// duration wraps time.Duration so it can be written as "200ms" in TOML.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Model:          DefaultModel,
		DBPath:         "aura.db",
		MaxTokens:      4000,
		HistoryLimit:   DefaultHistoryLimit,
		ThrottleWindow: duration{DefaultThrottleWindow},
	}
}

// Load reads a TOML config file over the defaults. A missing file is not
// an error; flags applied by the caller take precedence over both.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Throttle returns the throttle window as a plain duration.
func (c Config) Throttle() time.Duration {
	if c.ThrottleWindow.Duration <= 0 {
		return DefaultThrottleWindow
	}
	return c.ThrottleWindow.Duration
}
