package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jmadeira/wabridge/internal/paths"
)

// Config holds the bridge settings loaded from <data>/config.toml.
type Config struct {
	HTTPPort           int    `toml:"http_port"`
	DataDir            string `toml:"data_dir"`
	RetentionDays      int    `toml:"retention_days"`
	PairTimeoutSeconds int    `toml:"pair_timeout_seconds"`
	HistorySyncRetries int    `toml:"history_sync_retries"`
	HistorySyncCount   int    `toml:"history_sync_count"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPPort:           8081,
		DataDir:            paths.DefaultDataDir(),
		RetentionDays:      21,
		PairTimeoutSeconds: 180,
		HistorySyncRetries: 3,
		HistorySyncCount:   1000,
	}
}

// Load reads config from the given path, merging over defaults.
// A missing file is not an error; defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RetentionWindow returns the externally exposed message retention
// window. Zero or negative days disables the window.
func (c Config) RetentionWindow() time.Duration {
	if c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// PairTimeout returns the bounded wait for a pairing-code scan.
func (c Config) PairTimeout() time.Duration {
	return time.Duration(c.PairTimeoutSeconds) * time.Second
}
