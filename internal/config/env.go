package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Env holds the process settings read from the environment. Store and
// snapshot values, when set, override the YAML file.
type Env struct {
	Addr         string `env:"AFFIX_ADDR"          envDefault:":8080"`
	ConfigPath   string `env:"AFFIX_CONFIG"        envDefault:"configs/affixes.yaml"`
	LogLevel     string `env:"AFFIX_LOG_LEVEL"     envDefault:"info"`
	StoreDriver  string `env:"AFFIX_STORE_DRIVER"`
	StoreDSN     string `env:"AFFIX_STORE_DSN"`
	SnapshotPath string `env:"AFFIX_SNAPSHOT_PATH"`
}

// ParseEnv loads Env from environment variables.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// Apply overrides cfg with the values set in e.
func (e Env) Apply(cfg *Config) {
	if e.StoreDriver != "" {
		cfg.Store.Driver = e.StoreDriver
	}
	if e.StoreDSN != "" {
		cfg.Store.DSN = e.StoreDSN
	}
	if e.SnapshotPath != "" {
		cfg.Snapshot.Path = e.SnapshotPath
	}
}

// Level maps LogLevel to a slog level; unknown names mean info.
func (e Env) Level() slog.Level {
	switch strings.ToLower(e.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
