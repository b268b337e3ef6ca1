package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"oasis/internal/archive"
)

const (
	defaultAddr      = "0.0.0.0:3923"
	defaultStateName = ".oasis"
)

// ApplyDefaults fills zero values in place. The storage root is made
// absolute here, so it fails only when the working directory is unknown.
func ApplyDefaults(cfg *Config) error {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	if err := applyStorageDefaults(&cfg.Storage); err != nil {
		return err
	}
	applyRulesDefaults(&cfg.Rules, cfg.Storage.StateDir)
	applyShareDefaults(&cfg.Share)
	applyArchiveDefaults(&cfg.Archive)
	return nil
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
}

func applyStorageDefaults(cfg *StorageConfig) error {
	if cfg.Root == "" {
		return nil // reported by Validate
	}
	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return fmt.Errorf("storage.root: %w", err)
	}
	cfg.Root = abs
	if cfg.StateDir == "" {
		cfg.StateDir = filepath.Join(abs, defaultStateName)
	}
	if cfg.StateDir, err = filepath.Abs(cfg.StateDir); err != nil {
		return fmt.Errorf("storage.state_dir: %w", err)
	}
	return nil
}

func applyRulesDefaults(cfg *RulesConfig, stateDir string) {
	if cfg.Type == "" {
		cfg.Type = "sqlite"
	}
	switch cfg.Type {
	case "sqlite":
		if cfg.SQLite == nil {
			cfg.SQLite = map[string]any{}
		}
		if _, ok := cfg.SQLite["path"]; !ok {
			cfg.SQLite["path"] = filepath.Join(stateDir, "rules.db")
		}
	case "badger":
		if cfg.Badger == nil {
			cfg.Badger = map[string]any{}
		}
		if _, ok := cfg.Badger["dir"]; !ok {
			cfg.Badger["dir"] = filepath.Join(stateDir, "rules.badger")
		}
	}
}

func applyShareDefaults(cfg *ShareConfig) {
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 20
	}
}

func applyArchiveDefaults(cfg *ArchiveConfig) {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = archive.DefaultBufferSize
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = archive.DefaultChunkSize
	}
}

// GetDefaultConfig is the configuration written by `oasis init`.
func GetDefaultConfig(root string) *Config {
	cfg := &Config{
		Storage: StorageConfig{Root: root},
		Auth:    AuthConfig{Guest: true},
		Share:   ShareConfig{RateLimit: 5},
	}
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	cfg.Rules.Type = "sqlite"
	applyShareDefaults(&cfg.Share)
	applyArchiveDefaults(&cfg.Archive)
	return cfg
}
