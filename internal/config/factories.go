package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"

	"oasis/internal/metrics"
	promMetrics "oasis/internal/metrics/prometheus"
	"oasis/internal/rules"
	"oasis/internal/rules/badgerstore"
	"oasis/internal/rules/sqlitestore"
)

const secretFile = "share.secret"

// OpenRuleStore opens the hidden-rule store selected by cfg.Type, decoding
// the matching backend section into that backend's own Config.
func OpenRuleStore(cfg *RulesConfig) (rules.Store, error) {
	switch cfg.Type {
	case "sqlite":
		var sc sqlitestore.Config
		if err := mapstructure.Decode(cfg.SQLite, &sc); err != nil {
			return nil, fmt.Errorf("failed to decode sqlite rule store config: %w", err)
		}
		if sc.Path == "" {
			return nil, errors.New("sqlite rule store: path is required")
		}
		if err := os.MkdirAll(filepath.Dir(sc.Path), 0o755); err != nil {
			return nil, err
		}
		st, err := sqlitestore.Open(sc)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "badger":
		var bc badgerstore.Config
		if err := mapstructure.Decode(cfg.Badger, &bc); err != nil {
			return nil, fmt.Errorf("failed to decode badger rule store config: %w", err)
		}
		if bc.Dir == "" && !bc.InMemory {
			return nil, errors.New("badger rule store: dir is required")
		}
		st, err := badgerstore.Open(bc)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%w: %q", rules.ErrUnknownType, cfg.Type)
	}
}

// ShareSecret returns the configured share secret, or the one persisted in
// the state dir, creating it on first use.
func ShareSecret(cfg *Config) ([]byte, error) {
	if cfg.Share.Secret != "" {
		return []byte(cfg.Share.Secret), nil
	}
	p := filepath.Join(cfg.Storage.StateDir, secretFile)
	if b, err := os.ReadFile(p); err == nil {
		if s := strings.TrimSpace(string(b)); s != "" {
			return []byte(s), nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read share secret: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	secret := hex.EncodeToString(raw)
	if err := os.MkdirAll(cfg.Storage.StateDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(p, []byte(secret+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write share secret: %w", err)
	}
	return []byte(secret), nil
}

// InitializeMetrics returns a Prometheus-backed recorder when metrics are
// enabled and the no-op recorder otherwise.
func InitializeMetrics(cfg *Config) metrics.Recorder {
	if !cfg.Metrics.Enabled {
		return metrics.NewNoop()
	}
	metrics.InitRegistry()
	return promMetrics.NewRecorder()
}
