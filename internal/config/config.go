// Package config loads the server configuration.
//
// Sources, highest precedence first: CLI flags (applied by the caller),
// OASIS_* environment variables, the YAML config file, built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Rules   RulesConfig   `mapstructure:"rules" yaml:"rules"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Share   ShareConfig   `mapstructure:"share" yaml:"share"`
	Search  SearchConfig  `mapstructure:"search" yaml:"search"`
	Archive ArchiveConfig `mapstructure:"archive" yaml:"archive"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

type LoggingConfig struct {
	// Level is DEBUG, INFO, WARN or ERROR (any case).
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	// Format is text or json.
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`
	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout" validate:"gte=0"`
	// TrustProxy makes the first X-Forwarded-For hop the client address.
	TrustProxy bool `mapstructure:"trust_proxy" yaml:"trust_proxy"`
}

type StorageConfig struct {
	// Root is the directory tree being served.
	Root string `mapstructure:"root" yaml:"root" validate:"required"`
	// StateDir holds the rule database, upload sessions, thumbnails and the
	// share secret. Default: <root>/.oasis
	StateDir string `mapstructure:"state_dir" yaml:"state_dir"`
}

// RulesConfig selects the hidden-rule store. Only the section matching Type
// is read.
type RulesConfig struct {
	Type   string         `mapstructure:"type" yaml:"type" validate:"required,oneof=sqlite badger"`
	SQLite map[string]any `mapstructure:"sqlite" yaml:"sqlite,omitempty"`
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
}

type AuthConfig struct {
	// Guest lets requests without credentials through at level 0.
	Guest bool `mapstructure:"guest" yaml:"guest"`
	// Users maps user name to credentials. Names are case-insensitive.
	Users  map[string]UserConfig `mapstructure:"users" yaml:"users,omitempty" validate:"dive"`
	Tokens []TokenConfig         `mapstructure:"tokens" yaml:"tokens,omitempty" validate:"dive"`
}

type UserConfig struct {
	Bcrypt string `mapstructure:"bcrypt" yaml:"bcrypt" validate:"required"`
	UID    int64  `mapstructure:"uid" yaml:"uid"`
	Level  int    `mapstructure:"level" yaml:"level" validate:"gte=0"`
	Admin  bool   `mapstructure:"admin" yaml:"admin"`
}

// TokenConfig authenticates "Authorization: Bearer <token>" as User.
type TokenConfig struct {
	Token string `mapstructure:"token" yaml:"token" validate:"required,min=16"`
	User  string `mapstructure:"user" yaml:"user" validate:"required"`
}

type ShareConfig struct {
	// Secret keys share-link signatures. When empty a random secret is
	// generated once and kept in the state dir.
	Secret string `mapstructure:"secret" yaml:"secret,omitempty"`
	// RateLimit is the sustained redemptions per second per client IP; zero
	// disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst" validate:"gte=0"`
}

type SearchConfig struct {
	// MaxResults caps hits per search; zero means unlimited.
	MaxResults int `mapstructure:"max_results" yaml:"max_results" validate:"gte=0"`
}

type ArchiveConfig struct {
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size" validate:"gte=0"`
	ChunkSize  int `mapstructure:"chunk_size" yaml:"chunk_size" validate:"gte=0,ltefield=BufferSize"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load reads configPath (or the default location when empty), applies
// defaults and validates the result. A missing default config file is not an
// error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Finalize applies defaults and validates. Call it after flag overrides.
func Finalize(cfg *Config) error {
	if err := ApplyDefaults(cfg); err != nil {
		return err
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	// OASIS_SERVER_ADDR overrides server.addr, and so on.
	v.SetEnvPrefix("OASIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// bindEnvKeys registers the scalar keys so AutomaticEnv also applies to keys
// absent from the config file.
func bindEnvKeys(v *viper.Viper) {
	for _, k := range []string{
		"logging.level", "logging.format", "logging.output",
		"server.addr", "server.shutdown_timeout", "server.read_header_timeout", "server.trust_proxy",
		"storage.root", "storage.state_dir",
		"rules.type",
		"auth.guest",
		"share.secret", "share.rate_limit", "share.rate_burst",
		"search.max_results",
		"archive.buffer_size", "archive.chunk_size",
		"metrics.enabled",
	} {
		_ = v.BindEnv(k)
	}
}

func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && configPath == "" {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/oasis, ~/.config/oasis, or "." as a
// last resort.
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "oasis")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "oasis")
}

// DefaultConfigPath is where Load looks when no path is given.
func DefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
