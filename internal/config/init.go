package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# Oasis configuration file
#
# Every key can be overridden with an OASIS_* environment variable, e.g.
# OASIS_SERVER_ADDR=127.0.0.1:8080 or OASIS_LOGGING_LEVEL=debug.
#
# Add users with hashes from "oasis passwd -p <password>":
#
#   auth:
#     users:
#       alice: {bcrypt: "$2a$10$...", uid: 1, level: 9, admin: true}
`

// InitConfig writes a default config file to path (DefaultConfigPath when
// empty) and returns the path written. An existing file is only replaced
// when force is set.
func InitConfig(path, root string, force bool) (string, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}
	body, err := generateYAML(GetDefaultConfig(root))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}

func generateYAML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(configHeader)
	buf.WriteString("\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
