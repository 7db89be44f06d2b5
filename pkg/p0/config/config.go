// Package config loads and persists the p0 CLI configuration file: the
// organization, backend server, credential provider endpoints, and local
// defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	VersionV1 = "v1"
)

type Config struct {
	Version   string     `yaml:"version"`
	Org       string     `yaml:"org,omitempty"`
	Server    string     `yaml:"server"`
	Providers []Provider `yaml:"providers,omitempty"`
	Settings  Settings   `yaml:"settings,omitempty"`
}

type Settings struct {
	OutputFormat string `yaml:"output-format,omitempty"`
	// CredentialStorage selects where secret material is cached:
	// "file" (default) or "keychain".
	CredentialStorage string `yaml:"credential-storage,omitempty"`
	CAFile            string `yaml:"ca-file,omitempty"`
	InsecureSkipTLS   bool   `yaml:"insecure-skip-tls-verify,omitempty"`
}

// Provider holds the device-flow endpoints for one credential provider
// instance.
type Provider struct {
	Name                   string   `yaml:"name"`
	RegistrationURL        string   `yaml:"registration-url"`
	DeviceAuthorizationURL string   `yaml:"device-authorization-url"`
	TokenURL               string   `yaml:"token-url"`
	CredentialVendURL      string   `yaml:"credential-vend-url"`
	Scopes                 []string `yaml:"scopes,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version: VersionV1,
		Settings: Settings{
			OutputFormat:      "text",
			CredentialStorage: "file",
		},
	}
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func (c *Config) FindProvider(name string) (*Provider, error) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], nil
		}
	}
	return nil, fmt.Errorf("provider not found: %s", name)
}
