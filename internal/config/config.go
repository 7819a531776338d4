// Package config loads settings for the confide command from a YAML file and
// CONFIDE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIURL       = "https://api.zingerfi.com"
	DefaultShareBaseURL = "https://www.zingerfi.com"
	DefaultReplayKeying = "literal"
	DefaultLogLevel     = "warn"
)

// Config is the resolved command configuration.
type Config struct {
	APIURL               string
	APIKey               string
	KeystorePath         string
	KeystorePassphrase   string
	BackupPassphrase     string
	ShareBaseURL         string
	ReplayKeying         string
	LogLevel             string
	Timeout              time.Duration
	Retries              int
	ProvisioningAttempts int
	ProvisioningBackoff  time.Duration
}

// FileConfig is the on-disk YAML layout. Zero values leave defaults alone.
type FileConfig struct {
	API       APIFileConfig       `yaml:"api"`
	Keystore  KeystoreFileConfig  `yaml:"keystore"`
	Provision ProvisionFileConfig `yaml:"provisioning"`

	ShareBaseURL string `yaml:"shareBaseURL"`
	ReplayKeying string `yaml:"replayKeying"`
	LogLevel     string `yaml:"logLevel"`
}

type APIFileConfig struct {
	URL     string        `yaml:"url"`
	Key     string        `yaml:"key"`
	Timeout time.Duration `yaml:"timeout"`
	Retries *int          `yaml:"retries"`
}

type KeystoreFileConfig struct {
	Path       string `yaml:"path"`
	Passphrase string `yaml:"passphrase"`
}

type ProvisionFileConfig struct {
	Attempts         int           `yaml:"attempts"`
	Backoff          time.Duration `yaml:"backoff"`
	BackupPassphrase string        `yaml:"backupPassphrase"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		APIURL:               DefaultAPIURL,
		KeystorePath:         defaultKeystorePath(),
		ShareBaseURL:         DefaultShareBaseURL,
		ReplayKeying:         DefaultReplayKeying,
		LogLevel:             DefaultLogLevel,
		Timeout:              30 * time.Second,
		Retries:              3,
		ProvisioningAttempts: 5,
		ProvisioningBackoff:  500 * time.Millisecond,
	}
}

func defaultKeystorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return filepath.Join(".confide", "keys.db")
	}
	return filepath.Join(dir, "confide", "keys.db")
}

// Load resolves configuration from configPath, or from the first readable
// default candidate when configPath is empty, then applies environment
// overrides. An explicit path that cannot be read or parsed is an error;
// default candidates that are missing are skipped.
func Load(configPath string) (Config, error) {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates, "confide.yaml")
		if dir, err := os.UserConfigDir(); err == nil && dir != "" {
			candidates = append(candidates, filepath.Join(dir, "confide", "config.yaml"))
		}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if configPath != "" {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}

		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		Merge(&cfg, parsed)
		break
	}

	ApplyEnvOverrides(&cfg)
	return cfg, nil
}

// Merge copies every set field of src over dst.
func Merge(dst *Config, src FileConfig) {
	if src.API.URL != "" {
		dst.APIURL = src.API.URL
	}
	if src.API.Key != "" {
		dst.APIKey = src.API.Key
	}
	if src.API.Timeout != 0 {
		dst.Timeout = src.API.Timeout
	}
	if src.API.Retries != nil {
		dst.Retries = *src.API.Retries
	}
	if src.Keystore.Path != "" {
		dst.KeystorePath = src.Keystore.Path
	}
	if src.Keystore.Passphrase != "" {
		dst.KeystorePassphrase = src.Keystore.Passphrase
	}
	if src.Provision.Attempts != 0 {
		dst.ProvisioningAttempts = src.Provision.Attempts
	}
	if src.Provision.Backoff != 0 {
		dst.ProvisioningBackoff = src.Provision.Backoff
	}
	if src.Provision.BackupPassphrase != "" {
		dst.BackupPassphrase = src.Provision.BackupPassphrase
	}
	if src.ShareBaseURL != "" {
		dst.ShareBaseURL = src.ShareBaseURL
	}
	if src.ReplayKeying != "" {
		dst.ReplayKeying = src.ReplayKeying
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
}

// ApplyEnvOverrides applies CONFIDE_* variables. Unparseable numeric values
// are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := envString("CONFIDE_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := envString("CONFIDE_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := envString("CONFIDE_KEYSTORE_PATH"); v != "" {
		cfg.KeystorePath = v
	}
	if v := envString("CONFIDE_KEYSTORE_PASSPHRASE"); v != "" {
		cfg.KeystorePassphrase = v
	}
	if v := envString("CONFIDE_BACKUP_PASSPHRASE"); v != "" {
		cfg.BackupPassphrase = v
	}
	if v := envString("CONFIDE_SHARE_BASE_URL"); v != "" {
		cfg.ShareBaseURL = v
	}
	if v := envString("CONFIDE_REPLAY_KEYING"); v != "" {
		cfg.ReplayKeying = v
	}
	if v := envString("CONFIDE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := envString("CONFIDE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}
	if v := envString("CONFIDE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retries = n
		}
	}
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// Level maps LogLevel to a slog level. Unknown names fall back to warn.
func (c Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelWarn
	}
	return level
}
