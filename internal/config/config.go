// Package config loads server and CLI settings from a YAML or JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/marginalia/internal/logging"
	"github.com/aretw0/marginalia/pkg/persistence/middleware"
	"github.com/aretw0/marginalia/pkg/tracking"
	"gopkg.in/yaml.v3"
)

// EnvEncryptionKey overrides store.encryption_key.
const EnvEncryptionKey = "MARGINALIA_ENCRYPTION_KEY"

// DefaultPath is read when no --config flag is given.
const DefaultPath = "marginalia.yaml"

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// Config is the root of the configuration file.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Tracking TrackingConfig `yaml:"tracking" json:"tracking"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

type TrackingConfig struct {
	Prefix string `yaml:"prefix" json:"prefix"`
}

type StoreConfig struct {
	Backend string      `yaml:"backend" json:"backend"`
	Path    string      `yaml:"path" json:"path"`
	TTL     string      `yaml:"ttl" json:"ttl"`
	Redis   RedisConfig `yaml:"redis" json:"redis"`

	// EncryptionKey is a base64 AES-256 key. Empty disables encryption.
	EncryptionKey string `yaml:"encryption_key" json:"encryption_key"`
	// FallbackKeys decrypt snapshots written before a key rotation.
	FallbackKeys []string `yaml:"fallback_keys" json:"fallback_keys"`

	// Integrity verifies the change log of every snapshot read or written.
	Integrity bool `yaml:"integrity" json:"integrity"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080"},
		Tracking: TrackingConfig{Prefix: tracking.DefaultPrefix},
		Store: StoreConfig{
			Backend:   BackendFile,
			Path:      ".marginalia/sessions",
			Redis:     RedisConfig{Addr: "localhost:6379"},
			Integrity: true,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// The encryption key environment variable always wins over the file.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	case strings.ToLower(filepath.Ext(path)) == ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if key := os.Getenv(EnvEncryptionKey); key != "" {
		cfg.Store.EncryptionKey = key
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if err := tracking.ValidatePrefix(c.Tracking.Prefix); err != nil {
		return fmt.Errorf("tracking.prefix: %w", err)
	}
	switch c.Store.Backend {
	case BackendMemory, BackendRedis:
	case BackendFile, BackendBadger:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s backend", c.Store.Backend)
		}
	default:
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	if _, err := c.Store.TTLDuration(); err != nil {
		return err
	}
	if c.Store.EncryptionKey != "" {
		if _, err := c.Store.Keys(); err != nil {
			return err
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// TTLDuration parses store.ttl. Empty means no expiry.
func (s StoreConfig) TTLDuration() (time.Duration, error) {
	if s.TTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.TTL)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("store.ttl: invalid duration %q", s.TTL)
	}
	return d, nil
}

// Keys decodes the encryption keys.
func (s StoreConfig) Keys() (middleware.EncryptionConfig, error) {
	active, err := middleware.DecodeKey(s.EncryptionKey)
	if err != nil {
		return middleware.EncryptionConfig{}, fmt.Errorf("store.encryption_key: %w", err)
	}
	cfg := middleware.EncryptionConfig{ActiveKey: active}
	for i, k := range s.FallbackKeys {
		key, err := middleware.DecodeKey(k)
		if err != nil {
			return middleware.EncryptionConfig{}, fmt.Errorf("store.fallback_keys[%d]: %w", i, err)
		}
		cfg.FallbackKeys = append(cfg.FallbackKeys, key)
	}
	return cfg, nil
}
