package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents ~/.courier/config.toml.
type Config struct {
	DataDir         string   `toml:"data_dir"`
	Socket          string   `toml:"socket"`
	GRPCTCP         string   `toml:"grpc_tcp"`
	HTTPAddr        string   `toml:"http_addr"`
	LogLevel        string   `toml:"log_level"`
	StoreTimeout    Duration `toml:"store_timeout"`
	MaxContentBytes int      `toml:"max_content_bytes"`
	Retry           Retry    `toml:"retry"`
	Hub             Hub      `toml:"hub"`
	Cache           Cache    `toml:"cache"`
	Users           []User   `toml:"users"`
}

// Retry controls how transient store failures are retried.
type Retry struct {
	Attempts  int      `toml:"attempts"`
	BaseDelay Duration `toml:"base_delay"`
}

// Hub sizes the subscription hub.
type Hub struct {
	QueueSize int `toml:"queue_size"`
}

// Cache selects the summary cache backend.
type Cache struct {
	Backend  string   `toml:"backend"`
	RedisURL string   `toml:"redis_url"`
	TTL      Duration `toml:"ttl"`
}

// User is a directory entry used to enrich conversation lists.
type User struct {
	ID        string `toml:"id"`
	Name      string `toml:"name"`
	AvatarURL string `toml:"avatar_url,omitempty"`
}

const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Duration is a time.Duration written as a Go duration string ("50ms").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:         "~/.courier",
		HTTPAddr:        "127.0.0.1:8787",
		LogLevel:        "info",
		StoreTimeout:    Duration{2 * time.Second},
		MaxContentBytes: 4096,
		Retry:           Retry{Attempts: 3, BaseDelay: Duration{50 * time.Millisecond}},
		Hub:             Hub{QueueSize: 256},
		Cache:           Cache{Backend: CacheMemory, TTL: Duration{5 * time.Minute}},
	}
}

// Load reads config from the given path on top of Default. Returns an error
// if the file is missing or invalid.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	if c.StoreTimeout.Duration <= 0 {
		errs = append(errs, errors.New("store_timeout must be positive"))
	}
	if c.MaxContentBytes <= 0 {
		errs = append(errs, errors.New("max_content_bytes must be positive"))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, errors.New("retry.attempts must be at least 1"))
	}
	if c.Retry.BaseDelay.Duration < 0 {
		errs = append(errs, errors.New("retry.base_delay must not be negative"))
	}
	if c.Hub.QueueSize < 1 {
		errs = append(errs, errors.New("hub.queue_size must be at least 1"))
	}
	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("cache.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	seen := make(map[string]bool, len(c.Users))
	for i, u := range c.Users {
		if u.ID == "" {
			errs = append(errs, fmt.Errorf("users[%d]: id is required", i))
			continue
		}
		if seen[u.ID] {
			errs = append(errs, fmt.Errorf("users[%d]: duplicate id %q", i, u.ID))
		}
		seen[u.ID] = true
	}
	return errors.Join(errs...)
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
