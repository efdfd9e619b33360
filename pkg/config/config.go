package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/llm-immersive/immersive/pkg/cache"
)

// EnvPrefix prefixes environment overrides, e.g. IMMERSIVE_STORE_BACKEND.
const EnvPrefix = "IMMERSIVE"

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds all immersive configuration.
type Config struct {
	Listen string      `yaml:"listen"`
	DBPath string      `yaml:"db_path" split_words:"true"`
	Log    LogConfig   `yaml:"log"`
	Store  StoreConfig `yaml:"store"`
	Cache  CacheConfig `yaml:"cache"`
	LLM    LLMConfig   `yaml:"llm"`
	Usage  UsageConfig `yaml:"usage"`
}

// LogConfig controls logging. Environment "local" switches to console output.
type LogConfig struct {
	Level       string `yaml:"level"`
	Environment string `yaml:"environment"`
}

// StoreConfig selects where settings and the translation cache persist.
type StoreConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig addresses the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// CacheConfig controls the translation cache.
type CacheConfig struct {
	Capacity   int    `yaml:"capacity"`
	StorageKey string `yaml:"storage_key" split_words:"true"`
}

// LLMConfig controls calls to the translation endpoint. A zero timeout
// leaves requests unbounded.
type LLMConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// UsageConfig controls usage tracking.
type UsageConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: "127.0.0.1:8787",
		DBPath: "immersive.db",
		Log: LogConfig{
			Level:       "info",
			Environment: "production",
		},
		Store: StoreConfig{
			Backend: BackendSQLite,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "immersive:",
			},
		},
		Cache: CacheConfig{
			Capacity:   cache.DefaultCapacity,
			StorageKey: cache.DefaultStorageKey,
		},
	}
}

// Load reads a YAML config file, expands environment variables and applies
// IMMERSIVE_* overrides. An empty path yields the defaults plus overrides.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("invalid config: unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == BackendSQLite && c.DBPath == "" {
		return fmt.Errorf("invalid config: db_path is required for the sqlite backend")
	}
	if c.Usage.Enabled && c.DBPath == "" {
		return fmt.Errorf("invalid config: db_path is required for usage tracking")
	}
	if c.Cache.Capacity < 1 {
		return fmt.Errorf("invalid config: cache capacity must be at least 1, got %d", c.Cache.Capacity)
	}
	if c.LLM.Timeout < 0 {
		return fmt.Errorf("invalid config: llm timeout must not be negative")
	}
	return nil
}
