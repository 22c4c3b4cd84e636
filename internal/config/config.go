package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Cache drivers.
const (
	CacheNone  = "none"
	CacheLocal = "local"
	CacheRedis = "redis"
)

// Clustering keys for automatic grouping.
const (
	KeySubstation        = "substation"
	KeySubstationCircuit = "substation_circuit"
)

// Config captures the settings required to boot the power-quality engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Store       StoreConfig       `yaml:"store"`
	Statistics  StatisticsConfig  `yaml:"statistics"`
	Cache       CacheConfig       `yaml:"cache"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Rules       RulesConfig       `yaml:"rules"`
	Analytics   AnalyticsConfig   `yaml:"analytics"`
}

// ServerConfig controls listener behaviour.
type ServerConfig struct {
	HTTPAddress     string        `yaml:"httpAddress"`
	GRPCAddress     string        `yaml:"grpcAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StoreConfig selects the event and rule store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// StatisticsConfig moves rule counters into Redis so replicas share them.
type StatisticsConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds connection parameters for a Redis or Valkey server.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig controls caching of the rule list used by classification.
type CacheConfig struct {
	Driver  string        `yaml:"driver"`
	Size    int           `yaml:"size"`
	RuleTTL time.Duration `yaml:"ruleTTL"`
	Redis   RedisConfig   `yaml:"redis"`
}

// CorrelationConfig tunes automatic grouping.
type CorrelationConfig struct {
	Window time.Duration `yaml:"window"`
	Key    string        `yaml:"key"`
}

// RulesConfig points at the rule pack seeded into an empty store.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// AnalyticsConfig tunes summaries and rule mining.
type AnalyticsConfig struct {
	TopN              int `yaml:"topN"`
	SuggestMinSamples int `yaml:"suggestMinSamples"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_PQ_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown drivers and keys and non-positive windows.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	switch c.Cache.Driver {
	case CacheNone, CacheLocal:
	case CacheRedis:
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.driver %q", c.Cache.Driver))
	}
	if c.Statistics.Redis.Enabled && c.Statistics.Redis.Addr == "" {
		errs = append(errs, errors.New("statistics.redis.addr is required when enabled"))
	}
	if c.Correlation.Window <= 0 {
		errs = append(errs, fmt.Errorf("correlation.window must be positive, got %s", c.Correlation.Window))
	}
	if c.Correlation.Key != KeySubstation && c.Correlation.Key != KeySubstationCircuit {
		errs = append(errs, fmt.Errorf("unknown correlation.key %q", c.Correlation.Key))
	}
	if c.Analytics.TopN < 0 {
		errs = append(errs, errors.New("analytics.topN must not be negative"))
	}
	if c.Server.HTTPAddress == "" {
		errs = append(errs, errors.New("server.httpAddress is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddress:     ":8080",
			GRPCAddress:     ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Store:   StoreConfig{Driver: StoreMemory, Path: "data/mirador-pq.db"},
		Cache: CacheConfig{
			Driver:  CacheLocal,
			Size:    64,
			RuleTTL: 30 * time.Second,
		},
		Correlation: CorrelationConfig{Window: 5 * time.Minute, Key: KeySubstation},
		Rules:       RulesConfig{Path: "configs/rules/default.yaml"},
		Analytics:   AnalyticsConfig{TopN: 10, SuggestMinSamples: 5},
	}
}

func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"MIRADOR_PQ_HTTP_ADDRESS":         &cfg.Server.HTTPAddress,
		"MIRADOR_PQ_GRPC_ADDRESS":         &cfg.Server.GRPCAddress,
		"MIRADOR_PQ_METRICS_ADDRESS":      &cfg.Server.MetricsAddress,
		"MIRADOR_PQ_LOG_LEVEL":            &cfg.Logging.Level,
		"MIRADOR_PQ_STORE_DRIVER":         &cfg.Store.Driver,
		"MIRADOR_PQ_STORE_PATH":           &cfg.Store.Path,
		"MIRADOR_PQ_STATS_REDIS_ADDR":     &cfg.Statistics.Redis.Addr,
		"MIRADOR_PQ_STATS_REDIS_PASSWORD": &cfg.Statistics.Redis.Password,
		"MIRADOR_PQ_CACHE_DRIVER":         &cfg.Cache.Driver,
		"MIRADOR_PQ_CACHE_REDIS_ADDR":     &cfg.Cache.Redis.Addr,
		"MIRADOR_PQ_CACHE_REDIS_PASSWORD": &cfg.Cache.Redis.Password,
		"MIRADOR_PQ_CORRELATION_KEY":      &cfg.Correlation.Key,
		"MIRADOR_PQ_RULES_PATH":           &cfg.Rules.Path,
	}
	for key, target := range strs {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}

	if v := os.Getenv("MIRADOR_PQ_LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}
	if v := os.Getenv("MIRADOR_PQ_STATS_REDIS_ENABLED"); v != "" {
		cfg.Statistics.Redis.Enabled = parseBool(v)
	}

	var errs []error
	ints := map[string]*int{
		"MIRADOR_PQ_STATS_REDIS_DB": &cfg.Statistics.Redis.DB,
		"MIRADOR_PQ_CACHE_REDIS_DB": &cfg.Cache.Redis.DB,
		"MIRADOR_PQ_CACHE_SIZE":     &cfg.Cache.Size,
		"MIRADOR_PQ_ANALYTICS_TOPN": &cfg.Analytics.TopN,
	}
	for key, target := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			*target = n
		}
	}
	durations := map[string]*time.Duration{
		"MIRADOR_PQ_GRACEFUL_TIMEOUT":   &cfg.Server.GracefulTimeout,
		"MIRADOR_PQ_CACHE_RULE_TTL":     &cfg.Cache.RuleTTL,
		"MIRADOR_PQ_CORRELATION_WINDOW": &cfg.Correlation.Window,
	}
	for key, target := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			*target = d
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
