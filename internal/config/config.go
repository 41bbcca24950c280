package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML, .env and environment.
type Config struct {
	TestingMode bool

	ServerPort string

	DataPath        string
	PreloadDataset  bool
	RefreshInterval time.Duration // 0 disables scheduled refresh
	RefreshTimeout  time.Duration

	RequestTimeout time.Duration
	CacheTTL       time.Duration
	CacheBackend   string // "in_memory" or "memcached"
	WarmOnStartup  bool

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	BreakerFailures       int           // consecutive memcached errors before the breaker opens
	BreakerCooldown       time.Duration // time the breaker stays open before probing

	RateLimitRPS   int
	RateLimitBurst int

	MaxCityLen int
	MaxCities  int

	ShutdownTimeout time.Duration

	HealthWindow         time.Duration
	OverloadThresholdPct int
	DegradedErrorPct     int

	AdminToken string
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Data struct {
		Path            string `yaml:"path"`
		Preload         *bool  `yaml:"preload"`
		RefreshInterval string `yaml:"refresh_interval"`
		RefreshTimeout  string `yaml:"refresh_timeout"`
	} `yaml:"data"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend       string `yaml:"backend"`
		TTL           string `yaml:"ttl"`
		WarmOnStartup *bool  `yaml:"warm_on_startup"`
		Memcached     struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Breaker struct {
			FailureThreshold int    `yaml:"failure_threshold"`
			Cooldown         string `yaml:"cooldown"`
		} `yaml:"breaker"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Filter struct {
		MaxCityLength int `yaml:"max_city_length"`
		MaxCities     int `yaml:"max_cities"`
	} `yaml:"filter"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		Window               string `yaml:"window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`
}

type secretsFile struct {
	AdminToken string `yaml:"admin_token"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), then
// applies .env (if present, without overriding the process environment), env
// overrides and config/secrets.yaml. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{
		TestingMode:    false,
		PreloadDataset: true,
		WarmOnStartup:  true,
	}
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}

	cfg.ServerPort = envOr("SERVER_PORT", fc.Server.Port, "8080")

	cfg.DataPath = envOr("DATA_PATH", fc.Data.Path, "data/no2_sample.csv")
	if fc.Data.Preload != nil {
		cfg.PreloadDataset = *fc.Data.Preload
	}
	cfg.RefreshInterval = parseDurationOrZero(fc.Data.RefreshInterval, 0)
	if cfg.RefreshInterval < 0 {
		cfg.RefreshInterval = 0
	}
	cfg.RefreshTimeout = parseDuration(fc.Data.RefreshTimeout, 30*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 10*time.Minute)
	cfg.CacheBackend = strings.ToLower(envOr("CACHE_BACKEND", fc.Cache.Backend, "in_memory"))
	if fc.Cache.WarmOnStartup != nil {
		cfg.WarmOnStartup = *fc.Cache.WarmOnStartup
	}
	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.BreakerFailures = fc.Cache.Breaker.FailureThreshold
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	cfg.BreakerCooldown = parseDuration(fc.Cache.Breaker.Cooldown, 30*time.Second)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}

	cfg.MaxCityLen = fc.Filter.MaxCityLength
	if cfg.MaxCityLen <= 0 {
		cfg.MaxCityLen = 64
	}
	cfg.MaxCities = fc.Filter.MaxCities
	if cfg.MaxCities <= 0 {
		cfg.MaxCities = 50
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.HealthWindow = parseDuration(fc.Health.Window, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Health.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	cfg.AdminToken, err = loadAdminToken(cwd)
	if err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadAdminToken reads ADMIN_TOKEN from env, falling back to config/secrets.yaml.
// An empty token leaves the admin endpoint unauthenticated.
func loadAdminToken(cwd string) (string, error) {
	if tok := strings.TrimSpace(os.Getenv("ADMIN_TOKEN")); tok != "" {
		return tok, nil
	}
	data, err := os.ReadFile(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.AdminToken), nil
}

// envOr returns the trimmed env value for key, else the file value, else def.
func envOr(key, fileVal, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	if v := strings.TrimSpace(fileVal); v != "" {
		return v
	}
	return def
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	switch strings.ToLower(filepath.Ext(cfg.DataPath)) {
	case ".csv", ".xlsx":
	default:
		return fmt.Errorf("data.path must be a .csv or .xlsx file, got %q", cfg.DataPath)
	}
	if cfg.RefreshInterval > 0 && cfg.RefreshInterval < time.Second {
		return fmt.Errorf("data.refresh_interval must be 0 or at least 1s, got %s", cfg.RefreshInterval)
	}
	return nil
}
