package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/airquality-dashboard/internal/aqerr"
	"github.com/kjstillabower/airquality-dashboard/internal/client"
	"github.com/kjstillabower/airquality-dashboard/internal/ratelimit"
)

// Cache backends.
const (
	BackendLRU       = "lru"
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
)

// Config holds service configuration loaded from YAML, .env and env.
type Config struct {
	Env string

	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	OpenAQAPIKey       string
	OpenAQBaseURL      string
	OpenAQTimeout      time.Duration
	ValidateKeyOnStart bool
	PageLimit          int
	MaxPages           int

	RequestTimeout     time.Duration
	DefaultRange       time.Duration
	MaxRange           time.Duration
	MaxLatestLocations int
	LatestConcurrency  int

	CacheBackend          string
	CacheSize             int
	RealtimeTTL           time.Duration
	MetadataTTL           time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	RedisKeyPrefix        string

	RateLimitPerMinute int
	RateLimitPerHour   int
	RateLimitPolicy    ratelimit.Policy
	RateLimitMaxWait   time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	MaxRetryAfter  time.Duration
	InboundRPS     int
	InboundBurst   int

	DegradedWindow   time.Duration
	DegradedErrorPct int

	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenRequests int

	WarmEnabled   bool
	WarmInterval  time.Duration
	WarmTimeout   time.Duration
	WarmLocations []int

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

type fileConfig struct {
	Server struct {
		Port         string `yaml:"port"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"server"`

	OpenAQ struct {
		BaseURL            string `yaml:"base_url"`
		Timeout            string `yaml:"timeout"`
		ValidateKeyOnStart *bool  `yaml:"validate_key_on_start"`
		PageLimit          int    `yaml:"page_limit"`
		MaxPages           int    `yaml:"max_pages"`
	} `yaml:"openaq"`

	Request struct {
		Timeout            string `yaml:"timeout"`
		DefaultRange       string `yaml:"default_range"`
		MaxRange           string `yaml:"max_range"`
		MaxLatestLocations int    `yaml:"max_latest_locations"`
		LatestConcurrency  int    `yaml:"latest_concurrency"`
	} `yaml:"request"`

	Cache struct {
		Backend     string `yaml:"backend"`
		Size        int    `yaml:"size"`
		RealtimeTTL string `yaml:"realtime_ttl"`
		MetadataTTL string `yaml:"metadata_ttl"`
		Memcached   struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr      string `yaml:"addr"`
			DB        int    `yaml:"db"`
			KeyPrefix string `yaml:"key_prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	RateLimit struct {
		PerMinute int    `yaml:"per_minute"`
		PerHour   int    `yaml:"per_hour"`
		Policy    string `yaml:"policy"`
		MaxWait   string `yaml:"max_wait"`
	} `yaml:"ratelimit"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		MaxRetryAfter    string `yaml:"max_retry_after"`
		InboundRPS       int    `yaml:"inbound_rps"`
		InboundBurst     int    `yaml:"inbound_burst"`
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"reliability"`

	CircuitBreaker struct {
		FailureThreshold int    `yaml:"failure_threshold"`
		OpenTimeout      string `yaml:"open_timeout"`
		HalfOpenRequests int    `yaml:"half_open_requests"`
	} `yaml:"circuit_breaker"`

	Warming struct {
		Enabled   bool   `yaml:"enabled"`
		Interval  string `yaml:"interval"`
		Timeout   string `yaml:"timeout"`
		Locations []int  `yaml:"locations"`
	} `yaml:"warming"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	OpenAQAPIKey  string `yaml:"openaq_api_key"`
	RedisPassword string `yaml:"redis_password"`
}

// overlayKeys are the environment variables read from .env and the process
// environment. A non-empty environment value wins over .env.
var overlayKeys = map[string]bool{
	"OPENAQ_API_KEY":   true,
	"OPENAQ_BASE_URL":  true,
	"CACHE_BACKEND":    true,
	"MEMCACHED_ADDRS":  true,
	"REDIS_ADDR":       true,
	"REDIS_PASSWORD":   true,
	"RATELIMIT_POLICY": true,
	"SERVER_PORT":      true,
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev),
// config/secrets.yaml, .env and the environment, in increasing precedence.
// The YAML file is optional unless ENV_NAME names it explicitly. Call from
// project root. Every error wraps aqerr.ErrConfig.
func Load() (*Config, error) {
	envName := os.Getenv("ENV_NAME")
	explicit := envName != ""
	if !explicit {
		envName = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("%w: get working directory: %v", aqerr.ErrConfig, err)
	}

	var fc fileConfig
	configPath := filepath.Join(cwd, "config", envName+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("%w: parse config file: %v", aqerr.ErrConfig, err)
		}
	case errors.Is(err, os.ErrNotExist):
		if explicit {
			return nil, fmt.Errorf("%w: config file not found: %s", aqerr.ErrConfig, configPath)
		}
	default:
		return nil, fmt.Errorf("%w: read config file: %v", aqerr.ErrConfig, err)
	}

	var sec secretsFile
	secretsData, err := os.ReadFile(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: read secrets file: %v", aqerr.ErrConfig, err)
		}
	} else if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return nil, fmt.Errorf("%w: parse secrets file: %v", aqerr.ErrConfig, err)
	}

	k, err := loadOverlay(filepath.Join(cwd, ".env"))
	if err != nil {
		return nil, err
	}

	cfg := build(fc, sec, k)
	cfg.Env = envName
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadOverlay reads .env (when present) and then the environment into one
// koanf instance keyed by variable name.
func loadOverlay(dotenvPath string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	if _, err := os.Stat(dotenvPath); err == nil {
		if err := k.Load(file.Provider(dotenvPath), dotenv.Parser()); err != nil {
			return nil, fmt.Errorf("%w: parse .env: %v", aqerr.ErrConfig, err)
		}
	}
	err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		if !overlayKeys[key] || strings.TrimSpace(value) == "" {
			return "", nil
		}
		return key, value
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: loading env vars: %v", aqerr.ErrConfig, err)
	}
	return k, nil
}

func build(fc fileConfig, sec secretsFile, k *koanf.Koanf) *Config {
	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(k.String("SERVER_PORT"), fc.Server.Port, "8080")
	cfg.ServerReadTimeout = parseDuration(fc.Server.ReadTimeout, 10*time.Second)
	cfg.ServerWriteTimeout = parseDuration(fc.Server.WriteTimeout, 60*time.Second)

	cfg.OpenAQAPIKey = strings.TrimSpace(firstNonEmpty(k.String("OPENAQ_API_KEY"), sec.OpenAQAPIKey))
	cfg.OpenAQBaseURL = strings.TrimRight(firstNonEmpty(k.String("OPENAQ_BASE_URL"), fc.OpenAQ.BaseURL, client.DefaultBaseURL), "/")
	cfg.OpenAQTimeout = parseDurationOrZero(fc.OpenAQ.Timeout, 5*time.Second)
	if fc.OpenAQ.ValidateKeyOnStart != nil {
		cfg.ValidateKeyOnStart = *fc.OpenAQ.ValidateKeyOnStart
	}
	cfg.PageLimit = positiveOr(fc.OpenAQ.PageLimit, 1000)
	cfg.MaxPages = positiveOr(fc.OpenAQ.MaxPages, 50)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 30*time.Second)
	cfg.DefaultRange = parseDuration(fc.Request.DefaultRange, 24*time.Hour)
	cfg.MaxRange = parseDuration(fc.Request.MaxRange, 90*24*time.Hour)
	cfg.MaxLatestLocations = positiveOr(fc.Request.MaxLatestLocations, 50)
	cfg.LatestConcurrency = positiveOr(fc.Request.LatestConcurrency, 4)

	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(firstNonEmpty(k.String("CACHE_BACKEND"), fc.Cache.Backend, BackendLRU)))
	cfg.CacheSize = positiveOr(fc.Cache.Size, 1024)
	cfg.RealtimeTTL = parseDuration(fc.Cache.RealtimeTTL, 5*time.Minute)
	cfg.MetadataTTL = parseDuration(fc.Cache.MetadataTTL, time.Hour)
	cfg.MemcachedAddrs = strings.TrimSpace(firstNonEmpty(k.String("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211"))
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = positiveOr(fc.Cache.Memcached.MaxIdleConns, 2)
	cfg.RedisAddr = strings.TrimSpace(firstNonEmpty(k.String("REDIS_ADDR"), fc.Cache.Redis.Addr))
	cfg.RedisPassword = firstNonEmpty(k.String("REDIS_PASSWORD"), sec.RedisPassword)
	cfg.RedisDB = fc.Cache.Redis.DB
	cfg.RedisKeyPrefix = firstNonEmpty(fc.Cache.Redis.KeyPrefix, "airquality")

	cfg.RateLimitPerMinute = positiveOr(fc.RateLimit.PerMinute, ratelimit.DefaultPerMinute)
	cfg.RateLimitPerHour = positiveOr(fc.RateLimit.PerHour, ratelimit.DefaultPerHour)
	cfg.RateLimitPolicy = ratelimit.Policy(strings.ToLower(strings.TrimSpace(firstNonEmpty(k.String("RATELIMIT_POLICY"), fc.RateLimit.Policy, string(ratelimit.PolicyWait)))))
	cfg.RateLimitMaxWait = parseDuration(fc.RateLimit.MaxWait, 65*time.Second)

	cfg.RetryAttempts = positiveOr(fc.Reliability.RetryMaxAttempts, 3)
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 500*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 10*time.Second)
	cfg.MaxRetryAfter = parseDuration(fc.Reliability.MaxRetryAfter, time.Minute)
	cfg.InboundRPS = positiveOr(fc.Reliability.InboundRPS, 20)
	cfg.InboundBurst = positiveOr(fc.Reliability.InboundBurst, 40)
	cfg.DegradedWindow = parseDuration(fc.Reliability.DegradedWindow, time.Minute)
	cfg.DegradedErrorPct = fc.Reliability.DegradedErrorPct
	if cfg.DegradedErrorPct == 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.BreakerFailureThreshold = positiveOr(fc.CircuitBreaker.FailureThreshold, 5)
	cfg.BreakerOpenTimeout = parseDuration(fc.CircuitBreaker.OpenTimeout, 30*time.Second)
	cfg.BreakerHalfOpenRequests = positiveOr(fc.CircuitBreaker.HalfOpenRequests, 1)

	cfg.WarmEnabled = fc.Warming.Enabled
	cfg.WarmInterval = parseDurationOrZero(fc.Warming.Interval, 15*time.Minute)
	cfg.WarmTimeout = parseDuration(fc.Warming.Timeout, time.Minute)
	cfg.WarmLocations = fc.Warming.Locations

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)
	return cfg
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
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

// validate performs post-load validation. RequestTimeout is raised to cover
// at least one upstream attempt.
func validate(cfg *Config) error {
	if cfg.OpenAQAPIKey == "" {
		return fmt.Errorf("%w: OPENAQ_API_KEY required (set env, .env or config/secrets.yaml openaq_api_key)", aqerr.ErrConfig)
	}
	u, err := url.Parse(cfg.OpenAQBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: OPENAQ_BASE_URL must be an absolute URL, got %q", aqerr.ErrConfig, cfg.OpenAQBaseURL)
	}
	if cfg.OpenAQTimeout <= 0 {
		return fmt.Errorf("%w: openaq.timeout must be positive", aqerr.ErrConfig)
	}
	if cfg.RequestTimeout <= cfg.OpenAQTimeout {
		cfg.RequestTimeout = cfg.OpenAQTimeout + time.Second
	}
	switch cfg.CacheBackend {
	case BackendLRU, BackendMemcached:
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return fmt.Errorf("%w: cache.backend redis requires REDIS_ADDR", aqerr.ErrConfig)
		}
	default:
		return fmt.Errorf("%w: cache.backend must be lru, memcached or redis, got %q", aqerr.ErrConfig, cfg.CacheBackend)
	}
	if _, err := ratelimit.ParsePolicy(string(cfg.RateLimitPolicy)); err != nil {
		return fmt.Errorf("%w: %v", aqerr.ErrConfig, err)
	}
	if cfg.RateLimitPerMinute > cfg.RateLimitPerHour {
		return fmt.Errorf("%w: ratelimit.per_minute (%d) exceeds per_hour (%d)", aqerr.ErrConfig, cfg.RateLimitPerMinute, cfg.RateLimitPerHour)
	}
	if cfg.DegradedErrorPct < 0 || cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("%w: reliability.degraded_error_pct must be within 0..100, got %d", aqerr.ErrConfig, cfg.DegradedErrorPct)
	}
	if cfg.WarmEnabled && cfg.WarmInterval < 0 {
		return fmt.Errorf("%w: warming.interval must not be negative", aqerr.ErrConfig)
	}
	for _, id := range cfg.WarmLocations {
		if id <= 0 {
			return fmt.Errorf("%w: warming.locations must be positive ids, got %d", aqerr.ErrConfig, id)
		}
	}
	return nil
}
