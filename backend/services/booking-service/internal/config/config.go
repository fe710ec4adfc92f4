package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "railbook/backend/libs/config"
)

// Config represents booking service configuration loaded from YAML/env.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"BOOKING_HTTP_PORT"`
	} `yaml:"http"`
	Session struct {
		Secret       string        `yaml:"secret" env:"BOOKING_SESSION_SECRET"`
		CookieName   string        `yaml:"cookieName" env:"BOOKING_SESSION_COOKIE"`
		TTL          time.Duration `yaml:"ttl" env:"BOOKING_SESSION_TTL"`
		IdleTTL      time.Duration `yaml:"idleTtl" env:"BOOKING_SESSION_IDLE_TTL"`
		SecureCookie bool          `yaml:"secureCookie" env:"BOOKING_SESSION_SECURE_COOKIE"`
		SealSecret   string        `yaml:"sealSecret" env:"BOOKING_SESSION_SEAL_SECRET"`
	} `yaml:"session"`
	Redis struct {
		Addr     string `yaml:"addr" env:"BOOKING_REDIS_ADDR"`
		Password string `yaml:"password" env:"BOOKING_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"BOOKING_REDIS_DB"`
	} `yaml:"redis"`
	Database struct {
		DSN string `yaml:"dsn" env:"BOOKING_POSTGRES_DSN"`
	} `yaml:"database"`
	Upstream struct {
		BaseURL   string        `yaml:"baseUrl" env:"BOOKING_UPSTREAM_BASE_URL"`
		Timeout   time.Duration `yaml:"timeout" env:"BOOKING_UPSTREAM_TIMEOUT"`
		UserAgent string        `yaml:"userAgent" env:"BOOKING_UPSTREAM_USER_AGENT"`
	} `yaml:"upstream"`
	Stations struct {
		CacheFile     string `yaml:"cacheFile" env:"BOOKING_STATIONS_CACHE_FILE"`
		SourceBaseURL string `yaml:"sourceBaseUrl" env:"BOOKING_STATIONS_SOURCE_BASE_URL"`
	} `yaml:"stations"`
	Login struct {
		PollInterval time.Duration `yaml:"pollInterval" env:"BOOKING_LOGIN_POLL_INTERVAL"`
	} `yaml:"login"`
	Booking struct {
		MaxAttempts int           `yaml:"maxAttempts" env:"BOOKING_MAX_ATTEMPTS"`
		RetryDelay  time.Duration `yaml:"retryDelay" env:"BOOKING_RETRY_DELAY"`
	} `yaml:"booking"`
	WebSocket struct {
		AllowedOrigins []string      `yaml:"allowedOrigins" env:"BOOKING_WS_ALLOWED_ORIGINS"`
		WriteTimeout   time.Duration `yaml:"writeTimeout" env:"BOOKING_WS_WRITE_TIMEOUT"`
	} `yaml:"websocket"`
}

// Load reads configuration using the shared config loader.
func Load() (*Config, error) {
	cfg := Default()

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	cfg.HTTP.Port = "8080"
	cfg.Session.CookieName = "railbook_session"
	cfg.Session.TTL = 24 * time.Hour
	cfg.Session.IdleTTL = 2 * time.Hour
	cfg.Redis.Addr = "localhost:6379"
	cfg.Upstream.BaseURL = "https://kyfw.12306.cn/"
	cfg.Upstream.Timeout = 5 * time.Second
	cfg.Stations.CacheFile = "data/stations.json"
	cfg.Login.PollInterval = 2 * time.Second
	cfg.Booking.MaxAttempts = 3
	cfg.Booking.RetryDelay = time.Second
	cfg.WebSocket.WriteTimeout = 10 * time.Second
	return cfg
}

// Validate checks required values and clamps invalid ones.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Session.Secret) == "" {
		return errors.New("config: session secret is required")
	}
	if len(c.Session.Secret) < 16 {
		return errors.New("config: session secret must be at least 16 bytes")
	}
	if strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("config: redis addr is required")
	}
	if c.Session.TTL <= 0 {
		return errors.New("config: session ttl must be positive")
	}
	if c.Login.PollInterval <= 0 {
		return errors.New("config: login poll interval must be positive")
	}
	if c.Upstream.Timeout <= 0 {
		c.Upstream.Timeout = 5 * time.Second
	}
	if c.Booking.MaxAttempts <= 0 {
		c.Booking.MaxAttempts = 3
	}
	if c.Booking.RetryDelay < 0 {
		c.Booking.RetryDelay = 0
	}
	return nil
}

// SealSecret returns the key material for at-rest credentials. It falls back to the cookie
// secret when no dedicated one is set.
func (c *Config) SealSecret() string {
	if s := strings.TrimSpace(c.Session.SealSecret); s != "" {
		return s
	}
	return c.Session.Secret
}

// StationsSource returns the base URL the station table is downloaded from.
func (c *Config) StationsSource() string {
	if s := strings.TrimSpace(c.Stations.SourceBaseURL); s != "" {
		return s
	}
	return c.Upstream.BaseURL
}

// HTTPAddress ensures we always return host:port formatted string.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
