package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

const (
	// MinPollIntervalSeconds is the floor applied to the poll interval so the
	// upstream is never hammered.
	MinPollIntervalSeconds = 10
	// MinCacheLimit is the smallest window the cache will hold.
	MinCacheLimit = 1
)

// Config holds all configuration for the application.
type Config struct {
	Upstream Upstream `mapstructure:"upstream"`
	Poller   Poller   `mapstructure:"poller"`
	Cache    Cache    `mapstructure:"cache"`
	Server   Server   `mapstructure:"server"`
	Logger   Logger   `mapstructure:"logger"`
}

// Upstream holds the configuration for the nof1 REST API.
type Upstream struct {
	BaseURL        string  `mapstructure:"base_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	FetchLimit     int     `mapstructure:"fetch_limit"`
	FallbackLimit  int     `mapstructure:"fallback_limit"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	UserAgent      string  `mapstructure:"user_agent"`
}

// Timeout returns the per-request timeout.
func (u Upstream) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// Poller holds the configuration for the background poll loop.
type Poller struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// Interval returns the poll interval with the floor applied.
func (p Poller) Interval() time.Duration {
	seconds := p.IntervalSeconds
	if seconds < MinPollIntervalSeconds {
		seconds = MinPollIntervalSeconds
	}
	return time.Duration(seconds) * time.Second
}

// Cache holds the configuration for the in-memory trade window.
type Cache struct {
	Limit int `mapstructure:"limit"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port       int    `mapstructure:"port"`
	StaticDir  string `mapstructure:"static_dir"`
	CORSOrigin string `mapstructure:"cors_origin"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"upstream.base_url":         "NOF1_BASE_URL",
	"upstream.timeout_seconds":  "NOF1_TIMEOUT_SECONDS",
	"upstream.fetch_limit":      "NOF1_FETCH_LIMIT",
	"upstream.fallback_limit":   "NOF1_FALLBACK_LIMIT",
	"upstream.rate_limit":       "NOF1_RATE_LIMIT",
	"upstream.rate_limit_burst": "NOF1_RATE_LIMIT_BURST",
	"upstream.user_agent":       "NOF1_USER_AGENT",
	"poller.interval_seconds":   "TRADE_POLL_INTERVAL_SECONDS",
	"cache.limit":               "TRADE_CACHE_LIMIT",
	"server.port":               "PORT",
	"server.static_dir":         "STATIC_DIR",
	"server.cors_origin":        "CORS_ORIGIN",
	"logger.level":              "LOG_LEVEL",
	"logger.format":             "LOG_FORMAT",
}

// LoadConfig reads configuration from an optional config file in path and
// from environment variables. A missing config file is not an error.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, env := range envBindings {
		if err = v.BindEnv(key, env); err != nil {
			return config, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("failed to read config: %w", err)
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}

	config.applyFloors()
	err = config.Validate()
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("upstream.base_url", "https://nof1.ai/api")
	v.SetDefault("upstream.timeout_seconds", 30)
	v.SetDefault("upstream.fetch_limit", 0)
	v.SetDefault("upstream.fallback_limit", 0)
	v.SetDefault("upstream.rate_limit", 1) // requests per second
	v.SetDefault("upstream.rate_limit_burst", 2)
	v.SetDefault("upstream.user_agent", "nof1-trade-poller/0.1 (+https://nof1.ai)")
	v.SetDefault("poller.interval_seconds", 60)
	v.SetDefault("cache.limit", 50)
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.static_dir", "web/static")
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
}

func (c *Config) applyFloors() {
	c.Upstream.BaseURL = strings.TrimRight(c.Upstream.BaseURL, "/")
	if c.Poller.IntervalSeconds < MinPollIntervalSeconds {
		c.Poller.IntervalSeconds = MinPollIntervalSeconds
	}
	if c.Cache.Limit < MinCacheLimit {
		c.Cache.Limit = MinCacheLimit
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.FetchLimit < 0 {
		c.Upstream.FetchLimit = 0
	}
	if c.Upstream.FallbackLimit < 0 {
		c.Upstream.FallbackLimit = 0
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid upstream.base_url %q", c.Upstream.BaseURL)
	}
	if c.Upstream.RateLimit <= 0 {
		return fmt.Errorf("upstream.rate_limit must be positive, got %v", c.Upstream.RateLimit)
	}
	if c.Upstream.RateLimitBurst < 1 {
		return fmt.Errorf("upstream.rate_limit_burst must be at least 1, got %d", c.Upstream.RateLimitBurst)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if _, err := zapcore.ParseLevel(c.Logger.Level); err != nil {
		return fmt.Errorf("invalid logger.level: %w", err)
	}
	return nil
}
