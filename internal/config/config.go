package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"telegram-bot-client/internal/monitor"
	"telegram-bot-client/internal/session"
	"telegram-bot-client/internal/storage"
)

// ProviderID is the rate limit provider name used for Bot API calls
const ProviderID = "telegram"

// Config is the process configuration, read from environment variables
type Config struct {
	BotToken       string        `env:"BOT_TOKEN"`
	APIURL         string        `env:"TELEGRAM_API_URL"`
	APILocal       bool          `env:"TELEGRAM_API_LOCAL"             envDefault:"false"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"                envDefault:"60s"`
	PollTimeout    time.Duration `env:"POLL_TIMEOUT"                   envDefault:"30s"`
	LogLevel       string        `env:"LOG_LEVEL"                      envDefault:"info"`

	DatabaseType      string `env:"DATABASE_TYPE"                     envDefault:"sqlite"`
	DatabasePath      string `env:"DATABASE_PATH"                     envDefault:"./data/bot_state.db"`
	MigrateFromSQLite string `env:"DATABASE_MIGRATE_FROM_SQLITE_PATH"`
	MySQLHost         string `env:"MYSQL_HOST"                        envDefault:"localhost"`
	MySQLPort         string `env:"MYSQL_PORT"                        envDefault:"3306"`
	MySQLDatabase     string `env:"MYSQL_DATABASE"                    envDefault:"telegram_bot"`
	MySQLUsername     string `env:"MYSQL_USERNAME"`
	MySQLPassword     string `env:"MYSQL_PASSWORD"`
	MySQLTimeout      string `env:"MYSQL_TIMEOUT"                     envDefault:"30s"`

	RateLimitPerMinute int     `env:"RATE_LIMIT_PER_MINUTE"          envDefault:"1800"`
	RateLimitPerDay    int     `env:"RATE_LIMIT_PER_DAY"             envDefault:"1000000"`
	WarningThreshold   float64 `env:"RATE_LIMIT_WARNING_THRESHOLD"   envDefault:"0.75"`
	ThrottledThreshold float64 `env:"RATE_LIMIT_THROTTLED_THRESHOLD" envDefault:"1.0"`

	CacheTTL    time.Duration `env:"CACHE_TTL"    envDefault:"5m"`
	MetricsAddr string        `env:"METRICS_ADDR"`
}

// Load parses the environment and validates the result
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, NewConfigError("", "failed to parse environment", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and cross-field constraints. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.BotToken) == "" {
		errs = append(errs, NewConfigError("BOT_TOKEN", "environment variable is required", nil))
	}

	if c.APIURL != "" {
		u, err := url.Parse(c.APIURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, NewConfigError("TELEGRAM_API_URL", "must be an absolute URL", err))
		}
	} else if c.APILocal {
		errs = append(errs, NewConfigError("TELEGRAM_API_LOCAL", "requires TELEGRAM_API_URL", nil))
	}

	if c.RequestTimeout <= 0 {
		errs = append(errs, NewConfigError("REQUEST_TIMEOUT", fmt.Sprintf("must be positive: %s", c.RequestTimeout), nil))
	}
	if c.PollTimeout < 0 {
		errs = append(errs, NewConfigError("POLL_TIMEOUT", fmt.Sprintf("must be non-negative: %s", c.PollTimeout), nil))
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, NewConfigError("LOG_LEVEL", "invalid log level", err))
	}

	switch strings.ToLower(c.DatabaseType) {
	case storage.TypeSQLite:
		if c.DatabasePath == "" {
			errs = append(errs, NewConfigError("DATABASE_PATH", "is required for sqlite storage", nil))
		}
	case storage.TypeMySQL:
		if c.MySQLUsername == "" {
			errs = append(errs, NewConfigError("MYSQL_USERNAME", "is required for mysql storage", nil))
		}
	default:
		errs = append(errs, NewConfigError("DATABASE_TYPE", fmt.Sprintf("unsupported value %q (expected sqlite or mysql)", c.DatabaseType), nil))
	}

	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, NewConfigError("RATE_LIMIT_PER_MINUTE", fmt.Sprintf("must be positive: %d", c.RateLimitPerMinute), nil))
	}
	if c.RateLimitPerDay <= 0 {
		errs = append(errs, NewConfigError("RATE_LIMIT_PER_DAY", fmt.Sprintf("must be positive: %d", c.RateLimitPerDay), nil))
	}
	if c.WarningThreshold <= 0 || c.WarningThreshold > 1.0 {
		errs = append(errs, NewConfigError("RATE_LIMIT_WARNING_THRESHOLD", fmt.Sprintf("must be between 0 and 1.0: %.2f", c.WarningThreshold), nil))
	}
	if c.ThrottledThreshold <= 0 || c.ThrottledThreshold > 1.0 {
		errs = append(errs, NewConfigError("RATE_LIMIT_THROTTLED_THRESHOLD", fmt.Sprintf("must be between 0 and 1.0: %.2f", c.ThrottledThreshold), nil))
	}
	if c.WarningThreshold >= c.ThrottledThreshold {
		errs = append(errs, NewConfigError("RATE_LIMIT_WARNING_THRESHOLD", "must be lower than RATE_LIMIT_THROTTLED_THRESHOLD", nil))
	}

	if c.CacheTTL < 0 {
		errs = append(errs, NewConfigError("CACHE_TTL", fmt.Sprintf("must be non-negative: %s", c.CacheTTL), nil))
	}

	return errors.Join(errs...)
}

// APIServer returns the Bot API server to talk to
func (c *Config) APIServer() session.APIServer {
	if c.APIURL == "" {
		return session.ProductionServer
	}
	return session.NewAPIServerFromBase(c.APIURL, c.APILocal)
}

// RateLimitConfig returns the limiter settings for Bot API calls
func (c *Config) RateLimitConfig() monitor.ProviderConfig {
	return monitor.ProviderConfig{
		ProviderID: ProviderID,
		Limits: map[string]int{
			"minute": c.RateLimitPerMinute,
			"day":    c.RateLimitPerDay,
		},
		Thresholds: map[string]float64{
			"warning":   c.WarningThreshold,
			"throttled": c.ThrottledThreshold,
		},
	}
}

// StorageConfig returns the polling state backend settings
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Type:       strings.ToLower(c.DatabaseType),
		SQLitePath: c.DatabasePath,
		MySQL: storage.MySQLConfig{
			Host:     c.MySQLHost,
			Port:     c.MySQLPort,
			Database: c.MySQLDatabase,
			Username: c.MySQLUsername,
			Password: c.MySQLPassword,
			Timeout:  c.MySQLTimeout,
		},
	}
}

// SlogLevel returns the configured log level
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLogLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLogLevel(value string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(value))))
	return level, err
}
