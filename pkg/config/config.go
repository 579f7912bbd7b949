package config

import "time"

const (
	// EnvDevelopment is the default application environment.
	EnvDevelopment = "development"
	// EnvProduction enables JSON logs and Sentry defaults.
	EnvProduction = "production"

	// DefaultAPIBaseURL points at a local backend during development.
	DefaultAPIBaseURL = "http://localhost:8000/api"
)

// Config holds runtime configuration for the analytics dashboard.
type Config struct {
	AppEnv    string          `mapstructure:"app_env"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	API       APIConfig       `mapstructure:"api"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Selection SelectionConfig `mapstructure:"selection"`
	I18n      I18nConfig      `mapstructure:"i18n"`
}

// LoggerConfig controls slog output.
type LoggerConfig struct {
	Level  string        `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string        `mapstructure:"format" validate:"oneof=text json"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig enables rotated file output in addition to stdout.
type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path" validate:"required_if=Enabled true"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

// SentryConfig configures error reporting.
type SentryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	DSN              string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate" validate:"gte=0,lte=1"`
}

// APIConfig describes how the backend analytics API is reached.
type APIConfig struct {
	BaseURL      string        `mapstructure:"base_url" validate:"required,url"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gte=0"`
	RateLimitRPS float64       `mapstructure:"rate_limit_rps" validate:"gte=0"`
	RateBurst    int           `mapstructure:"rate_burst" validate:"gte=0"`
	Breaker      bool          `mapstructure:"breaker"`
}

// AuthConfig controls how the Telegram host bridge is located.
type AuthConfig struct {
	InitData       string        `mapstructure:"init_data"`
	InitDataFile   string        `mapstructure:"init_data_file"`
	BotToken       string        `mapstructure:"bot_token"`
	MaxAge         time.Duration `mapstructure:"max_age" validate:"gte=0"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" validate:"gtefield=InitialBackoff"`
	WaitTimeout    time.Duration `mapstructure:"wait_timeout" validate:"gt=0"`
}

// ServerConfig configures the dashboard HTTP surface.
type ServerConfig struct {
	Addr            string          `mapstructure:"addr" validate:"required"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout" validate:"gt=0"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig limits dashboard requests per client within a sliding window.
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int           `mapstructure:"limit" validate:"gte=0"`
	Window  time.Duration `mapstructure:"window" validate:"gte=0"`
}

// RedisConfig enables selection persistence.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db" validate:"gte=0"`
	PoolSize     int           `mapstructure:"pool_size" validate:"gte=0"`
	MinIdleConns int           `mapstructure:"min_idle_conns" validate:"gte=0"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// SelectionConfig holds defaults for the bot/date selection.
type SelectionConfig struct {
	DefaultRangeDays int           `mapstructure:"default_range_days" validate:"gte=1"`
	TTL              time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

// I18nConfig selects the fallback language for user-facing messages.
type I18nConfig struct {
	DefaultLang string `mapstructure:"default_lang" validate:"required"`
}
