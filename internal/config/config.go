// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string `env:"PORT" envDefault:"8080"`
	Env       string `env:"ENV" envDefault:"development"` // "development", "staging", "production"
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Persistence. DATABASE_URL wins over DATA_DIR; with neither set the
	// service keeps arenas and stats in memory.
	DatabaseURL string `env:"DATABASE_URL"`
	DataDir     string `env:"DATA_DIR"`

	// Security
	AdminSecret    string `env:"ADMIN_SECRET"`
	RateLimitRPM   int    `env:"RATE_LIMIT_RPM" envDefault:"120"`
	RateLimitBurst int    `env:"RATE_LIMIT_BURST" envDefault:"20"`

	// Tick loop
	TickRate int `env:"TICK_RATE" envDefault:"20"`

	// Duel timings
	CountdownDuration time.Duration `env:"COUNTDOWN_DURATION" envDefault:"30s"`
	PvPGrace          time.Duration `env:"PVP_GRACE" envDefault:"5s"`
	TeleportBackDelay time.Duration `env:"TELEPORT_BACK_DELAY" envDefault:"10s"`
	ArenaReleaseTicks int           `env:"ARENA_RELEASE_TICKS" envDefault:"5"`

	// Betting
	BetMenuDuration     time.Duration `env:"BET_MENU_DURATION" envDefault:"300s"`
	BetReminderInterval time.Duration `env:"BET_REMINDER_INTERVAL" envDefault:"5s"`

	// Prizes
	PrizeExpiration       time.Duration `env:"PRIZE_EXPIRATION" envDefault:"3600s"`
	PrizeReminderInterval time.Duration `env:"PRIZE_REMINDER_INTERVAL" envDefault:"300s"`
	PrizePurgeInterval    time.Duration `env:"PRIZE_PURGE_INTERVAL" envDefault:"60s"`

	// Tracing is disabled when the endpoint is empty.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Sandbox backs players and the world with in-memory fakes.
	Sandbox bool `env:"SANDBOX" envDefault:"true"`
}

// Defaults mirrored from the struct tags, for callers building a Config by hand.
const (
	DefaultPort                  = "8080"
	DefaultEnv                   = "development"
	DefaultLogLevel              = "info"
	DefaultTickRate              = 20
	DefaultCountdownDuration     = 30 * time.Second
	DefaultPvPGrace              = 5 * time.Second
	DefaultTeleportBackDelay     = 10 * time.Second
	DefaultArenaReleaseTicks     = 5
	DefaultBetMenuDuration       = 300 * time.Second
	DefaultBetReminderInterval   = 5 * time.Second
	DefaultPrizeExpiration       = time.Hour
	DefaultPrizeReminderInterval = 5 * time.Minute
	DefaultPrizePurgeInterval    = time.Minute
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration Load produces with an empty environment.
func Default() *Config {
	return &Config{
		Port:                  DefaultPort,
		Env:                   DefaultEnv,
		LogLevel:              DefaultLogLevel,
		LogFormat:             "json",
		RateLimitRPM:          120,
		RateLimitBurst:        20,
		TickRate:              DefaultTickRate,
		CountdownDuration:     DefaultCountdownDuration,
		PvPGrace:              DefaultPvPGrace,
		TeleportBackDelay:     DefaultTeleportBackDelay,
		ArenaReleaseTicks:     DefaultArenaReleaseTicks,
		BetMenuDuration:       DefaultBetMenuDuration,
		BetReminderInterval:   DefaultBetReminderInterval,
		PrizeExpiration:       DefaultPrizeExpiration,
		PrizeReminderInterval: DefaultPrizeReminderInterval,
		PrizePurgeInterval:    DefaultPrizePurgeInterval,
		Sandbox:               true,
	}
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	var errs []error

	if c.TickRate < 1 || c.TickRate > 100 {
		errs = append(errs, fmt.Errorf("TICK_RATE must be between 1 and 100, got %d", c.TickRate))
	}
	if c.ArenaReleaseTicks < 1 {
		errs = append(errs, fmt.Errorf("ARENA_RELEASE_TICKS must be at least 1, got %d", c.ArenaReleaseTicks))
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"COUNTDOWN_DURATION", c.CountdownDuration},
		{"PVP_GRACE", c.PvPGrace},
		{"TELEPORT_BACK_DELAY", c.TeleportBackDelay},
		{"BET_MENU_DURATION", c.BetMenuDuration},
		{"BET_REMINDER_INTERVAL", c.BetReminderInterval},
		{"PRIZE_EXPIRATION", c.PrizeExpiration},
		{"PRIZE_REMINDER_INTERVAL", c.PrizeReminderInterval},
		{"PRIZE_PURGE_INTERVAL", c.PrizePurgeInterval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.d))
		}
	}

	if c.RateLimitRPM < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limit settings must not be negative"))
	}
	if c.IsProduction() && c.AdminSecret == "" {
		errs = append(errs, errors.New("ADMIN_SECRET is required in production"))
	}

	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// StoreBackend names the ConfigStore backend this configuration selects.
func (c *Config) StoreBackend() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.DataDir != "":
		return "file"
	default:
		return "memory"
	}
}
