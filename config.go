package pgqueue

import (
	"errors"

	"github.com/caarlos0/env/v11"

	"github.com/dmitrymomot/pgqueue/driver"
)

// Config holds the broker configuration. Every component receives its
// configuration explicitly at construction; there is no ambient state.
type Config struct {
	Connection driver.Config

	Driver      string `env:"PGQUEUE_DRIVER" envDefault:"pgx"`             // Driver selects the backend: "pgx", "pgconn", or "pq".
	ChannelName string `env:"PGQUEUE_CHANNEL" envDefault:"pgqueue"`        // ChannelName is the notification channel messages are announced on.
	TableName   string `env:"PGQUEUE_TABLE" envDefault:"pgqueue_messages"` // TableName is the message table.
	Migrate     bool   `env:"PGQUEUE_MIGRATE" envDefault:"true"`           // Migrate wraps schema creation in one transaction during Startup.
}

// ResultConfig holds the result store configuration.
type ResultConfig struct {
	Connection driver.Config

	Driver      string `env:"PGQUEUE_DRIVER" envDefault:"pgx"`
	TableName   string `env:"PGQUEUE_RESULTS_TABLE" envDefault:"pgqueue_results"`
	KeepResults bool   `env:"PGQUEUE_KEEP_RESULTS" envDefault:"true"` // KeepResults controls whether Get leaves the stored result in place.
	Migrate     bool   `env:"PGQUEUE_MIGRATE" envDefault:"true"`
}

// ScheduleConfig holds the schedule store configuration.
type ScheduleConfig struct {
	Connection driver.Config

	Driver    string `env:"PGQUEUE_DRIVER" envDefault:"pgx"`
	TableName string `env:"PGQUEUE_SCHEDULES_TABLE" envDefault:"pgqueue_schedules"`
	Migrate   bool   `env:"PGQUEUE_MIGRATE" envDefault:"true"`
}

// LoadConfig populates a broker configuration from environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrConfigParse, err)
	}
	return cfg, nil
}

// LoadResultConfig populates a result store configuration from environment
// variables.
func LoadResultConfig() (ResultConfig, error) {
	var cfg ResultConfig
	if err := env.Parse(&cfg); err != nil {
		return ResultConfig{}, errors.Join(ErrConfigParse, err)
	}
	return cfg, nil
}

// LoadScheduleConfig populates a schedule store configuration from
// environment variables.
func LoadScheduleConfig() (ScheduleConfig, error) {
	var cfg ScheduleConfig
	if err := env.Parse(&cfg); err != nil {
		return ScheduleConfig{}, errors.Join(ErrConfigParse, err)
	}
	return cfg, nil
}
