package config

import (
	"fmt"
	"strings"
	"time"
)

// StoreKind selects the schedule store backend.
type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StoreSQLite   StoreKind = "sqlite"
	StorePostgres StoreKind = "postgres"
)

// EngineConfig carries the scheduler loop tunables. These may be changed at
// runtime through the config file watcher.
type EngineConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval"`
	ClaimTTL         time.Duration `yaml:"claim_ttl"`
	Workers          int64         `yaml:"workers"`
	OverdueThreshold int           `yaml:"overdue_threshold"`
}

// ExecutorConfig throttles action dispatch toward the panel.
type ExecutorConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// Config is the full service configuration. Values come from defaults, then
// an optional YAML file, then environment overrides, in that order.
type Config struct {
	// HTTPPort is where the health endpoint listens.
	HTTPPort    int       `yaml:"http_port"`
	Store       StoreKind `yaml:"store"`
	SQLiteDSN   string    `yaml:"sqlite_dsn"`
	PostgresDSN string    `yaml:"postgres_dsn"`
	Timezone    string    `yaml:"timezone"`
	LogLevel    string    `yaml:"log_level"`

	Engine   EngineConfig   `yaml:"engine"`
	Executor ExecutorConfig `yaml:"executor"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		HTTPPort:  8080,
		Store:     StoreMemory,
		SQLiteDSN: "file:panel-scheduler.db?_foreign_keys=on",
		LogLevel:  "info",
		Engine: EngineConfig{
			TickInterval:     30 * time.Second,
			ClaimTTL:         5 * time.Minute,
			Workers:          4,
			OverdueThreshold: 25,
		},
		Executor: ExecutorConfig{
			RatePerSecond: 5,
			Burst:         10,
		},
	}
}

// Validate reports every problem at once rather than failing on the first.
func (c Config) Validate() error {
	var problems []string

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		problems = append(problems, "http_port must be in 1..65535")
	}
	switch c.Store {
	case StoreMemory, StoreSQLite, StorePostgres:
	default:
		problems = append(problems, fmt.Sprintf("store %q must be one of memory, sqlite, postgres", c.Store))
	}
	if c.Store == StoreSQLite && strings.TrimSpace(c.SQLiteDSN) == "" {
		problems = append(problems, "sqlite_dsn is required for the sqlite store")
	}
	if c.Store == StorePostgres && strings.TrimSpace(c.PostgresDSN) == "" {
		problems = append(problems, "postgres_dsn is required for the postgres store")
	}
	if c.Engine.TickInterval <= 0 {
		problems = append(problems, "engine.tick_interval must be positive")
	}
	if c.Engine.ClaimTTL <= 0 {
		problems = append(problems, "engine.claim_ttl must be positive")
	}
	if c.Engine.Workers <= 0 {
		problems = append(problems, "engine.workers must be positive")
	}
	if c.Executor.RatePerSecond <= 0 {
		problems = append(problems, "executor.rate_per_second must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
