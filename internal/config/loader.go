package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// Load assembles the configuration from defaults, the YAML file at path (if
// path is non-empty) and environment overrides, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		loaded, err := loadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	cfg, err := applyEnv(cfg)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile parses the YAML file at path over the defaults, so absent keys
// keep their default values.
func loadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(strings.NewReader(string(raw)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv overlays PANEL_* environment variables. Problems are aggregated so
// an operator sees every bad variable in one pass.
func applyEnv(cfg Config) (Config, error) {
	var invalid []string

	if value := strings.TrimSpace(os.Getenv("PANEL_HTTP_PORT")); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil {
			invalid = append(invalid, "PANEL_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}
	if value := strings.TrimSpace(os.Getenv("PANEL_STORE")); value != "" {
		cfg.Store = StoreKind(strings.ToLower(value))
	}
	if value := strings.TrimSpace(os.Getenv("PANEL_SQLITE_DSN")); value != "" {
		cfg.SQLiteDSN = value
	}
	if value := strings.TrimSpace(os.Getenv("PANEL_POSTGRES_DSN")); value != "" {
		cfg.PostgresDSN = value
	}
	if value := strings.TrimSpace(os.Getenv("PANEL_TIMEZONE")); value != "" {
		cfg.Timezone = value
	}
	if value := strings.TrimSpace(os.Getenv("PANEL_LOG_LEVEL")); value != "" {
		cfg.LogLevel = strings.ToLower(value)
	}

	if value := strings.TrimSpace(os.Getenv("PANEL_TICK_INTERVAL")); value != "" {
		interval, err := time.ParseDuration(value)
		if err != nil {
			invalid = append(invalid, "PANEL_TICK_INTERVAL")
		} else {
			cfg.Engine.TickInterval = interval
		}
	}
	if value := strings.TrimSpace(os.Getenv("PANEL_CLAIM_TTL")); value != "" {
		ttl, err := time.ParseDuration(value)
		if err != nil {
			invalid = append(invalid, "PANEL_CLAIM_TTL")
		} else {
			cfg.Engine.ClaimTTL = ttl
		}
	}
	if value := strings.TrimSpace(os.Getenv("PANEL_WORKERS")); value != "" {
		workers, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			invalid = append(invalid, "PANEL_WORKERS")
		} else {
			cfg.Engine.Workers = workers
		}
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment values: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}
