package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/verisight/riskwatch/internal/core/domain"
)

// Load reads the YAML config file, falling back to defaults when the
// file is absent, then applies environment overrides. A missing file is
// not an error; a malformed one is.
func Load(path string) (*domain.AppConfig, error) {
	cfg := domain.DefaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults only
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *domain.AppConfig) {
	if v := os.Getenv("RISKWATCH_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("RISKWATCH_LISTEN_ADDR"); v != "" {
		cfg.Console.ListenAddr = v
	}
	if v := os.Getenv("RISKWATCH_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("RISKWATCH_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Polling.Interval = d
		}
	}
	if v := os.Getenv("RISKWATCH_WALL_CLOCK_LIMIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Polling.WallClockLimit = d
		}
	}
	if v := os.Getenv("RISKWATCH_ERROR_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Polling.ErrorBudget = n
		}
	}
}

func validate(cfg *domain.AppConfig) error {
	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url must be set")
	}
	if cfg.Polling.Interval <= 0 {
		return fmt.Errorf("polling.interval must be positive, got %s", cfg.Polling.Interval)
	}
	if cfg.Polling.WallClockLimit < cfg.Polling.Interval {
		return fmt.Errorf("polling.wall_clock_limit (%s) must exceed polling.interval (%s)",
			cfg.Polling.WallClockLimit, cfg.Polling.Interval)
	}
	return nil
}
