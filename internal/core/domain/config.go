package domain

import "time"

// AppConfig is the full client configuration. Loaded from YAML with env
// overrides; every polling constant is tunable, the defaults below are
// the reference policy.
type AppConfig struct {
	Backend BackendConfig `yaml:"backend"`
	Polling PollingConfig `yaml:"polling"`
	Console ConsoleConfig `yaml:"console"`
	Storage StorageConfig `yaml:"storage"`
}

type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	// APIToken is resolved from the OS keyring (or RISKWATCH_API_TOKEN);
	// never written to the config file.
	APIToken          string        `yaml:"-"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	PollRatePerSecond float64       `yaml:"poll_rate_per_second"`
}

type PollingConfig struct {
	// Interval is the base delay between successful progress polls.
	Interval time.Duration `yaml:"interval"`
	// BackoffCap bounds transient-error backoff as a multiple of Interval.
	BackoffCap int `yaml:"backoff_cap"`
	// ErrorBudget is the number of consecutive transient failures
	// tolerated before the job is declared failed.
	ErrorBudget int `yaml:"error_budget"`
	// WallClockLimit is the hard ceiling on tracking a single job.
	WallClockLimit time.Duration `yaml:"wall_clock_limit"`
	// MaxConcurrentJobs caps how many assessments are tracked at once.
	MaxConcurrentJobs int64 `yaml:"max_concurrent_jobs"`
}

type ConsoleConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

func DefaultConfig() *AppConfig {
	return &AppConfig{
		Backend: BackendConfig{
			BaseURL:           "http://localhost:8000",
			RequestTimeout:    30 * time.Second,
			PollRatePerSecond: 4,
		},
		Polling: PollingConfig{
			Interval:          5 * time.Second,
			BackoffCap:        8,
			ErrorBudget:       5,
			WallClockLimit:    15 * time.Minute,
			MaxConcurrentJobs: 4,
		},
		Console: ConsoleConfig{
			ListenAddr:     "127.0.0.1:8090",
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:5174"},
		},
		Storage: StorageConfig{
			Path: "riskwatch.db",
		},
	}
}
