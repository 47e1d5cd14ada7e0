package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	CollectorMode     string `yaml:"collector_mode"`
	SearchURL         string `yaml:"search_url"`
	UserAgent         string `yaml:"user_agent"`
	HTTPTimeoutSecs   int    `yaml:"http_timeout_secs"`
	RequestIntervalMS int    `yaml:"request_interval_ms"`
	MaxRetries        int    `yaml:"max_retries"`

	// Exhaustive retrieval covers (Floor, Cutoff], both unix-second bounds
	Cutoff             string `yaml:"cutoff"`
	Floor              int64  `yaml:"floor"`
	PageSize           int    `yaml:"page_size"`
	MaxRequestsPerTerm int    `yaml:"max_requests_per_term"`

	Seed            uint64 `yaml:"seed"`
	FirstYear       int    `yaml:"first_year"`
	LastYear        int    `yaml:"last_year"`
	DaysPerYear     int    `yaml:"days_per_year"`
	SampleThreshold int    `yaml:"sample_threshold"`

	ExhaustiveDir  string `yaml:"exhaustive_dir"`
	SampledDir     string `yaml:"sampled_dir"`
	VocabularyPath string `yaml:"vocabulary_path"`
	DBPath         string `yaml:"db_path"`

	Workers  int    `yaml:"workers"`
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// Load reads .env, then the optional YAML file at path over the defaults,
// then applies environment overrides. An empty path skips the file. Keys
// present in the file win over defaults even when zero.
func Load(path string) (*Config, error) {
	godotenv.Load()

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	if err := applyEnvironmentOverrides(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// GetConfigPath returns the config file path from the environment, or ""
// when none is set.
func GetConfigPath() string {
	return os.Getenv("TERMFREQ_CONFIG")
}

func defaults() *Config {
	return &Config{
		CollectorMode:      "http",
		SearchURL:          "https://api.pushshift.io/reddit/comment/search",
		HTTPTimeoutSecs:    30,
		RequestIntervalMS:  1000,
		MaxRetries:         8,
		Cutoff:             "2020-12-31T23:59:59Z",
		PageSize:           100,
		MaxRequestsPerTerm: 400,
		Seed:               1337,
		FirstYear:          2006,
		LastYear:           2020,
		DaysPerYear:        30,
		SampleThreshold:    40000,
		ExhaustiveDir:      "comment_data",
		SampledDir:         "sampled_comment_data",
		DBPath:             "counts.db",
		Workers:            1,
		Port:               "8080",
		LogLevel:           "info",
	}
}

func applyEnvironmentOverrides(cfg *Config) error {
	if v := os.Getenv("COLLECTOR_MODE"); v != "" {
		cfg.CollectorMode = v
	}
	if v := os.Getenv("SEARCH_URL"); v != "" {
		cfg.SearchURL = v
	}
	if v := os.Getenv("SEARCH_USER_AGENT"); v != "" {
		cfg.UserAgent = v
	}
	if v := os.Getenv("TERMFREQ_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TERMFREQ_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TERMFREQ_WORKERS: %w", err)
		}
		cfg.Workers = n
	}
	return nil
}

func validate(cfg *Config) error {
	// user_agent is checked when the http collector is built; counting and
	// serving never reach the network.
	switch cfg.CollectorMode {
	case "http", "mock":
	default:
		return fmt.Errorf("unknown collector_mode %q (use 'http' or 'mock')", cfg.CollectorMode)
	}
	if _, err := cfg.CutoffUnix(); err != nil {
		return fmt.Errorf("cutoff must be RFC 3339, got %q: %w", cfg.Cutoff, err)
	}
	if cfg.PageSize < 1 || cfg.PageSize > 100 {
		return fmt.Errorf("page_size must be in [1, 100], got %d", cfg.PageSize)
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", cfg.MaxRetries)
	}
	if cfg.RequestIntervalMS < 1 {
		return fmt.Errorf("request_interval_ms must be at least 1, got %d", cfg.RequestIntervalMS)
	}
	if cfg.HTTPTimeoutSecs < 1 {
		return fmt.Errorf("http_timeout_secs must be at least 1, got %d", cfg.HTTPTimeoutSecs)
	}
	if cfg.MaxRequestsPerTerm < 1 {
		return fmt.Errorf("max_requests_per_term must be at least 1, got %d", cfg.MaxRequestsPerTerm)
	}
	if cfg.FirstYear > cfg.LastYear {
		return fmt.Errorf("first_year %d is after last_year %d", cfg.FirstYear, cfg.LastYear)
	}
	if cfg.DaysPerYear < 1 || cfg.DaysPerYear > 365 {
		return fmt.Errorf("days_per_year must be in [1, 365], got %d", cfg.DaysPerYear)
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	return nil
}

// CutoffUnix returns the exhaustive retrieval cutoff in unix seconds
func (c *Config) CutoffUnix() (int64, error) {
	t, err := time.Parse(time.RFC3339, c.Cutoff)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

func (c *Config) RequestInterval() time.Duration {
	return time.Duration(c.RequestIntervalMS) * time.Millisecond
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSecs) * time.Second
}
