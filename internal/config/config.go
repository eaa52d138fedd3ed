package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string `yaml:"log_level"`

	PlanetAPIKey    string        `yaml:"planet_api_key"`
	PlanetSearchURL string        `yaml:"planet_search_url"`
	PlanetOrdersURL string        `yaml:"planet_orders_url"`
	PlanetRateLimit float64       `yaml:"planet_rate_limit"`
	PlanetRateBurst int           `yaml:"planet_rate_burst"`
	PlanetTimeout   time.Duration `yaml:"planet_timeout"`
	ItemType        string        `yaml:"item_type"`
	ProductBundle   string        `yaml:"product_bundle"`

	OutputDir  string `yaml:"output_dir"`
	SitesPath  string `yaml:"sites_path"`
	PlannedDir string `yaml:"planned_dir"`

	BatchSize         int           `yaml:"batch_size"`
	Workers           int           `yaml:"workers"`
	PlacementAttempts int           `yaml:"placement_attempts"`
	PollAttempts      int           `yaml:"poll_attempts"`
	StageRetryBackoff time.Duration `yaml:"stage_retry_backoff"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxPolls          int           `yaml:"max_polls"`
	SearchPause       time.Duration `yaml:"search_pause"`
	UnitPause         time.Duration `yaml:"unit_pause"`
	AssetPause        time.Duration `yaml:"asset_pause"`

	RateLimitInitialBackoff time.Duration `yaml:"rate_limit_initial_backoff"`
	RateLimitMaxBackoff     time.Duration `yaml:"rate_limit_max_backoff"`

	PostgresDSN string `yaml:"postgres_dsn"`
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
	ReportDir   string `yaml:"report_dir"`
	MetricsAddr string `yaml:"metrics_addr"`
}

func Defaults() Config {
	return Config{
		LogLevel: "info",

		PlanetSearchURL: "https://api.planet.com/data/v1/quick-search",
		PlanetOrdersURL: "https://api.planet.com/compute/ops/orders/v2",
		PlanetRateBurst: 1,
		PlanetTimeout:   5 * time.Minute,
		ItemType:        "PSScene",
		ProductBundle:   "visual",

		OutputDir:  "./data/planet",
		SitesPath:  "./settings/sites.txt",
		PlannedDir: "./settings/planned_orders",

		BatchSize:         100,
		Workers:           1,
		PlacementAttempts: 3,
		PollAttempts:      3,
		PollInterval:      60 * time.Second,
		MaxPolls:          120,
		SearchPause:       time.Second,
		UnitPause:         2 * time.Second,
		AssetPause:        2 * time.Second,

		RateLimitInitialBackoff: time.Second,
		RateLimitMaxBackoff:     10 * time.Second,

		NATSSubject: "imagery.orders",
	}
}

// Load starts from Defaults, applies the YAML file named by ACQUIRE_CONFIG when
// set, then lets individual environment variables override single keys.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("ACQUIRE_CONFIG"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.LogLevel = mustEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.PlanetAPIKey = mustEnv("PLANET_API_KEY", cfg.PlanetAPIKey)
	cfg.PlanetSearchURL = mustEnv("PLANET_SEARCH_URL", cfg.PlanetSearchURL)
	cfg.PlanetOrdersURL = mustEnv("PLANET_ORDERS_URL", cfg.PlanetOrdersURL)
	cfg.PlanetRateLimit = mustEnvFloat("PLANET_RATE_LIMIT", cfg.PlanetRateLimit)
	cfg.PlanetRateBurst = mustEnvInt("PLANET_RATE_BURST", cfg.PlanetRateBurst)
	cfg.PlanetTimeout = mustEnvDuration("PLANET_TIMEOUT", cfg.PlanetTimeout)
	cfg.ItemType = mustEnv("ITEM_TYPE", cfg.ItemType)
	cfg.ProductBundle = mustEnv("PRODUCT_BUNDLE", cfg.ProductBundle)

	cfg.OutputDir = mustEnv("OUTPUT_DIR", cfg.OutputDir)
	cfg.SitesPath = mustEnv("SITES_PATH", cfg.SitesPath)
	cfg.PlannedDir = mustEnv("PLANNED_DIR", cfg.PlannedDir)

	cfg.BatchSize = mustEnvInt("BATCH_SIZE", cfg.BatchSize)
	cfg.Workers = mustEnvInt("WORKERS", cfg.Workers)
	cfg.PlacementAttempts = mustEnvInt("PLACEMENT_ATTEMPTS", cfg.PlacementAttempts)
	cfg.PollAttempts = mustEnvInt("POLL_ATTEMPTS", cfg.PollAttempts)
	cfg.StageRetryBackoff = mustEnvDuration("STAGE_RETRY_BACKOFF", cfg.StageRetryBackoff)
	cfg.PollInterval = mustEnvDuration("POLL_INTERVAL", cfg.PollInterval)
	cfg.MaxPolls = mustEnvInt("MAX_POLLS", cfg.MaxPolls)
	cfg.SearchPause = mustEnvDuration("SEARCH_PAUSE", cfg.SearchPause)
	cfg.UnitPause = mustEnvDuration("UNIT_PAUSE", cfg.UnitPause)
	cfg.AssetPause = mustEnvDuration("ASSET_PAUSE", cfg.AssetPause)

	cfg.RateLimitInitialBackoff = mustEnvDuration("RATE_LIMIT_INITIAL_BACKOFF", cfg.RateLimitInitialBackoff)
	cfg.RateLimitMaxBackoff = mustEnvDuration("RATE_LIMIT_MAX_BACKOFF", cfg.RateLimitMaxBackoff)

	cfg.PostgresDSN = mustEnv("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.NATSURL = mustEnv("NATS_URL", cfg.NATSURL)
	cfg.NATSSubject = mustEnv("NATS_SUBJECT", cfg.NATSSubject)
	cfg.ReportDir = mustEnv("REPORT_DIR", cfg.ReportDir)
	cfg.MetricsAddr = mustEnv("METRICS_ADDR", cfg.MetricsAddr)
}

// Validate reports every problem at once; these are the only fatal config errors.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.PlanetAPIKey) == "" {
		errs = append(errs, errors.New("PLANET_API_KEY is required"))
	}
	if c.PlanetSearchURL == "" || c.PlanetOrdersURL == "" {
		errs = append(errs, errors.New("planet search and orders URLs are required"))
	}
	positive := map[string]int{
		"BATCH_SIZE":         c.BatchSize,
		"WORKERS":            c.Workers,
		"PLACEMENT_ATTEMPTS": c.PlacementAttempts,
		"POLL_ATTEMPTS":      c.PollAttempts,
	}
	for _, key := range []string{"BATCH_SIZE", "WORKERS", "PLACEMENT_ATTEMPTS", "POLL_ATTEMPTS"} {
		if positive[key] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, positive[key]))
		}
	}
	if c.MaxPolls < 0 {
		errs = append(errs, fmt.Errorf("MAX_POLLS must not be negative, got %d", c.MaxPolls))
	}
	if c.PlanetRateLimit < 0 {
		errs = append(errs, fmt.Errorf("PLANET_RATE_LIMIT must not be negative, got %v", c.PlanetRateLimit))
	}
	if c.PollInterval < 0 || c.StageRetryBackoff < 0 || c.SearchPause < 0 || c.UnitPause < 0 || c.AssetPause < 0 {
		errs = append(errs, errors.New("pauses and poll interval must not be negative"))
	}
	if c.RateLimitInitialBackoff <= 0 || c.RateLimitMaxBackoff < c.RateLimitInitialBackoff {
		errs = append(errs, fmt.Errorf("rate limit backoff must satisfy 0 < initial (%s) <= max (%s)",
			c.RateLimitInitialBackoff, c.RateLimitMaxBackoff))
	}
	return errors.Join(errs...)
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
