package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ACQUIRE_CONFIG", "PLANET_API_KEY", "BATCH_SIZE", "WORKERS", "POLL_INTERVAL",
		"MAX_POLLS", "RATE_LIMIT_MAX_BACKOFF", "PLANET_RATE_LIMIT", "OUTPUT_DIR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BatchSize != 100 || cfg.Workers != 1 {
		t.Fatalf("expected batch 100 and 1 worker, got %d/%d", cfg.BatchSize, cfg.Workers)
	}
	if cfg.PlacementAttempts != 3 || cfg.PollAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d/%d", cfg.PlacementAttempts, cfg.PollAttempts)
	}
	if cfg.PollInterval != time.Minute || cfg.AssetPause != 2*time.Second || cfg.SearchPause != time.Second {
		t.Fatalf("unexpected pacing defaults %+v", cfg)
	}
	if cfg.RateLimitInitialBackoff != time.Second || cfg.RateLimitMaxBackoff != 10*time.Second {
		t.Fatalf("unexpected rate limit backoff %s..%s", cfg.RateLimitInitialBackoff, cfg.RateLimitMaxBackoff)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PLANET_API_KEY", "key")
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("POLL_INTERVAL", "5s")
	t.Setenv("PLANET_RATE_LIMIT", "2.5")
	t.Setenv("WORKERS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PlanetAPIKey != "key" || cfg.BatchSize != 25 || cfg.PollInterval != 5*time.Second || cfg.PlanetRateLimit != 2.5 {
		t.Fatalf("expected env overrides, got %+v", cfg)
	}
	if cfg.Workers != 1 {
		t.Fatalf("expected invalid WORKERS to fall back, got %d", cfg.Workers)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "acquire.yaml")
	content := "planet_api_key: from-file\nbatch_size: 10\npoll_interval: 30s\noutput_dir: /data/file\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ACQUIRE_CONFIG", path)
	t.Setenv("OUTPUT_DIR", "/data/env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PlanetAPIKey != "from-file" || cfg.BatchSize != 10 || cfg.PollInterval != 30*time.Second {
		t.Fatalf("expected file values, got %+v", cfg)
	}
	if cfg.OutputDir != "/data/env" {
		t.Fatalf("expected env to win over file, got %q", cfg.OutputDir)
	}
	if cfg.MaxPolls != 120 {
		t.Fatalf("expected defaults for keys missing from file, got %d", cfg.MaxPolls)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("batch_size: [1,2"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ACQUIRE_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.PlanetAPIKey = "key"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults with key to be valid, got %v", err)
	}

	cfg.PlanetAPIKey = ""
	cfg.BatchSize = 0
	cfg.RateLimitMaxBackoff = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"PLANET_API_KEY", "BATCH_SIZE", "rate limit backoff"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}
