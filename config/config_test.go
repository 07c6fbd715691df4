package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	if cfg.Lags.Lookback != 5*time.Minute {
		t.Errorf("expected 5m lookback, got %v", cfg.Lags.Lookback)
	}
	if cfg.Lags.Fallback != FallbackCurrent {
		t.Errorf("expected current fallback, got %q", cfg.Lags.Fallback)
	}
	if cfg.History.WindowDays != 30 || cfg.History.MinDays != 3 {
		t.Errorf("unexpected history defaults %+v", cfg.History)
	}
	if cfg.Cache.LiveTTL != 10*time.Minute || cfg.Cache.DerivedTTL != 24*time.Hour {
		t.Errorf("unexpected cache defaults %+v", cfg.Cache)
	}

	// Defaults must not alias the package slice
	cfg.Lags.Offsets[0] = 99
	if DefaultLagOffsets[0] == 99 {
		t.Error("DefaultConfig shares DefaultLagOffsets")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	t.Setenv("TEST_ARCHIVE_DIR", dir)

	content := `
storage:
  data_dir: ${TEST_ARCHIVE_DIR}/data
  retention:
    keep_days: 400
lags:
  lookback: 3m
  fallback: none
  offsets: [10, 60]
cache:
  max_entries: 1000
scheduler:
  warm_yesterday_at: "02:15"
logging:
  level: debug
  json: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.DataDir != filepath.Join(dir, "data") {
		t.Errorf("expected expanded data_dir, got %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.Retention.KeepDays != 400 {
		t.Errorf("expected keep_days 400, got %d", cfg.Storage.Retention.KeepDays)
	}
	// Untouched storage defaults survive
	if cfg.Storage.Timezone != "America/Mexico_City" {
		t.Errorf("expected default timezone, got %q", cfg.Storage.Timezone)
	}
	if cfg.Lags.Lookback != 3*time.Minute || cfg.Lags.Fallback != FallbackNone {
		t.Errorf("unexpected lags %+v", cfg.Lags)
	}
	if len(cfg.Lags.Offsets) != 2 || cfg.Lags.Offsets[1] != 60 {
		t.Errorf("unexpected offsets %v", cfg.Lags.Offsets)
	}
	if cfg.Lags.Concurrency != DefaultLagConcurrency {
		t.Errorf("expected default concurrency, got %d", cfg.Lags.Concurrency)
	}
	if cfg.Scheduler.WarmYesterdayAt != "02:15" || cfg.Scheduler.WarmProfilesAt != DefaultWarmProfilesAt {
		t.Errorf("unexpected scheduler %+v", cfg.Scheduler)
	}
	if !cfg.Logging.JSON || cfg.Logging.Level != "debug" {
		t.Errorf("unexpected logging %+v", cfg.Logging)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("DOCKARCHIVE_DATA_DIR", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.MaxEntries != DefaultCacheMaxEntries {
		t.Errorf("expected defaults, got %+v", cfg.Cache)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !isNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
lags:
  fallback: maybe
cache:
  max_entries: 0
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"fallback", "max_entries"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DOCKARCHIVE_DATA_DIR":            "/srv/archive",
		"DOCKARCHIVE_ORDERING":            "strict",
		"DOCKARCHIVE_RETENTION_KEEP_DAYS": "90",
		"DOCKARCHIVE_LAGS_LOOKBACK":       "4m",
		"DOCKARCHIVE_LAGS_OFFSETS":        "10, 20 ,1440",
		"DOCKARCHIVE_SCHEDULER_ENABLED":   "false",
		"DOCKARCHIVE_LOG_JSON":            "true",
		"DOCKARCHIVE_METRICS_LISTEN":      ":9999",
		"DOCKARCHIVE_TIMEZONE":            "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	if cfg.Storage.DataDir != "/srv/archive" || cfg.Storage.Ingestion.Ordering != "strict" {
		t.Errorf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.Storage.Timezone != "America/Mexico_City" {
		t.Errorf("empty variable must not override, got %q", cfg.Storage.Timezone)
	}
	if cfg.Storage.Retention.KeepDays != 90 {
		t.Errorf("expected keep_days 90, got %d", cfg.Storage.Retention.KeepDays)
	}
	if cfg.Lags.Lookback != 4*time.Minute {
		t.Errorf("expected 4m lookback, got %v", cfg.Lags.Lookback)
	}
	if len(cfg.Lags.Offsets) != 3 || cfg.Lags.Offsets[2] != 1440 {
		t.Errorf("unexpected offsets %v", cfg.Lags.Offsets)
	}
	if cfg.Scheduler.Enabled || !cfg.Logging.JSON || cfg.Server.MetricsListen != ":9999" {
		t.Errorf("unexpected overrides %+v %+v %+v", cfg.Scheduler, cfg.Logging, cfg.Server)
	}
}

func TestApplyEnvErrors(t *testing.T) {
	env := map[string]string{
		"DOCKARCHIVE_LAGS_LOOKBACK":     "soon",
		"DOCKARCHIVE_CACHE_MAX_ENTRIES": "many",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	err := DefaultConfig().ApplyEnv(lookup)
	if err == nil {
		t.Fatal("expected parse errors")
	}
	for _, want := range []string{"LAGS_LOOKBACK", "CACHE_MAX_ENTRIES"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("DOCKARCHIVE_TEST_DOTENV=loaded\n"), 0644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("DOCKARCHIVE_TEST_DOTENV", "")
	os.Unsetenv("DOCKARCHIVE_TEST_DOTENV")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("DOCKARCHIVE_TEST_DOTENV"); got != "loaded" {
		t.Errorf("expected variable from file, got %q", got)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

func TestSchedulerValidate(t *testing.T) {
	tests := []struct {
		name    string
		at      string
		wantErr bool
	}{
		{"valid", "01:00", false},
		{"late", "23:59", false},
		{"hour out of range", "25:00", true},
		{"not a time", "soon", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultConfig().Scheduler
			s.RetentionAt = tt.at
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
