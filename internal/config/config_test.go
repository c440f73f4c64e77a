package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("app:\n  name: test\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load should succeed: %v", err)
	}
	if cfg.App.Name != "test" {
		t.Fatalf("app.name from file not applied: %q", cfg.App.Name)
	}
	if cfg.Scheduler.Interval != 5*time.Second {
		t.Fatalf("scheduler.interval default should be 5s, got %s", cfg.Scheduler.Interval)
	}
	if cfg.Aggregation.Lookback != 4*time.Hour {
		t.Fatalf("aggregation.lookback default should be 4h, got %s", cfg.Aggregation.Lookback)
	}
	if len(cfg.Alerting.Directions) != 2 {
		t.Fatalf("unexpected default directions: %v", cfg.Alerting.Directions)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "scheduler:\n  interval: 30s\naggregation:\n  lookback: 1h\n  batch_size: 5\ncatalog:\n  path: rules.csv\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load should succeed: %v", err)
	}
	if cfg.Scheduler.Interval != 30*time.Second || cfg.Aggregation.Lookback != time.Hour || cfg.Aggregation.BatchSize != 5 {
		t.Fatalf("overrides not applied: %+v %+v", cfg.Scheduler, cfg.Aggregation)
	}
	if cfg.Catalog.Path != "rules.csv" {
		t.Fatalf("catalog.path not applied: %q", cfg.Catalog.Path)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := Config{
		Scheduler:   SchedulerConfig{Interval: time.Second},
		Aggregation: AggregationConfig{Lookback: time.Hour, BatchSize: 10},
		Export:      ExportConfig{MaxDataPoints: 10},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	bad := base
	bad.Scheduler.Interval = 0
	if bad.Validate() == nil {
		t.Fatal("zero interval should be rejected")
	}

	bad = base
	bad.Aggregation.BatchSize = 0
	if bad.Validate() == nil {
		t.Fatal("zero batch size should be rejected")
	}

	bad = base
	bad.Alerting.Directions = []string{"SIDEWAYS"}
	if bad.Validate() == nil {
		t.Fatal("unknown direction should be rejected")
	}

	bad = base
	bad.Alerting.Telegram.Enabled = true
	if bad.Validate() == nil {
		t.Fatal("telegram without token should be rejected")
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := Config{Export: ExportConfig{MaxDataPoints: 100}}
	if cfg.ResolveMaxPoints(0) != 100 {
		t.Fatal("should fall back to config default")
	}
	if cfg.ResolveMaxPoints(7) != 7 {
		t.Fatal("override should win")
	}
}
