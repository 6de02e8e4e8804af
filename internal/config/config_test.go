package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Refresh.Interval != 30*time.Second {
		t.Fatalf("unexpected default interval %v", cfg.Refresh.Interval)
	}
	if cfg.Refresh.Horizon != 24*time.Hour {
		t.Fatalf("unexpected default horizon %v", cfg.Refresh.Horizon)
	}
	if cfg.Venue.HistoryChunk != 25 || cfg.Venue.MaxInFlight != 8 {
		t.Fatalf("unexpected venue defaults: %+v", cfg.Venue)
	}
	if cfg.Signals.TopK != 5 || cfg.Signals.VolumeSpikeRatio != 2.0 {
		t.Fatalf("unexpected signal defaults: %+v", cfg.Signals)
	}
	if cfg.Signals.CascadeBucket != 5*time.Minute || cfg.Signals.CascadeMinCount != 3 {
		t.Fatalf("unexpected cascade defaults: %+v", cfg.Signals)
	}
	if cfg.Signals.MinLiquidationSize != 0 {
		t.Fatalf("size filter must default to off, got %v", cfg.Signals.MinLiquidationSize)
	}
	if cfg.Database.DSN != "" {
		t.Fatalf("database must default to disabled, got %q", cfg.Database.DSN)
	}
	if cfg.Database.AuditRetention != 720*time.Hour {
		t.Fatalf("unexpected audit retention default %v", cfg.Database.AuditRetention)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("refresh:\n  interval: 15s\nsignals:\n  top_k: 3\nvenue:\n  history_chunk: 10\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Refresh.Interval != 15*time.Second {
		t.Fatalf("file value not applied: %v", cfg.Refresh.Interval)
	}
	if cfg.Signals.TopK != 3 || cfg.Venue.HistoryChunk != 10 {
		t.Fatalf("file values not applied: %+v %+v", cfg.Signals, cfg.Venue)
	}
	// Untouched keys keep their defaults.
	if cfg.Signals.VolumeSpikeRatio != 2.0 {
		t.Fatalf("default lost: %+v", cfg.Signals)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		return cfg
	}

	cfg := base()
	cfg.Refresh.Interval = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero interval must be rejected")
	}

	cfg = base()
	cfg.Signals.VolumeSpikeRatio = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero spike ratio must be rejected")
	}

	cfg = base()
	cfg.Signals.MinLiquidationSize = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative liquidation size filter must be rejected")
	}

	cfg = base()
	cfg.Database.AuditRetention = -time.Hour
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative audit retention must be rejected")
	}

	cfg = base()
	cfg.Alerting.Telegram.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("telegram without credentials must be rejected")
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 1000}}
	if got := cfg.ResolveMaxPoints(0); got != 1000 {
		t.Fatalf("expected config default, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(50); got != 50 {
		t.Fatalf("expected override, got %d", got)
	}
}
