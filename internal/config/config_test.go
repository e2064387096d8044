package config_test

import (
	"testing"
	"time"

	"github.com/robertarktes/bunk-reservations/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOLD_WINDOW", "")
	t.Setenv("MAX_TX_ATTEMPTS", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "")
	t.Setenv("SWEEP_BATCH", "")
	t.Setenv("ENGINE_WORKERS", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.HoldWindow != 48*time.Hour {
		t.Errorf("expected 48h hold window, got %s", cfg.HoldWindow)
	}
	if cfg.MaxTxAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", cfg.MaxTxAttempts)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.OTLPProtocol != "grpc" {
		t.Errorf("expected grpc exporter, got %s", cfg.OTLPProtocol)
	}
	if cfg.SweepBatch != 100 || cfg.EngineWorkers != 4 {
		t.Errorf("expected sweep batch 100 and 4 workers, got %d and %d", cfg.SweepBatch, cfg.EngineWorkers)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HOLD_WINDOW", "30m")
	t.Setenv("MAX_TX_ATTEMPTS", "5")
	t.Setenv("SWEEP_INTERVAL", "10s")
	t.Setenv("SWEEP_BATCH", "25")
	t.Setenv("ENGINE_WORKERS", "8")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.HoldWindow != 30*time.Minute {
		t.Errorf("expected 30m, got %s", cfg.HoldWindow)
	}
	if cfg.MaxTxAttempts != 5 {
		t.Errorf("expected 5, got %d", cfg.MaxTxAttempts)
	}
	if cfg.SweepInterval != 10*time.Second {
		t.Errorf("expected 10s, got %s", cfg.SweepInterval)
	}
	if cfg.SweepBatch != 25 || cfg.EngineWorkers != 8 {
		t.Errorf("expected sweep batch 25 and 8 workers, got %d and %d", cfg.SweepBatch, cfg.EngineWorkers)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("HOLD_WINDOW", "forever")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for unparsable HOLD_WINDOW")
	}

	t.Setenv("HOLD_WINDOW", "-1h")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for negative HOLD_WINDOW")
	}

	t.Setenv("HOLD_WINDOW", "1h")
	t.Setenv("MAX_TX_ATTEMPTS", "0")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for zero MAX_TX_ATTEMPTS")
	}
}
