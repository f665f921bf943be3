package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ricirt/offline-sync/internal/config"
	"github.com/ricirt/offline-sync/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.QueueCapacity != 100 || cfg.JournalCapacity != 500 {
		t.Fatalf("unexpected capacities: queue=%d journal=%d", cfg.QueueCapacity, cfg.JournalCapacity)
	}
	if cfg.Workers != 3 {
		t.Fatalf("expected 3 workers, got %d", cfg.Workers)
	}
	if cfg.DebounceWindow != 2*time.Second || cfg.FallbackInterval != 30*time.Second {
		t.Fatalf("unexpected timers: debounce=%s fallback=%s", cfg.DebounceWindow, cfg.FallbackInterval)
	}
	if cfg.MaxRetries[domain.KindPayment] != 5 || cfg.MaxRetries[domain.KindTelemetry] != 3 {
		t.Fatalf("unexpected retry budgets: %v", cfg.MaxRetries)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SYNC_QUEUE_CAPACITY", "10")
	t.Setenv("SYNC_PAYMENT_MAX_RETRIES", "7")
	t.Setenv("SYNC_DEBOUNCE_WINDOW", "250ms")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.QueueCapacity != 10 {
		t.Fatalf("expected capacity 10, got %d", cfg.QueueCapacity)
	}
	if cfg.MaxRetries[domain.KindPayment] != 7 {
		t.Fatalf("expected payment budget 7, got %d", cfg.MaxRetries[domain.KindPayment])
	}
	if cfg.DebounceWindow != 250*time.Millisecond {
		t.Fatalf("expected 250ms debounce, got %s", cfg.DebounceWindow)
	}
}

func TestLoad_FileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.yaml")
	body := []byte("max_retries:\n  message: 4\nrate_limits:\n  telemetry: 20\nbackends:\n  order: http://orders.local\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SYNC_CONFIG_FILE", path)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxRetries[domain.KindMessage] != 4 {
		t.Fatalf("expected message budget 4, got %d", cfg.MaxRetries[domain.KindMessage])
	}
	if cfg.RateLimits[domain.KindTelemetry] != 20 {
		t.Fatalf("expected telemetry rate 20, got %d", cfg.RateLimits[domain.KindTelemetry])
	}
	if cfg.Backends[domain.KindOrder] != "http://orders.local" {
		t.Fatalf("unexpected order backend %q", cfg.Backends[domain.KindOrder])
	}
}

func TestLoad_RejectsUnknownKindInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.yaml")
	if err := os.WriteFile(path, []byte("max_retries:\n  fax: 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SYNC_CONFIG_FILE", path)

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("SYNC_STORE_DRIVER", "postgres")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for unsupported store driver")
	}
}
