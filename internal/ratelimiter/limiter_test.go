package ratelimiter_test

import (
	"context"
	"testing"
	"time"

	"github.com/ricirt/offline-sync/internal/domain"
	"github.com/ricirt/offline-sync/internal/ratelimiter"
)

func TestKindLimiters_BurstThenWait(t *testing.T) {
	kl := ratelimiter.New(2, nil)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := kl.Wait(ctx, domain.KindOrder); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("burst tokens should be granted immediately")
	}

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := kl.Wait(ctx, domain.KindOrder); err == nil {
		t.Fatal("third token within the same second must not be granted before the deadline")
	}
}

func TestKindLimiters_IndependentPerKind(t *testing.T) {
	kl := ratelimiter.New(1, map[domain.Kind]int{domain.KindTelemetry: 0})
	ctx := context.Background()

	if err := kl.Wait(ctx, domain.KindPayment); err != nil {
		t.Fatal(err)
	}
	// Exhausting payment must not throttle orders.
	if err := kl.Wait(ctx, domain.KindOrder); err != nil {
		t.Fatal(err)
	}

	// Rate 0 means unlimited.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	for i := 0; i < 50; i++ {
		if err := kl.Wait(short, domain.KindTelemetry); err != nil {
			t.Fatalf("telemetry should be unlimited, failed at %d: %v", i, err)
		}
	}
}

func TestKindLimiters_CancelledContext(t *testing.T) {
	kl := ratelimiter.New(1, nil)
	_ = kl.Wait(context.Background(), domain.KindMessage)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := kl.Wait(ctx, domain.KindMessage); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
