package strategy_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ricirt/offline-sync/internal/domain"
	"github.com/ricirt/offline-sync/internal/provider"
	"github.com/ricirt/offline-sync/internal/repository"
	"github.com/ricirt/offline-sync/internal/strategy"
)

// gateway is a fake payment gateway that charges once per call.
type gateway struct {
	mu      sync.Mutex
	charges int
	err     error
}

func (g *gateway) Replay(_ context.Context, _ provider.Request) (*provider.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.charges++
	return &provider.Response{StatusCode: 201}, nil
}

func paymentItem(key string) *domain.QueueItem {
	return &domain.QueueItem{
		ID:             "op-" + key,
		Kind:           domain.KindPayment,
		Priority:       domain.PriorityHigh,
		Payload:        json.RawMessage(fmt.Sprintf(`{"idempotency_key":%q,"amount":120}`, key)),
		IdempotencyKey: key,
		MaxRetries:     5,
	}
}

func TestPaymentReplay_SecondReplayIsNoOp(t *testing.T) {
	gw := &gateway{}
	p := strategy.NewPaymentReplay(gw, repository.NewMemoryStore())
	item := paymentItem("K1")

	first := p.Replay(context.Background(), item)
	if first.Result != strategy.Success || first.Duplicate {
		t.Fatalf("expected plain success, got %+v", first)
	}
	second := p.Replay(context.Background(), item)
	if second.Result != strategy.Success || !second.Duplicate {
		t.Fatalf("expected success-as-no-op, got %+v", second)
	}
	if gw.charges != 1 {
		t.Fatalf("expected exactly one charge, got %d", gw.charges)
	}
}

func TestPaymentReplay_ConcurrentSameKeyChargesOnce(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	var mu sync.Mutex
	charges := 0
	gw := provider.BackendFunc(func(_ context.Context, _ provider.Request) (*provider.Response, error) {
		entered <- struct{}{}
		<-release
		mu.Lock()
		charges++
		mu.Unlock()
		return &provider.Response{StatusCode: 201}, nil
	})
	p := strategy.NewPaymentReplay(gw, repository.NewMemoryStore())

	first := paymentItem("K1")
	second := paymentItem("K1")
	second.ID = "op-K1-copy"

	results := make(chan strategy.Outcome, 1)
	go func() { results <- p.Replay(context.Background(), first) }()
	<-entered

	// The first confirmation is still at the gateway.
	out := p.Replay(context.Background(), second)
	if out.Result != strategy.RetryableFailure {
		t.Fatalf("expected the concurrent replay to be retried, got %+v", out)
	}
	close(release)
	if got := <-results; got.Result != strategy.Success || got.Duplicate {
		t.Fatalf("expected the first replay to succeed, got %+v", got)
	}

	again := p.Replay(context.Background(), second)
	if again.Result != strategy.Success || !again.Duplicate {
		t.Fatalf("expected the retried replay to be a no-op, got %+v", again)
	}
	if charges != 1 {
		t.Fatalf("K1 charged %d times", charges)
	}
}

func TestPaymentReplay_GatewayDuplicateIsNoOp(t *testing.T) {
	keys := repository.NewMemoryStore()
	gw := &gateway{err: fmt.Errorf("%w: status 409", domain.ErrDuplicate)}
	p := strategy.NewPaymentReplay(gw, keys)

	out := p.Replay(context.Background(), paymentItem("K2"))
	if out.Result != strategy.Success || !out.Duplicate {
		t.Fatalf("expected duplicate success, got %+v", out)
	}
	done, _ := keys.IsCompleted(context.Background(), "K2")
	if !done {
		t.Fatal("duplicate confirmation must record the key as completed")
	}
}

func TestPaymentReplay_Failures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want strategy.Result
	}{
		{"transient", errors.New("502 bad gateway"), strategy.RetryableFailure},
		{"network", fmt.Errorf("%w: dial tcp", domain.ErrNetwork), strategy.RetryableFailure},
		{"card declined", fmt.Errorf("%w: card declined", domain.ErrPermanent), strategy.PermanentFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := repository.NewMemoryStore()
			p := strategy.NewPaymentReplay(&gateway{err: tt.err}, keys)
			out := p.Replay(context.Background(), paymentItem("K3"))
			if out.Result != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, out.Result)
			}
			if done, _ := keys.IsCompleted(context.Background(), "K3"); done {
				t.Fatal("failed payment must not be recorded as completed")
			}
		})
	}
}

func TestPaymentReplay_MissingKeyIsPermanent(t *testing.T) {
	gw := &gateway{}
	p := strategy.NewPaymentReplay(gw, repository.NewMemoryStore())
	out := p.Replay(context.Background(), paymentItem(""))
	if out.Result != strategy.PermanentFailure {
		t.Fatalf("expected permanent failure, got %s", out.Result)
	}
	if gw.charges != 0 {
		t.Fatal("gateway must not be called without a key")
	}
}

func TestRegistry(t *testing.T) {
	var calls []domain.Kind
	backend := provider.BackendFunc(func(_ context.Context, r provider.Request) (*provider.Response, error) {
		calls = append(calls, r.Kind)
		return &provider.Response{StatusCode: 200}, nil
	})
	reg := strategy.NewRegistry(
		strategy.NewOrderReplay(backend),
		strategy.NewBookingReplay(backend),
		strategy.NewTelemetryReplay(backend),
	)
	reg.Register(strategy.NewMessageReplay(backend))

	for _, k := range []domain.Kind{domain.KindOrder, domain.KindBooking, domain.KindTelemetry, domain.KindMessage} {
		out := reg.Replay(context.Background(), &domain.QueueItem{ID: "x", Kind: k, Payload: json.RawMessage(`{}`)})
		if out.Result != strategy.Success {
			t.Fatalf("%s: expected success, got %+v", k, out)
		}
	}
	if len(calls) != 4 {
		t.Fatalf("expected 4 backend calls, got %d", len(calls))
	}

	out := reg.Replay(context.Background(), &domain.QueueItem{ID: "p", Kind: domain.KindPayment})
	if out.Result != strategy.PermanentFailure {
		t.Fatalf("unhandled kind must be permanent, got %s", out.Result)
	}
	if got := reg.Kinds(); len(got) != 4 {
		t.Fatalf("expected 4 handled kinds, got %v", got)
	}
}

func TestBackendReplay_OutcomeMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      strategy.Result
		duplicate bool
	}{
		{"ok", nil, strategy.Success, false},
		{"duplicate", domain.ErrDuplicate, strategy.Success, true},
		{"permanent", fmt.Errorf("%w: 422", domain.ErrPermanent), strategy.PermanentFailure, false},
		{"transient", errors.New("503"), strategy.RetryableFailure, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := strategy.NewBookingReplay(provider.BackendFunc(func(context.Context, provider.Request) (*provider.Response, error) {
				return nil, tt.err
			}))
			out := s.Replay(context.Background(), &domain.QueueItem{Kind: domain.KindBooking})
			if out.Result != tt.want || out.Duplicate != tt.duplicate {
				t.Fatalf("got %+v", out)
			}
		})
	}
}
