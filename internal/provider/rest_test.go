package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ricirt/offline-sync/internal/domain"
	"github.com/ricirt/offline-sync/internal/provider"
)

func TestRESTBackend_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   error
		retryable bool
	}{
		{"created", http.StatusCreated, nil, false},
		{"duplicate", http.StatusConflict, domain.ErrDuplicate, false},
		{"bad request", http.StatusBadRequest, domain.ErrPermanent, false},
		{"unprocessable", http.StatusUnprocessableEntity, domain.ErrPermanent, false},
		{"throttled", http.StatusTooManyRequests, nil, true},
		{"unavailable", http.StatusServiceUnavailable, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"id":"srv-1","error":"nope"}`))
			}))
			defer srv.Close()

			b := provider.NewRESTBackend(srv.URL, time.Second)
			resp, err := b.Replay(context.Background(), provider.Request{
				OperationID: "op-1",
				Kind:        domain.KindOrder,
				Payload:     json.RawMessage(`{"a":1}`),
			})

			switch {
			case tt.retryable:
				if err == nil || errors.Is(err, domain.ErrPermanent) || errors.Is(err, domain.ErrDuplicate) {
					t.Fatalf("expected transient error, got %v", err)
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if resp.Reference != "srv-1" {
					t.Fatalf("expected reference srv-1, got %q", resp.Reference)
				}
			}
		})
	}
}

func TestRESTBackend_SendsIdempotencyKeyAndPayload(t *testing.T) {
	var gotKey, gotOp, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotOp = r.Header.Get("X-Operation-ID")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := provider.NewRESTBackend(srv.URL, time.Second)
	_, err := b.Replay(context.Background(), provider.Request{
		OperationID:    "op-7",
		Kind:           domain.KindPayment,
		Payload:        json.RawMessage(`{"idempotency_key":"K1","amount":50}`),
		IdempotencyKey: "K1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotKey != "K1" || gotOp != "op-7" {
		t.Fatalf("unexpected headers: key=%q op=%q", gotKey, gotOp)
	}
	if gotBody != `{"idempotency_key":"K1","amount":50}` {
		t.Fatalf("payload must be forwarded unchanged, got %s", gotBody)
	}
}

func TestRESTBackend_TransportErrorIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := provider.NewRESTBackend(url, time.Second).Replay(context.Background(), provider.Request{
		Payload: json.RawMessage(`{}`),
	})
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if !domain.IsConnectivityError(err) {
		t.Fatal("transport failure must classify as connectivity")
	}
}

func TestHTTPEscalator(t *testing.T) {
	var got domain.ErrorRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	esc := provider.NewHTTPEscalator(srv.URL, time.Second)
	rec := domain.ErrorRecord{ID: "e1", Severity: domain.SeverityCritical, Message: "payment lost"}
	if err := esc.Escalate(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if got.ID != "e1" || got.Severity != domain.SeverityCritical {
		t.Fatalf("unexpected escalated record: %+v", got)
	}

	srv.Close()
	if err := esc.Escalate(context.Background(), rec); err == nil {
		t.Fatal("expected error once the target is gone")
	}
}
