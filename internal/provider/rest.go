package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ricirt/offline-sync/internal/domain"
)

// RESTBackend replays operations by POSTing the stored payload to a base URL.
// The URL is injected from config so tests can point to a local server.
type RESTBackend struct {
	baseURL    string
	httpClient *http.Client
}

func NewRESTBackend(baseURL string, timeout time.Duration) *RESTBackend {
	return &RESTBackend{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Replay posts the payload unchanged, carrying the idempotency key in the
// Idempotency-Key header. Status mapping:
//
//	2xx      → success
//	409      → domain.ErrDuplicate
//	429, 5xx → transient
//	other 4xx → domain.ErrPermanent
//
// Transport failures wrap domain.ErrNetwork.
func (b *RESTBackend) Replay(ctx context.Context, r Request) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, bytes.NewReader(r.Payload))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", domain.ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Operation-ID", r.OperationID)
	if r.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", r.IdempotencyKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: send request: %w", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Response{StatusCode: resp.StatusCode, Reference: reference(body)}, nil
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("%w: backend status %d", domain.ErrDuplicate, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, fmt.Errorf("backend status %d: %s", resp.StatusCode, message(body))
	default:
		return nil, fmt.Errorf("%w: backend status %d: %s", domain.ErrPermanent, resp.StatusCode, message(body))
	}
}

// reference picks the server-side identifier out of a success body, if any.
func reference(body []byte) string {
	for _, path := range []string{"id", "reference", "messageId"} {
		if v := gjson.GetBytes(body, path); v.Exists() {
			return v.String()
		}
	}
	return ""
}

func message(body []byte) string {
	if v := gjson.GetBytes(body, "error"); v.Exists() {
		return v.String()
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

// compile-time check that RESTBackend implements Backend
var _ Backend = (*RESTBackend)(nil)
