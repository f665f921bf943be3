package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ricirt/offline-sync/internal/domain"
)

// HTTPEscalator posts critical journal entries to an alternate channel
// (an ops webhook, an SMS relay). It is best effort: the journal swallows
// whatever it returns.
type HTTPEscalator struct {
	url        string
	httpClient *http.Client
}

func NewHTTPEscalator(url string, timeout time.Duration) *HTTPEscalator {
	return &HTTPEscalator{url: url, httpClient: &http.Client{Timeout: timeout}}
}

func (e *HTTPEscalator) Escalate(ctx context.Context, rec domain.ErrorRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send escalation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected escalation status: %d", resp.StatusCode)
	}
	return nil
}
