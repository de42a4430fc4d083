package report

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// WebhookEvent is the payload posted to webhook endpoints when a run
// finishes.
type WebhookEvent struct {
	Type      string          `json:"type"` // "run.completed", "run.failed", "run.cancelled"
	RunID     string          `json:"run_id"`
	Timestamp int64           `json:"timestamp"`
	Report    json.RawMessage `json:"report"`
}

// DeliverWebhook posts the event with up to 3 retries (1s, 5s backoff).
// The request body is signed with HMAC-SHA256 when secret is non-empty:
// X-Wardreport-Signature: sha256=<hex>.
func DeliverWebhook(ctx context.Context, url, secret string, event *WebhookEvent) error {
	delays := []time.Duration{0, 1 * time.Second, 5 * time.Second}

	var lastErr error
	for attempt, delay := range delays {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := deliverOnce(ctx, url, secret, event)
		if err == nil {
			slog.Info("webhook delivered", "url", url, "event", event.Type, "attempt", attempt+1)
			return nil
		}
		lastErr = err
		slog.Warn("webhook delivery failed", "url", url, "event", event.Type,
			"attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("webhook: all retries exhausted: %w", lastErr)
}

func deliverOnce(ctx context.Context, url, secret string, event *WebhookEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Wardreport-Webhook/1.0")

	if secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		sig := hex.EncodeToString(mac.Sum(nil))
		req.Header.Set("X-Wardreport-Signature", "sha256="+sig)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
