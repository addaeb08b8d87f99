package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ── Webhook Driver ───────────────────────────────────────────

// WebhookDriver posts events as JSON to a URL with optional HMAC-SHA256
// signing, retrying transient failures with exponential backoff.
type WebhookDriver struct {
	url     string
	secret  string
	client  *http.Client
	retries uint64
	newBO   func() backoff.BackOff
}

// NewWebhookDriver creates a webhook driver.
func NewWebhookDriver(url, secret string, client *http.Client) *WebhookDriver {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &WebhookDriver{
		url:     url,
		secret:  secret,
		client:  client,
		retries: 2,
		newBO: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
}

func (d *WebhookDriver) Kind() string { return "webhook" }

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (d *WebhookDriver) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Companion-Webhook/1.0")
		req.Header.Set("X-Companion-Event", string(ev.Type))
		if d.secret != "" {
			req.Header.Set("X-Companion-Signature", Sign(d.secret, body))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
			return backoff.Permanent(fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, d.url))
		default:
			return fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, d.url)
		}
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(d.newBO(), d.retries), ctx)
	if err := backoff.Retry(attempt, bo); err != nil {
		return fmt.Errorf("webhook failed after %d attempts: %w", d.retries+1, err)
	}
	return nil
}
