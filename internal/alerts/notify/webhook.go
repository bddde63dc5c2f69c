package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	alertapp "cems-cloud/internal/alerts/application"
)

// WebhookNotifier posts alert events to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *log.Logger
}

// WebhookOption configures the webhook notifier.
type WebhookOption func(*WebhookNotifier)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(n *WebhookNotifier) {
		if client != nil {
			n.client = client
		}
	}
}

// NewWebhookNotifier constructs a webhook notifier.
func NewWebhookNotifier(url string, logger *log.Logger, opts ...WebhookOption) (*WebhookNotifier, error) {
	if url == "" {
		return nil, errors.New("webhook notifier: empty url")
	}
	if logger == nil {
		logger = log.Default()
	}
	n := &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements application.Notifier. Delivery failures are logged and
// dropped; alerting must not block on the receiver.
func (n *WebhookNotifier) Notify(ctx context.Context, event alertapp.AlertEvent) {
	if n == nil || n.url == "" {
		return
	}
	if err := n.send(ctx, event); err != nil {
		n.logger.Printf("alert webhook: %v", err)
	}
}

func (n *WebhookNotifier) send(ctx context.Context, event alertapp.AlertEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
