package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	defaultMaxRetries     = 3
)

// WebhookPayload is the JSON body posted for every notification.
type WebhookPayload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
}

// WebhookNotifier posts notifications as JSON. Transport errors and 5xx or
// 429 responses are retried with exponential backoff.
type WebhookNotifier struct {
	url        string
	headers    map[string]string
	client     *http.Client
	maxRetries uint64
	newBackOff func() backoff.BackOff
	clock      func() time.Time
}

// WebhookOptions configures a WebhookNotifier.
type WebhookOptions struct {
	URL        string
	Headers    map[string]string
	Timeout    time.Duration // per attempt; defaults to 10s
	MaxRetries int           // retries after the first attempt; negative disables, 0 selects 3
}

func NewWebhookNotifier(opts WebhookOptions) (*WebhookNotifier, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("webhook_url is required for webhook notifications")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	retries := opts.MaxRetries
	switch {
	case retries == 0:
		retries = defaultMaxRetries
	case retries < 0:
		retries = 0
	}
	return &WebhookNotifier{
		url:        opts.URL,
		headers:    opts.Headers,
		client:     &http.Client{Timeout: timeout},
		maxRetries: uint64(retries),
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		clock:      time.Now,
	}, nil
}

// WithBackOff replaces the retry schedule.
func (n *WebhookNotifier) WithBackOff(newBackOff func() backoff.BackOff) *WebhookNotifier {
	n.newBackOff = newBackOff
	return n
}

func (n *WebhookNotifier) Notify(ctx context.Context, subject, body string) error {
	payload, err := json.Marshal(WebhookPayload{
		Event:     eventFor(subject),
		Timestamp: n.clock().UTC(),
		Subject:   subject,
		Body:      body,
	})
	if err != nil {
		return notifyError(n.url, "notification failed", fmt.Errorf("marshaling payload: %w", err))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(n.newBackOff(), n.maxRetries), ctx)
	if err := backoff.Retry(func() error { return n.post(ctx, payload) }, policy); err != nil {
		return notifyError(n.url, "notification failed", err)
	}
	return nil
}

func (n *WebhookNotifier) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "adhoc-backup")
	for key, value := range n.headers {
		req.Header.Set(key, value)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return err
	}
	return backoff.Permanent(err)
}

// eventFor derives the event name from the subject built by the orchestrator.
func eventFor(subject string) string {
	if strings.HasPrefix(subject, "Backup failed") {
		return "backup.failed"
	}
	return "backup.completed"
}
