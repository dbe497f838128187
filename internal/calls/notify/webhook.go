package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	calls "callwatch/internal/calls/domain"
)

// WebhookPublisher posts notifications to an HTTP endpoint.
type WebhookPublisher struct {
	url      string
	client   *http.Client
	resolver TopicResolver
}

type webhookPayload struct {
	Topic   string      `json:"topic"`
	Message CallMessage `json:"message"`
}

// NewWebhookPublisher constructs a publisher.
func NewWebhookPublisher(url string, timeout time.Duration, resolver TopicResolver) (*WebhookPublisher, error) {
	if url == "" {
		return nil, errors.New("webhook publisher: empty url")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookPublisher{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		resolver: resolver,
	}, nil
}

// Publish sends a notification to the webhook.
func (p *WebhookPublisher) Publish(ctx context.Context, n calls.Notification) error {
	if p == nil || p.url == "" {
		return errors.New("webhook publisher: empty url")
	}
	body, err := json.Marshal(webhookPayload{
		Topic:   p.resolver.Topic(n.TopicKey),
		Message: MessageFor(n),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook publisher: status %d", resp.StatusCode)
	}
	return nil
}
