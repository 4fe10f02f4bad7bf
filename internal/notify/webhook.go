package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookProvider posts a JSON envelope to a fixed endpoint.
type WebhookProvider struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

// NewWebhookProvider returns a provider for url.
func NewWebhookProvider(url string, headers map[string]string) *WebhookProvider {
	return &WebhookProvider{
		URL:     url,
		Headers: headers,
		Client:  &http.Client{Timeout: DefaultTimeout},
	}
}

func (w *WebhookProvider) Name() string { return "webhook" }

type webhookPayload struct {
	Kind      string `json:"kind"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

func (w *WebhookProvider) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(webhookPayload{
		Kind:      msg.Kind,
		Text:      msg.Text,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
