package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookSink posts each message to an HTTP push gateway.
type WebhookSink struct {
	URL    string
	Secret string
	Client *http.Client
}

func NewWebhookSink(url, secret string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookSink{URL: url, Secret: secret, Client: &http.Client{Timeout: timeout}}
}

type webhookBody struct {
	Topic   string  `json:"topic"`
	Message Message `json:"message"`
	Options Options `json:"options"`
}

func (s *WebhookSink) SendToTopic(ctx context.Context, topic string, msg Message, opts Options) error {
	if strings.TrimSpace(s.URL) == "" {
		return fmt.Errorf("webhook url not configured")
	}
	data, err := json.Marshal(webhookBody{Topic: topic, Message: msg, Options: opts})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Helpling-Topic", topic)
	if opts.CollapseKey != "" {
		req.Header.Set("X-Helpling-Collapse-Key", opts.CollapseKey)
	}
	if strings.TrimSpace(s.Secret) != "" {
		req.Header.Set("X-Helpling-Secret", s.Secret)
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
