package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Config struct {
	Endpoint  string
	AuthToken string
}

// WebhookProvider posts messages to an SMS gateway's HTTP endpoint.
type WebhookProvider struct {
	cfg    Config
	client *http.Client
}

func NewWebhook(cfg Config) *WebhookProvider {
	return &WebhookProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *WebhookProvider) Send(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(map[string]string{
		"to":   to,
		"body": body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.AuthToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	return nil
}
