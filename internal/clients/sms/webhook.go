package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Compile-time assertion that WebhookSender implements Sender.
var _ Sender = (*WebhookSender)(nil)

// WebhookOption is a functional option for configuring a WebhookSender.
type WebhookOption func(*WebhookSender)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) WebhookOption {
	return func(s *WebhookSender) { s.http = hc }
}

// WithAuthToken sets a bearer token attached to every request.
func WithAuthToken(token string) WebhookOption {
	return func(s *WebhookSender) { s.token = token }
}

// WebhookSender posts outbound messages to an external SMS gateway as
// JSON. Scheduled sends carry an RFC 3339 sendAt the gateway honors.
type WebhookSender struct {
	url   string
	token string
	http  *http.Client
}

// NewWebhookSender builds a sender for the given gateway URL.
func NewWebhookSender(url string, opts ...WebhookOption) *WebhookSender {
	s := &WebhookSender{
		url:  url,
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type webhookMessage struct {
	CompanyID string `json:"companyId"`
	To        string `json:"to"`
	Body      string `json:"body"`
	SendAt    string `json:"sendAt,omitempty"`
}

// Send implements [Sender].
func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	payload := webhookMessage{
		CompanyID: msg.CompanyID,
		To:        msg.To,
		Body:      msg.Body,
	}
	if !msg.SendAt.IsZero() {
		payload.SendAt = msg.SendAt.UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sms: encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sms: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("sms: post message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms: gateway returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
