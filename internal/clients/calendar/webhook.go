package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Compile-time assertion that WebhookClient implements Client.
var _ Client = (*WebhookClient)(nil)

// WebhookOption is a functional option for configuring a WebhookClient.
type WebhookOption func(*WebhookClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) WebhookOption {
	return func(c *WebhookClient) { c.http = hc }
}

// WithAuthToken sets a bearer token attached to every request.
func WithAuthToken(token string) WebhookOption {
	return func(c *WebhookClient) { c.token = token }
}

// WebhookClient posts calendar events to an external scheduling endpoint
// as JSON. The endpoint is expected to answer 2xx with a body containing
// the created event's id.
type WebhookClient struct {
	url   string
	token string
	http  *http.Client
}

// NewWebhookClient builds a client for the given endpoint URL.
func NewWebhookClient(url string, opts ...WebhookOption) *WebhookClient {
	c := &WebhookClient{
		url:  url,
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type webhookEventRequest struct {
	CompanyID      string `json:"companyId"`
	CaseID         string `json:"caseId"`
	Summary        string `json:"summary"`
	Description    string `json:"description,omitempty"`
	CustomerName   string `json:"customerName"`
	CustomerPhone  string `json:"customerPhone"`
	Address        string `json:"address,omitempty"`
	TimePreference string `json:"timePreference,omitempty"`
	IsAsap         bool   `json:"isAsap,omitempty"`
	Start          string `json:"start,omitempty"`
	End            string `json:"end,omitempty"`
}

type webhookEventResponse struct {
	EventID string `json:"eventId"`
}

// CreateEvent implements [Client].
func (c *WebhookClient) CreateEvent(ctx context.Context, ev Event) (string, error) {
	payload := webhookEventRequest{
		CompanyID:      ev.CompanyID,
		CaseID:         ev.CaseID,
		Summary:        ev.Summary,
		Description:    ev.Description,
		CustomerName:   ev.CustomerName,
		CustomerPhone:  ev.CustomerPhone,
		Address:        ev.Address,
		TimePreference: ev.TimePreference,
		IsAsap:         ev.IsAsap,
	}
	if !ev.Start.IsZero() {
		payload.Start = ev.Start.UTC().Format(time.RFC3339)
	}
	if !ev.End.IsZero() {
		payload.End = ev.End.UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("calendar: encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("calendar: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calendar: post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("calendar: endpoint returned %d: %s", resp.StatusCode, snippet)
	}

	var out webhookEventResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// Some endpoints answer 2xx with an empty body; the case id is
		// enough to correlate, so treat that as success.
		return ev.CaseID, nil
	}
	if out.EventID == "" {
		return ev.CaseID, nil
	}
	return out.EventID, nil
}
