package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"matti/backend/internal/metrics"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type Sender interface {
	Send(ctx context.Context, payload Payload) error
}

// Client posts events to the dashboard collector.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
	now      func() time.Time
}

func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
		client:   &http.Client{Timeout: timeout},
		now:      time.Now,
	}
}

// Body returns the flattened request body of payload at the given time.
func Body(payload Payload, at time.Time) (map[string]any, error) {
	fields, err := payload.Fields()
	if err != nil {
		return nil, err
	}
	body := make(map[string]any, len(fields)+3)
	for key, value := range fields {
		body[key] = value
	}
	body["app_type"] = AppType
	body["event_type"] = string(payload.Type())
	body["timestamp"] = at.UTC().Format(timestampLayout)
	return body, nil
}

func (c *Client) Send(ctx context.Context, payload Payload) error {
	body, err := Body(payload, c.now())
	if err != nil {
		return err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode analytics event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build analytics request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send analytics event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("analytics collector failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// Publisher sends events best effort. A nil sender disables delivery.
type Publisher struct {
	sender  Sender
	logger  *log.Logger
	metrics *metrics.Metrics
}

func NewPublisher(sender Sender, logger *log.Logger, m *metrics.Metrics) *Publisher {
	return &Publisher{sender: sender, logger: logger, metrics: m}
}

// Publish reports validation errors to the caller. Delivery errors are only
// logged and counted.
func (p *Publisher) Publish(ctx context.Context, payload Payload) error {
	if _, err := payload.Fields(); err != nil {
		return err
	}
	if p == nil || p.sender == nil {
		return nil
	}
	err := p.sender.Send(ctx, payload)
	p.metrics.RecordAnalytics(string(payload.Type()), err)
	if err != nil {
		p.logger.Warn("analytics event not delivered", "event_type", payload.Type(), "err", err)
		return nil
	}
	p.logger.Debug("analytics event sent", "event_type", payload.Type())
	return nil
}

// Enabled reports whether events leave the process.
func (p *Publisher) Enabled() bool {
	return p != nil && p.sender != nil
}
