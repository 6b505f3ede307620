// Package notify delivers stakeholder notifications raised by the analysis
// pipeline and the follow-up dispatcher. Delivery is best effort: callers
// log failures and carry on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

type Notification struct {
	Title   string            `json:"title"`
	Content string            `json:"content"`
	UserID  string            `json:"user_id,omitempty"`
	Kind    string            `json:"kind,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
}

const (
	KindNewAction = "new_action"
	KindFollowUp  = "follow_up"
	KindCrisis    = "crisis"
)

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier only writes notifications to the log.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.Info("notification", "kind", n.Kind, "user_id", n.UserID, "title", n.Title)
	return nil
}

// WebhookNotifier posts the notification as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	token  string
	client *http.Client
}

func NewWebhookNotifier(url, token string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    strings.TrimSpace(url),
		token:  strings.TrimSpace(token),
		client: &http.Client{Timeout: timeout},
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("notification webhook failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// RedisStreamNotifier appends notifications to a Redis stream for a
// separate delivery service to consume.
type RedisStreamNotifier struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamNotifier(client *redis.Client, stream string, maxLen int64) *RedisStreamNotifier {
	return &RedisStreamNotifier{client: client, stream: stream, maxLen: maxLen}
}

func (r *RedisStreamNotifier) Notify(ctx context.Context, n Notification) error {
	fields := map[string]any{
		"title":   n.Title,
		"content": n.Content,
		"kind":    n.Kind,
		"user_id": n.UserID,
	}
	if len(n.Meta) > 0 {
		meta, err := json.Marshal(n.Meta)
		if err != nil {
			return fmt.Errorf("encode notification meta: %w", err)
		}
		fields["meta"] = string(meta)
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: fields,
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

func (r *RedisStreamNotifier) Close() error {
	return r.client.Close()
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Options struct {
	Mode         string
	WebhookURL   string
	WebhookToken string
	RedisURL     string
	Stream       string
	StreamMaxLen int64
	Timeout      time.Duration
}

// New builds the notifier selected by opts.Mode: log, webhook or redis. A
// comma-separated mode such as "log,redis" fans out to each of them. The
// returned close function releases any connection the notifiers hold.
func New(opts Options, logger *log.Logger) (Notifier, func() error, error) {
	modes := strings.Split(opts.Mode, ",")
	if len(modes) == 1 {
		return newSingle(modes[0], opts, logger)
	}

	var (
		multi   Multi
		closers []func() error
	)
	closeAll := func() error {
		var errs []error
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	for _, mode := range modes {
		notifier, closeFn, err := newSingle(mode, opts, logger)
		if err != nil {
			_ = closeAll()
			return nil, func() error { return nil }, err
		}
		multi = append(multi, notifier)
		closers = append(closers, closeFn)
	}
	return multi, closeAll, nil
}

func newSingle(mode string, opts Options, logger *log.Logger) (Notifier, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "log":
		return NewLogNotifier(logger), noop, nil
	case "webhook":
		if strings.TrimSpace(opts.WebhookURL) == "" {
			return nil, noop, errors.New("NOTIFY_WEBHOOK_URL is required for webhook notifications")
		}
		return NewWebhookNotifier(opts.WebhookURL, opts.WebhookToken, opts.Timeout), noop, nil
	case "redis":
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, noop, fmt.Errorf("parse redis url: %w", err)
		}
		notifier := NewRedisStreamNotifier(redis.NewClient(redisOpts), opts.Stream, opts.StreamMaxLen)
		return notifier, notifier.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown notify mode %q", mode)
	}
}
