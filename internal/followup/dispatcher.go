package followup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"matti/backend/internal/metrics"
	"matti/backend/internal/notify"
)

const defaultBatchSize = 100

// Dispatcher turns due follow-up entries into notifications. An entry is
// marked sent only after its notification was delivered, so a failed
// delivery is retried on the next run.
type Dispatcher struct {
	store     Store
	notifier  notify.Notifier
	logger    *log.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	batchSize int
}

type DispatcherConfig struct {
	BatchSize int
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

type DispatchReport struct {
	Due       int `json:"due"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
}

func NewDispatcher(store Store, notifier notify.Notifier, logger *log.Logger, cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		notifier:  notifier,
		logger:    logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
		batchSize: cfg.BatchSize,
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.batchSize <= 0 {
		d.batchSize = defaultBatchSize
	}
	return d
}

// RunOnce handles one batch of due entries. Delivery failures are counted
// and logged; storage failures while marking entries are returned joined
// after the whole batch was attempted.
func (d *Dispatcher) RunOnce(ctx context.Context) (DispatchReport, error) {
	now := d.now().UTC()
	due, err := d.store.DuePending(ctx, now, d.batchSize)
	if err != nil {
		return DispatchReport{}, fmt.Errorf("load due follow-ups: %w", err)
	}

	report := DispatchReport{Due: len(due)}
	var errs []error
	for _, item := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		notifyErr := d.notifier.Notify(ctx, FollowUpNotification(item))
		d.metrics.RecordNotification(notify.KindFollowUp, notifyErr)
		if notifyErr != nil {
			report.Failed++
			d.metrics.RecordDispatch("failed")
			d.logger.Warn("follow-up notification failed", "follow_up_id", item.ID, "err", notifyErr)
			continue
		}

		if err := d.store.MarkSent(ctx, item.ID, now); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
				// Skipped or sent elsewhere after it was loaded.
				report.Conflicts++
				d.metrics.RecordDispatch("conflict")
				d.logger.Info("follow-up changed during dispatch", "follow_up_id", item.ID, "err", err)
				continue
			}
			errs = append(errs, fmt.Errorf("mark follow-up %s sent: %w", item.ID, err))
			continue
		}
		report.Sent++
		d.metrics.RecordDispatch("sent")
	}

	if report.Due > 0 {
		d.logger.Info("follow-up dispatch finished", "due", report.Due, "sent", report.Sent, "failed", report.Failed, "conflicts", report.Conflicts)
	}
	return report, errors.Join(errs...)
}

// Run calls RunOnce immediately and then every interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("dispatch interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("follow-up dispatch failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// FollowUpNotification renders the stakeholder message for a due entry.
func FollowUpNotification(item DueEntry) notify.Notification {
	user := strings.TrimSpace(item.UserID)
	if user == "" {
		user = "User"
	}
	date := item.DueAt.Format("2-1-2006")
	meta := map[string]string{
		"follow_up_id": item.ID,
		"kind":         string(item.Kind),
		"offset_days":  fmt.Sprint(item.OffsetDays),
	}

	var b strings.Builder
	title := "Follow-up: " + user
	switch item.Kind {
	case KindBullying:
		title = "Follow-up pesten: " + user
		conversation := ""
		if item.ConversationID != nil {
			conversation = *item.ConversationID
			meta["conversation_id"] = conversation
		}
		fmt.Fprintf(&b, "**Gesprek:** %s\n", conversation)
		fmt.Fprintf(&b, "**Gebruiker:** %s\n", user)
		fmt.Fprintf(&b, "**Geplande datum:** %s\n", date)
		b.WriteString("**Status:** Wacht op check-in\n\n")
		b.WriteString("In dit gesprek is pesten gesignaleerd. Het is tijd om te vragen hoe het nu gaat.")
	default:
		if item.ActionID != nil {
			meta["action_id"] = *item.ActionID
		}
		if item.Theme != "" {
			meta["theme"] = string(item.Theme)
		}
		fmt.Fprintf(&b, "**Actie:** %s\n", item.ActionText)
		fmt.Fprintf(&b, "**Gebruiker:** %s\n", user)
		fmt.Fprintf(&b, "**Geplande datum:** %s\n", date)
		b.WriteString("**Status:** Wacht op check-in\n\n")
		b.WriteString("Deze gebruiker heeft een actie gepland en het is tijd voor een follow-up check-in.")
	}

	return notify.Notification{
		Title:   title,
		Content: b.String(),
		UserID:  item.UserID,
		Kind:    notify.KindFollowUp,
		Meta:    meta,
	}
}
