package followup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"matti/backend/internal/analysis"
	"matti/backend/internal/metrics"
	"matti/backend/internal/notify"
)

type Scheduler struct {
	store    Store
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *log.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithIDs(newID func() string) Option {
	return func(s *Scheduler) { s.newID = newID }
}

// WithNotifier makes SaveAction announce new actions. Delivery failures are
// logged only.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func NewScheduler(store Store, logger *log.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveAction stores a detected action together with its six check-ins.
func (s *Scheduler) SaveAction(ctx context.Context, in NewAction) (Action, []Entry, error) {
	userID := strings.TrimSpace(in.UserID)
	text := strings.TrimSpace(in.Text)
	if userID == "" {
		return Action{}, nil, fmt.Errorf("%w: user is required", ErrInvalidAction)
	}
	if text == "" {
		return Action{}, nil, fmt.Errorf("%w: action text is required", ErrInvalidAction)
	}
	theme, err := analysis.ParseThemeID(string(in.Theme))
	if err != nil {
		return Action{}, nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}

	now := s.now().UTC()
	action := Action{
		ID:             s.newID(),
		UserID:         userID,
		ConversationID: in.ConversationID,
		Theme:          theme,
		Text:           text,
		Status:         ActionPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	entries := PlanActionEntries(action, s.newID)
	if err := s.store.CreateAction(ctx, action, entries); err != nil {
		return Action{}, nil, fmt.Errorf("save action: %w", err)
	}
	s.metrics.RecordScheduled(string(KindAction), len(entries))
	s.logger.Info("action saved", "action_id", action.ID, "user_id", userID, "theme", theme, "follow_ups", len(entries))

	s.announce(ctx, in, action)
	return action, entries, nil
}

func (s *Scheduler) announce(ctx context.Context, in NewAction, action Action) {
	if s.notifier == nil {
		return
	}
	name := strings.TrimSpace(in.UserName)
	if name == "" {
		name = action.UserID
	}
	err := s.notifier.Notify(ctx, notify.Notification{
		Title:   "Nieuwe actie gedetecteerd",
		Content: fmt.Sprintf("Gebruiker %s heeft een actie: %q (thema: %s)", name, action.Text, action.Theme),
		UserID:  action.UserID,
		Kind:    notify.KindNewAction,
		Meta:    map[string]string{"action_id": action.ID, "theme": string(action.Theme)},
	})
	s.metrics.RecordNotification(notify.KindNewAction, err)
	if err != nil {
		s.logger.Warn("new action notification failed", "action_id", action.ID, "err", err)
	}
}

// ScheduleActionFollowUps writes any check-ins of the action that are
// missing. It is the retry path after a partially failed SaveAction and
// returns the number of entries written.
func (s *Scheduler) ScheduleActionFollowUps(ctx context.Context, actionID string) (int, error) {
	action, err := s.store.GetAction(ctx, actionID)
	if err != nil {
		return 0, err
	}
	if action.Status.closes() {
		return 0, fmt.Errorf("%w: action %s is %s", ErrInvalidTransition, actionID, action.Status)
	}
	inserted, err := s.store.InsertActionEntries(ctx, PlanActionEntries(action, s.newID))
	if err != nil {
		return inserted, fmt.Errorf("schedule follow-ups for %s: %w", actionID, err)
	}
	s.metrics.RecordScheduled(string(KindAction), inserted)
	return inserted, nil
}

// ScheduleBullyingFollowUp plans the single bullying check-in of a
// conversation. The bool is false when the conversation already had one.
func (s *Scheduler) ScheduleBullyingFollowUp(ctx context.Context, userID, conversationID string) (Entry, bool, error) {
	userID = strings.TrimSpace(userID)
	conversationID = strings.TrimSpace(conversationID)
	if userID == "" || conversationID == "" {
		return Entry{}, false, fmt.Errorf("%w: user and conversation are required", ErrInvalidAction)
	}
	entry := PlanBullyingEntry(userID, conversationID, s.now().UTC(), s.newID)
	created, err := s.store.InsertBullyingEntry(ctx, entry)
	if err != nil {
		return Entry{}, false, fmt.Errorf("schedule bullying follow-up: %w", err)
	}
	if !created {
		return Entry{}, false, nil
	}
	s.metrics.RecordScheduled(string(KindBullying), 1)
	s.logger.Info("bullying follow-up scheduled", "conversation_id", conversationID, "due_at", entry.DueAt)
	return entry, true, nil
}

// UpdateActionStatus moves an action owned by userID to status. Completing
// or cancelling skips its pending check-ins; a closed action stays closed.
func (s *Scheduler) UpdateActionStatus(ctx context.Context, userID, actionID string, status ActionStatus) (Action, int, error) {
	action, err := s.ownedAction(ctx, userID, actionID)
	if err != nil {
		return Action{}, 0, err
	}
	if action.Status == status {
		return action, 0, nil
	}
	if action.Status.closes() {
		return Action{}, 0, fmt.Errorf("%w: action %s is already %s", ErrInvalidTransition, actionID, action.Status)
	}
	updated, skipped, err := s.store.UpdateActionStatus(ctx, actionID, status, s.now().UTC())
	if err != nil {
		return Action{}, 0, fmt.Errorf("update action status: %w", err)
	}
	s.logger.Info("action status updated", "action_id", actionID, "status", status, "skipped", skipped)
	return updated, skipped, nil
}

// RecordResponse stores the user's reply to a sent check-in.
func (s *Scheduler) RecordResponse(ctx context.Context, userID, entryID, response string) (Entry, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	if entry.UserID != userID {
		return Entry{}, fmt.Errorf("follow-up %s: %w", entryID, ErrNotFound)
	}
	return s.store.MarkResponded(ctx, entryID, strings.TrimSpace(response), s.now().UTC())
}

func (s *Scheduler) ListActions(ctx context.Context, userID string, filter ActionFilter) ([]Action, error) {
	return s.store.ListActions(ctx, userID, filter)
}

func (s *Scheduler) ActionStats(ctx context.Context, userID string) (Stats, error) {
	actions, err := s.store.ListActions(ctx, userID, ActionFilter{})
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(actions), nil
}

// ListFollowUps returns the check-ins of an action owned by userID.
func (s *Scheduler) ListFollowUps(ctx context.Context, userID, actionID string) ([]Entry, error) {
	if _, err := s.ownedAction(ctx, userID, actionID); err != nil {
		return nil, err
	}
	return s.store.ListEntries(ctx, actionID)
}

func (s *Scheduler) PendingFollowUps(ctx context.Context, userID string) ([]Entry, error) {
	return s.store.ListPendingForUser(ctx, userID)
}

func (s *Scheduler) ownedAction(ctx context.Context, userID, actionID string) (Action, error) {
	action, err := s.store.GetAction(ctx, actionID)
	if err != nil {
		return Action{}, err
	}
	// Someone else's action is reported as missing.
	if action.UserID != userID {
		return Action{}, fmt.Errorf("action %s: %w", actionID, ErrNotFound)
	}
	return action, nil
}
