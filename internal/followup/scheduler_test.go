package followup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matti/backend/internal/analysis"
	"matti/backend/internal/logging"
	"matti/backend/internal/notify"
)

var baseTime = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%02d", n)
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	fail error
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) Sent() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.sent...)
}

func newTestScheduler(t *testing.T, opts ...Option) (*Scheduler, *MemoryStore, *clock) {
	t.Helper()
	store := NewMemoryStore()
	clk := &clock{now: baseTime}
	opts = append([]Option{WithClock(clk.Now), WithIDs(sequentialIDs())}, opts...)
	return NewScheduler(store, logging.Discard(), opts...), store, clk
}

func TestSaveActionPlansSixCheckIns(t *testing.T) {
	scheduler, store, _ := newTestScheduler(t)
	ctx := context.Background()

	action, entries, err := scheduler.SaveAction(ctx, NewAction{
		UserID: "user-1",
		Theme:  analysis.ThemeSchool,
		Text:   "  Ik ga morgen met mijn mentor praten  ",
	})
	require.NoError(t, err)

	assert.Equal(t, "Ik ga morgen met mijn mentor praten", action.Text)
	assert.Equal(t, ActionPending, action.Status)
	require.Len(t, entries, len(ActionOffsets))
	for i, entry := range entries {
		assert.Equal(t, ActionOffsets[i], entry.OffsetDays)
		assert.Equal(t, baseTime.AddDate(0, 0, ActionOffsets[i]), entry.DueAt)
		assert.Equal(t, EntryPending, entry.Status)
		require.NotNil(t, entry.ActionID)
		assert.Equal(t, action.ID, *entry.ActionID)
	}

	stored, err := store.ListEntries(ctx, action.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 6)
}

func TestSaveActionRejectsInvalidInput(t *testing.T) {
	scheduler, _, _ := newTestScheduler(t)
	ctx := context.Background()

	cases := []NewAction{
		{UserID: "", Theme: analysis.ThemeSchool, Text: "iets doen"},
		{UserID: "user-1", Theme: analysis.ThemeSchool, Text: "   "},
		{UserID: "user-1", Theme: "sport", Text: "iets doen"},
	}
	for _, in := range cases {
		_, _, err := scheduler.SaveAction(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidAction, "input %+v", in)
	}
}

func TestSaveActionAnnouncesBestEffort(t *testing.T) {
	notifier := &recordingNotifier{}
	scheduler, _, _ := newTestScheduler(t, WithNotifier(notifier))

	_, _, err := scheduler.SaveAction(context.Background(), NewAction{
		UserID:   "user-1",
		UserName: "Sam",
		Theme:    analysis.ThemeFriends,
		Text:     "Ik ga het uitpraten",
	})
	require.NoError(t, err)

	sent := notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Nieuwe actie gedetecteerd", sent[0].Title)
	assert.Equal(t, `Gebruiker Sam heeft een actie: "Ik ga het uitpraten" (thema: friends)`, sent[0].Content)

	failing := &recordingNotifier{fail: errors.New("webhook down")}
	scheduler, _, _ = newTestScheduler(t, WithNotifier(failing))
	_, entries, err := scheduler.SaveAction(context.Background(), NewAction{
		UserID: "user-1",
		Theme:  analysis.ThemeFriends,
		Text:   "Ik ga het uitpraten",
	})
	require.NoError(t, err)
	assert.Len(t, entries, 6)
}

func TestScheduleActionFollowUpsIsIdempotent(t *testing.T) {
	scheduler, store, _ := newTestScheduler(t)
	ctx := context.Background()

	action, _, err := scheduler.SaveAction(ctx, NewAction{UserID: "user-1", Theme: analysis.ThemeHome, Text: "Ik ga het mijn moeder vertellen"})
	require.NoError(t, err)

	inserted, err := scheduler.ScheduleActionFollowUps(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	entries, err := store.ListEntries(ctx, action.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 6)

	_, err = scheduler.ScheduleActionFollowUps(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScheduleActionFollowUpsRepairsPartialWrite(t *testing.T) {
	scheduler, store, _ := newTestScheduler(t)
	ctx := context.Background()

	action := Action{ID: "act-1", UserID: "user-1", Theme: analysis.ThemeSelf, Text: "Ik ga wandelen", Status: ActionPending, CreatedAt: baseTime}
	partial := PlanActionEntries(action, sequentialIDs())[:2]
	require.NoError(t, store.CreateAction(ctx, action, partial))

	inserted, err := scheduler.ScheduleActionFollowUps(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, inserted)

	entries, err := store.ListEntries(ctx, action.ID)
	require.NoError(t, err)
	require.Len(t, entries, 6)
	assert.Equal(t, baseTime.AddDate(0, 0, 21), entries[5].DueAt)
}

func TestScheduleBullyingFollowUpOncePerConversation(t *testing.T) {
	scheduler, store, _ := newTestScheduler(t)
	ctx := context.Background()

	entry, created, err := scheduler.ScheduleBullyingFollowUp(ctx, "user-1", "conv-1")
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, KindBullying, entry.Kind)
	assert.Equal(t, baseTime.AddDate(0, 0, BullyingOffset), entry.DueAt)

	_, created, err = scheduler.ScheduleBullyingFollowUp(ctx, "user-1", "conv-1")
	require.NoError(t, err)
	assert.False(t, created)

	_, created, err = scheduler.ScheduleBullyingFollowUp(ctx, "user-1", "conv-2")
	require.NoError(t, err)
	assert.True(t, created)

	pending, err := store.ListPendingForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	_, _, err = scheduler.ScheduleBullyingFollowUp(ctx, "user-1", " ")
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestCompletingActionSkipsOnlyPendingEntries(t *testing.T) {
	scheduler, store, clk := newTestScheduler(t)
	ctx := context.Background()

	action, entries, err := scheduler.SaveAction(ctx, NewAction{UserID: "user-1", Theme: analysis.ThemeSchool, Text: "Ik ga mijn huiswerk plannen"})
	require.NoError(t, err)

	clk.Advance(2 * 24 * time.Hour)
	require.NoError(t, store.MarkSent(ctx, entries[0].ID, clk.Now()))

	updated, skipped, err := scheduler.UpdateActionStatus(ctx, "user-1", action.ID, ActionCompleted)
	require.NoError(t, err)
	assert.Equal(t, 5, skipped)
	assert.Equal(t, ActionCompleted, updated.Status)
	require.NotNil(t, updated.CompletedAt)

	stored, err := store.ListEntries(ctx, action.ID)
	require.NoError(t, err)
	counts := map[EntryStatus]int{}
	for _, entry := range stored {
		counts[entry.Status]++
	}
	assert.Equal(t, map[EntryStatus]int{EntrySent: 1, EntrySkipped: 5}, counts)
}

func TestUpdateActionStatusTransitions(t *testing.T) {
	scheduler, _, _ := newTestScheduler(t)
	ctx := context.Background()

	action, _, err := scheduler.SaveAction(ctx, NewAction{UserID: "user-1", Theme: analysis.ThemeLove, Text: "Ik ga het zeggen"})
	require.NoError(t, err)

	_, _, err = scheduler.UpdateActionStatus(ctx, "user-2", action.ID, ActionCompleted)
	assert.ErrorIs(t, err, ErrNotFound)

	same, skipped, err := scheduler.UpdateActionStatus(ctx, "user-1", action.ID, ActionPending)
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, ActionPending, same.Status)

	_, skipped, err = scheduler.UpdateActionStatus(ctx, "user-1", action.ID, ActionCancelled)
	require.NoError(t, err)
	assert.Equal(t, 6, skipped)

	_, _, err = scheduler.UpdateActionStatus(ctx, "user-1", action.ID, ActionPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = scheduler.ScheduleActionFollowUps(ctx, action.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRecordResponseRequiresSentEntry(t *testing.T) {
	scheduler, store, clk := newTestScheduler(t)
	ctx := context.Background()

	_, entries, err := scheduler.SaveAction(ctx, NewAction{UserID: "user-1", Theme: analysis.ThemeFeelings, Text: "Ik ga een dagboek bijhouden"})
	require.NoError(t, err)

	_, err = scheduler.RecordResponse(ctx, "user-1", entries[0].ID, "gaat goed")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, store.MarkSent(ctx, entries[0].ID, clk.Now()))

	_, err = scheduler.RecordResponse(ctx, "user-2", entries[0].ID, "gaat goed")
	assert.ErrorIs(t, err, ErrNotFound)

	entry, err := scheduler.RecordResponse(ctx, "user-1", entries[0].ID, " gaat goed ")
	require.NoError(t, err)
	assert.Equal(t, EntryResponded, entry.Status)
	require.NotNil(t, entry.Response)
	assert.Equal(t, "gaat goed", *entry.Response)
}

func TestActionStatsAndFilters(t *testing.T) {
	scheduler, _, clk := newTestScheduler(t)
	ctx := context.Background()

	var ids []string
	for _, theme := range []analysis.ThemeID{analysis.ThemeSchool, analysis.ThemeSchool, analysis.ThemeHome} {
		action, _, err := scheduler.SaveAction(ctx, NewAction{UserID: "user-1", Theme: theme, Text: "Ik ga iets proberen"})
		require.NoError(t, err)
		ids = append(ids, action.ID)
		clk.Advance(time.Minute)
	}
	_, _, err := scheduler.UpdateActionStatus(ctx, "user-1", ids[0], ActionCompleted)
	require.NoError(t, err)

	stats, err := scheduler.ActionStats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Pending: 2, Completed: 1, CompletionRate: 33}, stats)

	school, err := scheduler.ListActions(ctx, "user-1", ActionFilter{Theme: analysis.ThemeSchool})
	require.NoError(t, err)
	require.Len(t, school, 2)
	assert.Equal(t, ids[1], school[0].ID)

	done, err := scheduler.ListActions(ctx, "user-1", ActionFilter{Status: ActionCompleted})
	require.NoError(t, err)
	require.Len(t, done, 1)

	_, err = scheduler.ListFollowUps(ctx, "user-2", ids[0])
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestComputeStatsEmpty(t *testing.T) {
	assert.Equal(t, Stats{}, ComputeStats(nil))
}

func TestParseActionStatus(t *testing.T) {
	status, err := ParseActionStatus(" Completed ")
	require.NoError(t, err)
	assert.Equal(t, ActionCompleted, status)

	_, err = ParseActionStatus("done")
	assert.ErrorIs(t, err, ErrInvalidAction)
}
