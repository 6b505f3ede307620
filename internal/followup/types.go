// Package followup schedules and tracks check-ins for actions the assistant
// suggested and for conversations where bullying was detected.
package followup

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"matti/backend/internal/analysis"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidAction     = errors.New("invalid action")
)

// ActionOffsets are the check-in days after an action is saved.
var ActionOffsets = []int{2, 4, 7, 10, 14, 21}

const BullyingOffset = 3

type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionCompleted ActionStatus = "completed"
	ActionCancelled ActionStatus = "cancelled"
)

func ParseActionStatus(raw string) (ActionStatus, error) {
	status := ActionStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case ActionPending, ActionCompleted, ActionCancelled:
		return status, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidAction, raw)
}

// closes reports whether moving to status ends the follow-up plan.
func (s ActionStatus) closes() bool {
	return s == ActionCompleted || s == ActionCancelled
}

type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntrySent      EntryStatus = "sent"
	EntryResponded EntryStatus = "responded"
	EntrySkipped   EntryStatus = "skipped"
)

type Kind string

const (
	KindAction   Kind = "action"
	KindBullying Kind = "bullying"
)

type Action struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	ConversationID *string          `json:"conversation_id"`
	Theme          analysis.ThemeID `json:"theme"`
	Text           string           `json:"text"`
	Status         ActionStatus     `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	CompletedAt    *time.Time       `json:"completed_at"`
}

// NewAction is the input for saving a detected action.
type NewAction struct {
	UserID         string
	UserName       string
	ConversationID *string
	Theme          analysis.ThemeID
	Text           string
}

type Entry struct {
	ID             string      `json:"id"`
	Kind           Kind        `json:"kind"`
	ActionID       *string     `json:"action_id"`
	ConversationID *string     `json:"conversation_id"`
	UserID         string      `json:"user_id"`
	OffsetDays     int         `json:"offset_days"`
	DueAt          time.Time   `json:"due_at"`
	Status         EntryStatus `json:"status"`
	NotifiedAt     *time.Time  `json:"notified_at"`
	Response       *string     `json:"response"`
	RespondedAt    *time.Time  `json:"responded_at"`
	CreatedAt      time.Time   `json:"created_at"`
}

// DueEntry is a pending entry joined with what a notification needs.
type DueEntry struct {
	Entry
	ActionText string
	Theme      analysis.ThemeID
}

type ActionFilter struct {
	Status ActionStatus
	Theme  analysis.ThemeID
}

type Stats struct {
	Total          int `json:"total"`
	Pending        int `json:"pending"`
	Completed      int `json:"completed"`
	Cancelled      int `json:"cancelled"`
	CompletionRate int `json:"completion_rate"`
}

// ComputeStats counts actions per status. The completion rate is a rounded
// percentage of all actions.
func ComputeStats(actions []Action) Stats {
	stats := Stats{Total: len(actions)}
	for _, action := range actions {
		switch action.Status {
		case ActionPending:
			stats.Pending++
		case ActionCompleted:
			stats.Completed++
		case ActionCancelled:
			stats.Cancelled++
		}
	}
	if stats.Total > 0 {
		stats.CompletionRate = int(math.Round(float64(stats.Completed) / float64(stats.Total) * 100))
	}
	return stats
}

// PlanActionEntries builds one pending entry per offset, due relative to
// the action's creation time so a retry produces identical rows.
func PlanActionEntries(action Action, newID func() string) []Entry {
	entries := make([]Entry, 0, len(ActionOffsets))
	actionID := action.ID
	for _, offset := range ActionOffsets {
		entries = append(entries, Entry{
			ID:             newID(),
			Kind:           KindAction,
			ActionID:       &actionID,
			ConversationID: action.ConversationID,
			UserID:         action.UserID,
			OffsetDays:     offset,
			DueAt:          action.CreatedAt.AddDate(0, 0, offset),
			Status:         EntryPending,
			CreatedAt:      action.CreatedAt,
		})
	}
	return entries
}

func PlanBullyingEntry(userID, conversationID string, now time.Time, newID func() string) Entry {
	return Entry{
		ID:             newID(),
		Kind:           KindBullying,
		ConversationID: &conversationID,
		UserID:         userID,
		OffsetDays:     BullyingOffset,
		DueAt:          now.AddDate(0, 0, BullyingOffset),
		Status:         EntryPending,
		CreatedAt:      now,
	}
}
