// Package analytics builds the dashboard events of a chat session and sends
// them to the analytics collector.
package analytics

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"matti/backend/internal/analysis"
)

// AppType identifies this application in the shared dashboard.
const AppType = "matti"

var ErrInvalidEvent = errors.New("invalid analytics event")

type EventType string

const (
	EventSessionStart        EventType = "SESSION_START"
	EventMessageSent         EventType = "MESSAGE_SENT"
	EventRiskDetected        EventType = "RISK_DETECTED"
	EventSessionEnd          EventType = "SESSION_END"
	EventInterventionOutcome EventType = "INTERVENTION_OUTCOME"
)

// Payload is one event's data. Fields are flattened into the request body
// next to app_type, event_type and timestamp.
type Payload interface {
	Type() EventType
	Fields() (map[string]any, error)
}

// AgeGroup buckets an age for the dashboard. Unknown or out-of-range ages
// use the whole range.
func AgeGroup(age *int) string {
	if age == nil {
		return "12-21"
	}
	switch a := *age; {
	case a >= 12 && a <= 13:
		return "12-13"
	case a >= 14 && a <= 15:
		return "14-15"
	case a >= 16 && a <= 17:
		return "16-17"
	case a >= 18 && a <= 21:
		return "18-21"
	}
	return "12-21"
}

// PostalPrefix returns the first four characters of a postal code, which
// identify the municipality area. Nil when the code is empty.
func PostalPrefix(postalCode string) *string {
	code := strings.TrimSpace(postalCode)
	if code == "" {
		return nil
	}
	if utf8.RuneCountInString(code) > 4 {
		code = string([]rune(code)[:4])
	}
	return &code
}

type SessionStart struct {
	UserID     string
	SessionID  string
	Age        *int
	PostalCode string
	IsNewUser  bool
	Theme      analysis.ThemeID
}

func (SessionStart) Type() EventType { return EventSessionStart }

func (e SessionStart) Fields() (map[string]any, error) {
	if err := requireIDs(e.UserID, e.SessionID); err != nil {
		return nil, err
	}
	fields := map[string]any{
		"userId":         e.UserID,
		"sessionId":      e.SessionID,
		"leeftijdsgroep": AgeGroup(e.Age),
		"gemeente":       PostalPrefix(e.PostalCode),
		"is_new_user":    e.IsNewUser,
		"theme":          string(e.Theme),
	}
	if e.Age != nil {
		fields["leeftijd"] = *e.Age
	}
	return fields, nil
}

type MessageSent struct {
	UserID       string
	SessionID    string
	Theme        analysis.ThemeID
	MessageCount int
	Sentiment    string
}

func (MessageSent) Type() EventType { return EventMessageSent }

func (e MessageSent) Fields() (map[string]any, error) {
	if err := requireIDs(e.UserID, e.SessionID); err != nil {
		return nil, err
	}
	fields := map[string]any{
		"userId":       e.UserID,
		"sessionId":    e.SessionID,
		"theme":        string(e.Theme),
		"messageCount": e.MessageCount,
	}
	if e.Sentiment != "" {
		fields["sentiment"] = e.Sentiment
	}
	return fields, nil
}

type RiskDetected struct {
	UserID       string
	SessionID    string
	Level        analysis.Severity
	RiskType     analysis.RiskType
	ActionTaken  string
	DetectedText string
}

func (RiskDetected) Type() EventType { return EventRiskDetected }

func (e RiskDetected) Fields() (map[string]any, error) {
	if err := requireIDs(e.UserID, e.SessionID); err != nil {
		return nil, err
	}
	if _, err := analysis.ParseSeverity(string(e.Level)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	fields := map[string]any{
		"userId":       e.UserID,
		"sessionId":    e.SessionID,
		"riskLevel":    string(e.Level),
		"riskType":     string(e.RiskType),
		"action_taken": e.ActionTaken,
	}
	if e.DetectedText != "" {
		fields["detected_text"] = e.DetectedText
	}
	return fields, nil
}

type SessionEnd struct {
	UserID            string
	SessionID         string
	DurationSeconds   int
	TotalMessages     int
	SatisfactionScore *int
}

func (SessionEnd) Type() EventType { return EventSessionEnd }

func (e SessionEnd) Fields() (map[string]any, error) {
	if err := requireIDs(e.UserID, e.SessionID); err != nil {
		return nil, err
	}
	if e.DurationSeconds < 0 || e.TotalMessages < 0 {
		return nil, fmt.Errorf("%w: duration and message count must not be negative", ErrInvalidEvent)
	}
	fields := map[string]any{
		"userId":           e.UserID,
		"sessionId":        e.SessionID,
		"duration_seconds": e.DurationSeconds,
		"total_messages":   e.TotalMessages,
	}
	if e.SatisfactionScore != nil {
		if *e.SatisfactionScore < 1 || *e.SatisfactionScore > 5 {
			return nil, fmt.Errorf("%w: satisfaction score %d outside 1-5", ErrInvalidEvent, *e.SatisfactionScore)
		}
		fields["satisfaction_score"] = *e.SatisfactionScore
	}
	return fields, nil
}

type InterventionOutcome struct {
	UserID               string
	SessionID            string
	InitialProblem       string
	ConversationCount    int
	DurationDays         int
	Outcome              analysis.OutcomeStatus
	Resolution           string
	ActionCompletionRate int
}

func (InterventionOutcome) Type() EventType { return EventInterventionOutcome }

func (e InterventionOutcome) Fields() (map[string]any, error) {
	if err := requireIDs(e.UserID, e.SessionID); err != nil {
		return nil, err
	}
	switch e.Outcome {
	case analysis.OutcomeUnresolved, analysis.OutcomeInProgress, analysis.OutcomeResolved, analysis.OutcomeEscalated:
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", ErrInvalidEvent, e.Outcome)
	}
	return map[string]any{
		"userId":                 e.UserID,
		"sessionId":              e.SessionID,
		"initial_problem":        e.InitialProblem,
		"conversation_count":     e.ConversationCount,
		"duration_days":          e.DurationDays,
		"outcome":                string(e.Outcome),
		"resolution":             e.Resolution,
		"action_completion_rate": e.ActionCompletionRate,
	}, nil
}

func requireIDs(userID, sessionID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: user and session are required", ErrInvalidEvent)
	}
	return nil
}
