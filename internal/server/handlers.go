package server

import (
	"strconv"
	"strings"

	"matti/backend/internal/analysis"
	"matti/backend/internal/followup"
)

type analyzeTextRequest struct {
	Text  string `json:"text"`
	Reply string `json:"reply"`
}

type analyzeConversationRequest struct {
	Messages []analysis.Message `json:"messages"`
}

type exchangeRequest struct {
	ConversationID string             `json:"conversation_id"`
	Theme          string             `json:"theme"`
	History        []analysis.Message `json:"history"`
	UserMessage    string             `json:"user_message"`
	Reply          string             `json:"reply"`
}

type createActionRequest struct {
	ActionText     string  `json:"action_text"`
	Theme          string  `json:"theme"`
	ConversationID *string `json:"conversation_id"`
}

type updateActionStatusRequest struct {
	Status string `json:"status"`
}

type followUpResponseRequest struct {
	Response string `json:"response"`
}

type outcomeSummaryRequest struct {
	SessionID            string `json:"session_id"`
	InitialProblem       string `json:"initial_problem"`
	ConversationCount    int    `json:"conversation_count"`
	DurationDays         int    `json:"duration_days"`
	Outcome              string `json:"outcome"`
	Resolution           string `json:"resolution"`
	ActionCompletionRate int    `json:"action_completion_rate"`
}

type sessionStartRequest struct {
	SessionID  string `json:"session_id"`
	Theme      string `json:"theme"`
	IsNewUser  bool   `json:"is_new_user"`
	Age        *int   `json:"age"`
	PostalCode string `json:"postal_code"`
}

type sessionEndRequest struct {
	SessionID         string `json:"session_id"`
	DurationSeconds   int    `json:"duration_seconds"`
	TotalMessages     int    `json:"total_messages"`
	SatisfactionScore *int   `json:"satisfaction_score"`
}

func optionalTrimmed(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// parseActionFilter reads the status and theme query parameters. Empty
// values do not filter.
func parseActionFilter(status, theme string) (followup.ActionFilter, error) {
	filter := followup.ActionFilter{}
	if strings.TrimSpace(status) != "" {
		parsed, err := followup.ParseActionStatus(status)
		if err != nil {
			return followup.ActionFilter{}, err
		}
		filter.Status = parsed
	}
	if strings.TrimSpace(theme) != "" {
		parsed, err := analysis.ParseThemeID(theme)
		if err != nil {
			return followup.ActionFilter{}, err
		}
		filter.Theme = parsed
	}
	return filter, nil
}

func parseAge(raw string) (int, bool) {
	age, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || age < 0 || age > 120 {
		return 0, false
	}
	return age, true
}

func displayName(user AuthUser) string {
	if user.Name != "" {
		return user.Name
	}
	return user.ID
}
