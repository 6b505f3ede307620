package analysis

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidInput marks a caller contract violation, such as a nil message
// list or a message with an unknown role.
var ErrInvalidInput = errors.New("invalid input")

type ThemeID string

const (
	ThemeGeneral  ThemeID = "general"
	ThemeSchool   ThemeID = "school"
	ThemeFriends  ThemeID = "friends"
	ThemeHome     ThemeID = "home"
	ThemeFeelings ThemeID = "feelings"
	ThemeLove     ThemeID = "love"
	ThemeFreetime ThemeID = "freetime"
	ThemeFuture   ThemeID = "future"
	ThemeSelf     ThemeID = "self"
)

// themeScoringOrder breaks ties: an earlier theme keeps the lead on equal
// scores, so general only wins outright.
var themeScoringOrder = [...]ThemeID{
	ThemeSchool,
	ThemeFriends,
	ThemeHome,
	ThemeFeelings,
	ThemeLove,
	ThemeFreetime,
	ThemeFuture,
	ThemeSelf,
	ThemeGeneral,
}

// AllThemes lists the theme ids in the order the app presents them.
func AllThemes() []ThemeID {
	return []ThemeID{
		ThemeGeneral,
		ThemeSchool,
		ThemeFriends,
		ThemeHome,
		ThemeFeelings,
		ThemeLove,
		ThemeFreetime,
		ThemeFuture,
		ThemeSelf,
	}
}

func (t ThemeID) Valid() bool {
	for _, id := range themeScoringOrder {
		if id == t {
			return true
		}
	}
	return false
}

func ParseThemeID(raw string) (ThemeID, error) {
	id := ThemeID(strings.ToLower(strings.TrimSpace(raw)))
	if !id.Valid() {
		return "", fmt.Errorf("%w: unknown theme %q", ErrInvalidInput, raw)
	}
	return id, nil
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

func ParseSeverity(raw string) (Severity, error) {
	severity := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if severity.Rank() == 0 {
		return "", fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, raw)
	}
	return severity, nil
}

type RiskType string

const (
	RiskSuicidality RiskType = "suicidality"
	RiskSelfHarm    RiskType = "self_harm"
	RiskAbuse       RiskType = "abuse"
	RiskOther       RiskType = "other"
)

// riskPriority is the evaluation order of risk categories.
var riskPriority = map[RiskType]int{
	RiskSuicidality: 0,
	RiskSelfHarm:    1,
	RiskAbuse:       2,
	RiskOther:       3,
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

func (m Message) role() string {
	return strings.ToLower(strings.TrimSpace(m.Role))
}

type RiskSignal struct {
	Detected          bool     `json:"detected"`
	Level             Severity `json:"level"`
	Type              RiskType `json:"type"`
	Confidence        float64  `json:"confidence"`
	MatchedKeywords   []string `json:"matched_keywords"`
	RecommendedAction string   `json:"recommended_action"`
}

type BullyingAssessment struct {
	Detected bool     `json:"detected"`
	Severity Severity `json:"severity"`
}

type ThemeClassification struct {
	Theme                ThemeID  `json:"theme"`
	Confidence           float64  `json:"confidence"`
	Severity             Severity `json:"severity"`
	MatchedKeywords      []string `json:"matched_keywords"`
	RequiresIntervention bool     `json:"requires_intervention"`
}

type Intervention struct {
	FollowUpDays     int  `json:"follow_up_days"`
	ActionRequired   bool `json:"action_required"`
	EscalationNeeded bool `json:"escalation_needed"`
}

type ActionSource string

const (
	ActionSourceTag       ActionSource = "tag"
	ActionSourceHeuristic ActionSource = "heuristic"
)

type DetectedAction struct {
	ActionText    string       `json:"action_text"`
	CleanResponse string       `json:"clean_response"`
	Source        ActionSource `json:"source"`
}

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

type Resolution struct {
	IsResolved bool       `json:"is_resolved"`
	Confidence Confidence `json:"confidence"`
}

type OutcomeAssessment struct {
	IsResolved     bool       `json:"is_resolved"`
	Confidence     Confidence `json:"confidence"`
	ResolutionText *string    `json:"resolution_text"`
}

type OutcomeStatus string

const (
	OutcomeUnresolved OutcomeStatus = "unresolved"
	OutcomeInProgress OutcomeStatus = "in_progress"
	OutcomeResolved   OutcomeStatus = "resolved"
	OutcomeEscalated  OutcomeStatus = "escalated"
)

func validateMessages(messages []Message) error {
	if messages == nil {
		return fmt.Errorf("%w: message list is nil", ErrInvalidInput)
	}
	for idx, message := range messages {
		switch message.role() {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			return fmt.Errorf("%w: message %d has unknown role %q", ErrInvalidInput, idx, message.Role)
		}
	}
	return nil
}

// userText joins the lower-cased content of every user message.
func userText(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, message := range messages {
		if message.role() != RoleUser {
			continue
		}
		parts = append(parts, strings.ToLower(message.Content))
	}
	return strings.Join(parts, " ")
}
