// Package pipeline runs the detectors over one chat exchange and applies
// their side effects: follow-up scheduling, crisis notifications and
// analytics events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"matti/backend/internal/analysis"
	"matti/backend/internal/analytics"
	"matti/backend/internal/followup"
	"matti/backend/internal/metrics"
	"matti/backend/internal/notify"
)

var ErrInvalidExchange = errors.New("invalid exchange")

// Exchange is one user message and the assistant's reply to it. Theme is
// the topic the user picked; when empty the detected conversation theme is
// used.
type Exchange struct {
	UserID         string             `json:"user_id"`
	UserName       string             `json:"user_name"`
	ConversationID string             `json:"conversation_id"`
	Theme          analysis.ThemeID   `json:"theme"`
	History        []analysis.Message `json:"history"`
	UserMessage    string             `json:"user_message"`
	Reply          string             `json:"reply"`
}

type Result struct {
	Risk              *analysis.RiskSignal         `json:"risk"`
	CrisisResponse    bool                         `json:"crisis_response"`
	Bullying          analysis.BullyingAssessment  `json:"bullying"`
	MessageTheme      analysis.ThemeClassification `json:"message_theme"`
	ConversationTheme analysis.ThemeClassification `json:"conversation_theme"`
	Intervention      analysis.Intervention        `json:"intervention"`
	Action            *analysis.DetectedAction     `json:"action"`
	CleanReply        string                       `json:"clean_reply"`
	SavedAction       *followup.Action             `json:"saved_action,omitempty"`
	FollowUps         []followup.Entry             `json:"follow_ups,omitempty"`
	BullyingFollowUp  *followup.Entry              `json:"bullying_follow_up,omitempty"`
	Outcome           analysis.OutcomeAssessment   `json:"outcome"`
	OutcomeStatus     analysis.OutcomeStatus       `json:"outcome_status"`
}

// Config wires the optional collaborators. A nil Scheduler disables
// persistence; nil Notifier and Analytics disable those side effects.
type Config struct {
	Scheduler *followup.Scheduler
	Notifier  notify.Notifier
	Analytics *analytics.Publisher
	Metrics   *metrics.Metrics
}

type Pipeline struct {
	analyzer  *analysis.Analyzer
	scheduler *followup.Scheduler
	notifier  notify.Notifier
	analytics *analytics.Publisher
	metrics   *metrics.Metrics
	logger    *log.Logger
}

func New(analyzer *analysis.Analyzer, logger *log.Logger, cfg Config) *Pipeline {
	return &Pipeline{
		analyzer:  analyzer,
		scheduler: cfg.Scheduler,
		notifier:  cfg.Notifier,
		analytics: cfg.Analytics,
		metrics:   cfg.Metrics,
		logger:    logger,
	}
}

// ProcessExchange classifies the exchange and applies its side effects.
// Safety detectors always run first. Notification and analytics failures
// are logged; follow-up storage failures are returned together with the
// classification computed so far.
func (p *Pipeline) ProcessExchange(ctx context.Context, ex Exchange) (Result, error) {
	if strings.TrimSpace(ex.UserID) == "" {
		return Result{}, fmt.Errorf("%w: user is required", ErrInvalidExchange)
	}
	if strings.TrimSpace(ex.UserMessage) == "" {
		return Result{}, fmt.Errorf("%w: user message is required", ErrInvalidExchange)
	}
	messages := conversation(ex)

	var res Result
	var err error
	res.Risk = p.analyzer.DetectRisk(ex.UserMessage)
	res.CrisisResponse = p.analyzer.DetectCrisisResponse(ex.Reply)
	if res.Bullying, err = p.analyzer.AssessBullying(messages); err != nil {
		return Result{}, err
	}
	p.recordSafety(res)

	res.MessageTheme = p.analyzer.DetectTheme(ex.UserMessage)
	if res.ConversationTheme, err = p.analyzer.DetectConversationTheme(messages); err != nil {
		return Result{}, err
	}
	theme := ex.Theme
	if theme == "" {
		theme = res.ConversationTheme.Theme
	} else if theme, err = analysis.ParseThemeID(string(theme)); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidExchange, err)
	}
	res.Intervention = p.analyzer.InterventionApproach(theme, interventionSeverity(res))
	p.metrics.RecordDetection("theme", string(res.MessageTheme.Theme))

	res.Action = p.analyzer.DetectActionIntelligent(ex.Reply)
	res.CleanReply = ex.Reply
	if res.Action != nil {
		res.CleanReply = res.Action.CleanResponse
		p.metrics.RecordDetection("action", string(res.Action.Source))
	}

	if res.Outcome, err = p.analyzer.AssessOutcome(messages); err != nil {
		return Result{}, err
	}
	res.OutcomeStatus = analysis.OutcomeStatusFor(res.Outcome, res.Risk)

	p.alertCrisis(ctx, ex, res)
	p.publish(ctx, ex, theme, len(messages), res)

	return res, p.schedule(ctx, ex, theme, &res)
}

func (p *Pipeline) recordSafety(res Result) {
	riskLabel := "none"
	if res.Risk != nil {
		riskLabel = string(res.Risk.Type)
	}
	p.metrics.RecordDetection("risk", riskLabel)
	if res.CrisisResponse {
		p.metrics.RecordDetection("crisis_response", "referral")
	}
	if res.Bullying.Detected {
		p.metrics.RecordDetection("bullying", string(res.Bullying.Severity))
	}
}

// interventionSeverity is the stronger of the theme severity and the risk
// level of the user message.
func interventionSeverity(res Result) analysis.Severity {
	severity := res.MessageTheme.Severity
	if res.Risk != nil && res.Risk.Level.Rank() > severity.Rank() {
		severity = res.Risk.Level
	}
	return severity
}

func (p *Pipeline) alertCrisis(ctx context.Context, ex Exchange, res Result) {
	if res.Risk == nil || res.Risk.Level != analysis.SeverityCritical {
		return
	}
	p.logger.Warn("critical risk detected", "user_id", ex.UserID, "conversation_id", ex.ConversationID, "type", res.Risk.Type)
	if p.notifier == nil {
		return
	}
	name := strings.TrimSpace(ex.UserName)
	if name == "" {
		name = ex.UserID
	}
	content := fmt.Sprintf("Gebruiker %s: %s (%s). Trefwoorden: %s",
		name, res.Risk.RecommendedAction, res.Risk.Type, strings.Join(res.Risk.MatchedKeywords, ", "))
	err := p.notifier.Notify(ctx, notify.Notification{
		Title:   "Crisissignaal gedetecteerd",
		Content: content,
		UserID:  ex.UserID,
		Kind:    notify.KindCrisis,
		Meta: map[string]string{
			"risk_type":       string(res.Risk.Type),
			"risk_level":      string(res.Risk.Level),
			"conversation_id": ex.ConversationID,
		},
	})
	p.metrics.RecordNotification(notify.KindCrisis, err)
	if err != nil {
		p.logger.Error("crisis notification failed", "user_id", ex.UserID, "err", err)
	}
}

func (p *Pipeline) publish(ctx context.Context, ex Exchange, theme analysis.ThemeID, messageCount int, res Result) {
	if !p.analytics.Enabled() || ex.ConversationID == "" {
		return
	}
	events := []analytics.Payload{analytics.MessageSent{
		UserID:       ex.UserID,
		SessionID:    ex.ConversationID,
		Theme:        theme,
		MessageCount: messageCount,
	}}
	if res.Risk != nil {
		events = append(events, analytics.RiskDetected{
			UserID:      ex.UserID,
			SessionID:   ex.ConversationID,
			Level:       res.Risk.Level,
			RiskType:    res.Risk.Type,
			ActionTaken: res.Risk.RecommendedAction,
		})
	}
	for _, event := range events {
		if err := p.analytics.Publish(ctx, event); err != nil {
			p.logger.Warn("analytics event rejected", "event_type", event.Type(), "err", err)
		}
	}
}

func (p *Pipeline) schedule(ctx context.Context, ex Exchange, theme analysis.ThemeID, res *Result) error {
	if p.scheduler == nil {
		return nil
	}
	var conversationID *string
	if ex.ConversationID != "" {
		id := ex.ConversationID
		conversationID = &id
	}

	if res.Action != nil {
		action, entries, err := p.scheduler.SaveAction(ctx, followup.NewAction{
			UserID:         ex.UserID,
			UserName:       ex.UserName,
			ConversationID: conversationID,
			Theme:          theme,
			Text:           res.Action.ActionText,
		})
		if err != nil {
			return fmt.Errorf("persist detected action: %w", err)
		}
		res.SavedAction = &action
		res.FollowUps = entries
	}

	if res.Bullying.Detected && conversationID != nil {
		entry, created, err := p.scheduler.ScheduleBullyingFollowUp(ctx, ex.UserID, *conversationID)
		if err != nil {
			return fmt.Errorf("schedule bullying follow-up: %w", err)
		}
		if created {
			res.BullyingFollowUp = &entry
		}
	}
	return nil
}

// conversation is the history followed by the current exchange.
func conversation(ex Exchange) []analysis.Message {
	messages := make([]analysis.Message, 0, len(ex.History)+2)
	messages = append(messages, ex.History...)
	messages = append(messages, analysis.Message{Role: analysis.RoleUser, Content: ex.UserMessage})
	if strings.TrimSpace(ex.Reply) != "" {
		messages = append(messages, analysis.Message{Role: analysis.RoleAssistant, Content: ex.Reply})
	}
	return messages
}
