package analysis

import (
	"fmt"
	"strings"
)

// DetectResolution decides whether the latest exchange says the problem is
// solved. Strong phrases count in either text; medium phrases only count
// when the user says them.
func (a *Analyzer) DetectResolution(userMessage, aiResponse string) Resolution {
	message := strings.ToLower(userMessage)
	response := strings.ToLower(aiResponse)
	for _, p := range a.outcomeStrong {
		if p.matches(message) || p.matches(response) {
			return Resolution{IsResolved: true, Confidence: ConfidenceHigh}
		}
	}
	if anyMatch(a.outcomeMedium, message) {
		return Resolution{IsResolved: true, Confidence: ConfidenceMedium}
	}
	return Resolution{IsResolved: false, Confidence: ConfidenceLow}
}

// ExtractResolution looks at the most recent messages for a user sentence
// describing how the problem was resolved. The sentence is returned in its
// original casing.
func (a *Analyzer) ExtractResolution(messages []Message) (string, bool, error) {
	if err := validateMessages(messages); err != nil {
		return "", false, err
	}
	recent := messages
	if len(recent) > a.outcomeWindow {
		recent = recent[len(recent)-a.outcomeWindow:]
	}
	for _, message := range recent {
		if message.role() != RoleUser {
			continue
		}
		lowered := strings.ToLower(message.Content)
		for _, p := range a.resolution {
			if !p.matches(lowered) {
				continue
			}
			for _, sentence := range sentenceSplitter.Split(message.Content, -1) {
				if p.matches(strings.ToLower(sentence)) {
					return strings.TrimSpace(sentence), true, nil
				}
			}
		}
	}
	return "", false, nil
}

// AssessOutcome combines the latest user message, the latest assistant
// reply and any resolution sentence into one assessment.
func (a *Analyzer) AssessOutcome(messages []Message) (OutcomeAssessment, error) {
	if err := validateMessages(messages); err != nil {
		return OutcomeAssessment{Confidence: ConfidenceLow}, err
	}
	var lastUser, lastReply string
	for idx := len(messages) - 1; idx >= 0; idx-- {
		switch messages[idx].role() {
		case RoleUser:
			if lastUser == "" {
				lastUser = messages[idx].Content
			}
		case RoleAssistant:
			if lastReply == "" {
				lastReply = messages[idx].Content
			}
		}
		if lastUser != "" && lastReply != "" {
			break
		}
	}

	resolution := a.DetectResolution(lastUser, lastReply)
	assessment := OutcomeAssessment{
		IsResolved: resolution.IsResolved,
		Confidence: resolution.Confidence,
	}
	text, found, err := a.ExtractResolution(messages)
	if err != nil {
		return assessment, err
	}
	if found {
		assessment.ResolutionText = &text
	}
	return assessment, nil
}

// OutcomeStatusFor maps an assessment to the status reported on
// intervention outcome events. A high or critical risk signal escalates.
func OutcomeStatusFor(assessment OutcomeAssessment, risk *RiskSignal) OutcomeStatus {
	switch {
	case risk != nil && risk.Level.Rank() >= SeverityHigh.Rank():
		return OutcomeEscalated
	case assessment.IsResolved:
		return OutcomeResolved
	case assessment.ResolutionText != nil:
		return OutcomeInProgress
	default:
		return OutcomeUnresolved
	}
}

// GenerateOutcomeSummary renders the one-line dashboard summary of an
// intervention. An empty resolution means the problem is still open.
func GenerateOutcomeSummary(problem string, conversationCount, durationDays int, resolution string, actionCompletionRate int) string {
	duration := fmt.Sprintf("%d dagen", durationDays)
	if durationDays == 1 {
		duration = "1 dag"
	}
	conversations := fmt.Sprintf("%d gesprekken", conversationCount)
	if conversationCount == 1 {
		conversations = "1 gesprek"
	}
	if strings.TrimSpace(resolution) != "" {
		return fmt.Sprintf("%s - Na %s (%s) opgelost - %s - %d%% acties voltooid",
			problem, conversations, duration, resolution, actionCompletionRate)
	}
	return fmt.Sprintf("%s - %s (%s) - %d%% acties voltooid - Nog bezig",
		problem, conversations, duration, actionCompletionRate)
}
