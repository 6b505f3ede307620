package analysis

import "strings"

// DetectBullying reports whether any user message in the conversation uses
// bullying vocabulary. Assistant and system messages are ignored.
func (a *Analyzer) DetectBullying(messages []Message) (bool, error) {
	if err := validateMessages(messages); err != nil {
		return false, err
	}
	text := userText(messages)
	if strings.TrimSpace(text) == "" {
		return false, nil
	}
	return anyMatch(a.bullying, text), nil
}

// BullyingSeverity grades the user messages: high-severity vocabulary wins,
// then medium, otherwise low. It returns low even when no bullying was
// detected, so callers should check DetectBullying first.
func (a *Analyzer) BullyingSeverity(messages []Message) (Severity, error) {
	if err := validateMessages(messages); err != nil {
		return SeverityLow, err
	}
	return a.bullyingSeverity(userText(messages)), nil
}

func (a *Analyzer) bullyingSeverity(text string) Severity {
	switch {
	case strings.TrimSpace(text) == "":
		return SeverityLow
	case anyMatch(a.bullyingHigh, text):
		return SeverityHigh
	case anyMatch(a.bullyingMedium, text):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AssessBullying combines detection and severity in one pass. Severity is
// only graded when bullying was detected.
func (a *Analyzer) AssessBullying(messages []Message) (BullyingAssessment, error) {
	if err := validateMessages(messages); err != nil {
		return BullyingAssessment{Severity: SeverityLow}, err
	}
	text := userText(messages)
	if strings.TrimSpace(text) == "" || !anyMatch(a.bullying, text) {
		return BullyingAssessment{Severity: SeverityLow}, nil
	}
	return BullyingAssessment{Detected: true, Severity: a.bullyingSeverity(text)}, nil
}
