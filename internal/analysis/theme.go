package analysis

import "strings"

type themeScore struct {
	theme   ThemeID
	score   float64
	matched []string
}

// scoreThemes weighs every theme against lowered text. With occurrences set
// each hit counts; otherwise a keyword contributes once however often it
// appears.
func (a *Analyzer) scoreThemes(lowered string, occurrences bool) []themeScore {
	scores := make([]themeScore, 0, len(themeScoringOrder))
	for _, id := range themeScoringOrder {
		table := a.themes[id]
		current := themeScore{theme: id}
		for _, p := range table.phrases {
			hits := p.count(lowered)
			if hits == 0 {
				continue
			}
			if !occurrences {
				hits = 1
			}
			current.score += table.weight * p.weight * float64(hits)
			current.matched = append(current.matched, p.word)
		}
		scores = append(scores, current)
	}
	return scores
}

func (a *Analyzer) classify(lowered string, occurrences bool) ThemeClassification {
	scores := a.scoreThemes(lowered, occurrences)

	best := -1
	total := 0.0
	for idx, s := range scores {
		total += s.score
		if s.score > 0 && (best < 0 || s.score > scores[best].score) {
			best = idx
		}
	}

	winner := themeScore{theme: ThemeGeneral}
	if best >= 0 && scores[best].score >= a.minThemeScore {
		winner = scores[best]
	} else {
		for _, s := range scores {
			if s.theme == ThemeGeneral {
				winner = s
			}
		}
	}

	confidence := 0.0
	if total > 0 {
		confidence = winner.score / total
	}
	severity := a.themeSeverity(lowered)
	return ThemeClassification{
		Theme:                winner.theme,
		Confidence:           confidence,
		Severity:             severity,
		MatchedKeywords:      dedupe(winner.matched),
		RequiresIntervention: severity == SeverityHigh || severity == SeverityCritical,
	}
}

// themeSeverity walks the tiers from critical down; the first tier with any
// hit decides, wherever the hit sits in the text and whichever theme won.
func (a *Analyzer) themeSeverity(lowered string) Severity {
	for _, tier := range a.severityTiers {
		if anyMatch(tier.phrases, lowered) {
			return tier.severity
		}
	}
	return SeverityLow
}

// DetectTheme classifies a single message.
func (a *Analyzer) DetectTheme(message string) ThemeClassification {
	return a.classify(strings.ToLower(message), false)
}

// DetectConversationTheme classifies the user side of a conversation,
// counting every keyword occurrence across all user messages.
func (a *Analyzer) DetectConversationTheme(messages []Message) (ThemeClassification, error) {
	if err := validateMessages(messages); err != nil {
		return ThemeClassification{Theme: ThemeGeneral, Severity: SeverityLow}, err
	}
	return a.classify(userText(messages), true), nil
}

func (a *Analyzer) ConversationTheme(messages []Message) (ThemeID, error) {
	result, err := a.DetectConversationTheme(messages)
	if err != nil {
		return ThemeGeneral, err
	}
	return result.Theme, nil
}

// InterventionApproach maps a theme and severity to the follow-up policy.
// Critical severity overrides every theme default.
func (a *Analyzer) InterventionApproach(theme ThemeID, severity Severity) Intervention {
	if severity == SeverityCritical {
		return Intervention{FollowUpDays: 1, ActionRequired: true, EscalationNeeded: true}
	}
	table, ok := a.themes[theme]
	if !ok {
		table = a.themes[ThemeGeneral]
	}
	approach := table.intervention
	approach.EscalationNeeded = severity == SeverityHigh
	return approach
}

func dedupe(words []string) []string {
	if len(words) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, word := range words {
		if _, ok := seen[word]; ok {
			continue
		}
		seen[word] = struct{}{}
		out = append(out, word)
	}
	return out
}
