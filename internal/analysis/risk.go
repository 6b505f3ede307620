package analysis

import (
	"math"
	"strings"
)

// DetectRisk scans one text block for crisis keywords. Categories are tried
// in priority order and the first one with any match is returned; nil means
// no risk was found, which is different from a low-risk signal.
func (a *Analyzer) DetectRisk(text string) *RiskSignal {
	lowered := strings.ToLower(text)
	if strings.TrimSpace(lowered) == "" {
		return nil
	}
	for _, category := range a.risk {
		matched := matchedWords(category.phrases, lowered)
		if len(matched) == 0 {
			continue
		}
		return &RiskSignal{
			Detected:          true,
			Level:             category.level,
			Type:              category.riskType,
			Confidence:        riskConfidence(len(matched)),
			MatchedKeywords:   matched,
			RecommendedAction: category.recommendedAction,
		}
	}
	return nil
}

func riskConfidence(distinct int) float64 {
	return math.Min(0.5+0.2*float64(distinct), 1.0)
}

// DetectCrisisResponse reports whether an assistant reply refers the user to
// crisis help (helpline numbers, "hulplijn" and similar).
func (a *Analyzer) DetectCrisisResponse(text string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range a.crisisPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
