package analysis

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	actionTagPattern   = regexp.MustCompile(`(?i)\[ACTION:\s*([^\]]+)\]`)
	actionTagWithSpace = regexp.MustCompile(`(?i)\s*\[ACTION:\s*[^\]]+\]\s*`)
	sentenceSplitter   = regexp.MustCompile(`[.!?]+`)
)

// DetectAction extracts an explicit [ACTION: ...] tag from an assistant
// reply. The tag is removed from the clean response; text around it is
// joined with a single space.
func (a *Analyzer) DetectAction(text string) *DetectedAction {
	match := actionTagPattern.FindStringSubmatch(text)
	if match == nil {
		return nil
	}
	actionText := strings.TrimSpace(match[1])
	if actionText == "" {
		return nil
	}
	return &DetectedAction{
		ActionText:    actionText,
		CleanResponse: strings.TrimSpace(actionTagWithSpace.ReplaceAllString(text, " ")),
		Source:        ActionSourceTag,
	}
}

// HasAction reports whether text carries an explicit action tag.
func (a *Analyzer) HasAction(text string) bool {
	return a.DetectAction(text) != nil
}

// DetectActionIntelligent prefers an explicit tag and otherwise looks for
// the first sentence that reads like concrete advice. A heuristic match
// leaves the reply untouched.
func (a *Analyzer) DetectActionIntelligent(text string) *DetectedAction {
	if tagged := a.DetectAction(text); tagged != nil {
		return tagged
	}
	for _, part := range sentenceSplitter.Split(text, -1) {
		sentence := strings.TrimSpace(part)
		if utf8.RuneCountInString(sentence) <= a.action.minSentenceLength {
			continue
		}
		if a.isActionSentence(strings.ToLower(sentence)) {
			return &DetectedAction{
				ActionText:    sentence,
				CleanResponse: text,
				Source:        ActionSourceHeuristic,
			}
		}
	}
	return nil
}

func (a *Analyzer) isActionSentence(lowered string) bool {
	matched := false
	for _, pattern := range a.action.patterns {
		if pattern.MatchString(lowered) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, word := range a.action.questionWords {
		if hasWordPrefix(lowered, word) {
			return false
		}
	}
	for _, marker := range a.action.conditionalMarkers {
		if containsWord(lowered, marker) {
			return anyMatch(a.action.actionVerbs, lowered)
		}
	}
	return true
}

// hasWordPrefix reports whether s starts with word followed by a non-letter.
func hasWordPrefix(s, word string) bool {
	if !strings.HasPrefix(s, word) {
		return false
	}
	next, _ := utf8.DecodeRuneInString(s[len(word):])
	return next == utf8.RuneError || !isWordRune(next)
}

// containsWord finds word at a word start anywhere in s.
func containsWord(s, word string) bool {
	for offset := 0; offset < len(s); {
		idx := strings.Index(s[offset:], word)
		if idx < 0 {
			return false
		}
		start := offset + idx
		prev, _ := utf8.DecodeLastRuneInString(s[:start])
		if start == 0 || !isWordRune(prev) {
			if hasWordPrefix(s[start:], word) {
				return true
			}
		}
		offset = start + 1
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
