package analysis

import (
	"fmt"
	"regexp"
	"strings"

	"matti/backend/internal/keywords"
)

// phrase matches a keyword at a word start and absorbs any trailing word
// characters, so "pest" matches "pesten" but not "carpest". Boundaries are
// Unicode aware; Go's \b only knows ASCII and would break on "carrière".
type phrase struct {
	word      string
	weight    float64
	wholeWord bool
	re        *regexp.Regexp
}

const wordClass = `\p{L}\p{N}_`

func compilePhrase(kw keywords.Keyword) (phrase, error) {
	word := strings.ToLower(strings.TrimSpace(kw.Word))
	if word == "" {
		return phrase{}, fmt.Errorf("empty keyword")
	}
	re, err := regexp.Compile(`(?:^|[^` + wordClass + `])(` + regexp.QuoteMeta(word) + `)([` + wordClass + `]*)`)
	if err != nil {
		return phrase{}, fmt.Errorf("compile keyword %q: %w", word, err)
	}
	weight := kw.Weight
	if weight == 0 {
		weight = 1
	}
	return phrase{word: word, weight: weight, wholeWord: kw.WholeWord, re: re}, nil
}

func compilePhrases(list []keywords.Keyword) ([]phrase, error) {
	result := make([]phrase, 0, len(list))
	for _, kw := range list {
		p, err := compilePhrase(kw)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

// count returns the number of non-overlapping matches in lowered text.
func (p phrase) count(lowered string) int {
	matches := p.re.FindAllStringSubmatchIndex(lowered, -1)
	if !p.wholeWord {
		return len(matches)
	}
	total := 0
	for _, m := range matches {
		// m[4]:m[5] is the absorbed suffix.
		if m[5] == m[4] {
			total++
		}
	}
	return total
}

func (p phrase) matches(lowered string) bool {
	if !p.wholeWord {
		return p.re.MatchString(lowered)
	}
	return p.count(lowered) > 0
}

// matchedWords returns the distinct phrases found in lowered, in table order.
func matchedWords(phrases []phrase, lowered string) []string {
	var found []string
	for _, p := range phrases {
		if p.matches(lowered) {
			found = append(found, p.word)
		}
	}
	return found
}

func firstMatch(phrases []phrase, lowered string) (phrase, bool) {
	for _, p := range phrases {
		if p.matches(lowered) {
			return p, true
		}
	}
	return phrase{}, false
}

func anyMatch(phrases []phrase, lowered string) bool {
	_, ok := firstMatch(phrases, lowered)
	return ok
}
