// Package keywords loads the versioned keyword tables that drive the
// message-analysis detectors. Tables are plain data: the detectors in
// internal/analysis compile them once and never mutate them.
package keywords

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed nl.yaml
var defaultTables []byte

const (
	defaultMinSentenceLength = 10
	defaultOutcomeWindow     = 3
)

// Keyword is a single vocabulary entry. In YAML it is either a bare string
// or a mapping with word/weight/whole_word.
type Keyword struct {
	Word      string  `yaml:"word"`
	Weight    float64 `yaml:"weight"`
	WholeWord bool    `yaml:"whole_word"`
}

func (k *Keyword) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		k.Word = node.Value
		return nil
	}
	type plain Keyword
	var decoded plain
	if err := node.Decode(&decoded); err != nil {
		return err
	}
	*k = Keyword(decoded)
	return nil
}

type RiskCategory struct {
	Type              string    `yaml:"type"`
	Level             string    `yaml:"level"`
	RecommendedAction string    `yaml:"recommended_action"`
	Keywords          []Keyword `yaml:"keywords"`
}

type Bullying struct {
	Keywords []Keyword `yaml:"keywords"`
	High     []Keyword `yaml:"high"`
	Medium   []Keyword `yaml:"medium"`
}

type Theme struct {
	ID             string    `yaml:"id"`
	Weight         float64   `yaml:"weight"`
	FollowUpDays   int       `yaml:"follow_up_days"`
	ActionRequired bool      `yaml:"action_required"`
	Keywords       []Keyword `yaml:"keywords"`
}

type Severity struct {
	Critical []Keyword `yaml:"critical"`
	High     []Keyword `yaml:"high"`
	Medium   []Keyword `yaml:"medium"`
	Low      []Keyword `yaml:"low"`
}

type ActionHeuristics struct {
	MinSentenceLength  int      `yaml:"min_sentence_length"`
	Patterns           []string `yaml:"patterns"`
	QuestionWords      []string `yaml:"question_words"`
	ConditionalMarkers []string `yaml:"conditional_markers"`
	ActionVerbs        []string `yaml:"action_verbs"`
}

type Outcome struct {
	Strong     []Keyword `yaml:"strong"`
	Medium     []Keyword `yaml:"medium"`
	Resolution []Keyword `yaml:"resolution"`
	Window     int       `yaml:"window"`
}

type WelcomeBand struct {
	MinAge    int      `yaml:"min_age"`
	MaxAge    int      `yaml:"max_age"`
	Greetings []string `yaml:"greetings"`
	Questions []string `yaml:"questions"`
}

// Tables is the full keyword document.
type Tables struct {
	Version          string           `yaml:"version"`
	Language         string           `yaml:"language"`
	MinThemeScore    float64          `yaml:"min_theme_score"`
	Risk             []RiskCategory   `yaml:"risk"`
	CrisisResponse   []string         `yaml:"crisis_response"`
	Bullying         Bullying         `yaml:"bullying"`
	Themes           []Theme          `yaml:"themes"`
	Severity         Severity         `yaml:"severity"`
	ActionHeuristics ActionHeuristics `yaml:"action_heuristics"`
	Outcome          Outcome          `yaml:"outcome"`
	Welcome          []WelcomeBand    `yaml:"welcome"`
}

// Default returns the tables embedded in the binary.
func Default() (*Tables, error) {
	return Parse(defaultTables)
}

// Load reads tables from path, or the embedded defaults when path is empty.
func Load(path string) (*Tables, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyword tables: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Tables, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var tables Tables
	if err := decoder.Decode(&tables); err != nil {
		return nil, fmt.Errorf("decode keyword tables: %w", err)
	}
	tables.normalize()
	if err := tables.validate(); err != nil {
		return nil, fmt.Errorf("invalid keyword tables: %w", err)
	}
	return &tables, nil
}

func (t *Tables) normalize() {
	for i := range t.Risk {
		t.Risk[i].Type = strings.ToLower(strings.TrimSpace(t.Risk[i].Type))
		t.Risk[i].Level = strings.ToLower(strings.TrimSpace(t.Risk[i].Level))
		normalizeKeywords(t.Risk[i].Keywords)
	}
	for i, phrase := range t.CrisisResponse {
		t.CrisisResponse[i] = strings.ToLower(strings.TrimSpace(phrase))
	}
	normalizeKeywords(t.Bullying.Keywords)
	normalizeKeywords(t.Bullying.High)
	normalizeKeywords(t.Bullying.Medium)
	for i := range t.Themes {
		t.Themes[i].ID = strings.ToLower(strings.TrimSpace(t.Themes[i].ID))
		normalizeKeywords(t.Themes[i].Keywords)
	}
	normalizeKeywords(t.Severity.Critical)
	normalizeKeywords(t.Severity.High)
	normalizeKeywords(t.Severity.Medium)
	normalizeKeywords(t.Severity.Low)
	normalizeKeywords(t.Outcome.Strong)
	normalizeKeywords(t.Outcome.Medium)
	normalizeKeywords(t.Outcome.Resolution)
	lowerAll(t.ActionHeuristics.QuestionWords)
	lowerAll(t.ActionHeuristics.ConditionalMarkers)
	lowerAll(t.ActionHeuristics.ActionVerbs)

	if t.ActionHeuristics.MinSentenceLength <= 0 {
		t.ActionHeuristics.MinSentenceLength = defaultMinSentenceLength
	}
	if t.Outcome.Window <= 0 {
		t.Outcome.Window = defaultOutcomeWindow
	}
}

func normalizeKeywords(list []Keyword) {
	for i := range list {
		list[i].Word = strings.ToLower(strings.TrimSpace(list[i].Word))
		if list[i].Weight == 0 {
			list[i].Weight = 1
		}
	}
}

func lowerAll(list []string) {
	for i := range list {
		list[i] = strings.ToLower(strings.TrimSpace(list[i]))
	}
}

func (t *Tables) validate() error {
	if strings.TrimSpace(t.Version) == "" {
		return errors.New("version is required")
	}
	if t.MinThemeScore < 0 {
		return errors.New("min_theme_score must not be negative")
	}
	if len(t.Risk) == 0 {
		return errors.New("risk categories are required")
	}
	for _, category := range t.Risk {
		if err := requireKeywords("risk."+category.Type, category.Keywords); err != nil {
			return err
		}
	}
	if len(t.CrisisResponse) == 0 {
		return errors.New("crisis_response phrases are required")
	}
	if err := requireKeywords("bullying.keywords", t.Bullying.Keywords); err != nil {
		return err
	}
	if len(t.Themes) == 0 {
		return errors.New("themes are required")
	}
	for _, theme := range t.Themes {
		if theme.Weight <= 0 {
			return fmt.Errorf("theme %q: weight must be positive", theme.ID)
		}
		if theme.FollowUpDays <= 0 {
			return fmt.Errorf("theme %q: follow_up_days must be positive", theme.ID)
		}
		if err := requireKeywords("themes."+theme.ID, theme.Keywords); err != nil {
			return err
		}
	}
	if err := requireKeywords("severity.critical", t.Severity.Critical); err != nil {
		return err
	}
	if len(t.ActionHeuristics.Patterns) == 0 {
		return errors.New("action_heuristics.patterns are required")
	}
	for _, pattern := range t.ActionHeuristics.Patterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("action_heuristics pattern %q: %w", pattern, err)
		}
	}
	if err := requireKeywords("outcome.strong", t.Outcome.Strong); err != nil {
		return err
	}
	for _, band := range t.Welcome {
		if len(band.Greetings) == 0 || len(band.Questions) == 0 {
			return fmt.Errorf("welcome band %d-%d needs greetings and questions", band.MinAge, band.MaxAge)
		}
	}
	return nil
}

func requireKeywords(name string, list []Keyword) error {
	if len(list) == 0 {
		return fmt.Errorf("%s: keyword list is empty", name)
	}
	for _, keyword := range list {
		if keyword.Word == "" {
			return fmt.Errorf("%s: empty keyword", name)
		}
		if keyword.Weight < 0 {
			return fmt.Errorf("%s: keyword %q has negative weight", name, keyword.Word)
		}
	}
	return nil
}
