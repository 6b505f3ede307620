// Package analysis holds the rule-based detectors that classify chat text:
// risk, crisis responses, bullying, theme, actions and outcomes.
//
// An Analyzer is built once from keyword tables and is safe for concurrent
// use; every detector is a pure function of its input and those tables.
package analysis

import (
	"fmt"
	"regexp"
	"sort"

	"matti/backend/internal/keywords"
)

type riskCategory struct {
	riskType          RiskType
	level             Severity
	recommendedAction string
	phrases           []phrase
}

type themeTable struct {
	weight       float64
	intervention Intervention
	phrases      []phrase
}

type severityTier struct {
	severity Severity
	phrases  []phrase
}

type actionRules struct {
	minSentenceLength  int
	patterns           []*regexp.Regexp
	questionWords      []string
	conditionalMarkers []string
	actionVerbs        []phrase
}

type welcomeBand struct {
	minAge    int
	maxAge    int
	greetings []string
	questions []string
}

type Analyzer struct {
	version string

	risk           []riskCategory
	crisisPhrases  []string
	bullying       []phrase
	bullyingHigh   []phrase
	bullyingMedium []phrase

	themes        map[ThemeID]themeTable
	severityTiers []severityTier
	minThemeScore float64

	action actionRules

	outcomeStrong []phrase
	outcomeMedium []phrase
	resolution    []phrase
	outcomeWindow int

	welcome []welcomeBand
}

// New compiles tables into an Analyzer. It fails when the tables reference
// an unknown theme, risk type or severity, or omit one of the nine themes.
func New(tables *keywords.Tables) (*Analyzer, error) {
	if tables == nil {
		return nil, fmt.Errorf("%w: keyword tables are nil", ErrInvalidInput)
	}
	a := &Analyzer{
		version:       tables.Version,
		crisisPhrases: append([]string(nil), tables.CrisisResponse...),
		themes:        make(map[ThemeID]themeTable, len(themeScoringOrder)),
		minThemeScore: tables.MinThemeScore,
		outcomeWindow: tables.Outcome.Window,
	}

	if err := a.compileRisk(tables.Risk); err != nil {
		return nil, err
	}

	var err error
	if a.bullying, err = compilePhrases(tables.Bullying.Keywords); err != nil {
		return nil, fmt.Errorf("bullying keywords: %w", err)
	}
	if a.bullyingHigh, err = compilePhrases(tables.Bullying.High); err != nil {
		return nil, fmt.Errorf("bullying high keywords: %w", err)
	}
	if a.bullyingMedium, err = compilePhrases(tables.Bullying.Medium); err != nil {
		return nil, fmt.Errorf("bullying medium keywords: %w", err)
	}

	if err := a.compileThemes(tables.Themes); err != nil {
		return nil, err
	}
	if err := a.compileSeverity(tables.Severity); err != nil {
		return nil, err
	}
	if err := a.compileActionRules(tables.ActionHeuristics); err != nil {
		return nil, err
	}

	if a.outcomeStrong, err = compilePhrases(tables.Outcome.Strong); err != nil {
		return nil, fmt.Errorf("outcome strong phrases: %w", err)
	}
	if a.outcomeMedium, err = compilePhrases(tables.Outcome.Medium); err != nil {
		return nil, fmt.Errorf("outcome medium phrases: %w", err)
	}
	if a.resolution, err = compilePhrases(tables.Outcome.Resolution); err != nil {
		return nil, fmt.Errorf("resolution keywords: %w", err)
	}

	for _, band := range tables.Welcome {
		a.welcome = append(a.welcome, welcomeBand{
			minAge:    band.MinAge,
			maxAge:    band.MaxAge,
			greetings: append([]string(nil), band.Greetings...),
			questions: append([]string(nil), band.Questions...),
		})
	}
	return a, nil
}

// Version is the keyword table version the analyzer was built from.
func (a *Analyzer) Version() string {
	return a.version
}

func (a *Analyzer) compileRisk(categories []keywords.RiskCategory) error {
	seen := map[RiskType]bool{}
	for _, category := range categories {
		riskType := RiskType(category.Type)
		if _, ok := riskPriority[riskType]; !ok {
			return fmt.Errorf("risk category %q is not supported", category.Type)
		}
		if seen[riskType] {
			return fmt.Errorf("risk category %q is defined twice", category.Type)
		}
		seen[riskType] = true

		level, err := ParseSeverity(category.Level)
		if err != nil {
			return fmt.Errorf("risk category %q: %w", category.Type, err)
		}
		phrases, err := compilePhrases(category.Keywords)
		if err != nil {
			return fmt.Errorf("risk category %q: %w", category.Type, err)
		}
		a.risk = append(a.risk, riskCategory{
			riskType:          riskType,
			level:             level,
			recommendedAction: category.RecommendedAction,
			phrases:           phrases,
		})
	}
	// Priority is fixed in code so a reordered data file cannot demote
	// suicidality below the other categories.
	sort.SliceStable(a.risk, func(i, j int) bool {
		return riskPriority[a.risk[i].riskType] < riskPriority[a.risk[j].riskType]
	})
	return nil
}

func (a *Analyzer) compileThemes(themes []keywords.Theme) error {
	for _, theme := range themes {
		id, err := ParseThemeID(theme.ID)
		if err != nil {
			return err
		}
		if _, dup := a.themes[id]; dup {
			return fmt.Errorf("theme %q is defined twice", id)
		}
		phrases, err := compilePhrases(theme.Keywords)
		if err != nil {
			return fmt.Errorf("theme %q: %w", id, err)
		}
		a.themes[id] = themeTable{
			weight: theme.Weight,
			intervention: Intervention{
				FollowUpDays:   theme.FollowUpDays,
				ActionRequired: theme.ActionRequired,
			},
			phrases: phrases,
		}
	}
	for _, id := range themeScoringOrder {
		if _, ok := a.themes[id]; !ok {
			return fmt.Errorf("theme %q is missing from keyword tables", id)
		}
	}
	return nil
}

func (a *Analyzer) compileSeverity(tiers keywords.Severity) error {
	ordered := []struct {
		severity Severity
		list     []keywords.Keyword
	}{
		{SeverityCritical, tiers.Critical},
		{SeverityHigh, tiers.High},
		{SeverityMedium, tiers.Medium},
		{SeverityLow, tiers.Low},
	}
	for _, tier := range ordered {
		phrases, err := compilePhrases(tier.list)
		if err != nil {
			return fmt.Errorf("severity %s: %w", tier.severity, err)
		}
		a.severityTiers = append(a.severityTiers, severityTier{severity: tier.severity, phrases: phrases})
	}
	return nil
}

func (a *Analyzer) compileActionRules(rules keywords.ActionHeuristics) error {
	a.action = actionRules{
		minSentenceLength:  rules.MinSentenceLength,
		questionWords:      append([]string(nil), rules.QuestionWords...),
		conditionalMarkers: append([]string(nil), rules.ConditionalMarkers...),
	}
	for _, raw := range rules.Patterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return fmt.Errorf("action pattern %q: %w", raw, err)
		}
		a.action.patterns = append(a.action.patterns, re)
	}
	for _, verb := range rules.ActionVerbs {
		p, err := compilePhrase(keywords.Keyword{Word: verb, WholeWord: true})
		if err != nil {
			return fmt.Errorf("action verb: %w", err)
		}
		a.action.actionVerbs = append(a.action.actionVerbs, p)
	}
	return nil
}
