package feedback

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/boristopalov/tutor/pkg/core"
)

// Rule maps a set of keywords or phrases onto one outcome
type Rule struct {
	Outcome  core.Outcome `yaml:"outcome" json:"outcome"`
	Keywords []string     `yaml:"keywords" json:"keywords"`
}

// KeywordTable is an ordered list of rules. The first rule with a matching
// keyword decides the outcome, so more specific judgments come first.
type KeywordTable []Rule

// DefaultKeywords checks incorrect before partial before correct so that
// "incorrect" or "correct but incomplete" never read as plain correct.
func DefaultKeywords() KeywordTable {
	return KeywordTable{
		{Outcome: core.OutcomeIncorrect, Keywords: []string{
			"incorrect", "not correct", "wrong", "false", "mistake", "inaccurate", "not right",
		}},
		{Outcome: core.OutcomePartial, Keywords: []string{
			"partially", "partial", "partly", "incomplete", "almost", "mostly correct", "somewhat",
		}},
		{Outcome: core.OutcomeCorrect, Keywords: []string{
			"correct", "right", "accurate", "well done", "excellent", "good job", "exactly",
		}},
	}
}

type compiledRule struct {
	outcome core.Outcome
	re      *regexp.Regexp
}

func (t KeywordTable) compile() ([]compiledRule, error) {
	rules := make([]compiledRule, 0, len(t))
	for i, r := range t {
		switch r.Outcome {
		case core.OutcomeCorrect, core.OutcomePartial, core.OutcomeIncorrect:
		default:
			return nil, core.NewConfigurationError(fmt.Sprintf("feedback.keywords[%d].outcome", i), "unsupported outcome %q", r.Outcome)
		}
		words := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			// phrases match across any run of whitespace
			parts := strings.Fields(regexp.QuoteMeta(strings.ToLower(k)))
			words = append(words, strings.Join(parts, `\s+`))
		}
		if len(words) == 0 {
			return nil, core.NewConfigurationError(fmt.Sprintf("feedback.keywords[%d].keywords", i), "no keywords for outcome %q", r.Outcome)
		}
		re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(words, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("failed to compile keywords for %s: %w", r.Outcome, err)
		}
		rules = append(rules, compiledRule{outcome: r.Outcome, re: re})
	}
	return rules, nil
}
