// Package feedback turns free-text evaluations into discrete outcomes and
// scalar rewards. It is the only place numeric reward enters the system.
package feedback

import (
	"strings"

	"github.com/boristopalov/tutor/pkg/core"
)

// Interpreter classifies feedback text. It is immutable after construction
// and safe for concurrent use.
type Interpreter struct {
	rules   []compiledRule
	rewards RewardTable
}

// New builds an interpreter from a keyword table and a reward table.
func New(keywords KeywordTable, rewards RewardTable) (*Interpreter, error) {
	if err := rewards.Validate(); err != nil {
		return nil, err
	}
	rules, err := keywords.compile()
	if err != nil {
		return nil, err
	}
	return &Interpreter{rules: rules, rewards: rewards.clone()}, nil
}

// Default returns an interpreter over the default tables.
func Default() *Interpreter {
	in, err := New(DefaultKeywords(), DefaultRewards())
	if err != nil {
		panic(err)
	}
	return in
}

// Interpret returns the outcome of raw and its reward. Empty or unmatched
// text is unclear.
func (in *Interpreter) Interpret(raw string) (core.Outcome, float64) {
	outcome := in.Classify(raw)
	return outcome, in.rewards[outcome]
}

// Classify returns the outcome of raw without its reward.
func (in *Interpreter) Classify(raw string) core.Outcome {
	if strings.TrimSpace(raw) == "" {
		return core.OutcomeUnclear
	}
	for _, r := range in.rules {
		if r.re.MatchString(raw) {
			return r.outcome
		}
	}
	return core.OutcomeUnclear
}

// Reward looks up the reward of an outcome.
func (in *Interpreter) Reward(o core.Outcome) float64 {
	return in.rewards[o]
}

// Rewards returns a copy of the reward table.
func (in *Interpreter) Rewards() RewardTable {
	return in.rewards.clone()
}
