package feedback

import (
	"fmt"
	"math"

	"github.com/boristopalov/tutor/pkg/core"
)

// RewardTable assigns the scalar reward of each outcome
type RewardTable map[core.Outcome]float64

// DefaultRewards returns correct +1.0, partial +0.3, incorrect -0.5 and unclear 0.
func DefaultRewards() RewardTable {
	return RewardTable{
		core.OutcomeCorrect:   1.0,
		core.OutcomePartial:   0.3,
		core.OutcomeIncorrect: -0.5,
		core.OutcomeUnclear:   0.0,
	}
}

// Validate requires a finite reward for every outcome kind.
func (t RewardTable) Validate() error {
	for _, o := range core.Outcomes() {
		r, ok := t[o]
		if !ok {
			return core.NewConfigurationError(fmt.Sprintf("feedback.rewards.%s", o), "missing reward")
		}
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return core.NewConfigurationError(fmt.Sprintf("feedback.rewards.%s", o), "reward must be finite, got %v", r)
		}
	}
	return nil
}

func (t RewardTable) clone() RewardTable {
	out := make(RewardTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
