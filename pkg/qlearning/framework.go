// Package qlearning implements a tabular Q-learning framework over discrete
// states and a fixed action set.
package qlearning

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/boristopalov/tutor/pkg/core"
)

// Key addresses one cell of the value table
type Key struct {
	State  core.State
	Action core.Action
}

// Params are the learning hyperparameters of a framework.
type Params = core.Hyperparams

// Framework holds one agent's value table. It is not safe for concurrent use;
// the owning agent is the only caller.
type Framework struct {
	actions []core.Action
	params  Params
	table   map[Key]float64
	bias    map[core.Action]float64
	rng     *rand.Rand
}

// New validates params and the action set. A nil rng falls back to a source
// seeded with zero so behavior stays reproducible.
func New(actions []core.Action, params Params, rng *rand.Rand) (*Framework, error) {
	if len(actions) == 0 {
		return nil, core.NewConfigurationError("actions", "action set must not be empty")
	}
	seen := make(map[core.Action]struct{}, len(actions))
	for _, a := range actions {
		if _, dup := seen[a]; dup {
			return nil, core.NewConfigurationError("actions", "duplicate action %q", a)
		}
		seen[a] = struct{}{}
	}
	if err := params.Validate("qlearning"); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(0))
	}
	return &Framework{
		actions: append([]core.Action(nil), actions...),
		params:  params,
		table:   make(map[Key]float64),
		bias:    make(map[core.Action]float64),
		rng:     rng,
	}, nil
}

// SelectAction explores with probability epsilon and otherwise returns the
// action with the highest value plus bias. Ties go to the earliest declared
// action.
func (f *Framework) SelectAction(state core.State) core.Action {
	if f.params.Exploration > 0 && f.rng.Float64() < f.params.Exploration {
		return f.actions[f.rng.Intn(len(f.actions))]
	}
	best := f.actions[0]
	bestScore := f.Value(state, best) + f.bias[best]
	for _, a := range f.actions[1:] {
		if score := f.Value(state, a) + f.bias[a]; score > bestScore {
			best, bestScore = a, score
		}
	}
	return best
}

// Update applies Q <- Q + alpha * (reward + gamma * max Q(next, .) - Q).
// Unseen next pairs count as zero and are not stored.
func (f *Framework) Update(state core.State, action core.Action, reward float64, next core.State) {
	key := Key{State: state, Action: action}
	current := f.table[key]
	target := reward + f.params.Discount*f.maxValue(next)
	f.table[key] = current + f.params.LearningRate*(target-current)
}

// Value reads Q(state, action) without materializing missing entries.
func (f *Framework) Value(state core.State, action core.Action) float64 {
	return f.table[Key{State: state, Action: action}]
}

func (f *Framework) maxValue(state core.State) float64 {
	best := f.Value(state, f.actions[0])
	for _, a := range f.actions[1:] {
		if v := f.Value(state, a); v > best {
			best = v
		}
	}
	return best
}

// Snapshot returns a copy of the value table.
func (f *Framework) Snapshot() map[Key]float64 {
	out := make(map[Key]float64, len(f.table))
	for k, v := range f.table {
		out[k] = v
	}
	return out
}

// MaxBias bounds the selection preference of any action in either direction.
const MaxBias = 0.5

// Nudge shifts the selection preference for action by delta, clamped to
// [-MaxBias, MaxBias]. The value table is left untouched.
func (f *Framework) Nudge(action core.Action, delta float64) error {
	if !f.hasAction(action) {
		return fmt.Errorf("unknown action %q", action)
	}
	f.bias[action] = math.Max(-MaxBias, math.Min(MaxBias, f.bias[action]+delta))
	return nil
}

// Bias returns the current selection preference of action.
func (f *Framework) Bias(action core.Action) float64 {
	return f.bias[action]
}

// SetExploration replaces epsilon.
func (f *Framework) SetExploration(eps float64) error {
	if err := core.ValidateExploration("exploration", eps); err != nil {
		return err
	}
	f.params.Exploration = eps
	return nil
}

func (f *Framework) Exploration() float64 {
	return f.params.Exploration
}

func (f *Framework) Params() Params {
	return f.params
}

// Actions returns the action set in declaration order.
func (f *Framework) Actions() []core.Action {
	return append([]core.Action(nil), f.actions...)
}

// Len is the number of materialized table entries.
func (f *Framework) Len() int {
	return len(f.table)
}

func (f *Framework) hasAction(action core.Action) bool {
	for _, a := range f.actions {
		if a == action {
			return true
		}
	}
	return false
}
