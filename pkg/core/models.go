package core

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Role identifies which side of the tutoring pair an agent plays
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Action is one discrete behavior an agent can choose in a round
type Action string

const (
	ActionIntroduceNewTopic  Action = "introduce-new-topic"
	ActionIncreaseDifficulty Action = "increase-difficulty"
	ActionRepeatTopic        Action = "repeat-topic"
	ActionGiveHint           Action = "give-hint"

	ActionDetailedAnswer   Action = "detailed-answer"
	ActionConciseAnswer    Action = "concise-answer"
	ActionAskClarification Action = "ask-clarification"
	ActionApplyReflection  Action = "apply-reflection"
)

// TeacherActions returns the teacher's action set in declaration order.
func TeacherActions() []Action {
	return []Action{ActionIntroduceNewTopic, ActionIncreaseDifficulty, ActionRepeatTopic, ActionGiveHint}
}

// StudentActions returns the student's action set in declaration order.
func StudentActions() []Action {
	return []Action{ActionDetailedAnswer, ActionConciseAnswer, ActionAskClarification, ActionApplyReflection}
}

// ActionsFor returns the action set of a role.
func ActionsFor(role Role) []Action {
	if role == RoleTeacher {
		return TeacherActions()
	}
	return StudentActions()
}

// Outcome is the discrete judgment the feedback interpreter extracts from free text
type Outcome string

const (
	OutcomeCorrect   Outcome = "correct"
	OutcomePartial   Outcome = "partial"
	OutcomeIncorrect Outcome = "incorrect"
	OutcomeUnclear   Outcome = "unclear"
)

// Outcomes lists every outcome kind in precedence order.
func Outcomes() []Outcome {
	return []Outcome{OutcomeIncorrect, OutcomePartial, OutcomeCorrect, OutcomeUnclear}
}

// Difficulty of the material the teacher poses
type Difficulty int

const (
	DifficultyEasy Difficulty = iota
	DifficultyMedium
	DifficultyHard
)

func (d Difficulty) String() string {
	switch d {
	case DifficultyEasy:
		return "easy"
	case DifficultyMedium:
		return "medium"
	case DifficultyHard:
		return "hard"
	}
	return fmt.Sprintf("difficulty(%d)", int(d))
}

// Harder returns the next difficulty level, capped at hard.
func (d Difficulty) Harder() Difficulty {
	if d >= DifficultyHard {
		return DifficultyHard
	}
	return d + 1
}

// Easier returns the previous difficulty level, floored at easy.
func (d Difficulty) Easier() Difficulty {
	if d <= DifficultyEasy {
		return DifficultyEasy
	}
	return d - 1
}

// ParseDifficulty maps a config string onto a Difficulty.
func ParseDifficulty(s string) (Difficulty, error) {
	switch s {
	case "easy":
		return DifficultyEasy, nil
	case "", "medium":
		return DifficultyMedium, nil
	case "hard":
		return DifficultyHard, nil
	}
	return DifficultyMedium, fmt.Errorf("unknown difficulty %q", s)
}

// Transition is what one agent's value table learns from a single round
type Transition struct {
	State     State   `json:"state"`
	Action    Action  `json:"action"`
	Reward    float64 `json:"reward"`
	NextState State   `json:"next_state"`
}

// RoundRecord is an immutable snapshot of one teacher -> student -> evaluation -> reflection cycle
type RoundRecord struct {
	Index      int        `json:"index"`
	Topic      string     `json:"topic"`
	Difficulty string     `json:"difficulty"`
	Teacher    Transition `json:"teacher"`
	Student    Transition `json:"student"`
	Outcome    Outcome    `json:"outcome"`
	Problem    string     `json:"problem"`
	Answer     string     `json:"answer"`
	Feedback   string     `json:"feedback"`
	Reflection string     `json:"reflection"`
	Degraded   bool       `json:"degraded"`
	Failures   []string   `json:"failures,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Clone returns a deep copy so the stored record can never be mutated through a caller.
func (r RoundRecord) Clone() RoundRecord {
	if r.Failures != nil {
		r.Failures = append([]string(nil), r.Failures...)
	}
	return r
}

// EvolutionKind names the strategy or curriculum change an evolution applied
type EvolutionKind string

const (
	EvolutionDifficultyIncreased EvolutionKind = "difficulty-increased"
	EvolutionDifficultyDecreased EvolutionKind = "difficulty-decreased"
	EvolutionTopicIntroduced     EvolutionKind = "topic-introduced"
	EvolutionPolicyConservative  EvolutionKind = "policy-conservative"
)

// EvolutionEvent records a change applied to an agent at a given round count
type EvolutionEvent struct {
	Round           int           `json:"round"`
	Role            Role          `json:"role"`
	Kind            EvolutionKind `json:"kind"`
	Detail          string        `json:"detail"`
	TrailingAverage float64       `json:"trailing_average"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Stats is the trailing window of rewards handed to an agent when it evolves
type Stats struct {
	Rewards []float64
	Average float64
	Min     float64
	Max     float64
}

// NewStats computes window statistics over rewards.
func NewStats(rewards []float64) Stats {
	s := Stats{Rewards: append([]float64(nil), rewards...)}
	if len(rewards) == 0 {
		return s
	}
	s.Average = stat.Mean(rewards, nil)
	s.Min = floats.Min(rewards)
	s.Max = floats.Max(rewards)
	return s
}

// ExperimentStatus describes a run as seen from outside the round loop
type ExperimentStatus struct {
	RunID        string    `json:"run_id"`
	Running      bool      `json:"running"`
	CurrentRound int       `json:"current_round"`
	TotalRounds  int       `json:"total_rounds"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Errors       []string  `json:"errors,omitempty"`
}
