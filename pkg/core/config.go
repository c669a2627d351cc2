package core

import (
	"math"
	"strings"
)

// Hyperparams configure one Q-learning framework.
type Hyperparams struct {
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`
	Discount     float64 `yaml:"discount" json:"discount"`
	Exploration  float64 `yaml:"exploration" json:"exploration"`
}

// DefaultHyperparams returns alpha 0.1, gamma 0.9 and epsilon 0.1.
func DefaultHyperparams() Hyperparams {
	return Hyperparams{LearningRate: 0.1, Discount: 0.9, Exploration: 0.1}
}

// Validate checks alpha in (0,1], gamma in [0,1] and epsilon in [0,1].
func (h Hyperparams) Validate(prefix string) error {
	if math.IsNaN(h.LearningRate) || h.LearningRate <= 0 || h.LearningRate > 1 {
		return NewConfigurationError(prefix+".learning_rate", "must be in (0, 1], got %v", h.LearningRate)
	}
	if math.IsNaN(h.Discount) || h.Discount < 0 || h.Discount > 1 {
		return NewConfigurationError(prefix+".discount", "must be in [0, 1], got %v", h.Discount)
	}
	return ValidateExploration(prefix+".exploration", h.Exploration)
}

// ValidateExploration checks epsilon in [0,1].
func ValidateExploration(field string, eps float64) error {
	if math.IsNaN(eps) || eps < 0 || eps > 1 {
		return NewConfigurationError(field, "must be in [0, 1], got %v", eps)
	}
	return nil
}

// TeacherRewardPolicy decides how the teacher's reward derives from the student's
type TeacherRewardPolicy string

const (
	// TeacherRewardImprovement rewards the teacher by how much the student's
	// reward beat its own trailing average before the round. With no history
	// the student's reward is used as is.
	TeacherRewardImprovement TeacherRewardPolicy = "improvement"
	// TeacherRewardMirror gives the teacher the student's reward.
	TeacherRewardMirror TeacherRewardPolicy = "mirror"
)

// Policy holds the deterministic constants of state bucketing, evolution and
// teacher reward derivation.
type Policy struct {
	Window              int                 `yaml:"window" json:"window"`
	Thresholds          Thresholds          `yaml:"thresholds" json:"thresholds"`
	MasteryThreshold    float64             `yaml:"mastery_threshold" json:"mastery_threshold"`
	StrugglingThreshold float64             `yaml:"struggling_threshold" json:"struggling_threshold"`
	NudgeStep           float64             `yaml:"nudge_step" json:"nudge_step"`
	TeacherReward       TeacherRewardPolicy `yaml:"teacher_reward" json:"teacher_reward"`
	StartDifficulty     string              `yaml:"start_difficulty" json:"start_difficulty"`
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		Window:              3,
		Thresholds:          DefaultThresholds(),
		MasteryThreshold:    0.7,
		StrugglingThreshold: 0.0,
		NudgeStep:           0.05,
		TeacherReward:       TeacherRewardImprovement,
		StartDifficulty:     "medium",
	}
}

// Validate checks the policy constants.
func (p Policy) Validate() error {
	if p.Window <= 0 {
		return NewConfigurationError("policy.window", "must be positive, got %d", p.Window)
	}
	if p.Thresholds.Low > p.Thresholds.High {
		return NewConfigurationError("policy.thresholds", "low %v is above high %v", p.Thresholds.Low, p.Thresholds.High)
	}
	if p.StrugglingThreshold > p.MasteryThreshold {
		return NewConfigurationError("policy.struggling_threshold", "%v is above mastery threshold %v", p.StrugglingThreshold, p.MasteryThreshold)
	}
	if p.NudgeStep < 0 {
		return NewConfigurationError("policy.nudge_step", "must not be negative, got %v", p.NudgeStep)
	}
	switch p.TeacherReward {
	case TeacherRewardImprovement, TeacherRewardMirror:
	default:
		return NewConfigurationError("policy.teacher_reward", "unknown policy %q", p.TeacherReward)
	}
	if _, err := ParseDifficulty(p.StartDifficulty); err != nil {
		return NewConfigurationError("policy.start_difficulty", "%v", err)
	}
	return nil
}

// TeacherRewardFor derives the teacher's reward from the student's reward and
// the student's trailing rewards before the round.
func (p Policy) TeacherRewardFor(studentReward float64, before []float64) float64 {
	if p.TeacherReward == TeacherRewardMirror || len(before) == 0 {
		return studentReward
	}
	return studentReward - NewStats(before).Average
}

// RunConfig is everything the orchestrator consumes at the start of a run
type RunConfig struct {
	NumRounds         int         `yaml:"num_rounds" json:"num_rounds"`
	Topics            []string    `yaml:"topics" json:"topics"`
	EvolutionInterval int         `yaml:"evolution_interval" json:"evolution_interval"`
	Seed              int64       `yaml:"seed" json:"seed"`
	Teacher           Hyperparams `yaml:"teacher" json:"teacher"`
	Student           Hyperparams `yaml:"student" json:"student"`
	Policy            Policy      `yaml:"policy" json:"policy"`
}

// Validate fails on zero rounds, empty or blank topics, an interval outside
// [1, NumRounds] or out-of-range hyperparameters.
func (c RunConfig) Validate() error {
	if c.NumRounds <= 0 {
		return NewConfigurationError("num_rounds", "must be positive, got %d", c.NumRounds)
	}
	if len(c.Topics) == 0 {
		return NewConfigurationError("topics", "must not be empty")
	}
	for i, t := range c.Topics {
		if strings.TrimSpace(t) == "" {
			return NewConfigurationError("topics", "topic %d is blank", i)
		}
	}
	if c.EvolutionInterval <= 0 {
		return NewConfigurationError("evolution_interval", "must be positive, got %d", c.EvolutionInterval)
	}
	if c.EvolutionInterval > c.NumRounds {
		return NewConfigurationError("evolution_interval", "%d exceeds num_rounds %d", c.EvolutionInterval, c.NumRounds)
	}
	if err := c.Teacher.Validate("teacher"); err != nil {
		return err
	}
	if err := c.Student.Validate("student"); err != nil {
		return err
	}
	return c.Policy.Validate()
}
