package core

import "fmt"

// Level is the discretized trailing-average performance of an agent
type Level string

const (
	LevelNone   Level = "none"
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// State is the hashable summary of recent performance on a topic that the
// value tables are keyed by.
type State struct {
	Performance Level  `json:"performance"`
	Topic       string `json:"topic"`
}

func (s State) String() string {
	return fmt.Sprintf("%s@%s", s.Performance, s.Topic)
}

// Thresholds split a trailing average into levels: below Low is low,
// at or above High is high, anything between is medium.
type Thresholds struct {
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`
}

// DefaultThresholds sits the buckets around the default reward table
// (incorrect -0.5, partial 0.3, correct 1.0).
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 0.0, High: 0.5}
}

// Bucket maps a trailing average over n samples onto a Level.
func Bucket(avg float64, n int, t Thresholds) Level {
	switch {
	case n == 0:
		return LevelNone
	case avg < t.Low:
		return LevelLow
	case avg >= t.High:
		return LevelHigh
	default:
		return LevelMedium
	}
}

// NewState buckets the trailing rewards and pairs the level with the topic.
func NewState(trailing []float64, topic string, t Thresholds) State {
	stats := NewStats(trailing)
	return State{Performance: Bucket(stats.Average, len(trailing), t), Topic: topic}
}
