package environment

import (
	"time"

	"github.com/boristopalov/tutor/pkg/core"
)

// Status values reported through State
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusFailed    = "failed"
)

// State is the environment's run status as seen from outside the loop
type State struct {
	Status      string    `json:"status"`
	RunID       string    `json:"run_id"`
	Round       int       `json:"round"`
	TotalRounds int       `json:"total_rounds"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Running reports whether a run is in flight.
func (s State) Running() bool {
	return s.Status == StatusRunning
}

// ExperimentStatus converts the state for status endpoints.
func (s State) ExperimentStatus() core.ExperimentStatus {
	st := core.ExperimentStatus{
		RunID:        s.RunID,
		Running:      s.Running(),
		CurrentRound: s.Round,
		TotalRounds:  s.TotalRounds,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
	}
	if s.Error != "" {
		st.Errors = []string{s.Error}
	}
	return st
}
