package core

import (
	"errors"
	"time"
)

// EventKind distinguishes progress notifications
type EventKind string

const (
	EventRunStarted     EventKind = "run_started"
	EventRoundCompleted EventKind = "round_completed"
	EventEvolution      EventKind = "evolution"
	EventRunCompleted   EventKind = "run_completed"
	EventRunFailed      EventKind = "run_failed"
	EventLog            EventKind = "log"
)

// Event is one progress notification. Exactly one payload field is set
// according to Kind.
type Event struct {
	Kind        EventKind       `json:"kind"`
	RunID       string          `json:"run_id,omitempty"`
	TotalRounds int             `json:"total_rounds,omitempty"`
	Round       *RoundRecord    `json:"round,omitempty"`
	Evolution   *EvolutionEvent `json:"evolution,omitempty"`
	Summary     *Summary        `json:"summary,omitempty"`
	Error       string          `json:"error,omitempty"`
	Stopped     bool            `json:"stopped,omitempty"`
	Message     string          `json:"message,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// RoundCompleted builds the event emitted after a round record is appended.
func RoundCompleted(runID string, rec RoundRecord, total int) Event {
	rec = rec.Clone()
	return Event{Kind: EventRoundCompleted, RunID: runID, TotalRounds: total, Round: &rec, Timestamp: time.Now()}
}

// Evolved builds the event emitted after an agent evolves.
func Evolved(runID string, ev EvolutionEvent) Event {
	return Event{Kind: EventEvolution, RunID: runID, Evolution: &ev, Timestamp: time.Now()}
}

// RunCompleted builds the final event of a successful run.
func RunCompleted(runID string, s Summary) Event {
	return Event{Kind: EventRunCompleted, RunID: runID, Summary: &s, Timestamp: time.Now()}
}

// RunFailed builds the final event of a run that did not complete. Stopped
// is set when err carries ErrRunStopped.
func RunFailed(runID string, err error, s *Summary) Event {
	return Event{
		Kind:      EventRunFailed,
		RunID:     runID,
		Error:     err.Error(),
		Stopped:   errors.Is(err, ErrRunStopped),
		Summary:   s,
		Timestamp: time.Now(),
	}
}
