package experiment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boristopalov/tutor/pkg/core"
	"github.com/boristopalov/tutor/pkg/environment"
)

// Result is everything a finished run leaves behind
type Result struct {
	RunID   string                `json:"run_id"`
	Config  core.RunConfig        `json:"config"`
	Summary core.Summary          `json:"summary"`
	Rounds  []core.RoundRecord    `json:"rounds"`
	Events  []core.EvolutionEvent `json:"events"`
	Error   string                `json:"error,omitempty"`
	Stopped bool                  `json:"stopped"`
}

// Runner executes runs of a learning environment on a worker goroutine so a
// request that starts a run is not blocked by it.
type Runner struct {
	env *environment.LearningEnvironment

	mu      sync.RWMutex
	status  core.ExperimentStatus
	cancel  context.CancelFunc
	done    chan struct{}
	results map[string]*Result
}

func NewRunner(env *environment.LearningEnvironment) *Runner {
	return &Runner{
		env:     env,
		results: make(map[string]*Result),
	}
}

// Start validates cfg and launches a run in the background. It refuses to
// start while another run is in flight.
func (r *Runner) Start(cfg core.RunConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Running || r.env.Running() {
		return "", core.ErrRunInProgress
	}

	runID := "run-" + uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.status = core.ExperimentStatus{
		RunID:       runID,
		Running:     true,
		TotalRounds: cfg.NumRounds,
		StartTime:   time.Now(),
	}

	go r.run(ctx, runID, cfg, r.done)
	return runID, nil
}

func (r *Runner) run(ctx context.Context, runID string, cfg core.RunConfig, done chan struct{}) {
	defer close(done)
	defer r.cancelRun()

	summary, err := r.env.Run(ctx, cfg, environment.WithRunID(runID))
	res := &Result{
		RunID:   runID,
		Config:  cfg,
		Summary: summary,
		Rounds:  r.env.Rounds(),
		Events:  r.env.Events(),
		Stopped: errors.Is(err, core.ErrRunStopped),
	}
	if err != nil {
		res.Error = err.Error()
		log.Printf("Run %s ended with error: %v", runID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[runID] = res
	r.status.Running = false
	r.status.CurrentRound = len(res.Rounds)
	r.status.EndTime = time.Now()
	if err != nil {
		r.status.Errors = append(r.status.Errors, err.Error())
	}
}

func (r *Runner) cancelRun() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// Stop signals the current run to end after its round in flight.
func (r *Runner) Stop() error {
	r.mu.RLock()
	running := r.status.Running
	r.mu.RUnlock()
	if !running {
		return core.ErrNoActiveRun
	}
	return r.env.Stop()
}

// Wait blocks until the current run finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.RLock()
	done := r.done
	r.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports the current or last run.
func (r *Runner) Status() core.ExperimentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := r.status
	if st.Running {
		if live := r.env.GetState().ExperimentStatus(); live.RunID == st.RunID {
			st.CurrentRound = live.CurrentRound
		}
	}
	st.Errors = append([]string(nil), r.status.Errors...)
	return st
}

// Result returns a finished run by ID.
func (r *Runner) Result(runID string) (*Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.results[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return res, nil
}
