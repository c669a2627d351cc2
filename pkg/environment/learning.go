// Package environment drives the tutoring loop: rounds, rewards, value
// updates and periodic evolution.
package environment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/boristopalov/tutor/pkg/agent"
	"github.com/boristopalov/tutor/pkg/core"
)

// LearningEnvironment runs one teacher/student pair. It guarantees a single
// round in flight, so the agents' value tables are never shared.
type LearningEnvironment struct {
	teacher  *agent.Agent
	student  *agent.Agent
	notifier core.Notifier

	running       atomic.Bool
	stopRequested atomic.Bool

	mu     sync.RWMutex
	state  State
	rounds []core.RoundRecord
	events []core.EvolutionEvent
}

type Option func(*LearningEnvironment)

// WithNotifier sets the sink for progress events.
func WithNotifier(n core.Notifier) Option {
	return func(e *LearningEnvironment) {
		e.notifier = n
	}
}

type runOptions struct {
	runID string
}

type RunOption func(*runOptions)

// WithRunID fixes the ID of the next run instead of generating one.
func WithRunID(id string) RunOption {
	return func(o *runOptions) {
		o.runID = id
	}
}

func NewLearningEnvironment(teacher, student *agent.Agent, opts ...Option) (*LearningEnvironment, error) {
	if teacher == nil || teacher.Role() != core.RoleTeacher {
		return nil, fmt.Errorf("learning environment needs a teacher agent")
	}
	if student == nil || student.Role() != core.RoleStudent {
		return nil, fmt.Errorf("learning environment needs a student agent")
	}
	e := &LearningEnvironment{
		teacher:  teacher,
		student:  student,
		notifier: core.NotifierFunc(func(core.Event) {}),
		state:    State{Status: StatusIdle, Timestamp: time.Now()},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *LearningEnvironment) Teacher() *agent.Agent {
	return e.teacher
}

func (e *LearningEnvironment) Student() *agent.Agent {
	return e.student
}

// Run validates cfg, prepares both agents and executes cfg.NumRounds rounds.
// A stop request or a cancelled ctx ends the run between rounds with the
// partial summary and core.ErrRunStopped.
func (e *LearningEnvironment) Run(ctx context.Context, cfg core.RunConfig, opts ...RunOption) (core.Summary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return core.Summary{}, core.ErrRunInProgress
	}
	defer e.running.Store(false)
	e.stopRequested.Store(false)

	ro := runOptions{runID: "run-" + uuid.New().String()}
	for _, opt := range opts {
		opt(&ro)
	}

	if err := cfg.Validate(); err != nil {
		e.finish(ro.runID, StatusFailed, err)
		e.notifier.Notify(core.RunFailed(ro.runID, err, nil))
		return core.Summary{}, err
	}
	if err := e.prepare(cfg); err != nil {
		e.finish(ro.runID, StatusFailed, err)
		e.notifier.Notify(core.RunFailed(ro.runID, err, nil))
		return core.Summary{}, err
	}

	e.mu.Lock()
	e.rounds = make([]core.RoundRecord, 0, cfg.NumRounds)
	e.events = nil
	now := time.Now()
	e.state = State{
		Status:      StatusRunning,
		RunID:       ro.runID,
		TotalRounds: cfg.NumRounds,
		StartTime:   now,
		Timestamp:   now,
	}
	e.mu.Unlock()

	log.Printf("Starting run %s: %d rounds on %v, evolution every %d rounds", ro.runID, cfg.NumRounds, cfg.Topics, cfg.EvolutionInterval)
	e.notifier.Notify(core.Event{Kind: core.EventRunStarted, RunID: ro.runID, TotalRounds: cfg.NumRounds, Timestamp: now})

	defer e.teacher.Rest()
	defer e.student.Rest()

	for i := 0; i < cfg.NumRounds; i++ {
		if e.stopRequested.Load() || ctx.Err() != nil {
			err := fmt.Errorf("%w after %d of %d rounds", core.ErrRunStopped, i, cfg.NumRounds)
			summary := e.Summary()
			e.finish(ro.runID, StatusStopped, err)
			log.Printf("Run %s stopped after %d rounds", ro.runID, i)
			e.notifier.Notify(core.RunFailed(ro.runID, err, &summary))
			return summary, err
		}

		rec, err := e.round(ctx, i, cfg)
		if err != nil {
			summary := e.Summary()
			e.finish(ro.runID, StatusFailed, err)
			e.notifier.Notify(core.RunFailed(ro.runID, err, &summary))
			return summary, err
		}

		e.mu.Lock()
		e.rounds = append(e.rounds, rec)
		e.state.Round = i + 1
		e.state.Timestamp = time.Now()
		e.mu.Unlock()

		log.Printf("Round %d/%d on %q (%s): %s, student reward %.2f, teacher reward %.2f",
			i+1, cfg.NumRounds, rec.Topic, rec.Difficulty, rec.Outcome, rec.Student.Reward, rec.Teacher.Reward)
		e.notifier.Notify(core.RoundCompleted(ro.runID, rec, cfg.NumRounds))

		if (i+1)%cfg.EvolutionInterval == 0 {
			e.evolve(ctx, ro.runID, i+1, cfg.EvolutionInterval)
		}
	}

	summary := e.Summary()
	e.finish(ro.runID, StatusCompleted, nil)
	log.Printf("Run %s completed: average reward %.2f over %d rounds, %d evolution events",
		ro.runID, summary.AverageReward, summary.TotalRounds, summary.EvolutionEventCount)
	e.notifier.Notify(core.RunCompleted(ro.runID, summary))
	return summary, nil
}

// Stop asks the running loop to exit before its next round.
func (e *LearningEnvironment) Stop() error {
	if !e.running.Load() {
		return core.ErrNoActiveRun
	}
	e.stopRequested.Store(true)
	return nil
}

// Running reports whether a run is in flight.
func (e *LearningEnvironment) Running() bool {
	return e.running.Load()
}

func (e *LearningEnvironment) prepare(cfg core.RunConfig) error {
	if err := e.teacher.Prepare(cfg, rand.New(rand.NewSource(cfg.Seed))); err != nil {
		return err
	}
	return e.student.Prepare(cfg, rand.New(rand.NewSource(cfg.Seed+1)))
}

// round runs one teacher -> student -> evaluation -> reflection cycle.
// Collaborator failures are recorded on the record; anything else aborts.
func (e *LearningEnvironment) round(ctx context.Context, i int, cfg core.RunConfig) (core.RoundRecord, error) {
	var failures []string
	degrade := func(err error) error {
		if err == nil {
			return nil
		}
		var collabErr *core.CollaboratorError
		if errors.As(err, &collabErr) {
			failures = append(failures, collabErr.Error())
			return nil
		}
		return err
	}

	teacherTurn, problem, err := e.teacher.Act(ctx, agent.Input{StudentSummary: e.student.Summary()})
	if err = degrade(err); err != nil {
		return core.RoundRecord{}, err
	}
	studentTurn, answer, err := e.student.Act(ctx, agent.Input{Problem: problem, Topic: teacherTurn.Topic})
	if err = degrade(err); err != nil {
		return core.RoundRecord{}, err
	}
	feedback, outcome, reward, err := e.teacher.Evaluate(ctx, problem, answer)
	if err = degrade(err); err != nil {
		return core.RoundRecord{}, err
	}
	reflection, err := e.student.Reflect(ctx, problem, answer, feedback)
	if err = degrade(err); err != nil {
		return core.RoundRecord{}, err
	}

	teacherReward := cfg.Policy.TeacherRewardFor(reward, e.student.Trailing())
	studentTr := e.student.Learn(studentTurn, reward)
	teacherTr := e.teacher.Learn(teacherTurn, teacherReward)
	e.teacher.Rest()
	e.student.Rest()

	return core.RoundRecord{
		Index:      i,
		Topic:      teacherTurn.Topic,
		Difficulty: teacherTurn.Difficulty.String(),
		Teacher:    teacherTr,
		Student:    studentTr,
		Outcome:    outcome,
		Problem:    problem,
		Answer:     answer,
		Feedback:   feedback,
		Reflection: reflection,
		Degraded:   len(failures) > 0,
		Failures:   failures,
		Timestamp:  time.Now(),
	}, nil
}

// evolve hands both agents the student's rewards over the last interval.
func (e *LearningEnvironment) evolve(ctx context.Context, runID string, round, interval int) {
	e.mu.RLock()
	window := core.StudentRewards(e.rounds[len(e.rounds)-interval:])
	e.mu.RUnlock()
	stats := core.NewStats(window)

	log.Printf("Evolution point at round %d: average reward %.2f over the last %d rounds", round, stats.Average, len(window))
	for _, a := range []*agent.Agent{e.teacher, e.student} {
		ev := a.Evolve(ctx, round, stats)
		if ev == nil {
			continue
		}
		e.mu.Lock()
		e.events = append(e.events, *ev)
		e.mu.Unlock()
		e.notifier.Notify(core.Evolved(runID, *ev))
	}
}

func (e *LearningEnvironment) finish(runID, status string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	e.state.RunID = runID
	e.state.Status = status
	e.state.EndTime = now
	e.state.Timestamp = now
	e.state.Error = ""
	if err != nil {
		e.state.Error = err.Error()
	}
}

// GetState returns the current run status.
func (e *LearningEnvironment) GetState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Rounds returns a copy of the round history of the current or last run.
func (e *LearningEnvironment) Rounds() []core.RoundRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]core.RoundRecord, len(e.rounds))
	for i, r := range e.rounds {
		out[i] = r.Clone()
	}
	return out
}

// Events returns a copy of the evolution events of the current or last run.
func (e *LearningEnvironment) Events() []core.EvolutionEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]core.EvolutionEvent{}, e.events...)
}

// Summary derives statistics from the history.
func (e *LearningEnvironment) Summary() core.Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := core.Summarize(e.rounds, e.events)
	s.RunID = e.state.RunID
	return s
}
