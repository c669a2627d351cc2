package environment_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/tutor/pkg/agent"
	"github.com/boristopalov/tutor/pkg/core"
	"github.com/boristopalov/tutor/pkg/environment"
)

// stubCollaborator answers every prompt through fn and counts calls.
type stubCollaborator struct {
	mu    sync.Mutex
	calls int
	fn    func(prompt string, role core.Role) (string, error)
}

func (s *stubCollaborator) Generate(_ context.Context, prompt string, role core.Role, _ time.Duration) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(prompt, role)
}

func (s *stubCollaborator) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func always(text string) *stubCollaborator {
	return &stubCollaborator{fn: func(string, core.Role) (string, error) { return text, nil }}
}

type eventLog struct {
	mu     sync.Mutex
	events []core.Event
}

func (l *eventLog) Notify(ev core.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []core.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.EventKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

func newEnv(t *testing.T, collab core.Collaborator, opts ...environment.Option) *environment.LearningEnvironment {
	t.Helper()
	teacher, err := agent.NewTeacher(agent.WithCollaborator(collab))
	require.NoError(t, err)
	student, err := agent.NewStudent(agent.WithCollaborator(collab))
	require.NoError(t, err)
	env, err := environment.NewLearningEnvironment(teacher, student, opts...)
	require.NoError(t, err)
	return env
}

func config(rounds, interval int, topics ...string) core.RunConfig {
	return core.RunConfig{
		NumRounds:         rounds,
		Topics:            topics,
		EvolutionInterval: interval,
		Seed:              42,
		Teacher:           core.DefaultHyperparams(),
		Student:           core.DefaultHyperparams(),
		Policy:            core.DefaultPolicy(),
	}
}

func TestRunEndToEnd(t *testing.T) {
	log := &eventLog{}
	env := newEnv(t, always("Correct answer"), environment.WithNotifier(log))

	summary, err := env.Run(context.Background(), config(4, 2, "RL-basics"))
	require.NoError(t, err)

	rounds := env.Rounds()
	require.Len(t, rounds, 4)
	for i, r := range rounds {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, core.OutcomeCorrect, r.Outcome)
		assert.Equal(t, 1.0, r.Student.Reward)
		assert.False(t, r.Degraded)
	}
	assert.Equal(t, 1.0, rounds[0].Teacher.Reward, "no history: teacher mirrors the student")
	assert.Equal(t, 0.0, rounds[1].Teacher.Reward, "no improvement over a perfect average")

	events := env.Events()
	require.Len(t, events, 2)
	assert.Equal(t, 2, events[0].Round)
	assert.Equal(t, core.RoleTeacher, events[0].Role)
	assert.Equal(t, core.EvolutionDifficultyIncreased, events[0].Kind)
	assert.Equal(t, 4, events[1].Round)
	assert.Equal(t, core.EvolutionTopicIntroduced, events[1].Kind)
	assert.Equal(t, "Correct answer", events[1].Detail)

	assert.Equal(t, 4, summary.TotalRounds)
	assert.Equal(t, 1.0, summary.AverageReward)
	assert.Equal(t, 1.0, summary.MinReward)
	assert.Equal(t, 1.0, summary.MaxReward)
	assert.Equal(t, []string{"RL-basics"}, summary.TopicsCovered)
	assert.Equal(t, 2, summary.EvolutionEventCount)
	assert.Equal(t, []string{"RL-basics", "Correct answer"}, env.Teacher().Curriculum())

	assert.Equal(t, []core.EventKind{
		core.EventRunStarted,
		core.EventRoundCompleted, core.EventRoundCompleted, core.EventEvolution,
		core.EventRoundCompleted, core.EventRoundCompleted, core.EventEvolution,
		core.EventRunCompleted,
	}, log.kinds())

	state := env.GetState()
	assert.Equal(t, environment.StatusCompleted, state.Status)
	assert.Equal(t, 4, state.Round)
	assert.Equal(t, summary.RunID, state.RunID)
}

func TestEvolutionFiresOnlyAtIntervals(t *testing.T) {
	for _, tt := range []struct {
		rounds, interval int
		want             []int
	}{
		{rounds: 7, interval: 3, want: []int{3, 6}},
		{rounds: 5, interval: 5, want: []int{5}},
		{rounds: 4, interval: 1, want: []int{1, 2, 3, 4}},
	} {
		log := &eventLog{}
		// incorrect feedback keeps the student struggling, so every
		// evolution point yields a student event
		env := newEnv(t, always("Incorrect."), environment.WithNotifier(log))
		_, err := env.Run(context.Background(), config(tt.rounds, tt.interval, "RL-basics"))
		require.NoError(t, err)

		var got []int
		for _, ev := range env.Events() {
			if ev.Role == core.RoleStudent {
				got = append(got, ev.Round)
				assert.Equal(t, core.EvolutionPolicyConservative, ev.Kind)
			}
		}
		assert.Equal(t, tt.want, got, "rounds=%d interval=%d", tt.rounds, tt.interval)
		assert.Len(t, env.Rounds(), tt.rounds)
	}
}

func TestInvalidConfigFailsBeforeRoundZero(t *testing.T) {
	collab := always("Correct")
	log := &eventLog{}
	env := newEnv(t, collab, environment.WithNotifier(log))

	cfg := config(2, 3, "RL-basics")
	_, err := env.Run(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, core.IsConfigurationError(err))
	assert.Equal(t, 0, collab.Calls())
	assert.Empty(t, env.Rounds())
	assert.Equal(t, []core.EventKind{core.EventRunFailed}, log.kinds())
	assert.False(t, env.Running())
}

func TestDegradedCollaboratorKeepsRounds(t *testing.T) {
	collab := &stubCollaborator{fn: func(prompt string, role core.Role) (string, error) {
		if strings.HasPrefix(prompt, "Evaluate") {
			return "", errors.New("model timed out")
		}
		return "something", nil
	}}
	env := newEnv(t, collab)

	summary, err := env.Run(context.Background(), config(3, 3, "RL-basics"))
	require.NoError(t, err)
	rounds := env.Rounds()
	require.Len(t, rounds, 3)
	for _, r := range rounds {
		assert.True(t, r.Degraded)
		assert.Equal(t, core.OutcomeUnclear, r.Outcome)
		assert.Equal(t, 0.0, r.Student.Reward)
		require.Len(t, r.Failures, 1)
		assert.Contains(t, r.Failures[0], "evaluate answer")
	}
	assert.Equal(t, 3, summary.DegradedRounds)
}

func TestRunRefusesConcurrentInvocation(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	collab := &stubCollaborator{fn: func(string, core.Role) (string, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return "Correct", nil
	}}
	env := newEnv(t, collab)

	done := make(chan error, 1)
	go func() {
		_, err := env.Run(context.Background(), config(1, 1, "RL-basics"))
		done <- err
	}()
	<-started

	_, err := env.Run(context.Background(), config(1, 1, "RL-basics"))
	assert.ErrorIs(t, err, core.ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestStopBetweenRounds(t *testing.T) {
	var env *environment.LearningEnvironment
	log := &eventLog{}
	collab := &stubCollaborator{}
	collab.fn = func(string, core.Role) (string, error) {
		// the student's reflection is the last call of a round
		if collab.Calls() == 4 {
			require.NoError(t, env.Stop())
		}
		return "Correct", nil
	}
	env = newEnv(t, collab, environment.WithNotifier(log))

	summary, err := env.Run(context.Background(), config(5, 5, "RL-basics"))
	assert.ErrorIs(t, err, core.ErrRunStopped)
	assert.Equal(t, 1, summary.TotalRounds, "the round in flight completes")
	assert.Len(t, env.Rounds(), 1)
	assert.Equal(t, environment.StatusStopped, env.GetState().Status)
	kinds := log.kinds()
	assert.Equal(t, core.EventRunFailed, kinds[len(kinds)-1])

	assert.ErrorIs(t, env.Stop(), core.ErrNoActiveRun)
}

func TestCancelledContextStopsBeforeNextRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	collab := &stubCollaborator{}
	collab.fn = func(string, core.Role) (string, error) {
		cancel()
		return "Correct", nil
	}
	env := newEnv(t, collab)

	summary, err := env.Run(ctx, config(3, 3, "RL-basics"))
	assert.ErrorIs(t, err, core.ErrRunStopped)
	assert.Equal(t, 1, summary.TotalRounds)
}

func TestSeededRunsAreReproducible(t *testing.T) {
	run := func() []core.RoundRecord {
		i := 0
		replies := []string{"Correct", "Partially correct", "Incorrect"}
		collab := &stubCollaborator{}
		collab.fn = func(prompt string, _ core.Role) (string, error) {
			if strings.HasPrefix(prompt, "Evaluate") {
				i++
				return replies[i%len(replies)], nil
			}
			return "text", nil
		}
		env := newEnv(t, collab)
		_, err := env.Run(context.Background(), config(12, 4, "RL-basics", "Q-learning", "Bandits"))
		require.NoError(t, err)
		return env.Rounds()
	}

	a, b := run(), run()
	require.Len(t, a, 12)
	for i := range a {
		assert.Equal(t, a[i].Topic, b[i].Topic)
		assert.Equal(t, a[i].Teacher.Action, b[i].Teacher.Action)
		assert.Equal(t, a[i].Student.Action, b[i].Student.Action)
		assert.Equal(t, a[i].Student.Reward, b[i].Student.Reward)
		assert.Equal(t, a[i].Teacher.Reward, b[i].Teacher.Reward)
	}
}

func TestRoundsAreCopies(t *testing.T) {
	env := newEnv(t, always("Correct"))
	_, err := env.Run(context.Background(), config(1, 1, "RL-basics"))
	require.NoError(t, err)

	rounds := env.Rounds()
	rounds[0].Topic = "mutated"
	assert.Equal(t, "RL-basics", env.Rounds()[0].Topic)
}
