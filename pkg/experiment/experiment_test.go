package experiment_test

import (
	"context"
	"encoding/csv"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/tutor/pkg/agent"
	"github.com/boristopalov/tutor/pkg/core"
	"github.com/boristopalov/tutor/pkg/environment"
	"github.com/boristopalov/tutor/pkg/experiment"
)

type gatedCollaborator struct {
	gate chan struct{}
	once sync.Once
}

func (g *gatedCollaborator) Generate(context.Context, string, core.Role, time.Duration) (string, error) {
	if g.gate != nil {
		<-g.gate
	}
	return "Correct", nil
}

func (g *gatedCollaborator) open() {
	g.once.Do(func() { close(g.gate) })
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

func config(rounds int) core.RunConfig {
	return core.RunConfig{
		NumRounds:         rounds,
		Topics:            []string{"RL-basics", "Q-learning"},
		EvolutionInterval: rounds,
		Seed:              7,
		Teacher:           core.DefaultHyperparams(),
		Student:           core.DefaultHyperparams(),
		Policy:            core.DefaultPolicy(),
	}
}

func TestRunnerLifecycle(t *testing.T) {
	collab := &gatedCollaborator{gate: make(chan struct{})}
	runner := experiment.NewRunner(newEnv(t, collab))

	runID, err := runner.Start(config(3))
	require.NoError(t, err)
	assert.True(t, runner.Status().Running)
	assert.Equal(t, runID, runner.Status().RunID)

	_, err = runner.Start(config(3))
	assert.ErrorIs(t, err, core.ErrRunInProgress)

	collab.open()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runner.Wait(ctx))

	st := runner.Status()
	assert.False(t, st.Running)
	assert.Equal(t, 3, st.CurrentRound)

	res, err := runner.Result(runID)
	require.NoError(t, err)
	assert.Len(t, res.Rounds, 3)
	assert.Equal(t, 3, res.Summary.TotalRounds)
	assert.Empty(t, res.Error)

	_, err = runner.Result("run-unknown")
	assert.Error(t, err)
}

func TestRunnerRejectsInvalidConfig(t *testing.T) {
	runner := experiment.NewRunner(newEnv(t, &gatedCollaborator{}))
	cfg := config(3)
	cfg.Topics = nil
	_, err := runner.Start(cfg)
	assert.True(t, core.IsConfigurationError(err))
	assert.False(t, runner.Status().Running)
}

func TestRunnerStop(t *testing.T) {
	collab := &gatedCollaborator{gate: make(chan struct{})}
	runner := experiment.NewRunner(newEnv(t, collab))
	assert.ErrorIs(t, runner.Stop(), core.ErrNoActiveRun)

	runID, err := runner.Start(config(10))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return runner.Stop() == nil }, time.Second, 5*time.Millisecond)
	collab.open()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runner.Wait(ctx))

	res, err := runner.Result(runID)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Less(t, len(res.Rounds), 10)
}

func TestStatsFile(t *testing.T) {
	stats, err := experiment.NewStatsFile(t.TempDir())
	require.NoError(t, err)

	env := newEnv(t, &gatedCollaborator{}, environment.WithNotifier(stats))
	_, err = env.Run(context.Background(), config(2))
	require.NoError(t, err)
	require.NoError(t, stats.Close())

	f, err := os.Open(stats.Path())
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Round", rows[0][0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "correct", rows[1][3])
	assert.Equal(t, "1.00", rows[1][5])
}
