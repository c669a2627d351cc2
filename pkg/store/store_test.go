package store_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/tutor/pkg/core"
	"github.com/boristopalov/tutor/pkg/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "tutor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(i int, reward float64) core.RoundRecord {
	return core.RoundRecord{
		Index:      i,
		Topic:      "RL-basics",
		Difficulty: "medium",
		Outcome:    core.OutcomeCorrect,
		Student:    core.Transition{Action: core.ActionDetailedAnswer, Reward: reward},
		Teacher:    core.Transition{Action: core.ActionRepeatTopic, Reward: 0},
		Failures:   []string{"teacher evaluate: collaborator failed: timeout"},
		Degraded:   i == 1,
		Timestamp:  time.Now(),
	}
}

func TestStoreRecordsRun(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	s.Notify(core.Event{Kind: core.EventRunStarted, RunID: "run-1", TotalRounds: 2, Timestamp: time.Now()})
	s.Notify(core.RoundCompleted("run-1", record(0, 1), 2))
	s.Notify(core.RoundCompleted("run-1", record(1, 0.3), 2))
	s.Notify(core.Evolved("run-1", core.EvolutionEvent{
		Round: 2, Role: core.RoleTeacher, Kind: core.EvolutionDifficultyIncreased,
		Detail: "medium -> hard", TrailingAverage: 0.65, Timestamp: time.Now(),
	}))
	summary := core.Summary{RunID: "run-1", TotalRounds: 2, AverageReward: 0.65, TopicsCovered: []string{"RL-basics"}}
	s.Notify(core.RunCompleted("run-1", summary))

	run, err := s.Run(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, 2, run.TotalRounds)
	require.NotNil(t, run.FinishedAt)
	require.NotNil(t, run.Summary)
	assert.Equal(t, summary, *run.Summary)

	rounds, err := s.Rounds(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, 0, rounds[0].Index)
	assert.Equal(t, 0.3, rounds[1].Student.Reward)
	assert.True(t, rounds[1].Degraded)
	assert.Equal(t, []string{"teacher evaluate: collaborator failed: timeout"}, rounds[1].Failures)

	events, err := s.Events(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, core.EvolutionDifficultyIncreased, events[0].Kind)
	assert.Equal(t, "medium -> hard", events[0].Detail)
}

func TestStoreFailedRuns(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	// rejected before round 0: no run_started event
	s.Notify(core.RunFailed("run-invalid", errors.New("invalid configuration: topics: must not be empty"), nil))

	s.Notify(core.Event{Kind: core.EventRunStarted, RunID: "run-stopped", TotalRounds: 5, Timestamp: time.Now().Add(time.Second)})
	partial := core.Summary{RunID: "run-stopped", TotalRounds: 1}
	s.Notify(core.RunFailed("run-stopped", fmt.Errorf("%w after 1 of 5 rounds", core.ErrRunStopped), &partial))

	invalid, err := s.Run(ctx, "run-invalid")
	require.NoError(t, err)
	assert.Equal(t, "failed", invalid.Status)
	assert.Contains(t, invalid.Error, "topics")
	assert.Nil(t, invalid.Summary)

	stopped, err := s.Run(ctx, "run-stopped")
	require.NoError(t, err)
	assert.Equal(t, "stopped", stopped.Status)
	require.NotNil(t, stopped.Summary)
	assert.Equal(t, 1, stopped.Summary.TotalRounds)

	runs, err := s.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-stopped", runs[0].ID)

	_, err = s.Run(ctx, "run-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
