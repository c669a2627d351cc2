package agent

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/tutor/pkg/core"
)

// MockCollaborator replies with a fixed text and records prompts.
type MockCollaborator struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	ctxErrs []error
}

func (m *MockCollaborator) Generate(ctx context.Context, prompt string, role core.Role, timeout time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func (m *MockCollaborator) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

func runConfig(topics ...string) core.RunConfig {
	greedy := core.Hyperparams{LearningRate: 0.5, Discount: 0.9, Exploration: 0}
	return core.RunConfig{
		NumRounds:         4,
		Topics:            topics,
		EvolutionInterval: 2,
		Teacher:           greedy,
		Student:           greedy,
		Policy:            core.DefaultPolicy(),
	}
}

func newPrepared(t *testing.T, role core.Role, mock *MockCollaborator, topics ...string) *Agent {
	t.Helper()
	var (
		a   *Agent
		err error
	)
	if role == core.RoleTeacher {
		a, err = NewTeacher(WithCollaborator(mock), WithAgentId("teacher-test"))
	} else {
		a, err = NewStudent(WithCollaborator(mock), WithAgentId("student-test"))
	}
	require.NoError(t, err)
	require.NoError(t, a.Prepare(runConfig(topics...), rand.New(rand.NewSource(1))))
	return a
}

func TestNewAgentRequiresCollaborator(t *testing.T) {
	_, err := NewTeacher()
	assert.Error(t, err)
}

func TestActBeforePrepare(t *testing.T) {
	a, err := NewStudent(WithCollaborator(&MockCollaborator{reply: "x"}))
	require.NoError(t, err)
	_, _, err = a.Act(context.Background(), Input{Problem: "p", Topic: "t"})
	assert.ErrorIs(t, err, ErrNotPrepared)
}

func TestTeacherAct(t *testing.T) {
	t.Run("greedy picks first declared action and advances curriculum", func(t *testing.T) {
		mock := &MockCollaborator{reply: "What does gamma control?"}
		teacher := newPrepared(t, core.RoleTeacher, mock, "RL-basics", "Q-learning")

		turn, problem, err := teacher.Act(context.Background(), Input{StudentSummary: "No recent performance data."})
		require.NoError(t, err)
		assert.Equal(t, "What does gamma control?", problem)
		assert.Equal(t, core.ActionIntroduceNewTopic, turn.Action)
		assert.Equal(t, core.State{Performance: core.LevelNone, Topic: "RL-basics"}, turn.State)
		assert.Equal(t, "Q-learning", turn.Topic)
		assert.Equal(t, "Q-learning", teacher.Topic())
		assert.Contains(t, mock.lastPrompt(), "medium difficulty learning problem on the topic of 'Q-learning'")
	})

	t.Run("increase difficulty lasts one round", func(t *testing.T) {
		mock := &MockCollaborator{reply: "problem"}
		teacher := newPrepared(t, core.RoleTeacher, mock, "RL-basics")
		require.NoError(t, teacher.framework.Nudge(core.ActionIncreaseDifficulty, 1))

		turn, _, err := teacher.Act(context.Background(), Input{})
		require.NoError(t, err)
		assert.Equal(t, core.ActionIncreaseDifficulty, turn.Action)
		assert.Equal(t, core.DifficultyHard, turn.Difficulty)
		assert.Equal(t, core.DifficultyMedium, teacher.Difficulty())
		assert.Contains(t, mock.lastPrompt(), "hard difficulty")
	})

	t.Run("give hint carries the student summary", func(t *testing.T) {
		mock := &MockCollaborator{reply: "problem"}
		teacher := newPrepared(t, core.RoleTeacher, mock, "RL-basics")
		require.NoError(t, teacher.framework.Nudge(core.ActionGiveHint, 1))

		turn, _, err := teacher.Act(context.Background(), Input{StudentSummary: "average reward -0.50 over the last 3 rounds"})
		require.NoError(t, err)
		assert.Equal(t, core.ActionGiveHint, turn.Action)
		assert.Equal(t, "RL-basics", turn.Topic)
		assert.Contains(t, mock.lastPrompt(), "average reward -0.50 over the last 3 rounds")
	})

	t.Run("collaborator failure degrades", func(t *testing.T) {
		mock := &MockCollaborator{err: errors.New("connection refused")}
		teacher := newPrepared(t, core.RoleTeacher, mock, "RL-basics")

		turn, problem, err := teacher.Act(context.Background(), Input{})
		var collabErr *core.CollaboratorError
		require.True(t, errors.As(err, &collabErr))
		assert.Equal(t, core.RoleTeacher, collabErr.Role)
		assert.Empty(t, problem)
		assert.Equal(t, "RL-basics", turn.Topic)
	})

	t.Run("calls are detached from cancellation", func(t *testing.T) {
		mock := &MockCollaborator{reply: "problem"}
		teacher := newPrepared(t, core.RoleTeacher, mock, "RL-basics")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, _, err := teacher.Act(ctx, Input{})
		require.NoError(t, err)
		assert.NoError(t, mock.ctxErrs[0])
	})
}

func TestTeacherEvaluate(t *testing.T) {
	mock := &MockCollaborator{reply: "Correct answer"}
	teacher := newPrepared(t, core.RoleTeacher, mock, "RL-basics")

	text, outcome, reward, err := teacher.Evaluate(context.Background(), "What is alpha?", "The learning rate.")
	require.NoError(t, err)
	assert.Equal(t, "Correct answer", text)
	assert.Equal(t, core.OutcomeCorrect, outcome)
	assert.Equal(t, 1.0, reward)
	assert.Contains(t, mock.lastPrompt(), "What is alpha?")
	assert.Contains(t, mock.lastPrompt(), "The learning rate.")

	mock.err = errors.New("timeout")
	_, outcome, reward, err = teacher.Evaluate(context.Background(), "p", "a")
	assert.Error(t, err)
	assert.Equal(t, core.OutcomeUnclear, outcome)
	assert.Equal(t, 0.0, reward)
}

func TestRoleMisuse(t *testing.T) {
	student := newPrepared(t, core.RoleStudent, &MockCollaborator{reply: "x"}, "RL-basics")
	_, _, _, err := student.Evaluate(context.Background(), "p", "a")
	require.Error(t, err)
	var collabErr *core.CollaboratorError
	assert.False(t, errors.As(err, &collabErr))

	teacher := newPrepared(t, core.RoleTeacher, &MockCollaborator{reply: "x"}, "RL-basics")
	_, err = teacher.Reflect(context.Background(), "p", "a", "f")
	assert.Error(t, err)
}

func TestStudentActAndReflect(t *testing.T) {
	mock := &MockCollaborator{reply: "Gamma discounts future rewards."}
	student := newPrepared(t, core.RoleStudent, mock, "RL-basics")

	turn, answer, err := student.Act(context.Background(), Input{Problem: "What does gamma do?", Topic: "RL-basics"})
	require.NoError(t, err)
	assert.Equal(t, core.ActionDetailedAnswer, turn.Action)
	assert.Equal(t, "Gamma discounts future rewards.", answer)
	assert.Contains(t, mock.lastPrompt(), "step by step")

	mock.reply = "Mention the range of gamma next time."
	reflection, err := student.Reflect(context.Background(), "What does gamma do?", answer, "Partially correct")
	require.NoError(t, err)
	assert.Equal(t, []string{reflection}, student.Reflections())

	require.NoError(t, student.framework.Nudge(core.ActionApplyReflection, 1))
	turn, _, err = student.Act(context.Background(), Input{Problem: "What does alpha do?", Topic: "RL-basics"})
	require.NoError(t, err)
	assert.Equal(t, core.ActionApplyReflection, turn.Action)
	assert.Contains(t, mock.lastPrompt(), "Mention the range of gamma next time.")
}

func TestLearn(t *testing.T) {
	student := newPrepared(t, core.RoleStudent, &MockCollaborator{reply: "x"}, "RL-basics")
	turn, _, err := student.Act(context.Background(), Input{Problem: "p", Topic: "RL-basics"})
	require.NoError(t, err)

	tr := student.Learn(turn, 1.0)
	assert.Equal(t, core.LevelNone, tr.State.Performance)
	assert.Equal(t, core.LevelHigh, tr.NextState.Performance)
	assert.Equal(t, 1.0, tr.Reward)
	assert.Equal(t, 1, student.TableSize())
	assert.Equal(t, PhaseEvaluated, student.Phase())
	assert.Equal(t, []float64{1.0}, student.Trailing())

	for _, r := range []float64{0.3, -0.5, -0.5} {
		student.Observe(r, "RL-basics")
	}
	assert.Equal(t, []float64{0.3, -0.5, -0.5}, student.Trailing())
}

func TestTeacherEvolve(t *testing.T) {
	mock := &MockCollaborator{reply: "Topic: Temporal-difference learning."}
	teacher := newPrepared(t, core.RoleTeacher, mock, "RL-basics")
	mastered := core.NewStats([]float64{1, 1})

	ev := teacher.Evolve(context.Background(), 2, mastered)
	require.NotNil(t, ev)
	assert.Equal(t, core.EvolutionDifficultyIncreased, ev.Kind)
	assert.Equal(t, 2, ev.Round)
	assert.Equal(t, core.RoleTeacher, ev.Role)
	assert.Equal(t, core.DifficultyHard, teacher.Difficulty())
	assert.Greater(t, teacher.Bias(core.ActionIncreaseDifficulty), 0.0)
	assert.Empty(t, mock.prompts, "raising difficulty needs no model call")

	ev = teacher.Evolve(context.Background(), 4, mastered)
	require.NotNil(t, ev)
	assert.Equal(t, core.EvolutionTopicIntroduced, ev.Kind)
	assert.Equal(t, "Temporal-difference learning", ev.Detail)
	assert.Equal(t, []string{"RL-basics", "Temporal-difference learning"}, teacher.Curriculum())
	assert.Contains(t, mock.lastPrompt(), "teaching a student about 'RL-basics'")

	bias := teacher.Bias(core.ActionIncreaseDifficulty)
	newTopicBias := teacher.Bias(core.ActionIntroduceNewTopic)
	curriculum := teacher.Curriculum()

	assert.Nil(t, teacher.Evolve(context.Background(), 6, mastered), "duplicate topics are not introduced")
	assert.Equal(t, bias, teacher.Bias(core.ActionIncreaseDifficulty))
	assert.Equal(t, newTopicBias, teacher.Bias(core.ActionIntroduceNewTopic))
	assert.Equal(t, core.DifficultyHard, teacher.Difficulty())
	assert.Equal(t, curriculum, teacher.Curriculum())

	mock.err = errors.New("down")
	for round := 8; round <= 40; round += 2 {
		assert.Nil(t, teacher.Evolve(context.Background(), round, mastered))
	}
	assert.Equal(t, bias, teacher.Bias(core.ActionIncreaseDifficulty), "failed synthesis leaves the policy alone")
	assert.Equal(t, newTopicBias, teacher.Bias(core.ActionIntroduceNewTopic))
	assert.Equal(t, core.DifficultyHard, teacher.Difficulty())
	assert.Equal(t, curriculum, teacher.Curriculum())
	assert.Equal(t, PhaseIdle, teacher.Phase())
}

func TestTeacherEvolveStruggling(t *testing.T) {
	teacher := newPrepared(t, core.RoleTeacher, &MockCollaborator{reply: "x"}, "RL-basics")
	struggling := core.NewStats([]float64{-0.5, -0.5})

	ev := teacher.Evolve(context.Background(), 2, struggling)
	require.NotNil(t, ev)
	assert.Equal(t, core.EvolutionDifficultyDecreased, ev.Kind)
	assert.Equal(t, core.DifficultyEasy, teacher.Difficulty())

	assert.Nil(t, teacher.Evolve(context.Background(), 4, struggling), "easy is the floor")
	assert.Nil(t, teacher.Evolve(context.Background(), 6, core.NewStats([]float64{0.3})))
}

func TestStudentEvolve(t *testing.T) {
	student := newPrepared(t, core.RoleStudent, &MockCollaborator{reply: "x"}, "RL-basics")
	require.NoError(t, student.framework.SetExploration(0.2))

	assert.Nil(t, student.Evolve(context.Background(), 2, core.NewStats([]float64{1, 0.3})))

	ev := student.Evolve(context.Background(), 4, core.NewStats([]float64{-0.5, 0}))
	require.NotNil(t, ev)
	assert.Equal(t, core.EvolutionPolicyConservative, ev.Kind)
	assert.InDelta(t, 0.1, student.Exploration(), 1e-12)
	assert.Equal(t, core.DefaultPolicy().NudgeStep, student.Bias(core.ActionDetailedAnswer))
	assert.Equal(t, core.DefaultPolicy().NudgeStep, student.Bias(core.ActionAskClarification))
	assert.InDelta(t, -0.25, ev.TrailingAverage, 1e-12)

	assert.Nil(t, student.Evolve(context.Background(), 6, core.Stats{}))
}

func TestEvolveIsDeterministic(t *testing.T) {
	stats := core.NewStats([]float64{-0.5, -0.5, 0.3})
	a := newPrepared(t, core.RoleStudent, &MockCollaborator{reply: "x"}, "RL-basics")
	b := newPrepared(t, core.RoleStudent, &MockCollaborator{reply: "x"}, "RL-basics")
	evA := a.Evolve(context.Background(), 3, stats)
	evB := b.Evolve(context.Background(), 3, stats)
	require.NotNil(t, evA)
	require.NotNil(t, evB)
	assert.Equal(t, evA.Kind, evB.Kind)
	assert.Equal(t, evA.Detail, evB.Detail)
	assert.Equal(t, a.Exploration(), b.Exploration())
}

func TestCleanTopic(t *testing.T) {
	tests := map[string]string{
		"Quadratic Equations":                 "Quadratic Equations",
		"\n\n**Policy Gradients**\nmore text": "Policy Gradients",
		"New topic: \"Bellman equations\".":   "Bellman equations",
		"   ":                                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanTopic(in), in)
	}

	long := strings.Repeat("a", 79) + "éé"
	got := cleanTopic(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 79)+"é", got)
}

func TestPrepareResets(t *testing.T) {
	mock := &MockCollaborator{reply: "Correct"}
	teacher := newPrepared(t, core.RoleTeacher, mock, "RL-basics")
	teacher.Observe(1, "RL-basics")
	_ = teacher.Evolve(context.Background(), 2, core.NewStats([]float64{1}))
	require.Equal(t, core.DifficultyHard, teacher.Difficulty())

	require.NoError(t, teacher.Prepare(runConfig("Bandits"), rand.New(rand.NewSource(2))))
	assert.Equal(t, core.DifficultyMedium, teacher.Difficulty())
	assert.Equal(t, []string{"Bandits"}, teacher.Curriculum())
	assert.Empty(t, teacher.Trailing())
	assert.Equal(t, 0.0, teacher.Bias(core.ActionIncreaseDifficulty))
}

func TestTokenBudgetTruncate(t *testing.T) {
	b := NewTokenBudget(5)
	short := "short text"
	assert.Equal(t, short, b.Truncate(short))

	long := "the agent keeps reflecting on the same mistake over and over again without end"
	out := b.Truncate(long)
	assert.Less(t, len(out), len(long))
	assert.LessOrEqual(t, b.Count(out[:len(out)-3]), 5)

	assert.Equal(t, long, NewTokenBudget(0).Truncate(long))

	estimate := &TokenBudget{limit: 2}
	accented := "abcdefgé" + strings.Repeat("x", 20)
	cut := estimate.Truncate(accented)
	assert.True(t, utf8.ValidString(cut))
	assert.Equal(t, "abcdefg...", cut)
}
