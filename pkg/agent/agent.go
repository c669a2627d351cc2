package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boristopalov/tutor/pkg/core"
	"github.com/boristopalov/tutor/pkg/feedback"
	"github.com/boristopalov/tutor/pkg/logx"
	"github.com/boristopalov/tutor/pkg/memory"
	"github.com/boristopalov/tutor/pkg/qlearning"
)

// Phase is where an agent is inside a round
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseActing           Phase = "acting"
	PhaseAwaitingResponse Phase = "awaiting-response"
	PhaseEvaluated        Phase = "evaluated"
	PhaseEvolving         Phase = "evolving"
)

// ErrNotPrepared is returned when an agent is used before Prepare.
var ErrNotPrepared = errors.New("agent has not been prepared for a run")

// Turn is what an agent chose at the start of its part of a round
type Turn struct {
	State      core.State
	Action     core.Action
	Topic      string
	Difficulty core.Difficulty
}

// Input carries the round context an agent acts on. The teacher reads
// StudentSummary; the student reads Problem and Topic.
type Input struct {
	StudentSummary string
	Problem        string
	Topic          string
}

// Agent is a teacher or a student. Each owns one value table over its
// role's action set.
type Agent struct {
	id           string
	role         core.Role
	collaborator core.Collaborator
	interpreter  *feedback.Interpreter
	budget       *TokenBudget
	timeout      time.Duration
	capacity     int

	framework   *qlearning.Framework
	policy      core.Policy
	rewards     *memory.Memory[float64]
	reflections *memory.Memory[string]

	mu         sync.RWMutex
	phase      Phase
	curriculum []string
	cursor     int
	difficulty core.Difficulty
}

type AgentParams struct {
	AgentID      string
	Collaborator core.Collaborator
	Interpreter  *feedback.Interpreter
	Timeout      time.Duration
	TokenLimit   int
	Capacity     int
}

type AgentOption func(*AgentParams)

func WithAgentId(id string) AgentOption {
	return func(p *AgentParams) {
		p.AgentID = id
	}
}

func WithCollaborator(c core.Collaborator) AgentOption {
	return func(p *AgentParams) {
		p.Collaborator = c
	}
}

func WithInterpreter(in *feedback.Interpreter) AgentOption {
	return func(p *AgentParams) {
		p.Interpreter = in
	}
}

// WithTimeout bounds every collaborator call made by the agent.
func WithTimeout(d time.Duration) AgentOption {
	return func(p *AgentParams) {
		p.Timeout = d
	}
}

// WithTokenLimit caps hints and reflections carried into prompts.
func WithTokenLimit(n int) AgentOption {
	return func(p *AgentParams) {
		p.TokenLimit = n
	}
}

// WithMemoryCapacity bounds the reward and reflection memories.
func WithMemoryCapacity(n int) AgentOption {
	return func(p *AgentParams) {
		p.Capacity = n
	}
}

func defaultAgentParams(role core.Role) *AgentParams {
	return &AgentParams{
		AgentID:    string(role) + "-" + uuid.New().String(),
		Timeout:    120 * time.Second,
		TokenLimit: 256,
		Capacity:   100,
	}
}

// NewTeacher creates the teacher agent.
func NewTeacher(opts ...AgentOption) (*Agent, error) {
	return newAgent(core.RoleTeacher, opts...)
}

// NewStudent creates the student agent.
func NewStudent(opts ...AgentOption) (*Agent, error) {
	return newAgent(core.RoleStudent, opts...)
}

func newAgent(role core.Role, opts ...AgentOption) (*Agent, error) {
	params := defaultAgentParams(role)
	for _, opt := range opts {
		opt(params)
	}
	if params.Collaborator == nil {
		return nil, fmt.Errorf("%s agent needs a collaborator", role)
	}
	if params.Interpreter == nil {
		params.Interpreter = feedback.Default()
	}

	a := &Agent{
		id:           params.AgentID,
		role:         role,
		collaborator: params.Collaborator,
		interpreter:  params.Interpreter,
		budget:       NewTokenBudget(params.TokenLimit),
		timeout:      params.Timeout,
		capacity:     params.Capacity,
		phase:        PhaseIdle,
	}
	log.Printf("Created %s", a.id)
	return a, nil
}

func (a *Agent) GetID() string {
	return a.id
}

func (a *Agent) Role() core.Role {
	return a.role
}

// Prepare gives the agent a fresh value table built from the run's
// hyperparameters and clears everything learned in an earlier run.
func (a *Agent) Prepare(cfg core.RunConfig, rng *rand.Rand) error {
	params := cfg.Student
	if a.role == core.RoleTeacher {
		params = cfg.Teacher
		if len(cfg.Topics) == 0 {
			return core.NewConfigurationError("topics", "must not be empty")
		}
	}
	fw, err := qlearning.New(core.ActionsFor(a.role), params, rng)
	if err != nil {
		return err
	}
	difficulty, err := core.ParseDifficulty(cfg.Policy.StartDifficulty)
	if err != nil {
		return core.NewConfigurationError("policy.start_difficulty", "%v", err)
	}

	a.framework = fw
	a.policy = cfg.Policy
	a.rewards = memory.New[float64](a.capacity)
	a.reflections = memory.New[string](a.capacity)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.curriculum = append([]string(nil), cfg.Topics...)
	a.cursor = 0
	a.difficulty = difficulty
	a.phase = PhaseIdle
	return nil
}

// Phase reports where the agent is inside the current round.
func (a *Agent) Phase() Phase {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.phase
}

func (a *Agent) setPhase(p Phase) {
	a.mu.Lock()
	a.phase = p
	a.mu.Unlock()
}

// Rest returns the agent to idle at the end of a round or a run.
func (a *Agent) Rest() {
	a.setPhase(PhaseIdle)
}

// Act selects an action for the round and renders it through the
// collaborator. A *core.CollaboratorError leaves the text empty but the turn
// usable; any other error means the agent was misused.
func (a *Agent) Act(ctx context.Context, in Input) (Turn, string, error) {
	if a.framework == nil {
		return Turn{}, "", ErrNotPrepared
	}
	a.setPhase(PhaseActing)
	if a.role == core.RoleTeacher {
		return a.teach(ctx, in.StudentSummary)
	}
	return a.answer(ctx, in.Problem, in.Topic)
}

// Trailing returns the agent's rewards over the policy window, oldest first.
func (a *Agent) Trailing() []float64 {
	if a.rewards == nil {
		return []float64{}
	}
	return a.rewards.Last(a.policy.Window)
}

// State buckets the trailing rewards for topic.
func (a *Agent) State(topic string) core.State {
	return core.NewState(a.Trailing(), topic, a.policy.Thresholds)
}

// Observe appends reward to the agent's history and returns its post-round state.
func (a *Agent) Observe(reward float64, topic string) core.State {
	a.rewards.Store(reward)
	return a.State(topic)
}

// Learn records reward and applies exactly one value update for the turn.
func (a *Agent) Learn(t Turn, reward float64) core.Transition {
	next := a.Observe(reward, t.Topic)
	a.framework.Update(t.State, t.Action, reward, next)
	a.setPhase(PhaseEvaluated)
	return core.Transition{State: t.State, Action: t.Action, Reward: reward, NextState: next}
}

// Summary describes recent performance in one line for hint prompts.
func (a *Agent) Summary() string {
	trailing := a.Trailing()
	if len(trailing) == 0 {
		return "No recent performance data."
	}
	stats := core.NewStats(trailing)
	return fmt.Sprintf("average reward %.2f over the last %d rounds (min %.2f, max %.2f)",
		stats.Average, len(trailing), stats.Min, stats.Max)
}

// QTable dumps the value table for reports.
func (a *Agent) QTable() []qlearning.Entry {
	if a.framework == nil {
		return nil
	}
	return a.framework.Entries()
}

// TableSize is the number of learned value entries.
func (a *Agent) TableSize() int {
	if a.framework == nil {
		return 0
	}
	return a.framework.Len()
}

// Exploration returns the current epsilon.
func (a *Agent) Exploration() float64 {
	if a.framework == nil {
		return 0
	}
	return a.framework.Exploration()
}

// Bias returns the selection preference evolution has added to action.
func (a *Agent) Bias(action core.Action) float64 {
	if a.framework == nil {
		return 0
	}
	return a.framework.Bias(action)
}

// generate calls the collaborator on a context detached from run
// cancellation, bounded by the agent's timeout. Failures degrade to "".
func (a *Agent) generate(ctx context.Context, op, prompt string) (string, error) {
	a.setPhase(PhaseAwaitingResponse)
	defer a.setPhase(PhaseActing)

	logx.Debugf("%s %s prompt: %s", a.id, op, prompt)
	text, err := a.collaborator.Generate(context.WithoutCancel(ctx), prompt, a.role, a.timeout)
	if err != nil {
		log.Printf("%s %s failed: %v", a.id, op, err)
		return "", &core.CollaboratorError{Role: a.role, Op: op, Err: err}
	}
	return strings.TrimSpace(text), nil
}

func (a *Agent) requireRole(role core.Role, op string) error {
	if a.role != role {
		return fmt.Errorf("%s agent cannot %s", a.role, op)
	}
	if a.framework == nil {
		return ErrNotPrepared
	}
	return nil
}

func (a *Agent) nudge(actions ...core.Action) {
	for _, act := range actions {
		if err := a.framework.Nudge(act, a.policy.NudgeStep); err != nil {
			log.Printf("%s nudge failed: %v", a.id, err)
		}
	}
}

// Evolve inspects the trailing reward window and adapts the agent. It returns
// nil when the statistics call for no change.
func (a *Agent) Evolve(ctx context.Context, round int, stats core.Stats) *core.EvolutionEvent {
	if a.framework == nil || len(stats.Rewards) == 0 {
		return nil
	}
	a.setPhase(PhaseEvolving)
	defer a.setPhase(PhaseIdle)

	var ev *core.EvolutionEvent
	if a.role == core.RoleTeacher {
		ev = a.evolveTeacher(ctx, stats)
	} else {
		ev = a.evolveStudent(stats)
	}
	if ev == nil {
		return nil
	}
	ev.Round = round
	ev.Role = a.role
	ev.TrailingAverage = stats.Average
	ev.Timestamp = time.Now()
	log.Printf("%s evolved at round %d: %s (%s)", a.id, round, ev.Kind, ev.Detail)
	return ev
}
