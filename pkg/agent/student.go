package agent

import (
	"context"
	"fmt"

	"github.com/boristopalov/tutor/pkg/core"
)

const (
	answerPromptTemplate = `You are a student. Here is a problem: %s

%s`

	reflectionPromptTemplate = `You are a student. You attempted to solve the following problem:
Problem: %s

Your response was: %s

The teacher provided the following feedback: %s

Based on this, reflect on what you learned, what you could have done better, and how you will approach similar problems in the future. Be concise.`
)

var answerStyles = map[core.Action]string{
	core.ActionDetailedAnswer:   "Provide a detailed answer that walks through your reasoning step by step.",
	core.ActionConciseAnswer:    "Answer concisely in a few sentences.",
	core.ActionAskClarification: "If anything in the problem is ambiguous, state the assumption you make, then answer.",
}

// answer picks an answer style and renders the answer to problem.
func (a *Agent) answer(ctx context.Context, problem, topic string) (Turn, string, error) {
	state := a.State(topic)
	action := a.framework.SelectAction(state)

	style, ok := answerStyles[action]
	if action == core.ActionApplyReflection {
		style = "Think the problem through carefully, then answer."
		if reflection, found := a.reflections.Latest(); found {
			style = fmt.Sprintf("After the last problem you reflected: %q\nApply that lesson in your answer.", a.budget.Truncate(reflection))
		}
	} else if !ok {
		style = answerStyles[core.ActionConciseAnswer]
	}

	turn := Turn{State: state, Action: action, Topic: topic}
	ans, err := a.generate(ctx, "answer problem", fmt.Sprintf(answerPromptTemplate, problem, style))
	return turn, ans, err
}

// Reflect produces a self-critique of the last answer and keeps it as a hint
// for the next one. Reflections never carry reward.
func (a *Agent) Reflect(ctx context.Context, problem, answer, feedback string) (string, error) {
	if err := a.requireRole(core.RoleStudent, "reflect"); err != nil {
		return "", err
	}
	a.setPhase(PhaseActing)
	text, err := a.generate(ctx, "reflect", fmt.Sprintf(reflectionPromptTemplate, problem, answer, feedback))
	if text != "" {
		a.reflections.Store(text)
	}
	return text, err
}

// Reflections returns the stored reflections, oldest first.
func (a *Agent) Reflections() []string {
	if a.reflections == nil {
		return []string{}
	}
	return a.reflections.All()
}

func (a *Agent) evolveStudent(stats core.Stats) *core.EvolutionEvent {
	if stats.Average >= a.policy.StrugglingThreshold {
		return nil
	}
	from := a.framework.Exploration()
	if err := a.framework.SetExploration(from / 2); err != nil {
		return nil
	}
	a.nudge(core.ActionDetailedAnswer, core.ActionAskClarification)
	return &core.EvolutionEvent{
		Kind:   core.EvolutionPolicyConservative,
		Detail: fmt.Sprintf("exploration %.3f -> %.3f, preferring %s and %s", from, from/2, core.ActionDetailedAnswer, core.ActionAskClarification),
	}
}
