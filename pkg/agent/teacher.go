package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/boristopalov/tutor/pkg/core"
)

const (
	problemPromptTemplate = `As an expert teacher, create a %s difficulty learning problem on the topic of '%s'.
%s
Provide only the problem statement.`

	evaluationPromptTemplate = `Evaluate the following student response to the problem below.
Problem: %s

Student response: %s

Begin your feedback with exactly one verdict: "Correct", "Partially correct" or "Incorrect". Then explain briefly what was right and what could be improved.`

	topicPromptTemplate = `As an expert educator, you are teaching a student about '%s'.
Based on the student's overall performance '%s', propose a new, related learning topic that would be a logical next step or address a knowledge gap. Provide only the topic name, concisely.`
)

// Topic returns the teacher's current curriculum topic.
func (a *Agent) Topic() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.curriculum) == 0 {
		return ""
	}
	return a.curriculum[a.cursor]
}

// Curriculum returns a copy of the teacher's topics, including synthesized ones.
func (a *Agent) Curriculum() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.curriculum...)
}

// Difficulty returns the teacher's base difficulty.
func (a *Agent) Difficulty() core.Difficulty {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.difficulty
}

// teach picks the teaching action for the current topic and renders a problem.
func (a *Agent) teach(ctx context.Context, studentSummary string) (Turn, string, error) {
	a.mu.RLock()
	topic := a.curriculum[a.cursor]
	difficulty := a.difficulty
	a.mu.RUnlock()

	state := a.State(topic)
	action := a.framework.SelectAction(state)

	var instruction string
	switch action {
	case core.ActionIntroduceNewTopic:
		a.mu.Lock()
		a.cursor = (a.cursor + 1) % len(a.curriculum)
		topic = a.curriculum[a.cursor]
		a.mu.Unlock()
		instruction = "This concept is new to the student: do not build on earlier material."
	case core.ActionIncreaseDifficulty:
		difficulty = difficulty.Harder()
		instruction = "Make it a harder variant than anything the student has solved so far."
	case core.ActionRepeatTopic:
		instruction = "Revisit the topic with a fresh problem at the same level."
	case core.ActionGiveHint:
		hint := a.budget.Truncate(studentSummary)
		if hint == "" {
			hint = "No recent performance data."
		}
		instruction = fmt.Sprintf("The student's recent performance: %s\nInclude a short hint that helps with this.", hint)
	}

	turn := Turn{State: state, Action: action, Topic: topic, Difficulty: difficulty}
	prompt := fmt.Sprintf(problemPromptTemplate, difficulty, topic, instruction)
	problem, err := a.generate(ctx, "generate problem", prompt)
	return turn, problem, err
}

// Evaluate grades an answer through the collaborator and interprets the
// feedback. The interpreter is the only source of the reward.
func (a *Agent) Evaluate(ctx context.Context, problem, answer string) (string, core.Outcome, float64, error) {
	if err := a.requireRole(core.RoleTeacher, "evaluate"); err != nil {
		return "", core.OutcomeUnclear, 0, err
	}
	a.setPhase(PhaseActing)
	prompt := fmt.Sprintf(evaluationPromptTemplate, problem, answer)
	text, err := a.generate(ctx, "evaluate answer", prompt)
	outcome, reward := a.interpreter.Interpret(text)
	return text, outcome, reward, err
}

// SynthesizeTopic asks the collaborator for a follow-up topic. It returns
// "" when the call degrades or the proposal is already in the curriculum.
func (a *Agent) SynthesizeTopic(ctx context.Context, performance string) (string, error) {
	if err := a.requireRole(core.RoleTeacher, "synthesize topics"); err != nil {
		return "", err
	}
	prompt := fmt.Sprintf(topicPromptTemplate, a.Topic(), performance)
	text, err := a.generate(ctx, "synthesize topic", prompt)
	if err != nil {
		return "", err
	}
	topic := cleanTopic(text)
	if topic == "" || a.hasTopic(topic) {
		return "", nil
	}
	return topic, nil
}

func (a *Agent) hasTopic(topic string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, t := range a.curriculum {
		if strings.EqualFold(t, topic) {
			return true
		}
	}
	return false
}

func (a *Agent) evolveTeacher(ctx context.Context, stats core.Stats) *core.EvolutionEvent {
	switch {
	case stats.Average >= a.policy.MasteryThreshold:
		a.mu.Lock()
		from := a.difficulty
		if from < core.DifficultyHard {
			a.difficulty = from.Harder()
			a.mu.Unlock()
			a.nudge(core.ActionIncreaseDifficulty, core.ActionIntroduceNewTopic)
			return &core.EvolutionEvent{
				Kind:   core.EvolutionDifficultyIncreased,
				Detail: fmt.Sprintf("%s -> %s", from, from.Harder()),
			}
		}
		a.mu.Unlock()

		performance := fmt.Sprintf("average reward %.2f over the last %d rounds", stats.Average, len(stats.Rewards))
		topic, err := a.SynthesizeTopic(ctx, performance)
		if err != nil || topic == "" {
			return nil
		}
		a.mu.Lock()
		a.curriculum = append(a.curriculum, topic)
		a.mu.Unlock()
		a.nudge(core.ActionIncreaseDifficulty, core.ActionIntroduceNewTopic)
		return &core.EvolutionEvent{Kind: core.EvolutionTopicIntroduced, Detail: topic}

	case stats.Average < a.policy.StrugglingThreshold:
		a.mu.Lock()
		defer a.mu.Unlock()
		from := a.difficulty
		if from == core.DifficultyEasy {
			return nil
		}
		a.difficulty = from.Easier()
		return &core.EvolutionEvent{
			Kind:   core.EvolutionDifficultyDecreased,
			Detail: fmt.Sprintf("%s -> %s", from, from.Easier()),
		}
	}
	return nil
}

const maxTopicRunes = 80

// cleanTopic reduces a model's topic proposal to a bare name.
func cleanTopic(text string) string {
	var line string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	lower := strings.ToLower(line)
	for _, prefix := range []string{"new topic:", "topic:"} {
		if strings.HasPrefix(lower, prefix) {
			line = strings.TrimSpace(line[len(prefix):])
			break
		}
	}
	line = strings.Trim(line, "*\"'`#-. ")
	if runes := []rune(line); len(runes) > maxTopicRunes {
		line = strings.TrimSpace(string(runes[:maxTopicRunes]))
	}
	return line
}
