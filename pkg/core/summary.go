package core

import "sort"

// Summary is derived on demand from a run's history
type Summary struct {
	RunID               string   `json:"run_id,omitempty"`
	TotalRounds         int      `json:"total_rounds"`
	AverageReward       float64  `json:"average_reward"`
	MinReward           float64  `json:"min_reward"`
	MaxReward           float64  `json:"max_reward"`
	TopicsCovered       []string `json:"topics_covered"`
	EvolutionEventCount int      `json:"evolution_event_count"`
	DegradedRounds      int      `json:"degraded_rounds"`
}

// Summarize aggregates student rewards, distinct topics and evolution counts.
// An empty history yields a zero summary with an empty topic list.
func Summarize(records []RoundRecord, events []EvolutionEvent) Summary {
	s := Summary{
		TotalRounds:         len(records),
		TopicsCovered:       []string{},
		EvolutionEventCount: len(events),
	}
	if len(records) == 0 {
		return s
	}

	rewards := make([]float64, 0, len(records))
	seen := make(map[string]struct{})
	for _, r := range records {
		rewards = append(rewards, r.Student.Reward)
		if r.Degraded {
			s.DegradedRounds++
		}
		if _, ok := seen[r.Topic]; !ok {
			seen[r.Topic] = struct{}{}
			s.TopicsCovered = append(s.TopicsCovered, r.Topic)
		}
	}
	sort.Strings(s.TopicsCovered)

	st := NewStats(rewards)
	s.AverageReward = st.Average
	s.MinReward = st.Min
	s.MaxReward = st.Max
	return s
}

// StudentRewards extracts the student reward of every record in order.
func StudentRewards(records []RoundRecord) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.Student.Reward
	}
	return out
}

// TeacherRewards extracts the teacher reward of every record in order.
func TeacherRewards(records []RoundRecord) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.Teacher.Reward
	}
	return out
}
