package qlearning

import (
	"sort"

	"github.com/boristopalov/tutor/pkg/core"
)

// Entry is one row of a table dump
type Entry struct {
	State  core.State  `json:"state"`
	Action core.Action `json:"action"`
	Value  float64     `json:"value"`
}

// Entries lists the table sorted by state then action, for reports.
func (f *Framework) Entries() []Entry {
	out := make([]Entry, 0, len(f.table))
	for k, v := range f.table {
		out = append(out, Entry{State: k.State, Action: k.Action, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].State.Topic != out[j].State.Topic {
			return out[i].State.Topic < out[j].State.Topic
		}
		if out[i].State.Performance != out[j].State.Performance {
			return out[i].State.Performance < out[j].State.Performance
		}
		return out[i].Action < out[j].Action
	})
	return out
}
