package core

import (
	"context"
	"time"
)

// Collaborator renders prompts into free text through a language model
type Collaborator interface {
	// Generate returns the model's text for prompt. role hints which agent is
	// asking; timeout bounds the call.
	Generate(ctx context.Context, prompt string, role Role, timeout time.Duration) (string, error)
}

// Notifier receives progress events from the round loop. Delivery is
// fire-and-forget: implementations must not block the caller for long and
// their failures never affect the run.
type Notifier interface {
	Notify(ev Event)
}

// NotifierFunc adapts a function into a Notifier.
type NotifierFunc func(ev Event)

func (f NotifierFunc) Notify(ev Event) {
	f(ev)
}

// Notifiers fans an event out to several notifiers in order.
type Notifiers []Notifier

func (n Notifiers) Notify(ev Event) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.Notify(ev)
		}
	}
}
