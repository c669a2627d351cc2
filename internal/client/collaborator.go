// Package client turns a provider completion client into the collaborator
// the agents call: per-role models and system prompts, a timeout on every
// call, retries and call observation.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/boristopalov/tutor/pkg/core"
	"github.com/boristopalov/tutor/pkg/providers"
)

// DefaultTimeout bounds a single Generate call, retries included.
const DefaultTimeout = 120 * time.Second

// ErrEmptyResponse is returned when the model answers with blank text.
var ErrEmptyResponse = errors.New("empty response from model")

// Observer is notified after every Generate call.
type Observer interface {
	ObserveCall(role core.Role, elapsed time.Duration, err error)
}

var defaultSystemPrompts = map[core.Role]string{
	core.RoleTeacher: "You are a patient teacher of reinforcement learning. Keep problems and feedback short and concrete.",
	core.RoleStudent: "You are a student learning reinforcement learning. Answer the teacher's questions honestly and briefly.",
}

// Collaborator implements core.Collaborator over a provider client.
type Collaborator struct {
	client   providers.Client
	models   map[core.Role]string
	system   map[core.Role]string
	retry    RetryPolicy
	timeout  time.Duration
	observer Observer
}

type CollaboratorOption func(*Collaborator)

// WithModel sets the model used for role.
func WithModel(role core.Role, model string) CollaboratorOption {
	return func(c *Collaborator) {
		if model != "" {
			c.models[role] = model
		}
	}
}

// WithSystemPrompt replaces the system prompt of role.
func WithSystemPrompt(role core.Role, prompt string) CollaboratorOption {
	return func(c *Collaborator) {
		c.system[role] = prompt
	}
}

func WithRetryPolicy(p RetryPolicy) CollaboratorOption {
	return func(c *Collaborator) {
		c.retry = p
	}
}

// WithDefaultTimeout is used when Generate is called with a zero timeout.
func WithDefaultTimeout(d time.Duration) CollaboratorOption {
	return func(c *Collaborator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithObserver(o Observer) CollaboratorOption {
	return func(c *Collaborator) {
		c.observer = o
	}
}

// NewCollaborator wraps client. model is the fallback for roles without
// their own model.
func NewCollaborator(client providers.Client, model string, opts ...CollaboratorOption) *Collaborator {
	c := &Collaborator{
		client:  client,
		models:  map[core.Role]string{core.RoleTeacher: model, core.RoleStudent: model},
		system:  make(map[core.Role]string, len(defaultSystemPrompts)),
		retry:   DefaultRetryPolicy(),
		timeout: DefaultTimeout,
	}
	for role, p := range defaultSystemPrompts {
		c.system[role] = p
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = func(err error, attempt int, delay time.Duration) {
			log.Printf("Retrying model call (attempt %d) in %s: %v", attempt, delay.Round(time.Millisecond), err)
		}
	}
	return c
}

// Model returns the model used for role.
func (c *Collaborator) Model(role core.Role) string {
	return c.models[role]
}

// Generate implements core.Collaborator.
func (c *Collaborator) Generate(ctx context.Context, prompt string, role core.Role, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	model := c.models[role]
	start := time.Now()
	text, err := Retry(ctx, c.retry, func(ctx context.Context) (string, error) {
		out, err := c.client.Complete(ctx, model, c.system[role], prompt)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(out) == "" {
			return "", ErrEmptyResponse
		}
		return out, nil
	})
	if c.observer != nil {
		c.observer.ObserveCall(role, time.Since(start), err)
	}
	if err != nil {
		return "", fmt.Errorf("model %s: %w", model, err)
	}
	return strings.TrimSpace(text), nil
}

// Ping checks the backend when the provider supports it.
func (c *Collaborator) Ping(ctx context.Context) error {
	p, ok := c.client.(providers.Pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}
