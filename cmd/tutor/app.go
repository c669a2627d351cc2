package main

import (
	"context"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/boristopalov/tutor/internal/client"
	"github.com/boristopalov/tutor/pkg/agent"
	"github.com/boristopalov/tutor/pkg/config"
	"github.com/boristopalov/tutor/pkg/core"
	"github.com/boristopalov/tutor/pkg/environment"
	"github.com/boristopalov/tutor/pkg/experiment"
	"github.com/boristopalov/tutor/pkg/messaging"
	"github.com/boristopalov/tutor/pkg/metrics"
	"github.com/boristopalov/tutor/pkg/providers"
	"github.com/boristopalov/tutor/pkg/store"
)

// app holds everything one process wires together.
type app struct {
	collaborator *client.Collaborator
	teacher      *agent.Agent
	student      *agent.Agent
	env          *environment.LearningEnvironment
	broker       *messaging.SimpleBroker
	recorder     *metrics.Recorder
	store        *store.Store
	stats        *experiment.StatsFile
	sinks        []*messaging.Sink
}

// sinkBuffer is how many events a disk-backed sink may lag behind the rounds.
const sinkBuffer = 1024

func newApp(ctx context.Context, cfg *config.Config, extra ...core.Notifier) (*app, error) {
	pc, err := providers.New(ctx, providers.NewParams(
		providers.WithProvider(cfg.Provider.Name),
		providers.WithBaseURL(cfg.Provider.BaseURL),
		providers.WithAPIKey(cfg.Provider.APIKey),
		providers.WithBackend(cfg.Provider.Backend),
		providers.WithModel(cfg.Provider.Model),
		providers.WithMaxTokens(cfg.Provider.MaxTokens),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Provider.Name, err)
	}

	a := &app{
		broker:   messaging.NewBroker(),
		recorder: metrics.NewRecorder(prometheus.NewRegistry()),
	}

	retry := client.DefaultRetryPolicy()
	retry.MaxRetries = cfg.Provider.MaxRetries
	a.collaborator = client.NewCollaborator(pc, cfg.Provider.Model,
		client.WithModel(core.RoleTeacher, cfg.Provider.ModelFor(core.RoleTeacher)),
		client.WithModel(core.RoleStudent, cfg.Provider.ModelFor(core.RoleStudent)),
		client.WithDefaultTimeout(cfg.Provider.Timeout),
		client.WithRetryPolicy(retry),
		client.WithObserver(a.recorder),
	)

	interpreter, err := cfg.Interpreter()
	if err != nil {
		return nil, err
	}
	agentOpts := []agent.AgentOption{
		agent.WithCollaborator(a.collaborator),
		agent.WithInterpreter(interpreter),
		agent.WithTimeout(cfg.Provider.Timeout),
		agent.WithTokenLimit(cfg.Agent.TokenLimit),
		agent.WithMemoryCapacity(cfg.Agent.MemoryCapacity),
	}
	if a.teacher, err = agent.NewTeacher(agentOpts...); err != nil {
		return nil, err
	}
	if a.student, err = agent.NewStudent(agentOpts...); err != nil {
		return nil, err
	}
	a.recorder.WatchTables(a.teacher, a.student)

	notifiers := core.Notifiers{a.broker, a.recorder}
	if cfg.Store.Enabled {
		if a.store, err = store.Open(cfg.Store.Path); err != nil {
			return nil, err
		}
		if err := a.attach("store", a.store); err != nil {
			a.Close()
			return nil, err
		}
	}
	if cfg.Report.CSV {
		if a.stats, err = experiment.NewStatsFile(cfg.Report.Dir); err != nil {
			a.Close()
			return nil, err
		}
		if err := a.attach("stats", a.stats); err != nil {
			a.Close()
			return nil, err
		}
	}
	for _, n := range extra {
		notifiers = append(notifiers, n)
	}

	a.env, err = environment.NewLearningEnvironment(a.teacher, a.student, environment.WithNotifier(notifiers))
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// attach feeds n from the broker on its own goroutine so disk writes never
// stall the round loop.
func (a *app) attach(id string, n core.Notifier) error {
	sink, err := messaging.NewSink(a.broker, id, n, sinkBuffer)
	if err != nil {
		return fmt.Errorf("failed to attach %s: %w", id, err)
	}
	a.sinks = append(a.sinks, sink)
	return nil
}

// Flush waits for the sinks to write everything published so far and
// detaches them.
func (a *app) Flush() {
	for _, s := range a.sinks {
		s.Close()
	}
}

// ping refuses to go on when the model backend is unreachable.
func (a *app) ping(ctx context.Context) error {
	if err := a.collaborator.Ping(ctx); err != nil {
		return fmt.Errorf("model backend is not reachable (use --skip-ping to start anyway): %w", err)
	}
	return nil
}

func (a *app) Close() {
	a.Flush()
	a.broker.Reset()
	if a.stats != nil {
		if err := a.stats.Close(); err != nil {
			log.Printf("Failed to close stats file: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("Failed to close store: %v", err)
		}
	}
}
