// Package metrics exports tutoring progress and collaborator calls as
// Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/boristopalov/tutor/pkg/core"
)

// TableSizer is anything that reports the size of a value table.
type TableSizer interface {
	Role() core.Role
	TableSize() int
}

// Recorder implements core.Notifier and the collaborator call observer.
type Recorder struct {
	registry *prometheus.Registry
	tables   []TableSizer

	roundsTotal     *prometheus.CounterVec
	rewards         *prometheus.HistogramVec
	lastReward      *prometheus.GaugeVec
	degradedTotal   prometheus.Counter
	evolutionsTotal *prometheus.CounterVec
	runsTotal       *prometheus.CounterVec
	tableSize       *prometheus.GaugeVec
	callsTotal      *prometheus.CounterVec
	callDuration    *prometheus.HistogramVec
}

// NewRecorder registers every metric on reg. A nil reg gets a fresh registry.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		roundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_rounds_total",
				Help: "Completed tutoring rounds by outcome",
			},
			[]string{"outcome"},
		),
		rewards: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tutor_reward",
				Help:    "Reward received per round by role",
				Buckets: []float64{-1, -0.5, 0, 0.3, 0.5, 1},
			},
			[]string{"role"},
		),
		lastReward: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tutor_last_reward",
				Help: "Reward of the most recent round by role",
			},
			[]string{"role"},
		),
		degradedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tutor_degraded_rounds_total",
				Help: "Rounds in which at least one collaborator call failed",
			},
		),
		evolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_evolution_events_total",
				Help: "Applied evolution events by role and kind",
			},
			[]string{"role", "kind"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_runs_total",
				Help: "Finished runs by status",
			},
			[]string{"status"},
		),
		tableSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tutor_qtable_entries",
				Help: "Materialized value table entries by role",
			},
			[]string{"role"},
		),
		callsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_collaborator_calls_total",
				Help: "Language model calls by role and status",
			},
			[]string{"role", "status"},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tutor_collaborator_call_duration_seconds",
				Help:    "Duration of language model calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"role"},
		),
	}
}

// WatchTables makes the recorder sample table sizes after every round.
func (r *Recorder) WatchTables(tables ...TableSizer) {
	r.tables = append(r.tables, tables...)
}

// Notify implements core.Notifier.
func (r *Recorder) Notify(ev core.Event) {
	switch ev.Kind {
	case core.EventRoundCompleted:
		if ev.Round == nil {
			return
		}
		rec := ev.Round
		r.roundsTotal.WithLabelValues(string(rec.Outcome)).Inc()
		r.rewards.WithLabelValues(string(core.RoleStudent)).Observe(rec.Student.Reward)
		r.rewards.WithLabelValues(string(core.RoleTeacher)).Observe(rec.Teacher.Reward)
		r.lastReward.WithLabelValues(string(core.RoleStudent)).Set(rec.Student.Reward)
		r.lastReward.WithLabelValues(string(core.RoleTeacher)).Set(rec.Teacher.Reward)
		if rec.Degraded {
			r.degradedTotal.Inc()
		}
		for _, t := range r.tables {
			r.tableSize.WithLabelValues(string(t.Role())).Set(float64(t.TableSize()))
		}
	case core.EventEvolution:
		if ev.Evolution != nil {
			r.evolutionsTotal.WithLabelValues(string(ev.Evolution.Role), string(ev.Evolution.Kind)).Inc()
		}
	case core.EventRunCompleted:
		r.runsTotal.WithLabelValues("completed").Inc()
	case core.EventRunFailed:
		if ev.Stopped {
			r.runsTotal.WithLabelValues("stopped").Inc()
		} else {
			r.runsTotal.WithLabelValues("failed").Inc()
		}
	}
}

// ObserveCall records one collaborator call.
func (r *Recorder) ObserveCall(role core.Role, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.callsTotal.WithLabelValues(string(role), status).Inc()
	r.callDuration.WithLabelValues(string(role)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
