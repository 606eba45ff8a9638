package telemetry

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/playbookd/internal/cycle"
	"github.com/fyrsmithlabs/playbookd/internal/hooks"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the Prometheus metrics of the invocation pipeline.
type Metrics struct {
	// Role invocation pipeline
	RoleInvocationsTotal *prometheus.CounterVec
	RoleEventsTotal      *prometheus.CounterVec

	// Hook delivery
	HookFailuresTotal prometheus.Counter

	// Phase state machine
	PhaseTransitionsTotal *prometheus.CounterVec
	RetriesTotal          prometheus.Counter

	// Test tool
	TestRunDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the metrics.
//
// This function uses sync.Once to ensure metrics are only registered once
// globally, preventing "duplicate metrics collector registration" panics.
//
// All metrics are prefixed with "playbookd_" for namespacing.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RoleInvocationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "playbookd_role_invocations_total",
					Help: "Total role invocations by role, execution path, and outcome",
				},
				[]string{"role", "path", "outcome"}, // path: "remote" or "local"
			),

			RoleEventsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "playbookd_role_events_total",
					Help: "Total hook bus events emitted by event label",
				},
				[]string{"event"},
			),

			HookFailuresTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "playbookd_hook_failures_total",
					Help: "Total hook callbacks that returned an error or panicked",
				},
			),

			PhaseTransitionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "playbookd_phase_transitions_total",
					Help: "Total phase transitions by from and to phase",
				},
				[]string{"from", "to"},
			),

			RetriesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "playbookd_retries_total",
					Help: "Total build retries across cycles",
				},
			),

			TestRunDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "playbookd_test_run_duration_seconds",
					Help:    "Duration of test tool runs in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
				},
				[]string{"mode", "passed"},
			),
		}
	})

	return globalMetrics
}

// RecordInvocation records one role invocation.
func (m *Metrics) RecordInvocation(role, path, outcome string) {
	m.RoleInvocationsTotal.WithLabelValues(role, path, outcome).Inc()
}

// RecordTestRun records one test tool run.
func (m *Metrics) RecordTestRun(outcome cycle.TestOutcome) {
	passed := "false"
	if outcome.Passed {
		passed = "true"
	}
	m.TestRunDuration.WithLabelValues(string(outcome.Mode), passed).Observe(outcome.DurationSeconds)
}

// RecordHookFailure counts one failed hook callback. Hand it to
// hooks.Bus.OnFailure.
func (m *Metrics) RecordHookFailure(string) {
	m.HookFailuresTotal.Inc()
}

// InstrumentTestTool wraps a test tool so every outcome is recorded in the
// duration histogram.
func (m *Metrics) InstrumentTestTool(tool cycle.TestTool) cycle.TestTool {
	return recordedTool{tool: tool, metrics: m}
}

type recordedTool struct {
	tool    cycle.TestTool
	metrics *Metrics
}

func (t recordedTool) Run(ctx context.Context) cycle.TestOutcome {
	outcome := t.tool.Run(ctx)
	t.metrics.RecordTestRun(outcome)
	return outcome
}

// Matchers returns hook matchers that count role events.
func (m *Metrics) Matchers() []*hooks.Matcher {
	events := []string{hooks.EventBeforeRole, hooks.EventAfterRole, hooks.EventEnvironmentFeedback}
	matchers := make([]*hooks.Matcher, 0, len(events))
	for _, event := range events {
		matchers = append(matchers, &hooks.Matcher{
			Event:       event,
			Description: "metrics recorder",
			Callback: func(_ context.Context, ev string, _ hooks.Payload) error {
				m.RoleEventsTotal.WithLabelValues(ev).Inc()
				return nil
			},
		})
	}
	return matchers
}

// Observer returns a transition observer that counts phase transitions and
// retry edges.
func (m *Metrics) Observer() cycle.TransitionObserver {
	return func(tr cycle.PhaseTransition) {
		m.PhaseTransitionsTotal.WithLabelValues(string(tr.From), string(tr.To)).Inc()
		if tr.To == cycle.PhaseBuild && tr.From != cycle.PhasePlan {
			m.RetriesTotal.Inc()
		}
	}
}
