package observability

import (
	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the change-tracking collectors.
type Metrics struct {
	Tracked  *prometheus.CounterVec
	Undone   *prometheus.CounterVec
	Failures prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg (skipped when reg is nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Tracked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marginalia_changes_tracked_total",
				Help: "Total number of tracked changes by change type",
			},
			[]string{"type"},
		),
		Undone: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marginalia_changes_undone_total",
				Help: "Total number of undone changes by change type",
			},
			[]string{"type"},
		),
		Failures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marginalia_session_failures_total",
				Help: "Sessions restarted after a fatal change-log error",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Tracked, m.Undone, m.Failures)
	}
	return m
}

// Hooks returns lifecycle hooks that count tracked and undone changes.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTrack: func(e *domain.ChangeEvent) {
			m.Tracked.WithLabelValues(string(e.Change)).Inc()
		},
		OnUndo: func(e *domain.ChangeEvent) {
			m.Undone.WithLabelValues(string(e.Change)).Inc()
		},
	}
}

// SessionFailed matches session.WithFailureHook.
func (m *Metrics) SessionFailed(sessionID string, err error) {
	m.Failures.Inc()
}
