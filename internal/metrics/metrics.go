package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/httprunner/ImageAgent/pkg/tracker"
)

const Namespace = "imageagent"

// WaitMetrics records completion-waiter activity. It satisfies tracker.Observer.
type WaitMetrics struct {
	Polls    *prometheus.CounterVec
	Outcomes *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewWaitMetrics creates the waiter metrics and registers them with reg.
func NewWaitMetrics(reg prometheus.Registerer) *WaitMetrics {
	m := &WaitMetrics{
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "wait_polls_total",
			Help:      "Status refreshes issued while waiting for switch actions",
		}, []string{"action"}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "wait_outcomes_total",
			Help:      "Completed waits by final state",
		}, []string{"action", "state"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "wait_duration_seconds",
			Help:      "Time spent waiting for switch actions",
			Buckets:   []float64{1, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}, []string{"action"}),
	}

	reg.MustRegister(m.Polls, m.Outcomes, m.Duration)

	return m
}

func (m *WaitMetrics) ObservePoll(action string) {
	m.Polls.WithLabelValues(action).Inc()
}

func (m *WaitMetrics) ObserveOutcome(action string, state tracker.State, elapsed time.Duration) {
	m.Outcomes.WithLabelValues(action, string(state)).Inc()
	m.Duration.WithLabelValues(action).Observe(elapsed.Seconds())
}

var _ tracker.Observer = (*WaitMetrics)(nil)
