package catcher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels recorded by Metrics.
const (
	outcomeSucceeded    = "succeeded"
	outcomeBindFailed   = "bind_failed"
	outcomeLaunchFailed = "browser_launch_failed"
	outcomeMalformed    = "malformed_request"
	outcomeMissingToken = "missing_token"
	outcomeCanceled     = "canceled"
)

// Metrics tracks Authenticate calls. A nil *Metrics records nothing.
type Metrics struct {
	attempts *prometheus.CounterVec
	wait     prometheus.Histogram
}

// NewMetrics creates the catcher collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loopauth_catcher_attempts_total",
			Help: "Count of loopback authentication attempts by outcome.",
		}, []string{"outcome"}),
		wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loopauth_catcher_callback_wait_seconds",
			Help:    "Time between opening the browser and receiving the callback connection.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
	for _, c := range []prometheus.Collector{m.attempts, m.wait} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeWait(d time.Duration) {
	if m == nil {
		return
	}
	m.wait.Observe(d.Seconds())
}
