// Package metrics tracks live-I/O health: monotonic counters and
// latency samples feeding both the prometheus registry and the
// activation guardrails.
package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LiveIO aggregates transport outcomes for one runner process.
// Counters are monotonic; concurrent increments are safe.
type LiveIO struct {
	mu          sync.Mutex
	requests    int64
	timeouts    int64
	rateLimited int64
	failures    int64
	circuitOpen int64
	latenciesMS []float64

	promRequests *prometheus.CounterVec
	promLatency  prometheus.Histogram
}

// NewLiveIO creates the metrics set and registers the prometheus
// collectors when a registry is supplied.
func NewLiveIO(reg prometheus.Registerer) *LiveIO {
	m := &LiveIO{
		promRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matchcore_live_io_requests_total",
				Help: "Live connector requests by outcome",
			},
			[]string{"outcome"},
		),
		promLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "matchcore_live_io_latency_ms",
				Help:    "Live connector request latency in milliseconds",
				Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.promRequests, m.promLatency)
	}
	return m
}

// Outcome labels.
const (
	OutcomeOK          = "ok"
	OutcomeTimeout     = "timeout"
	OutcomeRateLimited = "rate_limited"
	OutcomeFailure     = "failure"
	OutcomeCircuitOpen = "circuit_open"
)

// Observe records one request outcome with its latency.
func (m *LiveIO) Observe(outcome string, latencyMS float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	switch outcome {
	case OutcomeTimeout:
		m.timeouts++
	case OutcomeRateLimited:
		m.rateLimited++
	case OutcomeFailure:
		m.failures++
	case OutcomeCircuitOpen:
		m.circuitOpen++
	}
	if latencyMS >= 0 {
		m.latenciesMS = append(m.latenciesMS, latencyMS)
		m.promLatency.Observe(latencyMS)
	}
	m.promRequests.WithLabelValues(outcome).Inc()
}

// Snapshot is the point-in-time view consumed by guardrails and reports.
type Snapshot struct {
	Requests    int64   `json:"requests"`
	Timeouts    int64   `json:"timeouts"`
	RateLimited int64   `json:"rate_limited"`
	Failures    int64   `json:"failures"`
	CircuitOpen int64   `json:"circuit_open"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
}

// Snapshot captures current counters and latency percentiles.
func (m *LiveIO) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		Requests:    m.requests,
		Timeouts:    m.timeouts,
		RateLimited: m.rateLimited,
		Failures:    m.failures,
		CircuitOpen: m.circuitOpen,
	}
	if len(m.latenciesMS) > 0 {
		sorted := append([]float64(nil), m.latenciesMS...)
		sort.Float64s(sorted)
		s.P50MS = percentile(sorted, 0.50)
		s.P95MS = percentile(sorted, 0.95)
	}
	return s
}

// Thresholds are the guardrail limits read from the environment.
type Thresholds struct {
	MaxTimeouts    int64   `json:"max_timeouts"`
	MaxRateLimited int64   `json:"max_rate_limited"`
	MaxP95MS       float64 `json:"max_p95_ms"`
}

// Alerts evaluates the snapshot against thresholds. A zero threshold
// disables its check. Alert strings are stable and sorted.
func (s Snapshot) Alerts(t Thresholds) []string {
	var alerts []string
	if t.MaxTimeouts > 0 && s.Timeouts > t.MaxTimeouts {
		alerts = append(alerts, "LIVE_IO_TIMEOUTS_EXCEEDED")
	}
	if t.MaxRateLimited > 0 && s.RateLimited > t.MaxRateLimited {
		alerts = append(alerts, "LIVE_IO_RATE_LIMITED_EXCEEDED")
	}
	if t.MaxP95MS > 0 && s.P95MS > t.MaxP95MS {
		alerts = append(alerts, "LIVE_IO_P95_EXCEEDED")
	}
	sort.Strings(alerts)
	return alerts
}

// AlertCount counts transport anomalies regardless of thresholds; the
// burn-in gate denies on any non-zero value.
func (s Snapshot) AlertCount() int64 {
	return s.Timeouts + s.RateLimited + s.Failures + s.CircuitOpen
}

func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
