// Package metrics collects run metrics for a scan and exports them in the
// Prometheus text format.
package metrics

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	scanerr "github.com/mrz1836/sybilscan/pkg/errors"
)

const namespace = "sybilscan"

// API call outcomes used as the "outcome" label.
const (
	OutcomeOK          = "ok"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

// Metrics holds the collectors of one run on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests  *prometheus.CounterVec
	apiLatency   prometheus.Histogram
	retries      *prometheus.CounterVec
	wallets      *prometheus.CounterVec
	transactions prometheus.Counter
	failedTxs    prometheus.Counter
	malformed    prometheus.Counter
	suspects     prometheus.Gauge

	// Mirrors for the console summary.
	apiCallsTotal   atomic.Int64
	apiErrorsTotal  atomic.Int64
	apiLatencyNanos atomic.Int64
	retriesTotal    atomic.Int64
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of block explorer requests by outcome",
		}, []string{"outcome"}),
		apiLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Block explorer request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_retries_total",
			Help:      "Total number of retried block explorer requests by kind",
		}, []string{"kind"}),
		wallets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallets_scanned_total",
			Help:      "Total number of tracked wallets by fetch status",
		}, []string{"status"}),
		transactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_fetched_total",
			Help:      "Total number of transactions fetched",
		}),
		failedTxs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_transactions_total",
			Help:      "Total number of transactions reported as failed",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_records_total",
			Help:      "Total number of skipped transaction records with missing fields",
		}),
		suspects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sybil_suspects",
			Help:      "Number of tracked wallets flagged as sybil suspects in the last run",
		}),
	}

	m.registry.MustRegister(
		m.apiRequests,
		m.apiLatency,
		m.retries,
		m.wallets,
		m.transactions,
		m.failedTxs,
		m.malformed,
		m.suspects,
	)

	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordAPICall records one explorer request with its duration and result.
func (m *Metrics) RecordAPICall(duration time.Duration, err error) {
	if m == nil {
		return
	}

	m.apiCallsTotal.Add(1)
	m.apiLatencyNanos.Add(duration.Nanoseconds())
	m.apiLatency.Observe(duration.Seconds())

	switch {
	case err == nil:
		m.apiRequests.WithLabelValues(OutcomeOK).Inc()
	case errors.Is(err, scanerr.ErrRateLimited):
		m.apiErrorsTotal.Add(1)
		m.apiRequests.WithLabelValues(OutcomeRateLimited).Inc()
	default:
		m.apiErrorsTotal.Add(1)
		m.apiRequests.WithLabelValues(OutcomeError).Inc()
	}
}

// RecordRetry records a retry of the given kind.
func (m *Metrics) RecordRetry(kind string) {
	if m == nil {
		return
	}
	m.retriesTotal.Add(1)
	m.retries.WithLabelValues(kind).Inc()
}

// RecordWallet records a scanned wallet with its fetch status and counts.
func (m *Metrics) RecordWallet(status string, txCount, failedCount, malformed int) {
	if m == nil {
		return
	}
	m.wallets.WithLabelValues(status).Inc()
	m.transactions.Add(float64(txCount))
	m.failedTxs.Add(float64(failedCount))
	m.malformed.Add(float64(malformed))
}

// SetSuspects records the number of sybil suspects of the run.
func (m *Metrics) SetSuspects(n int) {
	if m == nil {
		return
	}
	m.suspects.Set(float64(n))
}

// Snapshot is a point-in-time copy of the request counters.
type Snapshot struct {
	APICallsTotal   int64
	APIErrorsTotal  int64
	APILatencyNanos int64
	RetriesTotal    int64
}

// Snapshot returns a point-in-time copy of the request counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		APICallsTotal:   m.apiCallsTotal.Load(),
		APIErrorsTotal:  m.apiErrorsTotal.Load(),
		APILatencyNanos: m.apiLatencyNanos.Load(),
		RetriesTotal:    m.retriesTotal.Load(),
	}
}

// APILatencyAvgMs returns the average request latency in milliseconds.
// Returns 0 if no calls have been made.
func (m *Metrics) APILatencyAvgMs() float64 {
	s := m.Snapshot()
	if s.APICallsTotal == 0 {
		return 0
	}
	return float64(s.APILatencyNanos) / float64(s.APICallsTotal) / 1e6
}

// WriteTextfile writes every collector to path in the Prometheus text format,
// suitable for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return scanerr.WithCause(scanerr.ErrReportWrite, err)
	}
	return nil
}
