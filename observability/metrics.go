// Package observability holds the Prometheus collectors shared across the
// marketplace services. Registries are lazily initialised so tests can import
// instrumented packages without double-registration panics.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	jobMetricsOnce sync.Once
	jobRegistry    *JobMetrics

	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics

	paywallMetricsOnce sync.Once
	paywallRegistry    *PaywallMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *HTTPMetrics

	rateLimitMetricsOnce sync.Once
	rateLimitRegistry    *RateLimitMetrics
)

// JobMetrics records lifecycle transitions.
type JobMetrics struct {
	transitions *prometheus.CounterVec
}

// Jobs returns the lazily-initialised job metrics registry.
func Jobs() *JobMetrics {
	jobMetricsOnce.Do(func() {
		jobRegistry = &JobMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "botmarket",
				Subsystem: "jobs",
				Name:      "transitions_total",
				Help:      "Total job state transitions segmented by resulting status.",
			}, []string{"to"}),
		}
		prometheus.MustRegister(jobRegistry.transitions)
	})
	return jobRegistry
}

// RecordTransition counts a committed transition into the given status.
func (m *JobMetrics) RecordTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

// EscrowMetrics records deposit, settlement, and refund activity.
type EscrowMetrics struct {
	deposits    prometheus.Counter
	depositAtom prometheus.Counter
	settlements *prometheus.CounterVec
	workerAtom  prometheus.Counter
	feeAtom     prometheus.Counter
	refunds     prometheus.Counter
	errors      *prometheus.CounterVec
}

// Escrow returns the lazily-initialised escrow metrics registry.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			deposits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "botmarket",
				Subsystem: "escrow",
				Name:      "deposits_total",
				Help:      "Total verified escrow deposits.",
			}),
			depositAtom: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "botmarket",
				Subsystem: "escrow",
				Name:      "deposit_atomic_total",
				Help:      "Sum of verified deposit amounts in atomic units.",
			}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "botmarket",
				Subsystem: "escrow",
				Name:      "settlements_total",
				Help:      "Total terminal settlements segmented by path.",
			}, []string{"path"}),
			workerAtom: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "botmarket",
				Subsystem: "escrow",
				Name:      "settlement_worker_atomic_total",
				Help:      "Atomic units released to workers.",
			}),
			feeAtom: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "botmarket",
				Subsystem: "escrow",
				Name:      "settlement_fee_atomic_total",
				Help:      "Atomic units collected as platform fees.",
			}),
			refunds: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "botmarket",
				Subsystem: "escrow",
				Name:      "refunds_total",
				Help:      "Total escrow refunds to requesters.",
			}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "botmarket",
				Subsystem: "escrow",
				Name:      "errors_total",
				Help:      "Escrow operation failures segmented by operation and reason.",
			}, []string{"op", "reason"}),
		}
		prometheus.MustRegister(
			escrowRegistry.deposits,
			escrowRegistry.depositAtom,
			escrowRegistry.settlements,
			escrowRegistry.workerAtom,
			escrowRegistry.feeAtom,
			escrowRegistry.refunds,
			escrowRegistry.errors,
		)
	})
	return escrowRegistry
}

// RecordDeposit counts a verified deposit.
func (m *EscrowMetrics) RecordDeposit(amountAtomic uint64) {
	if m == nil {
		return
	}
	m.deposits.Inc()
	m.depositAtom.Add(float64(amountAtomic))
}

// RecordSettlement counts a terminal settlement on the given path
// ("escrow" or "paywall") with its split.
func (m *EscrowMetrics) RecordSettlement(path string, workerAtomic, feeAtomic uint64) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(path).Inc()
	m.workerAtom.Add(float64(workerAtomic))
	m.feeAtom.Add(float64(feeAtomic))
}

// RecordRefund counts a refund to a requester.
func (m *EscrowMetrics) RecordRefund(amountAtomic uint64) {
	if m == nil {
		return
	}
	m.refunds.Inc()
}

// RecordError counts a failed escrow operation.
func (m *EscrowMetrics) RecordError(op, reason string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(op, reason).Inc()
}

// PaywallMetrics records x402 challenge and payment activity.
type PaywallMetrics struct {
	challenges prometheus.Counter
	payments   prometheus.Counter
	invalid    prometheus.Counter
}

// Paywall returns the lazily-initialised paywall metrics registry.
func Paywall() *PaywallMetrics {
	paywallMetricsOnce.Do(func() {
		paywallRegistry = &PaywallMetrics{
			challenges: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "botmarket",
				Subsystem: "paywall",
				Name:      "challenges_total",
				Help:      "Total 402 challenges issued.",
			}),
			payments: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "botmarket",
				Subsystem: "paywall",
				Name:      "payments_total",
				Help:      "Total inline payments accepted.",
			}),
			invalid: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "botmarket",
				Subsystem: "paywall",
				Name:      "invalid_total",
				Help:      "Total submitted payments that failed verification.",
			}),
		}
		prometheus.MustRegister(
			paywallRegistry.challenges,
			paywallRegistry.payments,
			paywallRegistry.invalid,
		)
	})
	return paywallRegistry
}

// RecordChallenge counts an issued 402 challenge.
func (m *PaywallMetrics) RecordChallenge() {
	if m == nil {
		return
	}
	m.challenges.Inc()
}

// RecordPayment counts an accepted inline payment.
func (m *PaywallMetrics) RecordPayment() {
	if m == nil {
		return
	}
	m.payments.Inc()
}

// RecordInvalid counts a rejected inline payment.
func (m *PaywallMetrics) RecordInvalid() {
	if m == nil {
		return
	}
	m.invalid.Inc()
}

// HTTPMetrics records per-route request counters and latency histograms.
type HTTPMetrics struct {
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// HTTP returns the lazily-initialised HTTP metrics registry.
func HTTP() *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "botmarket",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests processed by the gateway.",
			}, []string{"route", "method", "status"}),
			durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "botmarket",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.durations)
	})
	return httpRegistry
}

// Record counts one completed request.
func (m *HTTPMetrics) Record(route, method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, status).Inc()
	m.durations.WithLabelValues(route, method).Observe(seconds)
}

// RateLimitMetrics counts requests rejected by the public-window limiter.
type RateLimitMetrics struct {
	rejections prometheus.Counter
}

// RateLimit returns the lazily-initialised rate-limit metrics registry.
func RateLimit() *RateLimitMetrics {
	rateLimitMetricsOnce.Do(func() {
		rateLimitRegistry = &RateLimitMetrics{
			rejections: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "botmarket",
				Subsystem: "ratelimit",
				Name:      "rejections_total",
				Help:      "Total requests rejected with 429 by the per-client limiter.",
			}),
		}
		prometheus.MustRegister(rateLimitRegistry.rejections)
	})
	return rateLimitRegistry
}

// RecordRejection counts one rejected request.
func (m *RateLimitMetrics) RecordRejection() {
	if m == nil {
		return
	}
	m.rejections.Inc()
}
