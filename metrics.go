package goPortal

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	// MetricEvaluate counts Evaluate calls.
	MetricEvaluate MetricID = iota
	// MetricRouteAllowed counts Allow decisions.
	MetricRouteAllowed
	// MetricRouteRedirected counts Redirect decisions.
	MetricRouteRedirected
	// MetricTokenValidationFailure counts validator rejections and errors.
	MetricTokenValidationFailure
	// MetricForcedLogout counts forced logouts emitted by Evaluate.
	MetricForcedLogout
	// MetricPhoneTokenIssued counts verification tokens issued.
	MetricPhoneTokenIssued
	// MetricPhoneTokenReused counts mounts served from an existing marker or active token.
	MetricPhoneTokenReused
	// MetricPhoneTokenFailure counts failed active-token lookups and issuances.
	MetricPhoneTokenFailure
	// MetricPhoneTokenCoalesced counts EnsurePhoneToken calls that joined an in-flight call.
	MetricPhoneTokenCoalesced
	// MetricPhoneResendRejected counts resends rejected by the cooldown.
	MetricPhoneResendRejected
	// MetricPhoneCodeSuccess counts accepted verification codes.
	MetricPhoneCodeSuccess
	// MetricPhoneCodeFailure counts rejected verification codes.
	MetricPhoneCodeFailure
	// MetricPhoneCodeCoalesced counts identical code submissions that joined an in-flight call.
	MetricPhoneCodeCoalesced
	// MetricPhoneCodeRateLimited counts submissions refused by the code limiter.
	MetricPhoneCodeRateLimited
	// MetricPhoneNumberChanged counts successful phone number changes.
	MetricPhoneNumberChanged
	// MetricPaymentResolved counts payment status screens resolved.
	MetricPaymentResolved
	// MetricPaymentEventIgnored counts payment events with no effect.
	MetricPaymentEventIgnored
	// MetricPaymentOriginRejected counts payment events from untrusted origins.
	MetricPaymentOriginRejected
	// MetricPaymentClosed counts paymentClose events.
	MetricPaymentClosed
	// MetricPaymentLookupFailure counts failed payment status lookups.
	MetricPaymentLookupFailure
	// MetricPaymentLogout counts logouts from the payment screens.
	MetricPaymentLogout
	// MetricStaleResponse counts responses discarded after navigation.
	MetricStaleResponse
	// MetricServiceError counts surfaced token service errors.
	MetricServiceError
	// MetricSessionLogout counts explicit logouts.
	MetricSessionLogout
	// MetricEvaluateLatency is the Evaluate latency histogram.
	MetricEvaluateLatency
	// MetricTokenValidationLatency is the token validation latency histogram.
	MetricTokenValidationLatency
	metricIDCount
)

// latencyMetrics lists the ids that carry a histogram.
var latencyMetrics = [...]MetricID{MetricEvaluateLatency, MetricTokenValidationLatency}

func isLatencyMetric(id MetricID) bool {
	for _, l := range latencyMetrics {
		if l == id {
			return true
		}
	}
	return false
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics defines a public type used by goPortal APIs.
//
// Metrics instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot defines a public type used by goPortal APIs.
//
// MetricsSnapshot instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics describes the newmetrics operation and its observable behavior.
//
// NewMetrics may return an error when input validation, dependency calls, or security checks fail.
// NewMetrics does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether latency histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc describes the inc operation and its observable behavior.
//
// Inc may return an error when input validation, dependency calls, or security checks fail.
// Inc does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram of id. Only latency metrics carry a
// histogram; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if !isLatencyMetric(id) {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value describes the value operation and its observable behavior.
//
// Value may return an error when input validation, dependency calls, or security checks fail.
// Value does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot describes the snapshot operation and its observable behavior.
//
// Snapshot may return an error when input validation, dependency calls, or security checks fail.
// Snapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, len(latencyMetrics)),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range latencyMetrics {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
