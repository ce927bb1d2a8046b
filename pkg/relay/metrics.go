package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Invocation outcomes used as metric labels.
const (
	OutcomeSuccess         = "success"
	OutcomeRequestFailed   = "request_failed"
	OutcomeUnexpectedError = "unexpected_error"
)

// Prometheus metrics for relay invocations
var (
	relayInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lambdaops_relay_invocations_total",
			Help: "Total number of relay invocations by outcome",
		},
		[]string{"outcome"},
	)

	relayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lambdaops_relay_duration_seconds",
			Help:    "Duration of relay invocations including the upstream request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	relayUpstreamStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lambdaops_relay_upstream_responses_total",
			Help: "Upstream responses by status class",
		},
		[]string{"class"},
	)
)

func observeInvocation(outcome string, start time.Time) {
	relayInvocationsTotal.WithLabelValues(outcome).Inc()
	relayDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func observeUpstream(status int) {
	class := "other"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	case status >= 300:
		class = "3xx"
	case status >= 200:
		class = "2xx"
	}
	relayUpstreamStatus.WithLabelValues(class).Inc()
}
