package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	instructionsExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schemachat_instructions_executed_total",
			Help: "Total number of inference instructions executed, by HTTP method.",
		},
		[]string{"method"},
	)
	reversalsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schemachat_reversals_applied_total",
			Help: "Total number of reverse actions applied, by action type.",
		},
		[]string{"action"},
	)
	inferenceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schemachat_inference_requests_total",
			Help: "Total number of remote inference calls, by outcome.",
		},
		[]string{"outcome"},
	)
	inferenceLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "schemachat_inference_latency_seconds",
			Help:    "Remote inference call latency in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)
)

func init() {
	prometheus.MustRegister(
		instructionsExecutedTotal,
		reversalsAppliedTotal,
		inferenceRequestsTotal,
		inferenceLatencySeconds,
	)
}

func ObserveInstruction(method string) {
	instructionsExecutedTotal.WithLabelValues(method).Inc()
}

func ObserveReversal(action string) {
	reversalsAppliedTotal.WithLabelValues(action).Inc()
}

func ObserveInferenceRequest(ok bool, elapsed time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	inferenceRequestsTotal.WithLabelValues(outcome).Inc()
	inferenceLatencySeconds.Observe(elapsed.Seconds())
}
