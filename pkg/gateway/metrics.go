package gateway

import "github.com/prometheus/client_golang/prometheus"

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, stageFailuresTotal, guardRejectionsTotal)
}

// functionUnresolved labels requests whose target was never resolved, so
// arbitrary identifiers from callers cannot grow label cardinality.
const functionUnresolved = "unresolved"

var (
	// requestsTotal counts finished pipeline runs.
	// Labels:
	//   - function: resolved identifier or "unresolved"
	//   - code: public response code, "OK" on success
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "requests_total",
			Help:      "Finished gateway requests by function and response code.",
		},
		[]string{"function", "code"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "request_duration_seconds",
			Help:      "End-to-end pipeline latency by function.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"function"},
	)

	// stageFailuresTotal counts failures by the stage the request had
	// reached.
	stageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "stage_failures_total",
			Help:      "Pipeline failures by last completed stage and public code.",
		},
		[]string{"stage", "code"},
	)

	guardRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "guard_rejections_total",
		Help:      "Requests rejected by the per-address guard before authentication.",
	})
)
