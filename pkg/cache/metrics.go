package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	eventHit          = "hit"
	eventMiss         = "miss"
	eventSet          = "set"
	eventInvalidation = "invalidation"
	eventError        = "error"
)

func init() {
	prometheus.MustRegister(cacheEventsTotal)
}

// cacheEventsTotal counts cache operations.
// Labels:
//   - cache: configuration, permission or identity
//   - event: hit, miss, set, invalidation or error
var cacheEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "cache_events_total",
		Help:      "Total cache operations by cache and event.",
	},
	[]string{"cache", "event"},
)
