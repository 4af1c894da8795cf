// Package metrics holds the service's Prometheus collectors. Collectors are
// package-level and registered once at init, so any layer can record without
// threading a registry through constructors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PostsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chirp_posts_created_total",
		Help: "Posts created, labelled by kind (post or reply)",
	}, []string{"kind"})

	EngagementToggles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chirp_engagement_toggles_total",
		Help: "Engagement toggles, labelled by kind and resulting action",
	}, []string{"kind", "action"})

	EventsBroadcast = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chirp_events_broadcast_total",
		Help: "Realtime events broadcast to sessions, labelled by event name",
	}, []string{"event"})

	ConnectedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chirp_connected_sessions",
		Help: "Currently connected websocket sessions",
	})

	AuthenticatedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chirp_authenticated_sessions",
		Help: "Connected sessions that have authenticated",
	})

	PropagationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chirp_nickname_propagation_duration_seconds",
		Help:    "Duration of a full nickname-change propagation",
		Buckets: prometheus.DefBuckets,
	})

	StoreErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chirp_store_errors_total",
		Help: "Store operations that returned an error",
	})
)

func init() {
	prometheus.MustRegister(
		PostsCreated,
		EngagementToggles,
		EventsBroadcast,
		ConnectedSessions,
		AuthenticatedSessions,
		PropagationDuration,
		StoreErrors,
	)
}

// Handler serves the collected metrics; mounted at /metrics by the router.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePropagation records the duration of a propagation run started at
// start.
func ObservePropagation(start time.Time) {
	PropagationDuration.Observe(time.Since(start).Seconds())
}
