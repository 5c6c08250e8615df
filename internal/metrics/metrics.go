package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "charasync",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "charasync",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5},
	}, []string{"method", "path"})

	SwarmSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "charasync",
		Name:      "swarm_sessions",
		Help:      "Number of swarm sessions by state.",
	}, []string{"state"})

	SwarmPeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "charasync",
		Name:      "swarm_peers_connected",
		Help:      "Total number of peers connected across all swarm sessions.",
	})

	SwarmPausedByPressure = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "charasync",
		Name:      "swarm_paused_by_disk_pressure",
		Help:      "1 while fetching is paused because of low disk space.",
	})

	StoreBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "charasync",
		Name:      "store_bytes",
		Help:      "Bytes held in the content store by directory.",
	}, []string{"dir"})

	Pairs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "charasync",
		Name:      "pairs",
		Help:      "Number of pair handlers by state.",
	}, []string{"state"})

	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "charasync",
		Name:      "events_total",
		Help:      "Status events by kind and severity.",
	}, []string{"kind", "severity"})

	SnapshotBuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "charasync",
		Name:      "snapshot_build_duration_seconds",
		Help:      "Duration of snapshot builds in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	HostBridgeCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "charasync",
		Name:      "hostbridge_calls_total",
		Help:      "Host bridge calls by capability and outcome.",
	}, []string{"capability", "outcome"})

	CatalogLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "charasync",
		Name:      "catalog_lookups_total",
		Help:      "Descriptor catalog lookups by source and result.",
	}, []string{"source", "result"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SwarmSessions,
		SwarmPeers,
		SwarmPausedByPressure,
		StoreBytes,
		Pairs,
		EventsTotal,
		SnapshotBuildDuration,
		HostBridgeCallsTotal,
		CatalogLookupsTotal,
	)
}
