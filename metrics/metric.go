package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "MDStore"

var (
	Registry = prometheus.NewRegistry()

	EventsAdded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_added_total",
		Help:      "events inserted into event workspaces",
	})
	BoxSplits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "box_splits_total",
		Help:      "leaf boxes replaced by grid boxes",
	})
	BoxLoads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "box_loads_total",
		Help:      "file-backed boxes loaded from paged storage",
	})
	BoxSaves = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "box_saves_total",
		Help:      "boxes written to paged storage",
	})
	StorageBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_bytes_total",
		Help:      "bytes moved through paged storage",
	}, []string{"backend", "op"})
	StorageLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "storage_latency_seconds",
		Help:      "paged storage operation latency",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"backend", "op"})
)

func init() {
	Registry.MustRegister(
		EventsAdded,
		BoxSplits,
		BoxLoads,
		BoxSaves,
		StorageBytes,
		StorageLatency,
	)
}
