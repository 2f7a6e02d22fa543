// Package metrics registers the room runtime's Prometheus gauges/counters
// against a private registry, the way core/system_health_logging.go builds
// a HealthLogger around its own prometheus.Registry rather than the global
// default one (so multiple processes in the same binary never collide).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Runtime holds every metric the room runtime publishes.
type Runtime struct {
	Registry *prometheus.Registry

	ActiveRooms          prometheus.Gauge
	DispatcherQueueDepth  *prometheus.GaugeVec
	DispatcherInFlight    prometheus.Gauge
	LockContentionTotal   prometheus.Counter
	OutboxBacklog         prometheus.Gauge
	SchedulerSweepSeconds prometheus.Histogram
	BroadcastErrorsTotal  prometheus.Counter
}

// NewRuntime builds and registers a fresh metric set.
func NewRuntime() *Runtime {
	reg := prometheus.NewRegistry()
	r := &Runtime{
		Registry: reg,
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "room_runtime_active_rooms",
			Help: "Number of rooms currently tracked in the registry.",
		}),
		DispatcherQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "room_runtime_dispatcher_queue_depth",
			Help: "Pending commands per dispatcher shard.",
		}, []string{"shard"}),
		DispatcherInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "room_runtime_dispatcher_in_flight",
			Help: "Commands currently executing across all shards.",
		}),
		LockContentionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "room_runtime_lock_contention_total",
			Help: "Number of TryLock calls that failed to acquire the room lock.",
		}),
		OutboxBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "room_runtime_outbox_backlog",
			Help: "Outbox rows not yet processed and under the attempt cap.",
		}),
		SchedulerSweepSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "room_runtime_scheduler_sweep_seconds",
			Help:    "Wall-clock time of one turn-timeout scheduler tick.",
			Buckets: prometheus.DefBuckets,
		}),
		BroadcastErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "room_runtime_broadcast_errors_total",
			Help: "Best-effort broadcast deliveries that failed for one subscriber.",
		}),
	}
	reg.MustRegister(
		r.ActiveRooms,
		r.DispatcherQueueDepth,
		r.DispatcherInFlight,
		r.LockContentionTotal,
		r.OutboxBacklog,
		r.SchedulerSweepSeconds,
		r.BroadcastErrorsTotal,
	)
	return r
}

// Handler returns the /metrics HTTP handler for this registry.
func (r *Runtime) Handler() http.Handler {
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{})
}
