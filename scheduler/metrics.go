package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the scheduler's small, purpose-built set of prometheus
// gauges/histograms (SPEC_FULL.md §11): runnable-task count,
// blocked-on-mutex count, and GC pause duration. Deliberately narrow —
// full HTTP metrics exposition is a host/CLI concern, not the core's —
// grounded on noisefs's direct dependency on prometheus/client_golang
// for its own service metrics.
type Metrics struct {
	Runnable      prometheus.Gauge
	BlockedMutex  prometheus.Gauge
	Workers       prometheus.Gauge
	GCPause       prometheus.Histogram
	TasksSpawned  prometheus.Counter
	TasksFinished prometheus.Counter
}

// NewMetrics registers every gauge/counter/histogram against reg. Pass
// prometheus.NewRegistry() (not the global DefaultRegisterer) so
// multiple Scheduler instances in one process — as in tests — don't
// collide on duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runnable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loom",
			Subsystem: "scheduler",
			Name:      "runnable_tasks",
			Help:      "Number of tasks currently enqueued (injector + local deques) waiting for a worker.",
		}),
		BlockedMutex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loom",
			Subsystem: "scheduler",
			Name:      "blocked_on_mutex_tasks",
			Help:      "Number of tasks currently suspended on MutexLock.",
		}),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loom",
			Subsystem: "scheduler",
			Name:      "workers",
			Help:      "Number of live worker goroutines.",
		}),
		GCPause: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loom",
			Subsystem: "scheduler",
			Name:      "gc_pause_seconds",
			Help:      "Wall-clock duration of each stop-the-world Collect cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		TasksSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "scheduler",
			Name:      "tasks_spawned_total",
			Help:      "Total tasks spawned since startup.",
		}),
		TasksFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "scheduler",
			Name:      "tasks_finished_total",
			Help:      "Total tasks completed or failed since startup.",
		}),
	}
	reg.MustRegister(m.Runnable, m.BlockedMutex, m.Workers, m.GCPause, m.TasksSpawned, m.TasksFinished)
	return m
}
