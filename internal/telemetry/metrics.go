package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Orchestrator and Process Manager counters/gauges.
// The core never exposes an HTTP /metrics endpoint itself (that is the
// out-of-scope front-end's job); it only registers against a Registry
// a caller supplies so the front-end can mount one.
type Metrics struct {
	TicksRun          prometheus.Counter
	TasksCompleted    prometheus.Counter
	TasksFailed       prometheus.Counter
	TasksRetried      prometheus.Counter
	ActiveWorkers     prometheus.Gauge
	ActiveUtilities   prometheus.Gauge
	SpawnFailures     prometheus.Counter
	CheckpointsTaken  prometheus.Counter
	StoreIOFailures   prometheus.Counter

	ProcessesSpawned   prometheus.Counter
	ProcessesCompleted prometheus.Counter
	ProcessesFailed    prometheus.Counter
	ProcessesTimedOut  prometheus.Counter
}

// NewMetrics creates and registers the counter/gauge set against reg.
// Pass prometheus.NewRegistry() in tests to avoid collisions with the
// global default registry across parallel test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apex", Subsystem: "orchestrator", Name: "ticks_total",
			Help: "Number of orchestration cycles run.",
		}),
		TasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apex", Subsystem: "orchestrator", Name: "tasks_completed_total",
			Help: "Number of briefings marked completed.",
		}),
		TasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apex", Subsystem: "orchestrator", Name: "tasks_failed_total",
			Help: "Number of briefings marked failed (terminal).",
		}),
		TasksRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apex", Subsystem: "orchestrator", Name: "tasks_retried_total",
			Help: "Number of briefings sent back to pending_invocation after a failure.",
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "apex", Subsystem: "process_manager", Name: "active_workers",
			Help: "Number of worker subprocesses currently running.",
		}),
		ActiveUtilities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "apex", Subsystem: "process_manager", Name: "active_utilities",
			Help: "Number of utility subprocesses currently running.",
		}),
		SpawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apex", Subsystem: "process_manager", Name: "spawn_failures_total",
			Help: "Number of Spawn calls that failed.",
		}),
		CheckpointsTaken: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apex", Subsystem: "recovery", Name: "checkpoints_total",
			Help: "Number of checkpoints written.",
		}),
		StoreIOFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apex", Subsystem: "store", Name: "io_failures_total",
			Help: "Number of IOFailure errors observed by the store after exhausting retries.",
		}),
		ProcessesSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apex", Subsystem: "process_manager", Name: "processes_spawned_total",
			Help: "Number of worker/utility subprocesses spawned.",
		}),
		ProcessesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apex", Subsystem: "process_manager", Name: "processes_completed_total",
			Help: "Number of subprocesses that exited with status completed.",
		}),
		ProcessesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apex", Subsystem: "process_manager", Name: "processes_failed_total",
			Help: "Number of subprocesses that exited failed or were terminated.",
		}),
		ProcessesTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apex", Subsystem: "process_manager", Name: "processes_timed_out_total",
			Help: "Number of subprocesses killed after exceeding their deadline.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TicksRun, m.TasksCompleted, m.TasksFailed, m.TasksRetried,
			m.ActiveWorkers, m.ActiveUtilities, m.SpawnFailures,
			m.CheckpointsTaken, m.StoreIOFailures,
			m.ProcessesSpawned, m.ProcessesCompleted, m.ProcessesFailed, m.ProcessesTimedOut,
		)
	}
	return m
}
