package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidekick",
			Subsystem: "sidecar",
			Name:      "state_transitions_total",
			Help:      "Supervisor state transitions.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sidekick",
			Subsystem: "sidecar",
			Name:      "current_state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	spawns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sidekick",
			Subsystem: "sidecar",
			Name:      "spawns_total",
			Help:      "Sidecar processes launched by this supervisor.",
		},
	)
	spawnFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sidekick",
			Subsystem: "sidecar",
			Name:      "spawn_failures_total",
			Help:      "Sidecar launches that failed to start.",
		},
	)
	readyTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sidekick",
			Subsystem: "sidecar",
			Name:      "ready_timeouts_total",
			Help:      "Launches that never became reachable within the readiness bound.",
		},
	)
	readyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sidekick",
			Subsystem: "sidecar",
			Name:      "ready_duration_seconds",
			Help:      "Time from spawn until the sidecar accepted connections.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 7},
		},
	)
	kills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sidekick",
			Subsystem: "sidecar",
			Name:      "kills_total",
			Help:      "Owned sidecar processes terminated by the supervisor.",
		},
	)
	logLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidekick",
			Subsystem: "sidecar",
			Name:      "log_lines_total",
			Help:      "Lines captured from sidecar output.",
		}, []string{"stream"},
	)
	sidecarCPU = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sidekick",
			Subsystem: "sidecar",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the owned sidecar.",
		},
	)
	sidecarMemoryMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sidekick",
			Subsystem: "sidecar",
			Name:      "memory_mb",
			Help:      "Resident memory of the owned sidecar in MB.",
		},
	)
	sidecarThreads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sidekick",
			Subsystem: "sidecar",
			Name:      "num_threads",
			Help:      "Thread count of the owned sidecar.",
		},
	)
	cliSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidekick",
			Subsystem: "cli",
			Name:      "sync_total",
			Help:      "Installed CLI sync outcomes.",
		}, []string{"result"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		stateTransitions, currentState, spawns, spawnFailures, readyTimeouts, readyDuration, kills, logLines,
		sidecarCPU, sidecarMemoryMB, sidecarThreads, cliSyncs,
	}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
		currentState.WithLabelValues(from).Set(0)
		currentState.WithLabelValues(to).Set(1)
	}
}

func IncSpawn() {
	if regOK.Load() {
		spawns.Inc()
	}
}

func IncSpawnFailure() {
	if regOK.Load() {
		spawnFailures.Inc()
	}
}

func IncReadyTimeout() {
	if regOK.Load() {
		readyTimeouts.Inc()
	}
}

func ObserveReadyDuration(seconds float64) {
	if regOK.Load() {
		readyDuration.Observe(seconds)
	}
}

func IncKill() {
	if regOK.Load() {
		kills.Inc()
	}
}

func IncLogLine(stream string) {
	if regOK.Load() {
		logLines.WithLabelValues(stream).Inc()
	}
}

func IncCLISync(result string) {
	if regOK.Load() {
		cliSyncs.WithLabelValues(result).Inc()
	}
}
