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

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aistack",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful service starts (spawned, not adopted).",
		}, []string{"name"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aistack",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stop operations (graceful or kill).",
		}, []string{"name"},
	)
	workflowSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aistack",
			Subsystem: "workflow",
			Name:      "steps_total",
			Help:      "Workflow step outcomes.",
		}, []string{"workflow", "step", "outcome"},
	)
	healthAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aistack",
			Subsystem: "health",
			Name:      "probe_attempts_total",
			Help:      "Readiness probe attempts by probe and result.",
		}, []string{"probe", "result"},
	)
	healthWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aistack",
			Subsystem: "health",
			Name:      "wait_seconds",
			Help:      "Total time spent waiting for a probe to become ready.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"probe"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{processStarts, processStops, workflowSteps, healthAttempts, healthWait}
	for _, c := range cs {
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

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		processStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		processStops.WithLabelValues(name).Inc()
	}
}

func IncWorkflowStep(workflow, step, outcome string) {
	if regOK.Load() {
		workflowSteps.WithLabelValues(workflow, step, outcome).Inc()
	}
}

func IncHealthAttempt(probe string, ok bool) {
	if regOK.Load() {
		result := "not_ready"
		if ok {
			result = "ready"
		}
		healthAttempts.WithLabelValues(probe, result).Inc()
	}
}

func ObserveHealthWait(probe string, seconds float64) {
	if regOK.Load() {
		healthWait.WithLabelValues(probe).Observe(seconds)
	}
}
