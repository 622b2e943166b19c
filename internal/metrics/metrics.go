package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relayd"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	streamsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "created_total",
			Help:      "Number of stream keys generated.",
		},
	)
	relayStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "starts_total",
			Help:      "Number of successful relay process launches.",
		},
	)
	relayRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "restarts_total",
			Help:      "Number of relay restarts caused by a destination change.",
		},
	)
	relayStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "stops_total",
			Help:      "Number of relay stops by outcome.",
		}, []string{"outcome"},
	)
	spawnFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "spawn_failures_total",
			Help:      "Number of relay processes that failed to launch.",
		},
	)
	stopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "stop_duration_seconds",
			Help:      "Time from stop request until the relay process was gone.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
	runningRelays = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "running",
			Help:      "Current number of attached relay processes.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{streamsCreated, relayStarts, relayRestarts, relayStops, spawnFailures, stopDuration, runningRelays}
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

// Handler serves the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncCreated() {
	if regOK.Load() {
		streamsCreated.Inc()
	}
}

func IncStart() {
	if regOK.Load() {
		relayStarts.Inc()
	}
}

func IncRestart() {
	if regOK.Load() {
		relayRestarts.Inc()
	}
}

func IncStop(outcome string) {
	if regOK.Load() {
		relayStops.WithLabelValues(outcome).Inc()
	}
}

func IncSpawnFailure() {
	if regOK.Load() {
		spawnFailures.Inc()
	}
}

func ObserveStopDuration(seconds float64) {
	if regOK.Load() {
		stopDuration.Observe(seconds)
	}
}

func SetRunning(n int) {
	if regOK.Load() {
		runningRelays.Set(float64(n))
	}
}
