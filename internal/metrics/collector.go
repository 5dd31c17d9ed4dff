// Package metrics provides Prometheus metrics for kvs-tester.
//
// Every Collector owns its registry, so several can coexist in one process
// (tests, or a batch embedded in another tool).
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kvs_tester"

// Collector records batch, test, client and fault-injection metrics.
type Collector struct {
	registry *prometheus.Registry

	// --- Batch ---
	info         *prometheus.GaugeVec
	buildSuccess prometheus.Gauge
	currentRun   prometheus.Gauge
	phase        *prometheus.GaugeVec

	// --- Tests ---
	testsTotal   *prometheus.CounterVec
	testDuration prometheus.Histogram
	stopFailures prometheus.Counter

	// --- Client slots ---
	activeSlots       prometheus.Gauge
	slotsTotal        *prometheus.CounterVec
	iterationsTotal   *prometheus.CounterVec
	iterationDuration prometheus.Histogram
	exitCodesTotal    *prometheus.CounterVec

	// --- Fault injection ---
	nodeKillsTotal      *prometheus.CounterVec
	nodeKillErrorsTotal prometheus.Counter
}

// NewCollector creates a Collector with a fresh registry.
func NewCollector() *Collector {
	return NewCollectorWithRegistry(prometheus.NewRegistry())
}

// NewCollectorWithRegistry creates a Collector registered on reg.
func NewCollectorWithRegistry(reg *prometheus.Registry) *Collector {
	c := &Collector{
		registry: reg,

		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the test batch (value always 1)",
		}, []string{"version", "mode", "mserver_host"}),

		buildSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_success",
			Help:      "1 if the service built on every host, 0 otherwise",
		}),

		currentRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_run",
			Help:      "Index of the test case currently running",
		}),

		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase",
			Help:      "1 for the lifecycle phase of the current test, 0 for the others",
		}, []string{"phase"}),

		testsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tests_total",
			Help:      "Completed tests by verdict",
		}, []string{"status"}),

		testDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "test_duration_seconds",
			Help:      "Wall time of one test case",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),

		stopFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coordinator_stop_failures_total",
			Help:      "Coordinators that did not shut down within the stop timeout",
		}),

		activeSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_slots",
			Help:      "Client slots currently running",
		}),

		slotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slots_total",
			Help:      "Finished client slots by outcome",
		}, []string{"outcome"}),

		iterationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_iterations_total",
			Help:      "Client process invocations by outcome",
		}, []string{"outcome"}),

		iterationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "client_iteration_duration_seconds",
			Help:      "Run time of one client process invocation",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),

		exitCodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_exit_codes_total",
			Help:      "Client process exit codes",
		}, []string{"code"}),

		nodeKillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_kills_total",
			Help:      "Service nodes killed by fault injection",
		}, []string{"host"}),

		nodeKillErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_kill_errors_total",
			Help:      "Fault-injection kills that reported an error (often: node already dead)",
		}),
	}

	reg.MustRegister(
		c.info,
		c.buildSuccess,
		c.currentRun,
		c.phase,
		c.testsTotal,
		c.testDuration,
		c.stopFailures,
		c.activeSlots,
		c.slotsTotal,
		c.iterationsTotal,
		c.iterationDuration,
		c.exitCodesTotal,
		c.nodeKillsTotal,
		c.nodeKillErrorsTotal,
	)
	return c
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// SetInfo records static information about the batch.
func (c *Collector) SetInfo(version, mode, mserverHost string) {
	c.info.WithLabelValues(version, mode, mserverHost).Set(1)
}

// RecordBuild records whether the build step succeeded.
func (c *Collector) RecordBuild(ok bool) {
	c.buildSuccess.Set(boolToFloat(ok))
}

// SetPhase marks phase as the current lifecycle phase of run. phases lists
// every phase name so the others can be reset.
func (c *Collector) SetPhase(run int, phase string, phases []string) {
	c.currentRun.Set(float64(run))
	for _, p := range phases {
		c.phase.WithLabelValues(p).Set(boolToFloat(p == phase))
	}
}

// RecordTest records a finished test.
func (c *Collector) RecordTest(status string, duration time.Duration, stopFailed bool) {
	c.testsTotal.WithLabelValues(status).Inc()
	c.testDuration.Observe(duration.Seconds())
	if stopFailed {
		c.stopFailures.Inc()
	}
}

// SlotStarted records a client slot starting its iterations.
func (c *Collector) SlotStarted() {
	c.activeSlots.Inc()
}

// SlotFinished records a client slot reaching its terminal outcome.
func (c *Collector) SlotFinished(outcome string) {
	c.activeSlots.Dec()
	c.slotsTotal.WithLabelValues(outcome).Inc()
}

// RecordIteration records one client process invocation.
func (c *Collector) RecordIteration(outcome string, exitCode int, duration time.Duration) {
	c.iterationsTotal.WithLabelValues(outcome).Inc()
	c.iterationDuration.Observe(duration.Seconds())
	c.exitCodesTotal.WithLabelValues(strconv.Itoa(exitCode)).Inc()
}

// RecordNodeKill records one fault-injection kill.
func (c *Collector) RecordNodeKill(host string, err error) {
	c.nodeKillsTotal.WithLabelValues(host).Inc()
	if err != nil {
		c.nodeKillErrorsTotal.Inc()
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
