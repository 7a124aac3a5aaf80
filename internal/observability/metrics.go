package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runRounds    prometheus.Histogram
	roundsTotal  prometheus.Counter
	roundSize    prometheus.Histogram
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	stepRetries  prometheus.Counter
	activeSteps  prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			runsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stepflow_runs_total",
					Help: "Total plan runs by final status and success.",
				},
				[]string{"status", "success"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "stepflow_run_duration_seconds",
					Help:    "Plan run duration in seconds by final status.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			runRounds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "stepflow_run_rounds",
					Help:    "Scheduling rounds taken per run.",
					Buckets: prometheus.LinearBuckets(1, 2, 10),
				},
			),
			roundsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "stepflow_rounds_total",
					Help: "Total dispatch rounds across all runs.",
				},
			),
			roundSize: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "stepflow_round_size",
					Help:    "Number of steps dispatched concurrently per round.",
					Buckets: prometheus.ExponentialBuckets(1, 2, 8),
				},
			),
			stepsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stepflow_steps_total",
					Help: "Total steps resolved by terminal status.",
				},
				[]string{"status"},
			),
			stepDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "stepflow_step_duration_seconds",
					Help:    "Step execution duration in seconds by terminal status, retries included.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			stepRetries: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "stepflow_step_retries_total",
					Help: "Total capability re-invocations after a failed attempt.",
				},
			),
			activeSteps: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "stepflow_active_steps",
					Help: "Steps currently executing.",
				},
			),
		}

		prometheus.MustRegister(
			m.runsTotal,
			m.runDuration,
			m.runRounds,
			m.roundsTotal,
			m.roundSize,
			m.stepsTotal,
			m.stepDuration,
			m.stepRetries,
			m.activeSteps,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordRun records a finished run.
func RecordRun(status string, success bool, duration time.Duration, rounds int) {
	m := getMetrics()
	successLabel := "false"
	if success {
		successLabel = "true"
	}
	m.runsTotal.WithLabelValues(status, successLabel).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.runRounds.Observe(float64(rounds))
}

// RecordRound records one dispatch round of the given size.
func RecordRound(size int) {
	m := getMetrics()
	m.roundsTotal.Inc()
	m.roundSize.Observe(float64(size))
}

// RecordStepOutcome records a step reaching a terminal status. Steps resolved
// without running pass zero attempts and are not timed.
func RecordStepOutcome(status string, duration time.Duration, attempts int) {
	m := getMetrics()
	m.stepsTotal.WithLabelValues(status).Inc()
	if attempts > 0 {
		m.stepDuration.WithLabelValues(status).Observe(duration.Seconds())
	}
	if attempts > 1 {
		m.stepRetries.Add(float64(attempts - 1))
	}
}

func IncActiveSteps() {
	getMetrics().activeSteps.Inc()
}

func DecActiveSteps() {
	getMetrics().activeSteps.Dec()
}
