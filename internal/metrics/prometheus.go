package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sugarbeet-lab/yieldsim/pkg/models"
)

// Collector exports simulation metrics to Prometheus. It implements the
// engine's trial observer.
type Collector struct {
	reg       prometheus.Registerer
	gatherer  prometheus.Gatherer
	namespace string
	once      sync.Once

	trials        *prometheus.CounterVec
	trialDuration prometheus.Histogram
	runs          *prometheus.CounterVec
	activeRuns    prometheus.Gauge
	meanLoss      *prometheus.GaugeVec
}

// NewCollector creates a collector registered on its own registry.
// namespace defaults to "yieldsim".
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	return NewCollectorWith(reg, reg, namespace)
}

// NewCollectorWith registers on reg and serves from gatherer.
func NewCollectorWith(reg prometheus.Registerer, gatherer prometheus.Gatherer, namespace string) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if namespace == "" {
		namespace = "yieldsim"
	}
	return &Collector{reg: reg, gatherer: gatherer, namespace: namespace}
}

func (c *Collector) ensureRegistered() {
	c.once.Do(func() {
		c.trials = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: "engine",
			Name:      "trials_total",
			Help:      "Total evaluated trials by outcome (counted, degenerate).",
		}, []string{"outcome"})

		c.trialDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: c.namespace,
			Subsystem: "engine",
			Name:      "trial_duration_seconds",
			Help:      "Wall time of one trial (generate, solve, five heuristics).",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
		})

		c.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: "runs",
			Name:      "finished_total",
			Help:      "Total runs that reached a terminal status.",
		}, []string{"status"})

		c.activeRuns = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: "runs",
			Name:      "active",
			Help:      "Number of runs currently executing.",
		})

		c.meanLoss = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: "results",
			Name:      "mean_loss_percent",
			Help:      "Mean relative loss of the most recently completed run by strategy.",
		}, []string{"strategy"})

		c.reg.MustRegister(c.trials, c.trialDuration, c.runs, c.activeRuns, c.meanLoss)
	})
}

// ObserveTrial records one finished trial.
func (c *Collector) ObserveTrial(d time.Duration, degenerate bool) {
	c.ensureRegistered()
	outcome := "counted"
	if degenerate {
		outcome = "degenerate"
	}
	c.trials.WithLabelValues(outcome).Inc()
	c.trialDuration.Observe(d.Seconds())
}

// RunStarted marks a run as executing.
func (c *Collector) RunStarted() {
	c.ensureRegistered()
	c.activeRuns.Inc()
}

// RunFinished records the terminal status of a run and, for completed runs,
// its mean losses.
func (c *Collector) RunFinished(status models.RunStatus, result *models.AggregateResult) {
	c.ensureRegistered()
	c.activeRuns.Dec()
	c.runs.WithLabelValues(string(status)).Inc()
	if result == nil {
		return
	}
	for s, loss := range result.MeanLoss {
		c.meanLoss.WithLabelValues(string(s)).Set(loss)
	}
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	c.ensureRegistered()
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
