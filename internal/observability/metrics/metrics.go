// Package metrics exposes Prometheus collectors for rule evaluation,
// notification delivery and the dispatcher. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "proactive"

// Metrics holds every collector the service records into.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal          *prometheus.CounterVec
	runDuration        prometheus.Histogram
	entitiesTotal      *prometheus.CounterVec
	ruleResultsTotal   *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	deliveriesTotal    *prometheus.CounterVec
	deliveryDuration   *prometheus.HistogramVec
	dispatchQueueDepth prometheus.Gauge
	dispatchPanics     prometheus.Counter
	sensorReadings     *prometheus.CounterVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "runs_total",
			Help:      "Evaluation runs by outcome",
		}, []string{"status"}),

		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a full evaluation run",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),

		entitiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "entities_total",
			Help:      "Entities evaluated by outcome",
		}, []string{"result"}),

		ruleResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "results_total",
			Help:      "Rule evaluation results by reason",
		}, []string{"reason"}),

		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "status_total",
			Help:      "Notifications reaching a status",
		}, []string{"status"}),

		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "deliveries_total",
			Help:      "Channel delivery attempts by outcome",
		}, []string{"channel", "outcome"}),

		deliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "delivery_duration_seconds",
			Help:      "Time spent in a channel deliverer",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),

		dispatchQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "queue_depth",
			Help:      "Tasks waiting in the dispatcher queue",
		}),

		dispatchPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "panics_total",
			Help:      "Dispatcher tasks that panicked",
		}),

		sensorReadings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sensors",
			Name:      "readings_total",
			Help:      "Sensor readings ingested by outcome",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.entitiesTotal,
		m.ruleResultsTotal,
		m.notificationsTotal,
		m.deliveriesTotal,
		m.deliveryDuration,
		m.dispatchQueueDepth,
		m.dispatchPanics,
		m.sensorReadings,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordEntity(success bool) {
	if m == nil {
		return
	}
	result := "succeeded"
	if !success {
		result = "failed"
	}
	m.entitiesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRuleResult(reason string) {
	if m == nil {
		return
	}
	m.ruleResultsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordNotificationStatus(status string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(status).Inc()
}

// RecordDelivery counts one channel attempt. outcome is delivered, failed or
// blocked; blocked attempts carry no duration.
func (m *Metrics) RecordDelivery(channel, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(channel, outcome).Inc()
	if outcome != "blocked" {
		m.deliveryDuration.WithLabelValues(channel).Observe(d.Seconds())
	}
}

func (m *Metrics) SetDispatchQueueDepth(n int) {
	if m == nil {
		return
	}
	m.dispatchQueueDepth.Set(float64(n))
}

func (m *Metrics) RecordDispatchPanic() {
	if m == nil {
		return
	}
	m.dispatchPanics.Inc()
}

func (m *Metrics) RecordSensorReading(accepted bool) {
	if m == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	m.sensorReadings.WithLabelValues(result).Inc()
}
