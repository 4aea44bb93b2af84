// Package metrics provides the Prometheus counters of the dedup engine and
// the admin API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"recordmanager/internal/domain/dedup"
)

const namespace = "recordmanager"

var _ dedup.Metrics = (*Collector)(nil)

// Collector implements dedup.Metrics.
type Collector struct {
	registry *prometheus.Registry

	recordsProcessed *prometheus.CounterVec
	clusterChanges   *prometheus.CounterVec
	repairs          *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector registers the counters on a fresh registry together with
// the Go and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		recordsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dedup",
				Name:      "records_processed_total",
				Help:      "Records processed by dedup runs by outcome",
			},
			[]string{"source_id", "outcome"},
		),
		clusterChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dedup",
				Name:      "cluster_changes_total",
				Help:      "Dedup record membership changes by action",
			},
			[]string{"action"},
		),
		repairs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "consistency",
				Name:      "repairs_total",
				Help:      "Inconsistencies repaired by the consistency checker",
			},
			[]string{"kind"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Admin API requests",
			},
			[]string{"method", "route", "status_code"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of admin API requests in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
	}
}

// RecordProcessed implements dedup.Metrics.
func (c *Collector) RecordProcessed(sourceID, outcome string) {
	c.recordsProcessed.WithLabelValues(sourceID, outcome).Inc()
}

// ClusterChanged implements dedup.Metrics.
func (c *Collector) ClusterChanged(action string) {
	c.clusterChanges.WithLabelValues(action).Inc()
}

// Repaired implements dedup.Metrics.
func (c *Collector) Repaired(kind string) {
	c.repairs.WithLabelValues(kind).Inc()
}

// ObserveRequest counts one admin API request.
func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
