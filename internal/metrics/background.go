// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "unchained_queue_depth",
		Help: "Work queue occupancy by partition",
	}, []string{"partition"}) // partition=ready|delayed|in_flight

	queueCapacity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "unchained_queue_capacity",
		Help: "Configured work queue capacity",
	})

	queueRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unchained_queue_rejected_total",
		Help: "Work items rejected because the queue was full",
	})

	workItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unchained_work_items_total",
		Help: "Finished work items by name and outcome",
	}, []string{"name", "outcome"}) // outcome=completed|failed|retrying|cancelled|panicked

	workItemDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "unchained_work_item_duration_seconds",
		Help:    "Work item execution time",
		Buckets: prometheus.DefBuckets,
	}, []string{"name"})

	backgroundServices = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "unchained_background_services",
		Help: "Background services by status",
	}, []string{"status"})
)

// SetQueueDepth records queue occupancy.
func SetQueueDepth(ready, delayed, inFlight int) {
	queueDepth.WithLabelValues("ready").Set(float64(ready))
	queueDepth.WithLabelValues("delayed").Set(float64(delayed))
	queueDepth.WithLabelValues("in_flight").Set(float64(inFlight))
}

// SetQueueCapacity records the configured queue bound.
func SetQueueCapacity(n int) {
	queueCapacity.Set(float64(n))
}

// IncQueueRejected counts an enqueue refused for capacity.
func IncQueueRejected() {
	queueRejected.Inc()
}

// ObserveWorkItem records the outcome and duration of one execution.
func ObserveWorkItem(name, outcome string, d time.Duration) {
	workItemsTotal.WithLabelValues(name, outcome).Inc()
	workItemDuration.WithLabelValues(name).Observe(d.Seconds())
}

// SetBackgroundServices replaces the per-status service counts.
func SetBackgroundServices(byStatus map[string]int) {
	backgroundServices.Reset()
	for status, n := range byStatus {
		backgroundServices.WithLabelValues(status).Set(float64(n))
	}
}

var eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "unchained_events_dropped_total",
	Help: "Events dropped because a subscriber buffer was full",
}, []string{"kind"})

// IncEventDropped counts an event a slow subscriber missed.
func IncEventDropped(kind string) {
	eventsDropped.WithLabelValues(kind).Inc()
}
