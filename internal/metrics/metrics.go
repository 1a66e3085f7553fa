// Package metrics holds the hub's Prometheus registry and collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors shared across components.
type Metrics struct {
	Registry *prometheus.Registry

	PublishErrors    *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	DeliveryDuration prometheus.Histogram
	HTTPRequests     *prometheus.CounterVec
}

// New creates a registry with Go runtime and process collectors plus the
// hub's own metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventhub",
			Name:      "publish_errors_total",
			Help:      "Publishes that failed, by step.",
		}, []string{"step"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventhub",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts, by outcome.",
		}, []string{"outcome"}),
		DeliveryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eventhub",
			Name:      "webhook_delivery_duration_seconds",
			Help:      "Time spent on webhook POSTs.",
			Buckets:   prometheus.DefBuckets,
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventhub",
			Name:      "http_requests_total",
			Help:      "API requests, by method, route and status code.",
		}, []string{"method", "route", "code"}),
	}
}

// TrackSubscriptions exposes the live subscription count through fn.
func (m *Metrics) TrackSubscriptions(fn func() float64) {
	promauto.With(m.Registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "eventhub",
		Name:      "stream_subscriptions",
		Help:      "Open live stream subscriptions.",
	}, fn)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
