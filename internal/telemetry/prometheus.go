package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus counts samples by event type and source.
type Prometheus struct {
	counter *prometheus.CounterVec
}

// NewPrometheus registers the published-events counter on reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventhub",
		Name:      "events_published_total",
		Help:      "Events accepted by the publisher, by type and source.",
	}, []string{"type", "source"})
	if err := reg.Register(c); err != nil {
		return nil, fmt.Errorf("register telemetry counter: %w", err)
	}
	return &Prometheus{counter: c}, nil
}

func (p *Prometheus) WriteSample(_ context.Context, s Sample) error {
	p.counter.WithLabelValues(s.blob(0), s.blob(1)).Add(s.value())
	return nil
}
