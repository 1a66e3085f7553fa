// Package server exposes the publisher and the live stream over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/alfredjeanlab/eventhub/internal/broadcast"
	"github.com/alfredjeanlab/eventhub/internal/metrics"
	"github.com/alfredjeanlab/eventhub/internal/model"
)

// EventService is the publisher surface the HTTP layer needs.
type EventService interface {
	Publish(ctx context.Context, in model.PublishInput) (*model.Event, error)
	GetEvents(ctx context.Context, f model.EventFilter) ([]*model.Event, error)
	RegisterWebhook(ctx context.Context, url string, events []string, secret string) (string, error)
	GetWebhook(ctx context.Context, id string) (*model.Webhook, error)
	UpdateWebhook(ctx context.Context, id string, patch model.WebhookPatch) error
	DeleteWebhook(ctx context.Context, id string) error
	ListWebhooks(ctx context.Context) ([]*model.Webhook, error)
}

// Server holds the HTTP handlers' collaborators.
type Server struct {
	events  EventService
	coord   *broadcast.Coordinator
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New returns a Server. m may be nil, in which case /metrics is not served.
func New(events EventService, coord *broadcast.Coordinator, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{events: events, coord: coord, metrics: m, logger: logger}
}

// Handler returns the full middleware-wrapped handler. When authToken is
// non-empty, every route except GET /health requires a matching bearer
// token.
func (s *Server) Handler(authToken string) http.Handler {
	var h http.Handler = s.routes()
	h = AuthMiddleware(authToken, h)
	h = RecoveryMiddleware(s.logger, h)
	h = LoggingMiddleware(s.logger, s.metrics, h)
	return otelhttp.NewHandler(h, "eventhub",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
