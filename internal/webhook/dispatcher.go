// Package webhook delivers queued events to registered webhook endpoints.
//
// Each job becomes one signed POST. A 2xx response stamps the webhook's
// lastTriggeredAt and acks the job; anything else asks the queue to retry.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/alfredjeanlab/eventhub/internal/metrics"
	"github.com/alfredjeanlab/eventhub/internal/model"
	"github.com/alfredjeanlab/eventhub/internal/queue"
	"github.com/alfredjeanlab/eventhub/internal/store"
)

// Outbound request headers.
const (
	UserAgent        = "eventhub-webhooks/1.0"
	HeaderSignature  = "X-Signature"
	HeaderEventID    = "X-Event-ID"
	HeaderEventType  = "X-Event-Type"
	HeaderDeliveryID = "X-Delivery-ID"
	DefaultTimeout   = 10 * time.Second
	defaultWorkers   = 8
	maxResponseDrain = 64 << 10
	tracerName       = "github.com/alfredjeanlab/eventhub/internal/webhook"
)

// Payload is the JSON body POSTed to a webhook.
type Payload struct {
	Event       *model.Event `json:"event"`
	DeliveredAt time.Time    `json:"deliveredAt"`
}

// Options configures a Dispatcher.
type Options struct {
	// Client defaults to an otelhttp-instrumented client.
	Client *http.Client
	// Timeout bounds each POST; defaults to DefaultTimeout.
	Timeout time.Duration
	// Concurrency bounds how many jobs of a batch run at once.
	Concurrency int
	// Limiter, when set, throttles outbound requests across all webhooks.
	Limiter *rate.Limiter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Dispatcher is a queue consumer that performs webhook deliveries.
type Dispatcher struct {
	repo        *Repo
	client      *http.Client
	timeout     time.Duration
	concurrency int
	limiter     *rate.Limiter
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
	tracer      trace.Tracer
}

// NewDispatcher returns a Dispatcher that records triggers through repo.
func NewDispatcher(repo *Repo, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			// A redirect would turn the POST into a bodiless GET; report the 3xx instead.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		repo:        repo,
		client:      opts.Client,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		limiter:     opts.Limiter,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Now,
		tracer:      otel.Tracer(tracerName),
	}
}

// Run consumes c until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, c queue.Consumer) error {
	return c.Consume(ctx, d.Handle)
}

// Handle processes a batch with bounded concurrency and returns once every
// message has been acked or retried.
func (d *Dispatcher) Handle(ctx context.Context, batch []queue.Message) {
	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup
	for _, msg := range batch {
		sem <- struct{}{}
		wg.Add(1)
		go func(msg queue.Message) {
			defer func() {
				<-sem
				wg.Done()
			}()
			d.Process(ctx, msg)
		}(msg)
	}
	wg.Wait()
}

// Process delivers one message and settles it.
func (d *Dispatcher) Process(ctx context.Context, msg queue.Message) {
	job := msg.Job()
	logger := d.logger.With("delivery", job.DeliveryID, "webhook", job.WebhookID, "event", job.EventID, "attempt", msg.Attempt())

	if err := d.Deliver(ctx, job); err != nil {
		logger.Warn("webhook delivery failed", "error", err)
		if rerr := msg.Retry(); rerr != nil {
			logger.Error("webhook retry request failed", "error", rerr)
		}
		return
	}

	if err := d.repo.MarkTriggered(ctx, job.WebhookID, d.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Info("webhook delivered but no longer registered")
		} else {
			logger.Error("recording webhook trigger failed", "error", err)
		}
	}
	if err := msg.Ack(); err != nil {
		logger.Error("webhook ack failed", "error", err)
		return
	}
	logger.Debug("webhook delivered")
}

// Deliver performs the signed POST for job. A non-nil error is always a
// *model.DeliveryError.
func (d *Dispatcher) Deliver(ctx context.Context, job *model.WebhookDelivery) (err error) {
	ctx, span := d.tracer.Start(ctx, "webhook.deliver", trace.WithAttributes(
		attribute.String("webhook.id", job.WebhookID),
		attribute.String("event.id", job.EventID),
		attribute.String("delivery.id", job.DeliveryID),
	))
	start := time.Now()
	defer func() {
		d.observe(start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	fail := func(status int, cause error) error {
		return &model.DeliveryError{WebhookID: job.WebhookID, StatusCode: status, Err: cause}
	}

	if job.Event == nil {
		return fail(0, errors.New("job carries no event"))
	}

	// The timeout covers waiting for the limiter too.
	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if d.limiter != nil {
		if err := d.limiter.Wait(reqCtx); err != nil {
			return fail(0, fmt.Errorf("rate limit: %w", err))
		}
	}

	body, err := json.Marshal(Payload{Event: job.Event, DeliveredAt: d.now().UTC()})
	if err != nil {
		return fail(0, fmt.Errorf("encode payload: %w", err))
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, job.URL, bytes.NewReader(body))
	if err != nil {
		return fail(0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(HeaderEventID, job.Event.ID)
	req.Header.Set(HeaderEventType, job.Event.Type)
	if job.DeliveryID != "" {
		req.Header.Set(HeaderDeliveryID, job.DeliveryID)
	}
	if job.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(job.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseDrain))

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, nil)
	}
	return nil
}

func (d *Dispatcher) observe(start time.Time, err error) {
	if d.metrics == nil {
		return
	}
	d.metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	d.metrics.Deliveries.WithLabelValues(outcome).Inc()
}
