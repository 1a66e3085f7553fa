package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/eventhub/internal/archive"
	"github.com/alfredjeanlab/eventhub/internal/broadcast"
	"github.com/alfredjeanlab/eventhub/internal/config"
	"github.com/alfredjeanlab/eventhub/internal/events"
	"github.com/alfredjeanlab/eventhub/internal/idempotency"
	"github.com/alfredjeanlab/eventhub/internal/metrics"
	"github.com/alfredjeanlab/eventhub/internal/otelx"
	"github.com/alfredjeanlab/eventhub/internal/publisher"
	"github.com/alfredjeanlab/eventhub/internal/queue"
	"github.com/alfredjeanlab/eventhub/internal/queue/jetstream"
	qmemory "github.com/alfredjeanlab/eventhub/internal/queue/memory"
	"github.com/alfredjeanlab/eventhub/internal/queue/rabbitmq"
	"github.com/alfredjeanlab/eventhub/internal/server"
	"github.com/alfredjeanlab/eventhub/internal/store"
	"github.com/alfredjeanlab/eventhub/internal/store/memory"
	"github.com/alfredjeanlab/eventhub/internal/store/postgres"
	"github.com/alfredjeanlab/eventhub/internal/store/sqlite"
	"github.com/alfredjeanlab/eventhub/internal/telemetry"
	"github.com/alfredjeanlab/eventhub/internal/webhook"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the event hub server",
	GroupID: "system",
	// No client is needed to serve.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := cfg.Logger(os.Stderr)
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

// closers runs cleanup in reverse order of registration.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var cleanup closers
	defer cleanup.run()

	shutdownTracing, err := otelx.Setup(ctx, otelx.Config{
		ServiceName:  cfg.ServiceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRatio:  cfg.SampleRatio,
	})
	if err != nil {
		return err
	}
	cleanup.add(func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Error("tracing shutdown", "err", err)
		}
	})

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	cleanup.add(func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}
	})
	logger.Info("store opened", "driver", cfg.StoreDriver)

	m := metrics.New()

	registry := broadcast.NewRegistry(broadcast.Options{
		BufferSize: cfg.BufferSize,
		KeepAlive:  cfg.KeepAlive,
		Logger:     logger,
	})
	cleanup.add(registry.Close)
	coord := registry.Get(broadcast.DefaultTopic)
	m.TrackSubscriptions(func() float64 {
		s, err := coord.Stats(context.Background())
		if err != nil {
			return 0
		}
		return float64(s.SubscriptionCount)
	})

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = events.Connect(cfg.NATSURL, nats.Name("eventhub-"+cfg.InstanceID))
		if err != nil {
			return err
		}
		cleanup.add(nc.Close)
		logger.Info("nats connected", "nats_url", cfg.NATSURL)
	} else {
		logger.Info("events relay disabled (EVENTHUB_NATS_URL not set)")
	}

	q, err := openQueue(ctx, cfg, nc, logger)
	if err != nil {
		return err
	}
	cleanup.add(func() {
		if err := q.Close(); err != nil {
			logger.Error("error closing queue", "err", err)
		}
	})
	logger.Info("delivery queue ready", "driver", cfg.QueueDriver)

	sink, closeSink, err := openTelemetry(cfg, m, logger)
	if err != nil {
		return err
	}
	cleanup.add(closeSink)

	deps := publisher.Deps{
		Store:       st,
		Namespace:   cfg.Namespace,
		Coordinator: coord,
		Queue:       q,
		Telemetry:   sink,
		Idempotency: openIdempotency(cfg, logger),
		Metrics:     m,
		Logger:      logger,
	}

	bg, cancelBG := context.WithCancel(context.Background())
	defer cancelBG()

	if nc != nil {
		deps.Mirror = events.NewMirror(events.NewNATSPublisherConn(nc), cfg.InstanceID)
		relay := events.NewRelay(events.NewNATSSubscriberConn(nc), cfg.InstanceID, coord, logger)
		go func() {
			if err := relay.Run(bg); err != nil {
				logger.Error("relay stopped", "err", err)
			}
		}()
	}

	pub := publisher.New(deps)

	var limiter *rate.Limiter
	if cfg.DispatchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.DispatchRate), cfg.DispatchBurst)
	}
	dispatcher := webhook.NewDispatcher(pub.Webhooks(), webhook.Options{
		Timeout:     cfg.DispatchTimeout,
		Concurrency: cfg.DispatchConcurrency,
		Limiter:     limiter,
		Metrics:     m,
		Logger:      logger,
	})
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		if err := dispatcher.Run(bg, q); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("dispatcher stopped", "err", err)
		}
	}()

	if scheduler := newArchiveScheduler(ctx, cfg, st, logger); scheduler != nil {
		scheduler.Start()
		cleanup.add(scheduler.Stop)
		logger.Info("archive scheduler started", "interval", cfg.ArchiveInterval)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.New(pub, coord, m, logger).Handler(cfg.AuthToken),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("sd_notify failed", "err", err)
	} else if ok {
		logger.Debug("notified systemd")
	}
	logger.Info("event hub started",
		"http_addr", cfg.HTTPAddr,
		"namespace", cfg.Namespace,
		"instance", cfg.InstanceID,
	)

	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Live streams never end on their own; closing the coordinators releases them.
	registry.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "err", err)
	}
	logger.Info("HTTP server stopped")

	cancelBG()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		logger.Warn("dispatcher did not stop in time")
	}
	logger.Info("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		return postgres.Open(ctx, postgres.Config{URL: cfg.DatabaseURL})
	case config.StoreSQLite:
		return sqlite.Open(cfg.SQLitePath)
	case config.StoreMemory, "":
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func retryPolicy(cfg *config.Config) queue.RetryPolicy {
	return queue.RetryPolicy{
		MaxAttempts: cfg.QueueMaxAttempts,
		BaseDelay:   cfg.QueueBaseDelay,
		MaxDelay:    cfg.QueueMaxDelay,
	}
}

func openQueue(ctx context.Context, cfg *config.Config, nc *nats.Conn, logger *slog.Logger) (queue.Queue, error) {
	switch cfg.QueueDriver {
	case config.QueueJetStream:
		if nc == nil {
			return nil, errors.New("jetstream queue requires EVENTHUB_NATS_URL")
		}
		return jetstream.New(ctx, nc, jetstream.Config{Retry: retryPolicy(cfg), Logger: logger})
	case config.QueueRabbitMQ:
		return rabbitmq.Dial(rabbitmq.Config{URL: cfg.AMQPURL, Retry: retryPolicy(cfg), Logger: logger})
	case config.QueueMemory, "":
		return qmemory.New(qmemory.Options{Retry: retryPolicy(cfg), Logger: logger}), nil
	}
	return nil, fmt.Errorf("unknown queue driver %q", cfg.QueueDriver)
}

func openIdempotency(cfg *config.Config, logger *slog.Logger) idempotency.Store {
	if cfg.RedisAddr == "" {
		return idempotency.NewMemory(cfg.IdempotencyTTL)
	}
	logger.Info("idempotency keys in redis", "addr", cfg.RedisAddr)
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return idempotency.NewRedis(rdb, "eventhub:idem:"+cfg.Namespace+":", cfg.IdempotencyTTL)
}

func openTelemetry(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (telemetry.Sink, func(), error) {
	prom, err := telemetry.NewPrometheus(m.Registry)
	if err != nil {
		return nil, nil, err
	}
	sinks := telemetry.Multi{prom}
	closeFn := func() {}
	if brokers := telemetry.SplitBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		k := telemetry.NewKafka(brokers, cfg.KafkaTopic)
		sinks = append(sinks, k)
		closeFn = func() {
			if err := k.Close(); err != nil {
				logger.Error("error closing kafka writer", "err", err)
			}
		}
		logger.Info("telemetry to kafka", "topic", cfg.KafkaTopic)
	}
	if cfg.LogSamples {
		sinks = append(sinks, telemetry.Log{Logger: logger})
	}
	return sinks, closeFn, nil
}

func newArchiveScheduler(ctx context.Context, cfg *config.Config, st store.Store, logger *slog.Logger) *archive.Scheduler {
	if cfg.ArchiveInterval <= 0 {
		return nil
	}
	var dests []archive.Destination
	if cfg.ArchiveS3Bucket != "" {
		d, err := archive.NewS3Destination(ctx, archive.S3Config{
			Bucket:   cfg.ArchiveS3Bucket,
			Key:      cfg.ArchiveS3Key,
			Region:   cfg.ArchiveS3Region,
			Endpoint: cfg.ArchiveS3Endpoint,
		})
		if err != nil {
			logger.Error("failed to create S3 archive destination", "err", err)
		} else {
			dests = append(dests, d)
			logger.Info("archive S3 destination enabled", "bucket", cfg.ArchiveS3Bucket, "key", cfg.ArchiveS3Key)
		}
	}
	if len(dests) == 0 {
		return nil
	}
	return archive.NewScheduler(st, dests, archive.Options{
		Namespace: cfg.Namespace,
		Limit:     cfg.ArchiveLimit,
		Interval:  cfg.ArchiveInterval,
		Logger:    logger,
	})
}
