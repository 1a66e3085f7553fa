// Package archive periodically exports recent events and registered
// webhooks as JSONL to one or more destinations such as S3.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/eventhub/internal/store"
)

// Destination receives each export.
type Destination interface {
	Write(ctx context.Context, data []byte) error
}

// Options configures a Scheduler.
type Options struct {
	Namespace string
	// Limit caps how many of the most recent events each export holds.
	Limit    int
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// Scheduler exports on a fixed interval. An export whose content matches the
// last successful one is skipped.
type Scheduler struct {
	store store.Store
	dests []Destination
	opts  Options

	mu         sync.Mutex
	lastDigest string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler returns a stopped scheduler.
func NewScheduler(s store.Store, dests []Destination, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{store: s, dests: dests, opts: opts}
}

// Start exports immediately and then on every tick until Stop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop cancels the loop and waits for an export in progress to return.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.opts.Logger.Error("archive failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single export to every destination. A failing
// destination does not stop the others; their errors are joined and the
// export is retried on the next run.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	snap, err := takeSnapshot(ctx, s.store, s.opts.Namespace, s.opts.Limit)
	if err != nil {
		return err
	}
	digest := snap.digest()

	s.mu.Lock()
	unchanged := digest == s.lastDigest
	s.mu.Unlock()
	if unchanged {
		s.opts.Logger.Debug("archive unchanged, skipping", "events", len(snap.events))
		return nil
	}

	var buf bytes.Buffer
	if err := snap.encode(&buf, s.opts.Now()); err != nil {
		return err
	}
	var errs []error
	for i, d := range s.dests {
		if err := d.Write(ctx, buf.Bytes()); err != nil {
			errs = append(errs, fmt.Errorf("destination %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	s.mu.Lock()
	s.lastDigest = digest
	s.mu.Unlock()
	s.opts.Logger.Info("archive written",
		"destinations", len(s.dests),
		"events", len(snap.events),
		"webhooks", len(snap.webhooks),
		"bytes", buf.Len(),
	)
	return nil
}
