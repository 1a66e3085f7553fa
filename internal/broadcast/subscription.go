package broadcast

import (
	"context"
	"time"

	"github.com/alfredjeanlab/eventhub/internal/model"
)

// Sink receives encoded stream frames. An error means the client is gone.
type Sink interface {
	WriteFrame(frame []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(frame []byte) error

func (f SinkFunc) WriteFrame(frame []byte) error { return f(frame) }

// Subscription is one live stream client. It is Open until the coordinator
// removes it, after which it is Closed for good.
type Subscription struct {
	id      string
	filters *model.EventFilter
	frames  chan []byte
	done    chan struct{} // closed by the coordinator on removal
	dropped bool          // set before done is closed
	coord   *Coordinator
}

// ID returns the subscription id.
func (s *Subscription) ID() string { return s.id }

// Done is closed once the subscription has been removed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Serve writes queued frames to sink until ctx is cancelled, a write fails,
// or the coordinator closes the subscription. Keepalive comments are written
// while the stream is idle. The subscription is always removed on return.
// A subscriber removed for falling behind gets ErrDropped.
func (s *Subscription) Serve(ctx context.Context, sink Sink) error {
	defer s.coord.remove(s.id)

	keepalive := time.NewTicker(s.coord.keepAlive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-s.frames:
			if err := sink.WriteFrame(frame); err != nil {
				return err
			}
		case <-s.done:
			if err := s.drain(sink); err != nil {
				return err
			}
			if s.dropped {
				return ErrDropped
			}
			return nil
		case <-keepalive.C:
			if err := sink.WriteFrame(keepAliveFrame); err != nil {
				return err
			}
		}
	}
}

// drain flushes frames that were queued before the subscription closed.
func (s *Subscription) drain(sink Sink) error {
	for {
		select {
		case frame := <-s.frames:
			if err := sink.WriteFrame(frame); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// Close removes the subscription from its coordinator.
func (s *Subscription) Close() { s.coord.remove(s.id) }
