package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Screen is the screen capture collaborator started alongside audio. It owns
// any screenshot timers it creates; Stop cancels them.
type Screen interface {
	Start(ctx context.Context) error
	Stop() error
}

// NopScreen does nothing. It is the default when a host has no screen
// capture.
type NopScreen struct{}

func (NopScreen) Start(context.Context) error { return nil }
func (NopScreen) Stop() error                 { return nil }

// IntervalScreen calls Capture on a fixed interval until stopped. Capture
// errors are logged and do not stop the ticker.
type IntervalScreen struct {
	Interval time.Duration
	Capture  func(ctx context.Context, at time.Time) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Screen = (*IntervalScreen)(nil)

// Start launches the ticker goroutine. It fails if the interval is not
// positive, Capture is nil, or the ticker is already running.
func (s *IntervalScreen) Start(ctx context.Context) error {
	if s.Interval <= 0 {
		return errors.New("screen interval must be positive")
	}
	if s.Capture == nil {
		return errors.New("screen capture callback is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("screen capture already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		t := time.NewTicker(s.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case at := <-t.C:
				if err := s.Capture(ctx, at); err != nil && ctx.Err() == nil {
					slog.Warn("capture: screen capture failed", "err", err)
				}
			}
		}
	}()
	return nil
}

// Stop cancels the ticker and waits for an in-flight capture to return.
// Safe to call more than once.
func (s *IntervalScreen) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
