package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/glasslisten/pkg/audio/chunker"
	"github.com/MrWong99/glasslisten/pkg/transport"
)

// ErrAllFailed is returned by [FallbackSink.Send] when every sink failed or
// had an open breaker.
var ErrAllFailed = errors.New("resilience: all sinks failed")

// BreakerSink guards a [transport.Sink] with a [CircuitBreaker]. While the
// breaker is open, Send fails fast with [ErrCircuitOpen] instead of waiting
// on an unreachable downstream.
type BreakerSink struct {
	sink    transport.Sink
	breaker *CircuitBreaker
}

var _ transport.Sink = (*BreakerSink)(nil)

// NewBreakerSink wraps sink in a breaker built from cfg.
func NewBreakerSink(sink transport.Sink, cfg CircuitBreakerConfig) *BreakerSink {
	return &BreakerSink{sink: sink, breaker: NewCircuitBreaker(cfg)}
}

// Send forwards c if the breaker admits it. A cancelled ctx is not counted
// as a downstream failure.
func (b *BreakerSink) Send(ctx context.Context, c chunker.Chunk) error {
	var ctxErr error
	err := b.breaker.Execute(func() error {
		err := b.sink.Send(ctx, c)
		if err != nil && ctx.Err() != nil {
			ctxErr = err
			return nil
		}
		return err
	})
	if ctxErr != nil {
		return ctxErr
	}
	return err
}

// Breaker exposes the breaker for state inspection.
func (b *BreakerSink) Breaker() *CircuitBreaker { return b.breaker }

// Close closes the wrapped sink.
func (b *BreakerSink) Close() error { return b.sink.Close() }

type fallbackEntry struct {
	name string
	sink *BreakerSink
}

// FallbackSink sends every chunk to its primary sink and, when the primary
// fails or its breaker is open, to the next healthy fallback in
// registration order. Each entry has its own breaker.
type FallbackSink struct {
	cfg CircuitBreakerConfig

	mu      sync.RWMutex
	entries []fallbackEntry
}

var _ transport.Sink = (*FallbackSink)(nil)

// NewFallbackSink creates a [FallbackSink] with primary as its first entry.
// cfg is applied to every entry; its Name is replaced by the entry name.
func NewFallbackSink(primaryName string, primary transport.Sink, cfg CircuitBreakerConfig) *FallbackSink {
	f := &FallbackSink{cfg: cfg}
	f.AddFallback(primaryName, primary)
	return f
}

// AddFallback appends a sink tried after all previously added ones.
func (f *FallbackSink) AddFallback(name string, sink transport.Sink) {
	cfg := f.cfg
	cfg.Name = name
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, fallbackEntry{name: name, sink: NewBreakerSink(sink, cfg)})
}

// Send delivers c to the first entry that accepts it.
func (f *FallbackSink) Send(ctx context.Context, c chunker.Chunk) error {
	f.mu.RLock()
	entries := f.entries
	f.mu.RUnlock()

	var lastErr error
	for _, e := range entries {
		err := e.sink.Send(ctx, c)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping sink (circuit open)", "sink", e.name, "seq", c.Seq)
		} else {
			slog.Warn("sink failed, trying next", "sink", e.name, "seq", c.Seq, "err", err)
		}
	}
	return fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// Primary returns the first registered entry.
func (f *FallbackSink) Primary() *BreakerSink {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.entries[0].sink
}

// States reports the breaker state of every entry by name.
func (f *FallbackSink) States() map[string]State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]State, len(f.entries))
	for _, e := range f.entries {
		out[e.name] = e.sink.Breaker().State()
	}
	return out
}

// Close closes every entry and joins their errors.
func (f *FallbackSink) Close() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var errs []error
	for _, e := range f.entries {
		if err := e.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("resilience: close %s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}
