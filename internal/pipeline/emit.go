package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/glasslisten/internal/observe"
	"github.com/MrWong99/glasslisten/internal/resilience"
	"github.com/MrWong99/glasslisten/pkg/audio/chunker"
	"github.com/MrWong99/glasslisten/pkg/transport"
)

// emitter sends queued chunks strictly in order. A failed send is logged,
// counted and dropped; there are no retries.
type emitter struct {
	sink    transport.Sink
	queue   <-chan chunker.Chunk
	timeout time.Duration
	stats   *counters
	metrics *observe.Metrics
}

func (e *emitter) run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			e.discard(ctx)
			return nil
		}
		select {
		case <-ctx.Done():
			e.discard(ctx)
			return nil
		case c, ok := <-e.queue:
			if !ok {
				return nil
			}
			e.metrics.QueueDepth.Add(ctx, -1)
			e.send(ctx, c)
		}
	}
}

func (e *emitter) send(ctx context.Context, c chunker.Chunk) {
	sendCtx, cancel := context.WithTimeout(ctx, e.timeout)
	start := time.Now()
	err := e.sink.Send(sendCtx, c)
	cancel()
	elapsed := time.Since(start).Seconds()

	if err == nil {
		e.stats.emitted.Add(1)
		e.stats.emittedSamples.Add(uint64(c.Samples))
		e.metrics.RecordSend(ctx, "ok", elapsed)
		return
	}

	e.stats.sendFailures.Add(1)
	e.metrics.RecordSend(ctx, "error", elapsed)
	e.metrics.RecordDrop(ctx, "emit", observe.DropSendFailed)
	log := observe.Logger(ctx)
	switch {
	case ctx.Err() != nil:
		log.Debug("pipeline: send interrupted by stop", "seq", c.Seq)
	case errors.Is(err, resilience.ErrCircuitOpen):
		log.Debug("pipeline: transport circuit open, dropping chunk", "seq", c.Seq)
	default:
		log.Warn("pipeline: send failed, dropping chunk", "seq", c.Seq, "err", err)
	}
}

// discard drops every chunk still queued at stop.
func (e *emitter) discard(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for {
		select {
		case _, ok := <-e.queue:
			if !ok {
				return
			}
			e.metrics.QueueDepth.Add(ctx, -1)
			e.stats.dropped.Add(1)
			e.metrics.RecordDrop(ctx, "emit", observe.DropStopped)
		default:
			return
		}
	}
}
