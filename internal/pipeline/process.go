package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/glasslisten/internal/observe"
	"github.com/MrWong99/glasslisten/pkg/audio"
	"github.com/MrWong99/glasslisten/pkg/audio/aec"
	"github.com/MrWong99/glasslisten/pkg/audio/chunker"
	"github.com/MrWong99/glasslisten/pkg/audio/refbuf"
	"github.com/MrWong99/glasslisten/pkg/capture"
	"github.com/MrWong99/glasslisten/pkg/provider/vad"
)

// processor is the consumer side of a run. Everything in it is owned by the
// consumer goroutine.
type processor struct {
	streams *capture.Streams
	refIn   <-chan audio.Payload
	queue   chan chunker.Chunk

	ref     *refbuf.Buffer
	aec     *aec.Canceller
	chunker *chunker.Chunker
	gate    vad.SessionHandle
	useAEC  bool
	voice   bool

	stats   *counters
	metrics *observe.Metrics
}

func (s *Session) newProcessor(streams *capture.Streams) (*processor, error) {
	gate, err := s.vad.NewSession(vad.Config{
		SampleRate: audio.SampleRate,
		Threshold:  s.cfg.VADThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("vad session: %w", err)
	}
	return &processor{
		streams: streams,
		ref:     refbuf.New(s.cfg.ReferenceCapacity, refbuf.WithClock(s.now)),
		aec:     aec.New(),
		chunker: chunker.New(s.cfg.ChunkSize),
		gate:    gate,
		useAEC:  !s.cfg.DisableEchoCancellation,
		metrics: s.metrics,
	}, nil
}

// run reads every capture channel until ctx is cancelled or all acquired
// streams have closed. It closes the queue on return so the emitter can
// drain what is left.
func (p *processor) run(ctx context.Context) error {
	defer close(p.queue)
	defer func() {
		p.stats.discarded.Add(uint64(p.chunker.Discard()))
		_ = p.gate.Close()
	}()

	mic, ref, loop := p.streams.Microphone, p.streams.Reference, p.streams.Loopback
	open := 0
	for _, ok := range []bool{mic != nil, ref != nil, loop != nil} {
		if ok {
			open++
		}
	}
	if open == 0 {
		observe.Logger(ctx).Warn("pipeline: no capture streams available, session is idle")
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case f, ok := <-mic:
			if !ok {
				mic = nil
				if open--; open == 0 {
					return nil
				}
				continue
			}
			p.metrics.RecordFrame(ctx, capture.StreamMicrophone)
			p.stats.micFrames.Add(1)
			p.microphone(ctx, f)

		case pl, ok := <-ref:
			if !ok {
				ref = nil
				if open--; open == 0 {
					return nil
				}
				continue
			}
			p.reference(ctx, pl)

		case pl := <-p.refIn:
			p.reference(ctx, pl)

		case f, ok := <-loop:
			if !ok {
				loop = nil
				if open--; open == 0 {
					return nil
				}
				continue
			}
			p.metrics.RecordFrame(ctx, capture.StreamLoopback)
			p.stats.micFrames.Add(1)
			p.direct(ctx, f)
		}
	}
}

// reference decodes a payload into the reference buffer. Malformed payloads
// are dropped and leave the buffer unchanged.
func (p *processor) reference(ctx context.Context, pl audio.Payload) {
	f, err := audio.DecodePayload(pl)
	if err != nil {
		p.stats.decodeErrors.Add(1)
		p.metrics.RecordDrop(ctx, capture.StreamReference, observe.DropDecode)
		observe.Logger(ctx).Debug("pipeline: dropping undecodable reference block", "err", err)
		return
	}
	p.metrics.RecordFrame(ctx, capture.StreamReference)
	p.stats.refFrames.Add(1)
	p.ref.Push(f)
}

// microphone cuts a microphone frame into windows. Each completed window is
// checked against the latest reference frame and goes through echo
// suppression while the reference is voice-active.
func (p *processor) microphone(ctx context.Context, f audio.Frame) {
	start := time.Now()
	for _, window := range p.chunker.Push(f.Samples) {
		out := window
		if p.useAEC {
			if e, ok := p.ref.Latest(); ok && p.active(ctx, e.Frame.Samples) {
				out = p.aec.Process(window, e.Frame.Samples)
				p.stats.echoSuppressed.Add(1)
				p.metrics.EchoSuppressed.Add(ctx, 1)
			}
		}
		p.enqueue(ctx, p.chunker.Encode(out))
	}
	p.metrics.BlockDuration.Record(ctx, time.Since(start).Seconds())
}

// direct chunks a loopback frame without echo suppression. The loopback
// stream already is the mix, so there is no separate reference to cancel.
func (p *processor) direct(ctx context.Context, f audio.Frame) {
	for _, c := range p.chunker.Feed(f.Samples) {
		p.enqueue(ctx, c)
	}
}

// active runs the VAD gate and reports speech transitions.
func (p *processor) active(ctx context.Context, samples []float32) bool {
	ev := p.gate.ProcessSamples(samples)
	active := ev.Active()
	if active != p.voice {
		p.voice = active
		p.metrics.RecordVoice(ctx, active)
		observe.Logger(ctx).Debug("pipeline: reference voice activity",
			"event", ev.Type.String(),
			"level", ev.Level,
		)
	}
	return active
}

// enqueue hands c to the emitter without blocking. A full queue drops the
// newest chunk.
func (p *processor) enqueue(ctx context.Context, c chunker.Chunk) {
	select {
	case p.queue <- c:
		p.metrics.QueueDepth.Add(ctx, 1)
	default:
		p.stats.dropped.Add(1)
		p.metrics.RecordDrop(ctx, "emit", observe.DropQueueFull)
		observe.Logger(ctx).Warn("pipeline: emit queue full, dropping chunk", "seq", c.Seq)
	}
}
