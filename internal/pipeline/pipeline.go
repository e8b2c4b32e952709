// Package pipeline runs one listening session: it acquires the capture
// streams, suppresses reference echo from the microphone, cuts the result
// into fixed-duration chunks and delivers them in order to a transport sink.
//
// A [Session] owns every piece of mutable per-session state. One consumer
// goroutine reads all capture channels and is the only user of the
// reference buffer, the echo canceller, the chunker and the VAD session.
// One emitter goroutine drains a bounded queue and sends chunk k before
// chunk k+1. Both run in an errgroup; a panic in either ends the session
// with an error reported by [Session.Err].
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/glasslisten/internal/observe"
	"github.com/MrWong99/glasslisten/pkg/audio"
	"github.com/MrWong99/glasslisten/pkg/audio/aec"
	"github.com/MrWong99/glasslisten/pkg/audio/chunker"
	"github.com/MrWong99/glasslisten/pkg/audio/refbuf"
	"github.com/MrWong99/glasslisten/pkg/capture"
	"github.com/MrWong99/glasslisten/pkg/provider/vad"
	"github.com/MrWong99/glasslisten/pkg/provider/vad/energy"
	"github.com/MrWong99/glasslisten/pkg/transport"
)

var (
	// ErrAlreadyRunning is returned by [Session.Start] while a run is active.
	ErrAlreadyRunning = errors.New("pipeline: session already running")

	// ErrNotRunning is returned by [Session.PushReference] outside a run.
	ErrNotRunning = errors.New("pipeline: session not running")
)

// Defaults applied by [New] to zero-valued [Config] fields.
const (
	DefaultQueueSize   = 64
	DefaultSendTimeout = 2 * time.Second
	DefaultStopTimeout = 5 * time.Second
)

// Config tunes a [Session].
type Config struct {
	// ChunkSize is the window length in samples. Default [chunker.DefaultSize].
	ChunkSize int

	// ReferenceCapacity bounds the reference buffer. Default
	// [refbuf.DefaultCapacity].
	ReferenceCapacity int

	// VADThreshold is the RMS level above which reference audio counts as
	// active. Default [energy.DefaultThreshold].
	VADThreshold float64

	// DisableEchoCancellation passes microphone windows through unchanged
	// even while the reference is active.
	DisableEchoCancellation bool

	// QueueSize bounds the ordered emit queue. Default [DefaultQueueSize].
	QueueSize int

	// SendTimeout bounds every sink Send. Default [DefaultSendTimeout].
	SendTimeout time.Duration

	// StopTimeout bounds [Session.Stop]. Default [DefaultStopTimeout].
	StopTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = chunker.DefaultSize
	}
	if c.ReferenceCapacity <= 0 {
		c.ReferenceCapacity = refbuf.DefaultCapacity
	}
	if c.VADThreshold <= 0 {
		c.VADThreshold = energy.DefaultThreshold
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	return c
}

// Option configures a [Session].
type Option func(*Session)

// WithID sets the session id attached to logs. Default: a timestamp-based id.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithVAD replaces the energy gate used on the reference stream.
func WithVAD(e vad.Engine) Option {
	return func(s *Session) { s.vad = e }
}

// WithClock overrides the clock used for reference arrival times and stats.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session is a restartable listening session. All exported methods are safe
// for concurrent use.
type Session struct {
	id      string
	cfg     Config
	metrics *observe.Metrics
	vad     vad.Engine
	now     func() time.Time

	// drops counts producer-side drops reported through [Session.OnDrop].
	// It lives outside run because strategies are built before Start.
	drops atomic.Uint64

	mu  sync.Mutex
	run *run
}

// New creates an idle session.
func New(cfg Config, opts ...Option) *Session {
	s := &Session{
		cfg: cfg.withDefaults(),
		vad: energy.Engine{},
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.id == "" {
		s.id = "session-" + strconv.FormatInt(s.now().UnixMilli(), 36)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// run is the state of one Start/Stop cycle.
type run struct {
	strategy  capture.Strategy
	sink      transport.Sink
	cancel    context.CancelFunc
	refIn     chan audio.Payload
	startedAt time.Time
	stats     counters
	canceller *aec.Canceller

	stopOnce sync.Once
	stopErr  error
	stopped  atomic.Bool

	done chan struct{}
	err  error // set before done is closed
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// release stops the capture sources once.
func (r *run) release() error {
	r.stopOnce.Do(func() {
		r.cancel()
		if err := r.strategy.Release(); err != nil {
			r.stopErr = fmt.Errorf("pipeline: release %s: %w", r.strategy.Name(), err)
		}
	})
	return r.stopErr
}

// Start acquires strategy's streams and begins delivering chunks to sink.
// The session takes ownership of sink and closes it when the run ends.
// Acquisition failures are returned wrapped and leave the session idle.
//
// ctx supplies values such as the trace span only. Cancelling it after Start
// returns does not end the run; use Stop.
func (s *Session) Start(ctx context.Context, strategy capture.Strategy, sink transport.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil && !s.run.finished() {
		return ErrAlreadyRunning
	}

	ctx = observe.WithSession(ctx, s.id)
	ctx, span := observe.StartSpan(ctx, "pipeline.start")
	defer span.End()
	log := observe.Logger(ctx)

	// Sources live until Stop, not until the caller's ctx ends.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	streams, err := strategy.Acquire(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("pipeline: start: %w", err)
	}

	p, err := s.newProcessor(streams)
	if err != nil {
		cancel()
		_ = strategy.Release()
		return fmt.Errorf("pipeline: start: %w", err)
	}

	r := &run{
		strategy:  strategy,
		sink:      sink,
		cancel:    cancel,
		refIn:     make(chan audio.Payload, capture.StreamCapacity),
		startedAt: s.now(),
		done:      make(chan struct{}),
	}
	p.stats = &r.stats
	p.refIn = r.refIn
	r.canceller = p.aec
	s.drops.Store(0)
	s.run = r

	queue := make(chan chunker.Chunk, s.cfg.QueueSize)
	p.queue = queue
	e := &emitter{
		sink:    sink,
		queue:   queue,
		timeout: s.cfg.SendTimeout,
		stats:   &r.stats,
		metrics: s.metrics,
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(guard(gctx, "consumer", func() error { return p.run(gctx) }))
	g.Go(guard(gctx, "emitter", func() error { return e.run(gctx) }))

	s.metrics.ActiveSessions.Add(ctx, 1)
	go s.finish(runCtx, r, g)

	log.Info("pipeline: session started",
		"strategy", strategy.Name(),
		"microphone", streams.Microphone != nil,
		"reference", streams.Reference != nil,
		"loopback", streams.Loopback != nil,
		"echo_cancellation", !s.cfg.DisableEchoCancellation,
		"chunk_samples", s.cfg.ChunkSize,
	)
	return nil
}

// finish waits for the run's goroutines, releases its resources and marks
// it done.
func (s *Session) finish(ctx context.Context, r *run, g *errgroup.Group) {
	err := g.Wait()
	relErr := r.release()
	closeErr := r.sink.Close()

	log := observe.Logger(ctx)
	if err != nil {
		log.Error("pipeline: session failed", "err", err)
	}
	if relErr != nil {
		log.Warn("pipeline: release capture", "err", relErr)
	}
	if closeErr != nil {
		log.Warn("pipeline: close sink", "err", closeErr)
	}

	st := s.statsOf(r)
	log.Info("pipeline: session ended",
		"chunks_emitted", st.ChunksEmitted,
		"send_failures", st.SendFailures,
		"chunks_dropped", st.ChunksDropped,
		"echo_suppressed", st.EchoSuppressed,
		"audio_tokens", st.AudioTokens,
	)

	s.mu.Lock()
	r.err = err
	s.mu.Unlock()
	s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	close(r.done)
}

// guard runs fn, converting a panic into an error so the errgroup cancels
// the sibling goroutine.
func guard(ctx context.Context, name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if v := recover(); v != nil {
				err = fmt.Errorf("pipeline: %s panic: %v", name, v)
				observe.Logger(ctx).Error("pipeline: recovered panic", "goroutine", name, "panic", v)
			}
		}()
		return fn()
	}
}

// Stop ends the active run: it cancels the session context, releases the
// capture strategy, and waits up to the stop timeout for the consumer and
// emitter to exit. The partial chunk and queued chunks are discarded.
// Stop is idempotent and returns nil when nothing is running.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return nil
	}

	wasDone := r.finished()
	first := r.stopped.CompareAndSwap(false, true)
	relErr := r.release()

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-r.done:
	case <-timer.C:
		_ = r.sink.Close()
		return fmt.Errorf("pipeline: stop: timed out after %s", s.cfg.StopTimeout)
	case <-ctx.Done():
		_ = r.sink.Close()
		return fmt.Errorf("pipeline: stop: %w", ctx.Err())
	}
	if !first || wasDone {
		return nil
	}
	slog.Info("pipeline: session stopped", "session_id", s.id)
	return relErr
}

// Running reports whether a run is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil && !s.run.finished()
}

// Done returns a channel closed when the current run has ended, either by
// [Session.Stop], by every capture stream closing, or by a panic. It is nil
// before the first Start.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run.done
}

// Err returns the error that ended the last run, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run.err
}

// PushReference hands a reference payload to the running session, as if it
// had arrived on the strategy's reference stream. A full inbox drops the
// payload and counts it.
func (s *Session) PushReference(p audio.Payload) error {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil || r.finished() {
		return ErrNotRunning
	}
	select {
	case r.refIn <- p:
	default:
		s.OnDrop(capture.StreamReference)
	}
	return nil
}

// OnDrop counts a block a producer could not deliver. It is meant for
// [capture.Deps].OnDrop and is safe to call from device callbacks.
func (s *Session) OnDrop(stream string) {
	s.drops.Add(1)
	s.metrics.RecordDrop(context.Background(), stream, observe.DropChannelFull)
}
