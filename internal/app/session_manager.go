package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/glasslisten/internal/config"
	"github.com/MrWong99/glasslisten/internal/observe"
	"github.com/MrWong99/glasslisten/internal/pipeline"
	"github.com/MrWong99/glasslisten/internal/resilience"
	"github.com/MrWong99/glasslisten/pkg/audio"
	"github.com/MrWong99/glasslisten/pkg/capture"
	"github.com/MrWong99/glasslisten/pkg/transport"
)

// ErrNoSession is returned by [SessionManager.Stop] when nothing is running.
var ErrNoSession = errors.New("session: no active session")

// SessionInfo holds metadata about the current or most recent session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string `json:"session_id"`

	// Strategy is the resolved capture strategy name.
	Strategy string `json:"strategy"`

	// Transport is the configured primary sink name.
	Transport string `json:"transport"`

	// StartedAt is when the session was started.
	StartedAt time.Time `json:"started_at"`

	// StartedBy identifies the caller that started the session.
	StartedBy string `json:"started_by,omitempty"`
}

// Status is the snapshot served by the control API.
type Status struct {
	Active bool              `json:"active"`
	Info   *SessionInfo      `json:"info,omitempty"`
	Stats  *pipeline.Stats   `json:"stats,omitempty"`
	Sinks  map[string]string `json:"sinks,omitempty"`
}

// SessionManager manages the lifecycle of listening sessions.
// Only one session can be active at a time (enforced by mutex).
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu      sync.Mutex
	session *pipeline.Session
	info    SessionInfo
	sink    transport.Sink
	primary *resilience.CircuitBreaker

	cfg atomic.Pointer[config.Config]

	// Dependencies injected at construction.
	registry *config.Registry
	deps     capture.Deps
	goos     string
	metrics  *observe.Metrics
	screen   func(ctx context.Context, at time.Time) error
	now      func() time.Time
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Config is the initial configuration. Replace it with
	// [SessionManager.SetConfig]; running sessions keep their snapshot.
	Config *config.Config

	// Registry creates the sinks named in the transport config.
	Registry *config.Registry

	// Deps seeds the capture collaborators. Dumper, Screen and Mic are
	// derived from the config when left zero; OnDrop is always replaced by
	// the session's counter.
	Deps capture.Deps

	// GOOS resolves the "auto" strategy. Defaults to runtime.GOOS.
	GOOS string

	// Metrics receives pipeline and breaker metrics. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// ScreenCapture is called on every screen tick when
	// capture.screen_interval is set. Nil logs the tick at debug level.
	ScreenCapture func(ctx context.Context, at time.Time) error
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		registry: cfg.Registry,
		deps:     cfg.Deps,
		goos:     cfg.GOOS,
		metrics:  cfg.Metrics,
		screen:   cfg.ScreenCapture,
		now:      time.Now,
	}
	if sm.goos == "" {
		sm.goos = runtime.GOOS
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	if sm.registry == nil {
		sm.registry = config.NewRegistry()
	}
	if sm.screen == nil {
		sm.screen = func(ctx context.Context, at time.Time) error {
			observe.Logger(ctx).Debug("screen capture tick", "at", at)
			return nil
		}
	}
	c := cfg.Config
	if c == nil {
		c = &config.Config{}
		config.ApplyDefaults(c)
	}
	sm.cfg.Store(c)
	return sm
}

// SetConfig replaces the configuration used by the next [SessionManager.Start].
func (sm *SessionManager) SetConfig(cfg *config.Config) {
	sm.cfg.Store(cfg)
}

// Config returns the configuration the next session will use.
func (sm *SessionManager) Config() *config.Config {
	return sm.cfg.Load()
}

// Start begins a new listening session: it selects the capture strategy,
// builds the resilient sink and starts the pipeline.
//
// Returns an error wrapping [pipeline.ErrAlreadyRunning] if a session is
// already active.
func (sm *SessionManager) Start(ctx context.Context, startedBy string) (SessionInfo, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.session != nil && sm.session.Running() {
		return SessionInfo{}, fmt.Errorf("session: %w (id=%s)", pipeline.ErrAlreadyRunning, sm.info.SessionID)
	}

	cfg := sm.cfg.Load()
	now := sm.now().UTC()
	sessionID := "session-" + now.Format("20060102T150405.000Z")

	sess := pipeline.New(pipelineConfig(cfg),
		pipeline.WithID(sessionID),
		pipeline.WithMetrics(sm.metrics),
	)
	ctx = observe.WithSession(ctx, sessionID)

	strategy, err := capture.Select(string(cfg.Capture.Strategy), sm.goos, sm.captureDeps(cfg, sess.OnDrop))
	if err != nil {
		return SessionInfo{}, fmt.Errorf("session: select capture: %w", err)
	}

	sink, primary, err := sm.buildSink(ctx, cfg.Transport)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("session: create transport: %w", err)
	}

	if err := sess.Start(ctx, strategy, sink); err != nil {
		if cerr := sink.Close(); cerr != nil {
			slog.Warn("session: close transport after failed start", "err", cerr)
		}
		return SessionInfo{}, fmt.Errorf("session: %w", err)
	}

	sm.session = sess
	sm.sink = sink
	sm.primary = primary
	sm.info = SessionInfo{
		SessionID: sessionID,
		Strategy:  strategy.Name(),
		Transport: cfg.Transport.Name,
		StartedAt: now,
		StartedBy: startedBy,
	}

	observe.Logger(ctx).Info("session started",
		"strategy", strategy.Name(),
		"transport", cfg.Transport.Name,
		"started_by", startedBy,
	)
	return sm.info, nil
}

// Stop ends the active session and returns its final stats.
func (sm *SessionManager) Stop(ctx context.Context) (pipeline.Stats, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.session == nil || !sm.session.Running() {
		return pipeline.Stats{}, ErrNoSession
	}

	err := sm.session.Stop(ctx)
	stats := sm.session.Stats()
	slog.Info("session stopped",
		"session_id", sm.info.SessionID,
		"chunks_emitted", stats.ChunksEmitted,
		"audio_tokens", stats.AudioTokens,
	)
	if err != nil {
		return stats, fmt.Errorf("session: stop: %w", err)
	}
	return stats, nil
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.session != nil && sm.session.Running()
}

// Status returns the current or most recent session's info and stats.
func (sm *SessionManager) Status() Status {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.session == nil {
		return Status{}
	}
	info := sm.info
	stats := sm.session.Stats()
	st := Status{
		Active: sm.session.Running(),
		Info:   &info,
		Stats:  &stats,
	}
	switch s := sm.sink.(type) {
	case *resilience.FallbackSink:
		st.Sinks = make(map[string]string)
		for name, state := range s.States() {
			st.Sinks[name] = state.String()
		}
	case *resilience.BreakerSink:
		st.Sinks = map[string]string{info.Transport: s.Breaker().State().String()}
	}
	return st
}

// PushReference forwards a reference payload to the running session.
// Returns [pipeline.ErrNotRunning] when no session is active.
func (sm *SessionManager) PushReference(p audio.Payload) error {
	sm.mu.Lock()
	sess := sm.session
	sm.mu.Unlock()
	if sess == nil {
		return pipeline.ErrNotRunning
	}
	return sess.PushReference(p)
}

// Breaker returns the primary sink's circuit breaker while a session is
// running, or nil.
func (sm *SessionManager) Breaker() *resilience.CircuitBreaker {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.session == nil || !sm.session.Running() {
		return nil
	}
	return sm.primary
}

// Err reports why the most recent session ended abnormally, or nil.
func (sm *SessionManager) Err() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.session == nil {
		return nil
	}
	return sm.session.Err()
}

// ── Wiring ────────────────────────────────────────────────────────────────────

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		ChunkSize:               audio.SampleRate * cfg.Audio.ChunkDurationMs / 1000,
		ReferenceCapacity:       cfg.Audio.ReferenceCapacity,
		VADThreshold:            cfg.Audio.VADThreshold,
		DisableEchoCancellation: !cfg.Audio.EchoCancellation(),
		QueueSize:               cfg.Transport.QueueSize,
		SendTimeout:             cfg.Transport.SendTimeout,
		StopTimeout:             cfg.Audio.StopTimeout,
	}
}

// captureDeps fills the collaborators the config describes. Injected
// Dumper and Screen values take precedence.
func (sm *SessionManager) captureDeps(cfg *config.Config, onDrop func(string)) capture.Deps {
	deps := sm.deps
	deps.OnDrop = onDrop
	if deps.Dumper == nil {
		deps.Dumper = &capture.ExecDumper{Command: cfg.Capture.DumpCommand, Args: cfg.Capture.DumpArgs}
	}
	if deps.DumpFormat == (audio.Format{}) {
		deps.DumpFormat = audio.Format{SampleRate: cfg.Capture.DumpSampleRate, Channels: cfg.Capture.DumpChannels}
	}
	if deps.Screen == nil && cfg.Capture.ScreenInterval > 0 {
		deps.Screen = &capture.IntervalScreen{Interval: cfg.Capture.ScreenInterval, Capture: sm.screen}
	}
	if deps.Mic == (capture.MicConstraints{}) {
		deps.Mic = capture.DefaultMicConstraints()
		deps.Mic.DeviceName = cfg.Capture.MicrophoneDevice
		if cfg.Audio.BlockSize > 0 {
			deps.Mic.BlockSize = cfg.Audio.BlockSize
		}
	}
	return deps
}

// buildSink creates the configured sink behind a circuit breaker, adding
// the fallback sink when one is configured. It returns the primary breaker.
func (sm *SessionManager) buildSink(ctx context.Context, tc config.TransportConfig) (transport.Sink, *resilience.CircuitBreaker, error) {
	primary, err := sm.registry.CreateTransport(ctx, tc)
	if err != nil {
		return nil, nil, err
	}

	bcfg := resilience.CircuitBreakerConfig{
		Name:         tc.Name,
		MaxFailures:  tc.Breaker.MaxFailures,
		ResetTimeout: tc.Breaker.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Info("transport breaker state changed", "sink", name, "from", from, "to", to)
			sm.metrics.RecordBreaker(context.Background(), name, to.String())
		},
	}

	if tc.Fallback == "" {
		bs := resilience.NewBreakerSink(primary, bcfg)
		return bs, bs.Breaker(), nil
	}

	fcfg := tc
	fcfg.Name = tc.Fallback
	fallback, err := sm.registry.CreateTransport(ctx, fcfg)
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("fallback %q: %w", tc.Fallback, err), primary.Close())
	}
	fs := resilience.NewFallbackSink(tc.Name, primary, bcfg)
	fs.AddFallback(tc.Fallback, fallback)
	return fs, fs.Primary().Breaker(), nil
}
