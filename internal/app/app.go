// Package app wires the glasslisten subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the session manager and
// the HTTP control API, Run serves until its context is cancelled, and
// Shutdown stops the active session and the server in order.
//
// For testing, inject mock implementations via functional options
// (WithCaptureDeps, WithRegistry, etc.). When an option is not provided, New
// uses the built-in transports and the config-derived capture collaborators.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/glasslisten/internal/config"
	"github.com/MrWong99/glasslisten/internal/health"
	"github.com/MrWong99/glasslisten/internal/observe"
	"github.com/MrWong99/glasslisten/internal/pipeline"
	"github.com/MrWong99/glasslisten/pkg/audio"
	"github.com/MrWong99/glasslisten/pkg/capture"
)

// maxReferenceBody bounds a POST /v1/reference request body.
const maxReferenceBody = 4 << 20

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	deps     capture.Deps
	goos     string
	metrics  *observe.Metrics
	gatherer http.Handler
	screen   func(ctx context.Context, at time.Time) error

	sessions *SessionManager
	server   *http.Server
	handler  http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry injects a transport registry instead of one holding only the
// built-in transports.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithCaptureDeps injects the capture backend, dumper and screen.
func WithCaptureDeps(d capture.Deps) Option {
	return func(a *App) { a.deps = d }
}

// WithGOOS overrides the operating system used to resolve the "auto"
// capture strategy.
func WithGOOS(goos string) Option {
	return func(a *App) { a.goos = goos }
}

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics instead of promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.gatherer = h }
}

// WithScreenCapture sets the callback run on every screen capture tick.
func WithScreenCapture(fn func(ctx context.Context, at time.Time) error) Option {
	return func(a *App) { a.screen = fn }
}

// WithCloser registers fn to run during Shutdown after the server stopped.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. It does not start listening; call Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterBuiltinTransports(a.registry)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.gatherer == nil {
		a.gatherer = promhttp.Handler()
	}

	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:        cfg,
		Registry:      a.registry,
		Deps:          a.deps,
		GOOS:          a.goos,
		Metrics:       a.metrics,
		ScreenCapture: a.screen,
	})

	a.handler = a.routes()
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Handler returns the control API handler including health and metrics.
func (a *App) Handler() http.Handler { return a.handler }

// ApplyConfig hands a reloaded config to the session manager. Audio,
// capture and transport changes apply to the next session.
func (a *App) ApplyConfig(d config.ConfigDiff, cfg *config.Config) {
	a.sessions.SetConfig(cfg)
	if d.NextSession() && a.sessions.IsActive() {
		slog.Info("config change applies to the next session",
			"audio", d.AudioChanged,
			"capture", d.CaptureChanged,
			"transport", d.TransportChanged,
		)
	}
	if d.RestartRequired {
		slog.Warn("config change requires a restart to take effect")
	}
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/session/start", a.handleStart)
	mux.HandleFunc("POST /v1/session/stop", a.handleStop)
	mux.HandleFunc("GET /v1/session", a.handleStatus)
	mux.HandleFunc("POST /v1/reference", a.handleReference)

	h := health.New(
		health.BreakerCheck("transport", a.sessions.Breaker),
		health.ErrCheck("session", a.sessions.Err),
	)
	h.Register(mux)
	mux.Handle("GET /metrics", a.gatherer)

	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control API and blocks until ctx is cancelled or the
// listener fails. When ctx is done, Run returns ctx.Err(); call Shutdown
// afterwards.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		errCh <- err
	}()

	slog.Info("control api listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the active session, drains the HTTP server and runs the
// registered closers. It is safe to call more than once; later calls return
// the first result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		if _, err := a.sessions.Stop(ctx); err != nil && !errors.Is(err, ErrNoSession) {
			errs = append(errs, err)
		}
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
		}
		for _, fn := range a.closers {
			if err := fn(); err != nil {
				errs = append(errs, err)
			}
		}
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}

// ─── Handlers ────────────────────────────────────────────────────────────────

type startRequest struct {
	StartedBy string `json:"started_by"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.StartedBy == "" {
		req.StartedBy = r.RemoteAddr
	}

	info, err := a.sessions.Start(r.Context(), req.StartedBy)
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, capture.ErrNotSupported):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, config.ErrTransportNotRegistered):
		writeError(w, http.StatusUnprocessableEntity, err)
	case err != nil:
		observe.Logger(r.Context()).Error("session start failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeJSON(w, http.StatusCreated, info)
	}
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	stats, err := a.sessions.Stop(r.Context())
	switch {
	case errors.Is(err, ErrNoSession):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, struct {
			Error string         `json:"error"`
			Stats pipeline.Stats `json:"stats"`
		}{err.Error(), stats})
	default:
		writeJSON(w, http.StatusOK, stats)
	}
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.Status())
}

func (a *App) handleReference(w http.ResponseWriter, r *http.Request) {
	var p audio.Payload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxReferenceBody)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode payload: %w", err))
		return
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	if err := a.sessions.PushReference(p); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// decodeOptional decodes a JSON body into v, treating an empty body as {}.
func decodeOptional(body io.Reader, v any) error {
	err := json.NewDecoder(io.LimitReader(body, 1<<16)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("decode request: %w", err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
