package app_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/glasslisten/internal/app"
	"github.com/MrWong99/glasslisten/internal/config"
	"github.com/MrWong99/glasslisten/internal/observe"
	"github.com/MrWong99/glasslisten/internal/pipeline"
	"github.com/MrWong99/glasslisten/pkg/audio"
	"github.com/MrWong99/glasslisten/pkg/capture"
	capturemock "github.com/MrWong99/glasslisten/pkg/capture/mock"
	"github.com/MrWong99/glasslisten/pkg/transport"
	transportmock "github.com/MrWong99/glasslisten/pkg/transport/mock"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

// testConfig returns a defaulted config using the display strategy and the
// "primary" mock transport.
func testConfig() *config.Config {
	cfg := &config.Config{
		Capture:   config.CaptureConfig{Strategy: config.StrategyDisplay, MicrophoneDevice: "USB Mic"},
		Transport: config.TransportConfig{Name: "primary"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// sinks hands out one mock sink per transport name and remembers it.
type sinks struct {
	mu      sync.Mutex
	byName  map[string]*transportmock.Sink
	created map[string]int
}

func newSinks() *sinks {
	return &sinks{byName: map[string]*transportmock.Sink{}, created: map[string]int{}}
}

func (s *sinks) get(name string) *transportmock.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, ok := s.byName[name]
	if !ok {
		sk = &transportmock.Sink{}
		s.byName[name] = sk
	}
	return sk
}

func (s *sinks) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created[name]
}

func (s *sinks) registry(names ...string) *config.Registry {
	reg := config.NewRegistry()
	for _, name := range names {
		reg.RegisterTransport(name, func(_ context.Context, cfg config.TransportConfig) (transport.Sink, error) {
			s.mu.Lock()
			s.created[cfg.Name]++
			s.mu.Unlock()
			return s.get(cfg.Name), nil
		})
	}
	return reg
}

type fixture struct {
	sm      *app.SessionManager
	mic     *capturemock.Device
	backend *capturemock.Backend
	sinks   *sinks
}

func newFixture(t *testing.T, cfg *config.Config, deps capture.Deps) *fixture {
	t.Helper()
	return newFixtureOn(t, "linux", cfg, deps)
}

// newFixtureOn resolves the "auto" strategy as goos would.
func newFixtureOn(t *testing.T, goos string, cfg *config.Config, deps capture.Deps) *fixture {
	t.Helper()
	f := &fixture{
		mic:   &capturemock.Device{},
		sinks: newSinks(),
	}
	if deps.Backend == nil {
		f.backend = &capturemock.Backend{MicrophoneResult: f.mic}
		deps.Backend = f.backend
	}
	f.sm = app.NewSessionManager(app.SessionManagerConfig{
		Config:   cfg,
		Registry: f.sinks.registry("primary", "backup", "other"),
		Deps:     deps,
		GOOS:     goos,
		Metrics:  testMetrics(t),
	})
	t.Cleanup(func() { _, _ = f.sm.Stop(context.Background()) })
	return f
}

func pcm(n int) []byte {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
	}
	return audio.EncodePCM16(samples)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func sentCount(s *transportmock.Sink) func() bool {
	return func() bool { return len(s.SentChunks()) >= 2 }
}

// ─── lifecycle ───────────────────────────────────────────────────────────────

func TestSessionManager_StartStop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(), capture.Deps{})

	info, err := f.sm.Start(context.Background(), "tester")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info.Strategy != capture.NameDisplay {
		t.Errorf("Strategy = %q, want %q", info.Strategy, capture.NameDisplay)
	}
	if info.Transport != "primary" || info.StartedBy != "tester" || info.SessionID == "" {
		t.Errorf("unexpected info %+v", info)
	}
	if !f.sm.IsActive() {
		t.Fatal("IsActive() = false after Start")
	}

	if !f.mic.Emit(pcm(4800)) {
		t.Fatal("microphone not started")
	}
	sink := f.sinks.get("primary")
	waitFor(t, "two chunks", sentCount(sink))

	stats, err := f.sm.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stats.ChunksEmitted != 2 {
		t.Errorf("ChunksEmitted = %d, want 2", stats.ChunksEmitted)
	}
	if stats.AudioTokens != 3 {
		t.Errorf("AudioTokens = %d, want 3", stats.AudioTokens)
	}
	if f.sm.IsActive() {
		t.Error("IsActive() = true after Stop")
	}
	if !f.mic.Closed() {
		t.Error("microphone not closed")
	}
	if got := sink.Closes(); got != 1 {
		t.Errorf("sink closes = %d, want 1", got)
	}

	for i, c := range sink.SentChunks() {
		if c.Seq != uint64(i) {
			t.Errorf("chunk %d seq = %d", i, c.Seq)
		}
		if c.MIMEType != audio.MIMEType {
			t.Errorf("chunk %d mime = %q", i, c.MIMEType)
		}
	}
}

func TestSessionManager_MicConstraintsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Audio.BlockSize = 2048
	f := newFixture(t, cfg, capture.Deps{})

	if _, err := f.sm.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	calls := f.backend.MicrophoneCalls
	if len(calls) != 1 {
		t.Fatalf("Microphone calls = %d, want 1", len(calls))
	}
	if calls[0].DeviceName != "USB Mic" || calls[0].BlockSize != 2048 {
		t.Errorf("constraints = %+v", calls[0])
	}
	if calls[0].SampleRate != audio.SampleRate || calls[0].Channels != 1 {
		t.Errorf("format = %d Hz / %d ch", calls[0].SampleRate, calls[0].Channels)
	}
}

func TestSessionManager_StartTwice(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(), capture.Deps{})
	if _, err := f.sm.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err := f.sm.Start(context.Background(), "")
	if !errors.Is(err, pipeline.ErrAlreadyRunning) {
		t.Fatalf("second Start err = %v, want ErrAlreadyRunning", err)
	}
	if got := f.sinks.count("primary"); got != 1 {
		t.Errorf("sinks created = %d, want 1", got)
	}
}

func TestSessionManager_StopWithoutSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(), capture.Deps{})
	if _, err := f.sm.Stop(context.Background()); !errors.Is(err, app.ErrNoSession) {
		t.Fatalf("Stop err = %v, want ErrNoSession", err)
	}
}

func TestSessionManager_Restart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(), capture.Deps{})
	for i := range 2 {
		if _, err := f.sm.Start(context.Background(), ""); err != nil {
			t.Fatalf("Start #%d: %v", i, err)
		}
		if _, err := f.sm.Stop(context.Background()); err != nil {
			t.Fatalf("Stop #%d: %v", i, err)
		}
	}
	if got := f.sinks.count("primary"); got != 2 {
		t.Errorf("sinks created = %d, want 2", got)
	}
}

// ─── failures ────────────────────────────────────────────────────────────────

func TestSessionManager_UnknownTransport(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Transport.Name = "carrier-pigeon"
	f := newFixture(t, cfg, capture.Deps{})

	_, err := f.sm.Start(context.Background(), "")
	if !errors.Is(err, config.ErrTransportNotRegistered) {
		t.Fatalf("Start err = %v, want ErrTransportNotRegistered", err)
	}
	if f.sm.IsActive() {
		t.Error("session active after failed start")
	}
}

func TestSessionManager_UnknownStrategy(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Capture.Strategy = "telepathy"
	f := newFixture(t, cfg, capture.Deps{})

	_, err := f.sm.Start(context.Background(), "")
	if !errors.Is(err, capture.ErrNotSupported) {
		t.Fatalf("Start err = %v, want ErrNotSupported", err)
	}
	if got := f.sinks.count("primary"); got != 0 {
		t.Errorf("sinks created = %d, want 0", got)
	}
}

func TestSessionManager_AcquireFailureClosesSink(t *testing.T) {
	t.Parallel()

	screenErr := errors.New("screen recording permission denied")
	f := newFixture(t, testConfig(), capture.Deps{Screen: &capturemock.Screen{StartErr: screenErr}})

	_, err := f.sm.Start(context.Background(), "")
	if !errors.Is(err, screenErr) {
		t.Fatalf("Start err = %v, want %v", err, screenErr)
	}
	if got := f.sinks.get("primary").Closes(); got != 1 {
		t.Errorf("sink closes = %d, want 1", got)
	}
	if f.sm.IsActive() {
		t.Error("session active after failed start")
	}
}

func TestSessionManager_DumpStrategy(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Capture.Strategy = config.StrategyAuto
	dumper := &capturemock.Dumper{}
	f := newFixtureOn(t, "darwin", cfg, capture.Deps{Dumper: dumper})

	info, err := f.sm.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info.Strategy != capture.NameDump {
		t.Errorf("Strategy = %q, want %q", info.Strategy, capture.NameDump)
	}
	if dumper.StartCallCount != 1 {
		t.Errorf("dumper starts = %d, want 1", dumper.StartCallCount)
	}
	if _, err := f.sm.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !dumper.Closed() {
		t.Error("dump utility not closed")
	}
}

// ─── transport resilience ────────────────────────────────────────────────────

func TestSessionManager_Fallback(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Transport.Fallback = "backup"
	f := newFixture(t, cfg, capture.Deps{})
	f.sinks.get("primary").SendErr = errors.New("connection reset")

	if _, err := f.sm.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.mic.Emit(pcm(4800))
	backup := f.sinks.get("backup")
	waitFor(t, "chunks on fallback", sentCount(backup))

	st := f.sm.Status()
	if len(st.Sinks) != 2 {
		t.Fatalf("Sinks = %v, want primary and backup", st.Sinks)
	}
	if st.Sinks["backup"] != "closed" {
		t.Errorf("backup state = %q, want closed", st.Sinks["backup"])
	}
	if st.Stats.SendFailures != 0 {
		t.Errorf("SendFailures = %d, want 0", st.Stats.SendFailures)
	}
}

func TestSessionManager_BreakerOpens(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Transport.Breaker.MaxFailures = 1
	cfg.Transport.Breaker.ResetTimeout = time.Hour
	f := newFixture(t, cfg, capture.Deps{})
	f.sinks.get("primary").SendErr = errors.New("downstream unavailable")

	if f.sm.Breaker() != nil {
		t.Fatal("Breaker() non-nil before Start")
	}
	if _, err := f.sm.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.mic.Emit(pcm(4800))
	waitFor(t, "send failures", func() bool { return f.sm.Status().Stats.SendFailures >= 2 })

	cb := f.sm.Breaker()
	if cb == nil {
		t.Fatal("Breaker() nil while running")
	}
	if cb.State().String() != "open" {
		t.Errorf("breaker state = %s, want open", cb.State())
	}
	// The second chunk is rejected by the open breaker before reaching the sink.
	if got := f.sinks.get("primary").AttemptCount(); got != 1 {
		t.Errorf("sink attempts = %d, want 1", got)
	}
}

// ─── reference and config ────────────────────────────────────────────────────

func TestSessionManager_PushReference(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(), capture.Deps{})
	p := audio.EncodePayload(pcm(480), time.Now())

	if err := f.sm.PushReference(p); !errors.Is(err, pipeline.ErrNotRunning) {
		t.Fatalf("PushReference before Start err = %v, want ErrNotRunning", err)
	}
	if _, err := f.sm.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.sm.PushReference(p); err != nil {
		t.Fatalf("PushReference: %v", err)
	}
	waitFor(t, "reference frame", func() bool { return f.sm.Status().Stats.ReferenceFrames == 1 })
}

func TestSessionManager_SetConfigAppliesToNextSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(), capture.Deps{})
	if _, err := f.sm.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	next := testConfig()
	next.Transport.Name = "other"
	f.sm.SetConfig(next)
	if got := f.sm.Status().Info.Transport; got != "primary" {
		t.Errorf("running session transport = %q, want primary", got)
	}

	if _, err := f.sm.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	info, err := f.sm.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info.Transport != "other" {
		t.Errorf("next session transport = %q, want other", info.Transport)
	}
	if got := f.sinks.count("other"); got != 1 {
		t.Errorf("other sinks created = %d, want 1", got)
	}
}

func TestSessionManager_StatusIdle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig(), capture.Deps{})
	st := f.sm.Status()
	if st.Active || st.Info != nil || st.Stats != nil {
		t.Errorf("idle status = %+v", st)
	}
	if err := f.sm.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}
}
