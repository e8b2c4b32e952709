package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/glasslisten/internal/config"
	"github.com/MrWong99/glasslisten/pkg/transport"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

audio:
  chunk_duration_ms: 100
  block_size: 2048
  reference_capacity: 12
  vad_threshold: 0.01
  aec_enabled: false
  stop_timeout: 3s

capture:
  strategy: dump
  microphone_device: "MacBook Pro Microphone"
  dump_command: /usr/local/bin/SystemAudioDump
  dump_args: ["--rate", "48000"]
  dump_sample_rate: 48000
  dump_channels: 2
  screen_interval: 5s

transport:
  name: websocket
  url: wss://listen.example.com/v1/audio
  headers:
    Authorization: Bearer test
  send_timeout: 1s
  queue_size: 32
  breaker:
    max_failures: 3
    reset_timeout: 15s
  fallback: log

telemetry:
  service_name: glasslisten-test
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Audio.BlockSize != 2048 || cfg.Audio.ReferenceCapacity != 12 {
		t.Errorf("audio: got %+v", cfg.Audio)
	}
	if cfg.Audio.EchoCancellation() {
		t.Error("aec_enabled: false was not honoured")
	}
	if cfg.Audio.StopTimeout != 3*time.Second {
		t.Errorf("stop_timeout: got %s", cfg.Audio.StopTimeout)
	}
	if cfg.Capture.Strategy != config.StrategyDump {
		t.Errorf("strategy: got %q", cfg.Capture.Strategy)
	}
	if len(cfg.Capture.DumpArgs) != 2 || cfg.Capture.DumpArgs[1] != "48000" {
		t.Errorf("dump_args: got %v", cfg.Capture.DumpArgs)
	}
	if cfg.Capture.ScreenInterval != 5*time.Second {
		t.Errorf("screen_interval: got %s", cfg.Capture.ScreenInterval)
	}
	if cfg.Transport.Headers["Authorization"] != "Bearer test" {
		t.Errorf("headers: got %v", cfg.Transport.Headers)
	}
	if cfg.Transport.Breaker.MaxFailures != 3 || cfg.Transport.Breaker.ResetTimeout != 15*time.Second {
		t.Errorf("breaker: got %+v", cfg.Transport.Breaker)
	}
	if cfg.Transport.Fallback != "log" {
		t.Errorf("fallback: got %q", cfg.Transport.Fallback)
	}
	if cfg.Telemetry.ServiceName != "glasslisten-test" {
		t.Errorf("service_name: got %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFromReader_EmptyAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty config should be valid, got: %v", err)
	}

	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Audio.ChunkDurationMs != 100 || cfg.Audio.BlockSize != 4096 || cfg.Audio.ReferenceCapacity != 10 {
		t.Errorf("audio defaults: got %+v", cfg.Audio)
	}
	if cfg.Audio.VADThreshold != 0.005 {
		t.Errorf("vad_threshold: got %v", cfg.Audio.VADThreshold)
	}
	if !cfg.Audio.EchoCancellation() {
		t.Error("echo cancellation should default to enabled")
	}
	if cfg.Audio.StopTimeout != 5*time.Second {
		t.Errorf("stop_timeout: got %s", cfg.Audio.StopTimeout)
	}
	if cfg.Capture.Strategy != config.StrategyAuto {
		t.Errorf("strategy: got %q", cfg.Capture.Strategy)
	}
	if cfg.Capture.DumpSampleRate != 24000 || cfg.Capture.DumpChannels != 2 {
		t.Errorf("dump format: got %d Hz %d ch", cfg.Capture.DumpSampleRate, cfg.Capture.DumpChannels)
	}
	if cfg.Transport.Name != "log" || cfg.Transport.QueueSize != 64 {
		t.Errorf("transport defaults: got %+v", cfg.Transport)
	}
	if cfg.Telemetry.ServiceName != "glasslisten" {
		t.Errorf("service_name: got %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("audio:\n  sample_rate: 48000\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "glasslisten.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.URL != "wss://listen.example.com/v1/audio" {
		t.Errorf("url: got %q", cfg.Transport.URL)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_UnknownTransport(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateTransport(context.Background(), config.TransportConfig{Name: "carrier-pigeon"})
	if !errors.Is(err, config.ErrTransportNotRegistered) {
		t.Errorf("expected ErrTransportNotRegistered, got %v", err)
	}
}

func TestRegistry_RegisteredTransport(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	var gotURL string
	reg.RegisterTransport("log", func(_ context.Context, cfg config.TransportConfig) (transport.Sink, error) {
		gotURL = cfg.URL
		return transport.NewLogSink(), nil
	})

	sink, err := reg.CreateTransport(context.Background(), config.TransportConfig{Name: "log", URL: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sink == nil {
		t.Fatal("expected non-nil sink")
	}
	if gotURL != "x" {
		t.Errorf("factory received url %q, want x", gotURL)
	}
	if names := reg.Transports(); len(names) != 1 || names[0] != "log" {
		t.Errorf("Transports() = %v", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := errors.New("dial refused")
	reg.RegisterTransport("websocket", func(context.Context, config.TransportConfig) (transport.Sink, error) {
		return nil, want
	})
	_, err := reg.CreateTransport(context.Background(), config.TransportConfig{Name: "websocket"})
	if !errors.Is(err, want) {
		t.Errorf("expected factory error, got %v", err)
	}
}
