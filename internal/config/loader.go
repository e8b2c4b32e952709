package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr        = ":8080"
	DefaultChunkDurationMs   = 100
	DefaultBlockSize         = 4096
	DefaultReferenceCapacity = 10
	DefaultVADThreshold      = 0.005
	DefaultStopTimeout       = 5 * time.Second
	DefaultDumpCommand       = "SystemAudioDump"
	DefaultDumpSampleRate    = 24000
	DefaultDumpChannels      = 2
	DefaultTransport         = "log"
	DefaultSendTimeout       = 2 * time.Second
	DefaultQueueSize         = 64
	DefaultMaxFailures       = 5
	DefaultResetTimeout      = 10 * time.Second
	DefaultServiceName       = "glasslisten"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Audio
	if a.ChunkDurationMs == 0 {
		a.ChunkDurationMs = DefaultChunkDurationMs
	}
	if a.BlockSize == 0 {
		a.BlockSize = DefaultBlockSize
	}
	if a.ReferenceCapacity == 0 {
		a.ReferenceCapacity = DefaultReferenceCapacity
	}
	if a.VADThreshold == 0 {
		a.VADThreshold = DefaultVADThreshold
	}
	if a.StopTimeout == 0 {
		a.StopTimeout = DefaultStopTimeout
	}

	c := &cfg.Capture
	if c.Strategy == "" {
		c.Strategy = StrategyAuto
	}
	if c.DumpCommand == "" {
		c.DumpCommand = DefaultDumpCommand
	}
	if c.DumpSampleRate == 0 {
		c.DumpSampleRate = DefaultDumpSampleRate
	}
	if c.DumpChannels == 0 {
		c.DumpChannels = DefaultDumpChannels
	}

	t := &cfg.Transport
	if t.Name == "" {
		t.Name = DefaultTransport
	}
	if t.SendTimeout == 0 {
		t.SendTimeout = DefaultSendTimeout
	}
	if t.QueueSize == 0 {
		t.QueueSize = DefaultQueueSize
	}
	if t.Breaker.MaxFailures == 0 {
		t.Breaker.MaxFailures = DefaultMaxFailures
	}
	if t.Breaker.ResetTimeout == 0 {
		t.Breaker.ResetTimeout = DefaultResetTimeout
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	a := cfg.Audio
	if a.ChunkDurationMs < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_duration_ms %d must be positive", a.ChunkDurationMs))
	}
	if a.ChunkDurationMs > 0 && a.ChunkDurationMs != DefaultChunkDurationMs {
		slog.Warn("audio.chunk_duration_ms differs from the 100ms window downstream consumers expect",
			"chunk_duration_ms", a.ChunkDurationMs,
		)
	}
	if a.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be positive", a.BlockSize))
	}
	if a.ReferenceCapacity < 0 {
		errs = append(errs, fmt.Errorf("audio.reference_capacity %d must be positive", a.ReferenceCapacity))
	}
	if a.VADThreshold < 0 || a.VADThreshold >= 1 {
		errs = append(errs, fmt.Errorf("audio.vad_threshold %.4f is out of range [0, 1)", a.VADThreshold))
	}
	if a.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("audio.stop_timeout %s must be positive", a.StopTimeout))
	}

	// Capture
	c := cfg.Capture
	if c.Strategy != "" && !c.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("capture.strategy %q is invalid; valid values: auto, dump, display, loopback", c.Strategy))
	}
	if c.DumpSampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.dump_sample_rate %d must be positive", c.DumpSampleRate))
	}
	if c.DumpChannels < 0 || c.DumpChannels > 8 {
		errs = append(errs, fmt.Errorf("capture.dump_channels %d is out of range [1, 8]", c.DumpChannels))
	}
	if c.ScreenInterval < 0 {
		errs = append(errs, fmt.Errorf("capture.screen_interval %s must not be negative", c.ScreenInterval))
	}

	// Transport
	t := cfg.Transport
	validateTransportName(t.Name)
	if t.Name == "websocket" && t.URL == "" {
		errs = append(errs, errors.New("transport.url is required when transport.name is websocket"))
	}
	if t.Fallback != "" && t.Fallback == t.Name {
		errs = append(errs, fmt.Errorf("transport.fallback %q must differ from transport.name", t.Fallback))
	}
	if t.Fallback != "" {
		validateTransportName(t.Fallback)
	}
	if t.SendTimeout < 0 {
		errs = append(errs, fmt.Errorf("transport.send_timeout %s must be positive", t.SendTimeout))
	}
	if t.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("transport.queue_size %d must be positive", t.QueueSize))
	}
	if t.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("transport.breaker.max_failures %d must be positive", t.Breaker.MaxFailures))
	}
	if t.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("transport.breaker.reset_timeout %s must be positive", t.Breaker.ResetTimeout))
	}

	return errors.Join(errs...)
}

// validateTransportName logs a warning if name is non-empty and not one of
// the built-in sinks. Third-party sinks may register other names.
func validateTransportName(name string) {
	if name == "" {
		return
	}
	if slices.Contains(BuiltinTransports, name) {
		return
	}
	slog.Warn("unknown transport name, may be a typo or a third-party sink",
		"name", name,
		"known", BuiltinTransports,
	)
}
