// Package config provides the configuration schema, loader, hot-reload watcher
// and transport registry for the glasslisten capture service.
package config

import "time"

// LogLevel controls log verbosity for the glasslisten server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Strategy selects the capture strategy. [StrategyAuto] picks one from the
// host operating system.
type Strategy string

const (
	StrategyAuto     Strategy = "auto"
	StrategyDump     Strategy = "dump"
	StrategyDisplay  Strategy = "display"
	StrategyLoopback Strategy = "loopback"
)

// IsValid reports whether s is a recognised capture strategy.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyAuto, StrategyDump, StrategyDisplay, StrategyLoopback:
		return true
	}
	return false
}

// Config is the root configuration structure for glasslisten.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Capture   CaptureConfig   `yaml:"capture"`
	Transport TransportConfig `yaml:"transport"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the control server.
type ServerConfig struct {
	// ListenAddr is the TCP address the control API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig tunes the processing pipeline. Changes apply to the next
// session.
type AudioConfig struct {
	// ChunkDurationMs is the length of every emitted chunk. Default 100.
	ChunkDurationMs int `yaml:"chunk_duration_ms"`

	// BlockSize is the number of frames per microphone callback. Default 4096.
	BlockSize int `yaml:"block_size"`

	// ReferenceCapacity bounds the reference frame buffer. Default 10.
	ReferenceCapacity int `yaml:"reference_capacity"`

	// VADThreshold is the RMS level above which reference audio counts as
	// active. Default 0.005.
	VADThreshold float64 `yaml:"vad_threshold"`

	// AECEnabled toggles echo suppression. Nil means enabled.
	AECEnabled *bool `yaml:"aec_enabled"`

	// StopTimeout bounds how long stopping a session may take. Default 5s.
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// EchoCancellation reports whether echo suppression is enabled.
func (a AudioConfig) EchoCancellation() bool {
	return a.AECEnabled == nil || *a.AECEnabled
}

// CaptureConfig selects and configures the capture strategy.
type CaptureConfig struct {
	// Strategy overrides the platform default. Default "auto".
	Strategy Strategy `yaml:"strategy"`

	// MicrophoneDevice selects an input device by name. Empty selects the
	// system default.
	MicrophoneDevice string `yaml:"microphone_device"`

	// DumpCommand is the system audio dump utility used by the dump
	// strategy. Default "SystemAudioDump".
	DumpCommand string `yaml:"dump_command"`

	// DumpArgs are passed to DumpCommand.
	DumpArgs []string `yaml:"dump_args"`

	// DumpSampleRate is the rate DumpCommand writes. Default 24000.
	DumpSampleRate int `yaml:"dump_sample_rate"`

	// DumpChannels is the channel count DumpCommand writes. Default 2.
	DumpChannels int `yaml:"dump_channels"`

	// ScreenInterval enables periodic screen capture ticks. Zero disables.
	ScreenInterval time.Duration `yaml:"screen_interval"`
}

// TransportConfig selects where chunks are sent.
type TransportConfig struct {
	// Name selects the registered sink factory, e.g. "websocket" or "log".
	// Default "log".
	Name string `yaml:"name"`

	// URL is the downstream endpoint for network sinks.
	URL string `yaml:"url"`

	// Headers are sent with the connection handshake.
	Headers map[string]string `yaml:"headers"`

	// SendTimeout bounds every chunk send. Default 2s.
	SendTimeout time.Duration `yaml:"send_timeout"`

	// QueueSize bounds the ordered emit queue. Default 64.
	QueueSize int `yaml:"queue_size"`

	// Breaker configures the circuit breaker around the sink.
	Breaker BreakerConfig `yaml:"breaker"`

	// Fallback names a registered sink that receives chunks while the
	// primary's breaker is open. Empty disables failover.
	Fallback string `yaml:"fallback"`
}

// BreakerConfig configures the transport circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive send failures that open the
	// circuit. Default 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the circuit stays open before probing again.
	// Default 10s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	// ServiceName is reported as the service.name resource attribute.
	// Default "glasslisten".
	ServiceName string `yaml:"service_name"`
}
