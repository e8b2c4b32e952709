package config

import (
	"maps"
	"slices"
)

// ConfigDiff describes what changed between two configs. The log level is
// applied immediately; audio, capture and transport changes take effect when
// the next session starts.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AudioChanged     bool
	CaptureChanged   bool
	TransportChanged bool

	// RestartRequired is set when a field that is only read at process
	// start changed (listen address, TLS, telemetry).
	RestartRequired bool
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AudioChanged && !d.CaptureChanged &&
		!d.TransportChanged && !d.RestartRequired
}

// NextSession reports whether the change only affects sessions started after
// it.
func (d ConfigDiff) NextSession() bool {
	return d.AudioChanged || d.CaptureChanged || d.TransportChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.AudioChanged = !audioEqual(old.Audio, new.Audio)
	d.CaptureChanged = !captureEqual(old.Capture, new.Capture)
	d.TransportChanged = !transportEqual(old.Transport, new.Transport)

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) ||
		old.Telemetry != new.Telemetry {
		d.RestartRequired = true
	}
	return d
}

func audioEqual(a, b AudioConfig) bool {
	return a.ChunkDurationMs == b.ChunkDurationMs &&
		a.BlockSize == b.BlockSize &&
		a.ReferenceCapacity == b.ReferenceCapacity &&
		a.VADThreshold == b.VADThreshold &&
		a.EchoCancellation() == b.EchoCancellation() &&
		a.StopTimeout == b.StopTimeout
}

func captureEqual(a, b CaptureConfig) bool {
	return a.Strategy == b.Strategy &&
		a.MicrophoneDevice == b.MicrophoneDevice &&
		a.DumpCommand == b.DumpCommand &&
		slices.Equal(a.DumpArgs, b.DumpArgs) &&
		a.DumpSampleRate == b.DumpSampleRate &&
		a.DumpChannels == b.DumpChannels &&
		a.ScreenInterval == b.ScreenInterval
}

func transportEqual(a, b TransportConfig) bool {
	if !maps.Equal(a.Headers, b.Headers) {
		return false
	}
	a.Headers, b.Headers = nil, nil
	return a.Name == b.Name &&
		a.URL == b.URL &&
		a.SendTimeout == b.SendTimeout &&
		a.QueueSize == b.QueueSize &&
		a.Breaker == b.Breaker &&
		a.Fallback == b.Fallback
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
