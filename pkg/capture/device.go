package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/glasslisten/pkg/audio"
)

// DefaultBlockSize is the number of frames the native device delivers per
// callback.
const DefaultBlockSize = 4096

// MicConstraints describes the requested device stream. The processing flags
// are hints for hosts whose native backend implements them; they are logged
// when a device opens.
type MicConstraints struct {
	// DeviceName selects a capture device by name. Empty selects the default.
	DeviceName string

	SampleRate int
	Channels   int

	// BlockSize is the number of frames per device callback.
	BlockSize int

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultMicConstraints returns 24 kHz mono in 4096-frame blocks with every
// processing hint enabled.
func DefaultMicConstraints() MicConstraints {
	return MicConstraints{
		SampleRate:       audio.SampleRate,
		Channels:         1,
		BlockSize:        DefaultBlockSize,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Device is an opened native capture device.
type Device interface {
	// Start begins delivering raw little-endian PCM16 blocks to onData. The
	// slice passed to onData is only valid for the duration of the call.
	// onData is called from the device's own thread and must not block.
	Start(onData func(pcm []byte)) error

	// Close stops the device. No onData call is in flight once Close returns.
	// Calling Close more than once is safe.
	Close() error
}

// Backend opens native capture devices.
type Backend interface {
	// Microphone opens an input device.
	Microphone(c MicConstraints) (Device, error)

	// Loopback opens a device capturing everything the host plays back. It
	// returns an error wrapping [ErrNotSupported] on hosts without loopback
	// capture.
	Loopback(c MicConstraints) (Device, error)
}

// sink is a bounded channel whose sends never block and which may be closed
// while a producer is still running.
type sink[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
	onDrop func()
}

func newSink[T any](capacity int, onDrop func()) *sink[T] {
	return &sink[T]{ch: make(chan T, capacity), onDrop: onDrop}
}

// send delivers v or drops it when the channel is full. Sends after close are
// ignored.
func (s *sink[T]) send(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- v:
	default:
		s.onDrop()
	}
}

func (s *sink[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// openDevice starts dev and converts its PCM blocks into frames on a new
// sink.
func (l *lifecycle) openDevice(dev Device, c MicConstraints, onDrop func()) (<-chan audio.Frame, error) {
	out := newSink[audio.Frame](StreamCapacity, onDrop)
	conv := &audio.FormatConverter{Source: audio.Format{SampleRate: c.SampleRate, Channels: c.Channels}}

	err := dev.Start(func(pcm []byte) {
		samples, err := audio.DecodePCM16(conv.Convert(pcm))
		if err != nil || len(samples) == 0 {
			return
		}
		out.send(audio.Frame{Samples: samples, Timestamp: time.Now()})
	})
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	l.onRelease(func() error {
		err := dev.Close()
		out.close()
		return err
	})
	return out.ch, nil
}

// openMicrophone opens the microphone through b. Failures are returned for
// the caller to decide whether they are fatal.
func (l *lifecycle) openMicrophone(b Backend, c MicConstraints, onDrop func()) (<-chan audio.Frame, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: no capture backend", ErrNotSupported)
	}
	dev, err := b.Microphone(c)
	if err != nil {
		return nil, err
	}
	ch, err := l.openDevice(dev, c, onDrop)
	if err != nil {
		return nil, err
	}
	slog.Info("capture: microphone started",
		"device", deviceLabel(c.DeviceName),
		"sample_rate", c.SampleRate,
		"channels", c.Channels,
		"block_size", c.BlockSize,
		"echo_cancellation", c.EchoCancellation,
		"noise_suppression", c.NoiseSuppression,
		"auto_gain_control", c.AutoGainControl,
	)
	return ch, nil
}

func deviceLabel(name string) string {
	if name == "" {
		return "default"
	}
	return name
}
