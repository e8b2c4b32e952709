// Package capture acquires the raw audio streams a listening session needs
// on the current host and hands them to the pipeline as bounded channels.
//
// Each platform has one acquisition policy, expressed as a [Strategy]:
//
//   - [DumpStrategy] (darwin): system audio from a dump utility subprocess
//     as the reference stream, plus the microphone.
//   - [DisplayStrategy] (linux and others): microphone only.
//   - [LoopbackStrategy] (windows): one combined loopback stream.
//
// Every strategy also starts the [Screen] collaborator first. The screen and
// the reference sources are fatal: if they fail, Acquire fails. The
// microphone is optional where a reference source exists and only logs a
// warning when it cannot be opened.
//
// Producers never block: a block that does not fit into its channel is
// dropped and reported through [Deps].OnDrop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/glasslisten/pkg/audio"
)

// ErrNotSupported is returned when a capture path is unavailable on this
// host or was not configured.
var ErrNotSupported = errors.New("capture: not supported")

// StreamCapacity is the buffer size of every producer channel.
const StreamCapacity = 32

// Strategy names accepted by [Select].
const (
	NameAuto     = "auto"
	NameDump     = "dump"
	NameDisplay  = "display"
	NameLoopback = "loopback"
)

// Stream identifiers passed to [Deps].OnDrop.
const (
	StreamMicrophone = "microphone"
	StreamReference  = "reference"
	StreamLoopback   = "loopback"
)

// Streams are the channels produced by a successful [Strategy.Acquire]. A nil
// channel means the source is unavailable. All non-nil channels are closed
// once the strategy is released.
type Streams struct {
	// Microphone carries mono frames from the capture device.
	Microphone <-chan audio.Frame

	// Reference carries system audio as wire payloads.
	Reference <-chan audio.Payload

	// Loopback carries the combined loopback stream on platforms without a
	// separate microphone path.
	Loopback <-chan audio.Frame
}

// Strategy is one per-platform acquisition policy.
//
// A Strategy may be acquired again after it has been released.
// Implementations must be safe for concurrent use.
type Strategy interface {
	// Name returns the strategy identifier, e.g. "dump".
	Name() string

	// Acquire starts the screen collaborator and the audio sources. Fatal
	// failures release whatever was already started and return an error.
	Acquire(ctx context.Context) (*Streams, error)

	// Release stops every source started by Acquire and closes the stream
	// channels. Calling Release more than once, or before Acquire, is safe.
	Release() error
}

// Deps carries the collaborators a [Strategy] acquires sources from.
type Deps struct {
	// Backend opens native capture devices. Nil disables device capture.
	Backend Backend

	// Dumper starts the system audio dump utility. Nil disables it.
	Dumper Dumper

	// DumpFormat is the PCM format the dump utility writes. The zero value
	// means 24 kHz stereo.
	DumpFormat audio.Format

	// Screen is started before any audio source. Nil means [NopScreen].
	Screen Screen

	// Mic configures the microphone and loopback devices. The zero value
	// means [DefaultMicConstraints].
	Mic MicConstraints

	// OnDrop, if non-nil, is called with a Stream* identifier whenever a block
	// is dropped because its channel is full or it could not be decoded.
	OnDrop func(stream string)
}

func (d Deps) withDefaults() Deps {
	if d.Screen == nil {
		d.Screen = NopScreen{}
	}
	if d.Mic == (MicConstraints{}) {
		d.Mic = DefaultMicConstraints()
	}
	if d.DumpFormat.SampleRate <= 0 {
		d.DumpFormat.SampleRate = audio.SampleRate
	}
	if d.DumpFormat.Channels <= 0 {
		d.DumpFormat.Channels = 2
	}
	return d
}

func (d Deps) dropper(stream string) func() {
	return func() {
		if d.OnDrop != nil {
			d.OnDrop(stream)
		}
	}
}

// Select returns the strategy for name, resolving [NameAuto] (or "") from
// goos: darwin uses the dump utility, windows uses loopback, and every other
// platform uses display capture.
func Select(name, goos string, deps Deps) (Strategy, error) {
	if name == "" || name == NameAuto {
		switch goos {
		case "darwin":
			name = NameDump
		case "windows":
			name = NameLoopback
		default:
			name = NameDisplay
		}
	}
	deps = deps.withDefaults()

	switch name {
	case NameDump:
		return &DumpStrategy{deps: deps}, nil
	case NameDisplay:
		return &DisplayStrategy{deps: deps}, nil
	case NameLoopback:
		return &LoopbackStrategy{deps: deps}, nil
	default:
		return nil, fmt.Errorf("%w: strategy %q", ErrNotSupported, name)
	}
}

// ── Shared lifecycle ──────────────────────────────────────────────────────────

// lifecycle tracks the resources started by one Acquire so that Release can
// stop them in reverse order.
type lifecycle struct {
	mu       sync.Mutex
	acquired bool
	cleanups []func() error
}

// begin marks the lifecycle acquired or reports that it already is.
func (l *lifecycle) begin(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.acquired {
		return fmt.Errorf("capture: %s: already acquired", name)
	}
	l.acquired = true
	return nil
}

func (l *lifecycle) onRelease(fn func() error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanups = append(l.cleanups, fn)
}

// release runs every registered cleanup in reverse order and joins their
// errors.
func (l *lifecycle) release() error {
	l.mu.Lock()
	if !l.acquired {
		l.mu.Unlock()
		return nil
	}
	cleanups := l.cleanups
	l.cleanups = nil
	l.acquired = false
	l.mu.Unlock()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// fail releases what was started and returns err.
func (l *lifecycle) fail(err error) error {
	if rerr := l.release(); rerr != nil {
		slog.Warn("capture: release after failed acquire", "err", rerr)
	}
	return err
}

// startScreen starts the screen collaborator and registers its stop.
func (l *lifecycle) startScreen(ctx context.Context, s Screen) error {
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("capture: screen: %w", err)
	}
	l.onRelease(s.Stop)
	return nil
}
