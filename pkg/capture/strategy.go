package capture

import (
	"context"
	"fmt"
	"log/slog"
)

// Compile-time interface assertions.
var (
	_ Strategy = (*DumpStrategy)(nil)
	_ Strategy = (*DisplayStrategy)(nil)
	_ Strategy = (*LoopbackStrategy)(nil)
)

// DumpStrategy captures system audio through a dump utility subprocess and
// the microphone through the native backend.
type DumpStrategy struct {
	deps Deps
	lc   lifecycle
}

func (s *DumpStrategy) Name() string { return NameDump }

// Acquire starts the screen (fatal), the dump utility (fatal) and the
// microphone (optional).
func (s *DumpStrategy) Acquire(ctx context.Context) (*Streams, error) {
	if err := s.lc.begin(NameDump); err != nil {
		return nil, err
	}
	if err := s.lc.startScreen(ctx, s.deps.Screen); err != nil {
		return nil, s.lc.fail(err)
	}
	ref, err := s.lc.startDump(ctx, s.deps.Dumper, s.deps.DumpFormat, s.deps.dropper(StreamReference))
	if err != nil {
		return nil, s.lc.fail(fmt.Errorf("capture: system audio: %w", err))
	}

	streams := &Streams{Reference: ref}
	mic, err := s.lc.openMicrophone(s.deps.Backend, s.deps.Mic, s.deps.dropper(StreamMicrophone))
	if err != nil {
		slog.Warn("capture: microphone unavailable, continuing with system audio only", "err", err)
	} else {
		streams.Microphone = mic
	}
	return streams, nil
}

func (s *DumpStrategy) Release() error { return s.lc.release() }

// DisplayStrategy captures the microphone only. There is no reference
// stream, so echo suppression never applies.
type DisplayStrategy struct {
	deps Deps
	lc   lifecycle
}

func (s *DisplayStrategy) Name() string { return NameDisplay }

// Acquire starts the screen (fatal) and the microphone (optional).
func (s *DisplayStrategy) Acquire(ctx context.Context) (*Streams, error) {
	if err := s.lc.begin(NameDisplay); err != nil {
		return nil, err
	}
	if err := s.lc.startScreen(ctx, s.deps.Screen); err != nil {
		return nil, s.lc.fail(err)
	}

	streams := &Streams{}
	mic, err := s.lc.openMicrophone(s.deps.Backend, s.deps.Mic, s.deps.dropper(StreamMicrophone))
	if err != nil {
		slog.Warn("capture: microphone unavailable", "err", err)
	} else {
		streams.Microphone = mic
	}
	return streams, nil
}

func (s *DisplayStrategy) Release() error { return s.lc.release() }

// LoopbackStrategy captures one combined loopback stream. There is no
// microphone fallback.
type LoopbackStrategy struct {
	deps Deps
	lc   lifecycle
}

func (s *LoopbackStrategy) Name() string { return NameLoopback }

// Acquire starts the screen (fatal) and the loopback device (fatal).
func (s *LoopbackStrategy) Acquire(ctx context.Context) (*Streams, error) {
	if err := s.lc.begin(NameLoopback); err != nil {
		return nil, err
	}
	if err := s.lc.startScreen(ctx, s.deps.Screen); err != nil {
		return nil, s.lc.fail(err)
	}
	if s.deps.Backend == nil {
		return nil, s.lc.fail(fmt.Errorf("capture: loopback: %w: no capture backend", ErrNotSupported))
	}
	dev, err := s.deps.Backend.Loopback(s.deps.Mic)
	if err != nil {
		return nil, s.lc.fail(fmt.Errorf("capture: loopback: %w", err))
	}
	ch, err := s.lc.openDevice(dev, s.deps.Mic, s.deps.dropper(StreamLoopback))
	if err != nil {
		return nil, s.lc.fail(fmt.Errorf("capture: loopback: %w", err))
	}
	slog.Info("capture: loopback started", "sample_rate", s.deps.Mic.SampleRate)
	return &Streams{Loopback: ch}, nil
}

func (s *LoopbackStrategy) Release() error { return s.lc.release() }
