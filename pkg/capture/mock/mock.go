// Package mock provides in-memory implementations of the capture package
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	mic := &mock.Device{}
//	backend := &mock.Backend{MicrophoneResult: mic}
//	strategy, _ := capture.Select(capture.NameDisplay, "linux", capture.Deps{Backend: backend})
//	streams, _ := strategy.Acquire(ctx)
//	mic.Emit(pcm) // delivered on streams.Microphone
package mock

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/MrWong99/glasslisten/pkg/capture"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [capture.Device]. Call [Device.Emit] to
// simulate a native data callback.
type Device struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	StartCallCount int
	CloseCallCount int

	onData func([]byte)
}

var _ capture.Device = (*Device)(nil)

// Start records the call and stores onData unless StartErr is set.
func (d *Device) Start(onData func(pcm []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StartCallCount++
	if d.StartErr != nil {
		return d.StartErr
	}
	d.onData = onData
	return nil
}

// Close records the call and stops further Emit deliveries.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCallCount++
	d.onData = nil
	return d.CloseErr
}

// Emit delivers pcm to the registered callback. It reports false if the
// device is not started.
func (d *Device) Emit(pcm []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.onData == nil {
		return false
	}
	d.onData(pcm)
	return true
}

// Closed reports whether Close has been called at least once.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CloseCallCount > 0
}

// ─── Backend ──────────────────────────────────────────────────────────────────

// Backend is a mock implementation of [capture.Backend].
type Backend struct {
	mu sync.Mutex

	MicrophoneResult capture.Device
	MicrophoneErr    error
	LoopbackResult   capture.Device
	LoopbackErr      error

	// MicrophoneCalls records the constraints of every Microphone call.
	MicrophoneCalls []capture.MicConstraints

	// LoopbackCalls records the constraints of every Loopback call.
	LoopbackCalls []capture.MicConstraints
}

var _ capture.Backend = (*Backend)(nil)

// Microphone records the call and returns MicrophoneResult, MicrophoneErr. A
// nil MicrophoneResult without an error yields a fresh [Device].
func (b *Backend) Microphone(c capture.MicConstraints) (capture.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.MicrophoneCalls = append(b.MicrophoneCalls, c)
	if b.MicrophoneErr != nil {
		return nil, b.MicrophoneErr
	}
	if b.MicrophoneResult == nil {
		return &Device{}, nil
	}
	return b.MicrophoneResult, nil
}

// Loopback records the call and returns LoopbackResult, LoopbackErr.
func (b *Backend) Loopback(c capture.MicConstraints) (capture.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.LoopbackCalls = append(b.LoopbackCalls, c)
	if b.LoopbackErr != nil {
		return nil, b.LoopbackErr
	}
	if b.LoopbackResult == nil {
		return &Device{}, nil
	}
	return b.LoopbackResult, nil
}

// ─── Dumper ───────────────────────────────────────────────────────────────────

// Dumper is a mock implementation of [capture.Dumper] backed by an in-memory
// pipe. Write PCM with [Dumper.Emit]; finish the stream with [Dumper.End].
// Like a process started with exec.CommandContext, the stream ends with the
// context's error once the context passed to Start is cancelled.
type Dumper struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	StartCallCount int
	CloseCallCount int

	w      *io.PipeWriter
	killed bool
}

var _ capture.Dumper = (*Dumper)(nil)

// Start records the call and returns the read side of a fresh pipe.
func (d *Dumper) Start(ctx context.Context) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StartCallCount++
	if d.StartErr != nil {
		return nil, d.StartErr
	}
	r, w := io.Pipe()
	d.w = w
	context.AfterFunc(ctx, func() {
		d.mu.Lock()
		d.killed = true
		d.mu.Unlock()
		_ = w.CloseWithError(ctx.Err())
	})
	return &dumpReader{PipeReader: r, d: d}, nil
}

// Killed reports whether the context passed to Start was cancelled.
func (d *Dumper) Killed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.killed
}

// Emit writes pcm to the running process's stdout. It blocks until the
// reader has consumed it.
func (d *Dumper) Emit(pcm []byte) error {
	d.mu.Lock()
	w := d.w
	d.mu.Unlock()
	if w == nil {
		return errors.New("mock dumper not started")
	}
	_, err := w.Write(pcm)
	return err
}

// End simulates the process exiting.
func (d *Dumper) End() {
	d.mu.Lock()
	w := d.w
	d.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
}

// Closed reports whether the reader returned by Start has been closed.
func (d *Dumper) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CloseCallCount > 0
}

type dumpReader struct {
	*io.PipeReader
	d *Dumper
}

func (r *dumpReader) Close() error {
	r.d.mu.Lock()
	r.d.CloseCallCount++
	r.d.mu.Unlock()
	return r.PipeReader.Close()
}

// ─── Screen ───────────────────────────────────────────────────────────────────

// Screen is a mock implementation of [capture.Screen].
type Screen struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	StartCallCount int
	StopCallCount  int
}

var _ capture.Screen = (*Screen)(nil)

// Start records the call and returns StartErr.
func (s *Screen) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCallCount++
	return s.StartErr
}

// Stop records the call.
func (s *Screen) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCallCount++
	return nil
}

// Counts returns the number of Start and Stop calls. Thread-safe.
func (s *Screen) Counts() (starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StartCallCount, s.StopCallCount
}

// ─── Strategy ─────────────────────────────────────────────────────────────────

// Strategy is a mock implementation of [capture.Strategy]. Tests own the
// channels in AcquireResult and close them to end the session's input.
type Strategy struct {
	mu sync.Mutex

	// NameResult is returned by Name. Defaults to "mock".
	NameResult string

	AcquireResult *capture.Streams
	AcquireErr    error
	ReleaseErr    error

	AcquireCallCount int
	ReleaseCallCount int

	acquireCtx context.Context
}

var _ capture.Strategy = (*Strategy)(nil)

func (s *Strategy) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.NameResult == "" {
		return "mock"
	}
	return s.NameResult
}

// Acquire records the call and returns AcquireResult, AcquireErr. A nil
// AcquireResult without an error yields empty Streams.
func (s *Strategy) Acquire(ctx context.Context) (*capture.Streams, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AcquireCallCount++
	s.acquireCtx = ctx
	if s.AcquireErr != nil {
		return nil, s.AcquireErr
	}
	if s.AcquireResult == nil {
		return &capture.Streams{}, nil
	}
	return s.AcquireResult, nil
}

// AcquireContext returns the context of the latest Acquire call, or nil.
func (s *Strategy) AcquireContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquireCtx
}

// Release records the call and returns ReleaseErr.
func (s *Strategy) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReleaseCallCount++
	return s.ReleaseErr
}

// Releases returns the number of Release calls. Thread-safe.
func (s *Strategy) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ReleaseCallCount
}
