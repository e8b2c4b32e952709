// Package mock provides scripted test doubles for the vad package interfaces.
//
// A [Session] replays a fixed list of events, which lets pipeline tests decide
// exactly which reference blocks count as active:
//
//	gate := &mock.Session{Script: []vad.VADEvent{{Type: vad.VADSpeechStart}}}
//	eng := &mock.Engine{Session: gate}
package mock

import (
	"sync"

	"github.com/MrWong99/glasslisten/pkg/provider/vad"
)

// Engine is a mock implementation of [vad.Engine].
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. Nil yields a fresh silent Session.
	Session vad.SessionHandle

	// Err, if non-nil, is returned by NewSession instead of a session.
	Err error

	configs []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

// NewSession records cfg and returns Session or Err.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Session == nil {
		return &Session{}, nil
	}
	return e.Session, nil
}

// Configs returns the configs of every NewSession call in order.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Session is a mock implementation of [vad.SessionHandle]. Each Process call
// returns the next Script entry; the last entry repeats once the script is
// exhausted, and an empty script reports [vad.VADSilence].
type Session struct {
	mu sync.Mutex

	Script []vad.VADEvent

	// FrameErr, if non-nil, is returned by every ProcessFrame call.
	FrameErr error

	blocks [][]float32
	frames int
	resets int
	closes int
}

var _ vad.SessionHandle = (*Session)(nil)

func (s *Session) next() vad.VADEvent {
	n := len(s.blocks) + s.frames - 1
	switch {
	case len(s.Script) == 0:
		return vad.VADEvent{Type: vad.VADSilence}
	case n < len(s.Script):
		return s.Script[n]
	default:
		return s.Script[len(s.Script)-1]
	}
}

// ProcessFrame counts the frame and returns the next scripted event.
func (s *Session) ProcessFrame([]byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	if s.FrameErr != nil {
		return vad.VADEvent{}, s.FrameErr
	}
	return s.next(), nil
}

// ProcessSamples records a copy of samples and returns the next scripted
// event.
func (s *Session) ProcessSamples(samples []float32) vad.VADEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, append([]float32(nil), samples...))
	return s.next()
}

// Blocks returns copies of every block passed to ProcessSamples.
func (s *Session) Blocks() [][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]float32(nil), s.blocks...)
}

// Calls returns the number of ProcessSamples calls.
func (s *Session) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}

func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

// Resets returns the number of Reset calls.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// Closes returns the number of Close calls.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
