// Package energy provides a stateless RMS energy voice activity gate and a
// [vad.Engine] built on it.
//
// A block is active when its root-mean-square level is strictly greater than
// the threshold. There is no hysteresis and no smoothing: each block is judged
// on its own, so the gate reacts within a single block.
package energy

import (
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/glasslisten/pkg/audio"
	"github.com/MrWong99/glasslisten/pkg/provider/vad"
)

// DefaultThreshold is the RMS level above which a block counts as active.
const DefaultThreshold = 0.005

// RMS returns sqrt(mean(s²)) over samples, or 0 when samples is empty.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// IsActive reports whether the RMS level of samples exceeds threshold. An
// empty block is never active.
func IsActive(samples []float32, threshold float64) bool {
	if len(samples) == 0 {
		return false
	}
	return RMS(samples) > threshold
}

// Engine creates energy-gate sessions. The zero value is ready to use.
type Engine struct{}

var _ vad.Engine = Engine{}

// NewSession validates cfg and returns a new session. A zero Threshold selects
// [DefaultThreshold]; a zero SampleRate selects [audio.SampleRate].
func (Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = audio.SampleRate
	}
	if cfg.SampleRate < 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs < 0 {
		return nil, fmt.Errorf("energy: invalid frame size %dms", cfg.FrameSizeMs)
	}
	if cfg.Threshold < 0 || math.IsNaN(cfg.Threshold) {
		return nil, fmt.Errorf("energy: invalid threshold %v", cfg.Threshold)
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	s := &Session{cfg: cfg}
	if cfg.FrameSizeMs > 0 {
		s.frameBytes = cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2
	}
	return s, nil
}

// Session tracks the activity state of one stream.
//
// Session is safe for concurrent use.
type Session struct {
	cfg        vad.Config
	frameBytes int // 0 accepts any frame length

	mu     sync.Mutex
	active bool
	closed bool
}

var _ vad.SessionHandle = (*Session)(nil)

// Threshold returns the effective RMS threshold.
func (s *Session) Threshold() float64 { return s.cfg.Threshold }

// ProcessFrame decodes a PCM16 frame and classifies it.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.frameBytes > 0 && len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}
	samples, err := audio.DecodePCM16(frame)
	if err != nil {
		return vad.VADEvent{}, fmt.Errorf("energy: %w", err)
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return vad.VADEvent{}, vad.ErrSessionClosed
	}
	return s.ProcessSamples(samples), nil
}

// ProcessSamples classifies a block of normalised samples.
func (s *Session) ProcessSamples(samples []float32) vad.VADEvent {
	level := RMS(samples)
	active := len(samples) > 0 && level > s.cfg.Threshold

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{Type: vad.VADSilence, Level: level}
	}
	ev := vad.VADEvent{
		Type:        vad.Transition(s.active, active),
		Probability: min(1, level/s.cfg.Threshold/2),
		Level:       level,
	}
	s.active = active
	return ev
}

// Reset forgets whether the previous block was active.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// Close marks the session closed. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
