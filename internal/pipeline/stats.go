package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/MrWong99/glasslisten/pkg/audio"
)

// TokensPerSecond is the downstream accounting rate for emitted audio.
const TokensPerSecond = 16

type counters struct {
	micFrames      atomic.Uint64
	refFrames      atomic.Uint64
	decodeErrors   atomic.Uint64
	echoSuppressed atomic.Uint64
	emitted        atomic.Uint64
	emittedSamples atomic.Uint64
	sendFailures   atomic.Uint64
	dropped        atomic.Uint64
	discarded      atomic.Uint64
}

// Stats is a point-in-time view of a session.
type Stats struct {
	SessionID string    `json:"session_id"`
	Running   bool      `json:"running"`
	Strategy  string    `json:"strategy,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`

	// MicFrames counts microphone (or loopback) frames consumed.
	MicFrames uint64 `json:"mic_frames"`
	// ReferenceFrames counts reference frames added to the buffer.
	ReferenceFrames uint64 `json:"reference_frames"`
	// DecodeErrors counts reference payloads dropped as malformed.
	DecodeErrors uint64 `json:"decode_errors"`
	// BlocksDropped counts producer blocks lost to full channels.
	BlocksDropped uint64 `json:"blocks_dropped"`

	// EchoSuppressed counts windows processed by the echo canceller.
	EchoSuppressed uint64  `json:"echo_suppressed"`
	EchoGain       float64 `json:"echo_gain"`
	EchoDelay      int     `json:"echo_delay"`

	ChunksEmitted uint64 `json:"chunks_emitted"`
	SendFailures  uint64 `json:"send_failures"`
	// ChunksDropped counts chunks dropped by a full queue or at stop.
	ChunksDropped uint64 `json:"chunks_dropped"`
	// DiscardedSamples counts samples of the partial window dropped at stop.
	DiscardedSamples uint64 `json:"discarded_samples"`

	AudioSeconds float64 `json:"audio_seconds"`
	AudioTokens  uint64  `json:"audio_tokens"`
}

// Stats returns the counters of the current or most recent run.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return Stats{SessionID: s.id}
	}
	return s.statsOf(r)
}

func (s *Session) statsOf(r *run) Stats {
	samples := r.stats.emittedSamples.Load()
	st := Stats{
		SessionID:        s.id,
		Running:          !r.finished(),
		Strategy:         r.strategy.Name(),
		StartedAt:        r.startedAt,
		MicFrames:        r.stats.micFrames.Load(),
		ReferenceFrames:  r.stats.refFrames.Load(),
		DecodeErrors:     r.stats.decodeErrors.Load(),
		BlocksDropped:    s.drops.Load(),
		EchoSuppressed:   r.stats.echoSuppressed.Load(),
		ChunksEmitted:    r.stats.emitted.Load(),
		SendFailures:     r.stats.sendFailures.Load(),
		ChunksDropped:    r.stats.dropped.Load(),
		DiscardedSamples: r.stats.discarded.Load(),
		AudioSeconds:     float64(samples) / audio.SampleRate,
		AudioTokens:      samples * TokensPerSecond / audio.SampleRate,
	}
	if r.canceller != nil {
		st.EchoGain = r.canceller.Gain()
		st.EchoDelay = r.canceller.LastDelay()
	}
	return st
}
