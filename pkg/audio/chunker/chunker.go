// Package chunker slices a continuous sample stream into fixed-duration
// windows and encodes each window as a PCM16 chunk ready for the transport.
package chunker

import (
	"encoding/base64"
	"time"

	"github.com/MrWong99/glasslisten/pkg/audio"
)

// DefaultSize is the window length in samples: 100 ms at [audio.SampleRate].
const DefaultSize = audio.SampleRate / 10

// Chunk is one encoded window of audio.
type Chunk struct {
	// Seq numbers chunks of a session, starting at 0 with no gaps.
	Seq uint64

	// Data holds Samples little-endian PCM16 samples.
	Data []byte

	// Samples is the number of samples encoded in Data.
	Samples int

	// MIMEType tags the encoding, always [audio.MIMEType].
	MIMEType string
}

// Base64 returns Data in standard base64 encoding, the form used on the wire.
func (c Chunk) Base64() string {
	return base64.StdEncoding.EncodeToString(c.Data)
}

// Duration returns the playback duration of the chunk.
func (c Chunk) Duration() time.Duration {
	return time.Duration(c.Samples) * time.Second / audio.SampleRate
}

// Chunker accumulates samples and hands out complete windows of exactly
// Size samples, oldest first. Samples that do not yet fill a window stay
// pending until more arrive or [Chunker.Discard] is called.
//
// Chunker is not safe for concurrent use.
type Chunker struct {
	size    int
	pending []float32
	seq     uint64
}

// New returns a Chunker producing windows of size samples. A non-positive
// size selects [DefaultSize].
func New(size int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	return &Chunker{
		size:    size,
		pending: make([]float32, 0, size*2),
	}
}

// SizeForDuration converts a window duration into a sample count at
// [audio.SampleRate].
func SizeForDuration(d time.Duration) int {
	return int(int64(d) * audio.SampleRate / int64(time.Second))
}

// Size returns the window length in samples.
func (c *Chunker) Size() int { return c.size }

// Push appends samples and returns every window that is now complete. Each
// returned window is a fresh slice of exactly Size samples, so callers may
// keep or modify it.
func (c *Chunker) Push(samples []float32) [][]float32 {
	c.pending = append(c.pending, samples...)
	if len(c.pending) < c.size {
		return nil
	}

	n := len(c.pending) / c.size
	windows := make([][]float32, n)
	for i := range n {
		w := make([]float32, c.size)
		copy(w, c.pending[i*c.size:])
		windows[i] = w
	}
	rest := copy(c.pending, c.pending[n*c.size:])
	c.pending = c.pending[:rest]
	return windows
}

// Encode turns a window into the next chunk of the sequence.
func (c *Chunker) Encode(window []float32) Chunk {
	ch := Chunk{
		Seq:      c.seq,
		Data:     audio.EncodePCM16(window),
		Samples:  len(window),
		MIMEType: audio.MIMEType,
	}
	c.seq++
	return ch
}

// Feed pushes samples and encodes every completed window without further
// processing.
func (c *Chunker) Feed(samples []float32) []Chunk {
	windows := c.Push(samples)
	if len(windows) == 0 {
		return nil
	}
	chunks := make([]Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = c.Encode(w)
	}
	return chunks
}

// Pending returns the number of samples waiting for a full window.
func (c *Chunker) Pending() int { return len(c.pending) }

// Discard drops the partial window and returns how many samples it held.
func (c *Chunker) Discard() int {
	n := len(c.pending)
	c.pending = c.pending[:0]
	return n
}
