package audio

import "time"

const (
	// SampleRate is the fixed pipeline sample rate in Hz. Every Frame carries
	// samples at this rate.
	SampleRate = 24000

	// MIMEType tags PCM16 chunks produced at SampleRate.
	MIMEType = "audio/pcm;rate=24000"
)

// Frame is a block of normalised mono audio flowing through the pipeline.
// Frames are produced by capture sources and are immutable once produced:
// consumers that need to alter samples must copy them first.
type Frame struct {
	// Samples holds normalised samples in [-1, 1] at [SampleRate].
	Samples []float32

	// Timestamp marks when the frame was captured. It keeps the monotonic
	// clock reading from time.Now so that frames can be ordered reliably.
	Timestamp time.Time
}

// Len returns the number of samples in the frame.
func (f Frame) Len() int { return len(f.Samples) }

// Duration returns the playback duration of the frame at [SampleRate].
func (f Frame) Duration() time.Duration {
	return time.Duration(len(f.Samples)) * time.Second / SampleRate
}

// Payload is the wire form of a reference audio block as pushed by a system
// audio source: base64-encoded little-endian 16-bit PCM plus the time it was
// produced. Use [DecodePayload] to obtain a [Frame].
type Payload struct {
	// Data is base64 (standard encoding) of mono PCM16 LE samples.
	Data string `json:"data"`

	// Timestamp is when the source produced the block.
	Timestamp time.Time `json:"timestamp"`
}
