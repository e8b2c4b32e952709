package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of a raw PCM16 stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Target is the pipeline format: mono at [SampleRate].
var Target = Format{SampleRate: SampleRate, Channels: 1}

// String returns a human-readable form such as "24000Hz mono" or "44100Hz 6ch".
func (f Format) String() string {
	switch {
	case f.Channels == 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	case f.Channels > 2:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	default:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	}
}

func (f Format) frameBytes() int {
	return 2 * max(f.Channels, 1)
}

// FormatConverter turns raw PCM16 reads from a device or subprocess in Source
// format into [Target] PCM16. Reads may end in the middle of a frame; the
// partial frame is held back and completed by the next call.
//
// A converter belongs to one stream and is not safe for concurrent use.
type FormatConverter struct {
	Source Format

	carry []byte

	mismatchOnce  sync.Once
	unalignedOnce sync.Once
}

// Convert returns pcm in [Target] format. When Source already equals Target,
// the aligned part of pcm is returned as is.
func (c *FormatConverter) Convert(pcm []byte) []byte {
	pcm = c.align(pcm)
	if len(pcm) == 0 {
		return nil
	}
	channels := max(c.Source.Channels, 1)
	if channels == 1 && c.Source.SampleRate == Target.SampleRate {
		return pcm
	}

	c.mismatchOnce.Do(func() {
		slog.Debug("audio: converting source format", "from", c.Source.String(), "to", Target.String())
	})
	mono := DownmixToMono(pcm, channels)
	return ResampleMono16(mono, c.Source.SampleRate, Target.SampleRate)
}

// align prepends the held-back bytes and holds back a new trailing partial
// frame, if any.
func (c *FormatConverter) align(pcm []byte) []byte {
	if len(c.carry) > 0 {
		pcm = append(c.carry, pcm...)
		c.carry = nil
	}
	whole := len(pcm) - len(pcm)%c.Source.frameBytes()
	if whole == len(pcm) {
		return pcm
	}
	c.unalignedOnce.Do(func() {
		slog.Debug("audio: read ended mid-frame, holding remainder",
			"bytes", len(pcm), "format", c.Source.String())
	})
	c.carry = append([]byte(nil), pcm[whole:]...)
	return pcm[:whole]
}

// StereoToMono averages the left and right sample of every stereo frame.
func StereoToMono(pcm []byte) []byte {
	return DownmixToMono(pcm, 2)
}

// DownmixToMono averages the channels of every interleaved frame into one
// sample. A trailing partial frame is ignored. Mono input is returned as is.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	n := len(pcm) / (2 * channels)
	out := make([]byte, 2*n)
	for i := range n {
		var sum int
		for ch := range channels {
			sum += int(sample16(pcm, i*channels+ch))
		}
		putSample16(out, i, clamp16(sum/channels))
	}
	return out
}

// ResampleMono16 converts mono PCM16 from srcRate to dstRate by linear
// interpolation between neighbouring samples. Equal or non-positive rates
// leave pcm untouched.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	in := len(pcm) / 2
	n := int(int64(in) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}

	out := make([]byte, 2*n)
	step := float64(srcRate) / float64(dstRate)
	for i := range n {
		pos := float64(i) * step
		j := int(pos)
		a := float64(sample16(pcm, j))
		b := a
		if j+1 < in {
			b = float64(sample16(pcm, j+1))
		}
		frac := pos - float64(j)
		putSample16(out, i, int16(a+(b-a)*frac))
	}
	return out
}

func sample16(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[2*i:]))
}

func putSample16(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[2*i:], uint16(s))
}

func clamp16(v int) int16 {
	return int16(min(max(v, -32768), 32767))
}
