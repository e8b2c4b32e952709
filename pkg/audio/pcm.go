package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrOddLength is returned when a PCM16 byte slice does not contain a whole
// number of samples.
var ErrOddLength = errors.New("audio: odd byte count in PCM16 data")

// Int16ToFloat32 converts PCM16 samples to normalised floats by dividing by
// 32768, mapping [-32768, 32767] onto [-1, 1).
func Int16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, v := range pcm {
		out[i] = float32(v) / 32768.0
	}
	return out
}

// Float32ToInt16 converts normalised floats to PCM16. Samples are clamped to
// [-1, 1] and scaled asymmetrically (negative by 32768, positive by 32767) so
// that both rails map exactly onto the int16 range. Fractions are truncated
// toward zero.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = floatToInt16(s)
	}
	return out
}

func floatToInt16(s float32) int16 {
	v := float64(s)
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		return int16(v * 32768)
	}
	return int16(v * 32767)
}

// EncodePCM16 converts normalised floats into little-endian PCM16 bytes using
// the same law as [Float32ToInt16].
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// DecodePCM16 converts little-endian PCM16 bytes into normalised floats.
// Returns [ErrOddLength] if pcm holds a trailing half sample.
func DecodePCM16(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out, nil
}

// EncodePayload wraps raw PCM16 bytes into a [Payload] stamped with ts.
func EncodePayload(pcm []byte, ts time.Time) Payload {
	return Payload{Data: base64.StdEncoding.EncodeToString(pcm), Timestamp: ts}
}

// DecodePayload decodes a reference [Payload] into a [Frame]. Malformed base64
// or a trailing half sample yields an error and no frame.
func DecodePayload(p Payload) (Frame, error) {
	raw, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return Frame{}, fmt.Errorf("audio: decode payload: %w", err)
	}
	samples, err := DecodePCM16(raw)
	if err != nil {
		return Frame{}, fmt.Errorf("audio: decode payload: %w", err)
	}
	return Frame{Samples: samples, Timestamp: p.Timestamp}, nil
}
