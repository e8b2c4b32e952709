// Package aec implements a lightweight heuristic echo suppressor tuned for
// speech in a call or meeting: the far-end (reference) signal leaks from the
// speakers into the microphone and is removed before the microphone audio is
// sent downstream.
//
// The suppressor is not an adaptive FIR filter. Per block it soft-limits the
// reference, estimates the echo delay by coarse cross-correlation, subtracts
// a weighted sum of delayed reference taps, attenuates residual samples that
// still resemble the reference, and finally nudges its echo gain toward a
// target residual level with a proportional controller.
package aec

import (
	"math"
	"sync"

	"github.com/MrWong99/glasslisten/pkg/audio"
)

const (
	// DefaultDelay is the assumed echo path delay used when correlation finds
	// no better candidate: 100 ms at [audio.SampleRate].
	DefaultDelay = audio.SampleRate / 10

	initialGain = 0.5
	noiseFloor  = 0.01
	targetErr   = 0.002
	adaptRate   = 0.1
	mixRate     = 0.9

	limitClamp = 0.98
	limitDrive = 4.0
	targetRMS  = 0.08
	rmsEpsilon = 1e-6

	maxDelay      = 5000
	delayStep     = 200
	corrWindow    = 500
	tapSpan       = 500
	tapStep       = 100
	tapFalloff    = 1000.0
	similarWindow = 50
	similarLimit  = 0.15

	quietAttenuation   = 0.5
	similarAttenuation = 0.25
)

// Canceller holds the adaptive state of one echo suppressor. Create one per
// capture session; the gain it learns is specific to that session's acoustic
// path.
//
// All methods are safe for concurrent use, though Process is expected to be
// driven by a single goroutine.
type Canceller struct {
	mu        sync.Mutex
	gain      float64
	initDelay int
	lastDelay int
}

// Option configures a [Canceller] during construction.
type Option func(*Canceller)

// WithInitialDelay overrides the fallback echo delay in samples. Non-positive
// values are ignored.
func WithInitialDelay(samples int) Option {
	return func(c *Canceller) {
		if samples > 0 {
			c.initDelay = samples
		}
	}
}

// New returns a Canceller with echo gain 0.5 and a 100 ms fallback delay.
func New(opts ...Option) *Canceller {
	c := &Canceller{
		gain:      initialGain,
		initDelay: DefaultDelay,
	}
	for _, o := range opts {
		o(c)
	}
	c.lastDelay = c.initDelay
	return c
}

// Process removes the estimated echo of ref from mic and returns a new slice
// of len(mic) samples in [-1, 1]. Neither input is modified.
//
// If ref or mic is empty, mic is returned as is and no state changes.
func (c *Canceller) Process(mic, ref []float32) []float32 {
	if len(ref) == 0 || len(mic) == 0 {
		return mic
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	limited := softLimit(ref)
	scale := targetRMS / (rms64(limited) + rmsEpsilon)
	delay := c.estimateDelay(mic, limited)
	c.lastDelay = delay

	out := make([]float32, len(mic))
	for i, m := range mic {
		var echo float64
		for d := -tapSpan; d <= tapSpan; d += tapStep {
			idx := i - delay - d
			if idx < 0 || idx >= len(limited) {
				continue
			}
			weight := math.Exp(-math.Abs(float64(d)) / tapFalloff)
			echo += limited[idx] * scale * c.gain * weight
		}

		v := float64(m) - echo*mixRate
		if math.Abs(v) < noiseFloor {
			v *= quietAttenuation
		}
		if resembles(v, limited, i, delay) {
			v *= similarAttenuation
		}
		out[i] = float32(max(-1, min(1, v)))
	}

	c.gain += adaptRate * (RMS(out) - targetErr)
	c.gain = max(0, min(1, c.gain))
	return out
}

// EstimateDelay returns the reference lag, in samples, at which mic and ref
// correlate most strongly. Candidate lags are searched from 0 up to 5000 in
// steps of 200 over the first 500 microphone samples; when no lag correlates
// at all the Canceller's fallback delay is returned.
func (c *Canceller) EstimateDelay(mic, ref []float32) int {
	r := make([]float64, len(ref))
	for i, v := range ref {
		r[i] = float64(v)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimateDelay(mic, r)
}

func (c *Canceller) estimateDelay(mic []float32, ref []float64) int {
	best := 0.0
	delay := c.initDelay
	window := min(corrWindow, len(mic))

	for lag := 0; lag < maxDelay && lag < len(ref); lag += delayStep {
		var corr float64
		count := 0
		for i := 0; i < window && i+lag < len(ref); i++ {
			corr += float64(mic[i]) * ref[i+lag]
			count++
		}
		if count == 0 {
			continue
		}
		if score := math.Abs(corr / float64(count)); score > best {
			best = score
			delay = lag
		}
	}
	return delay
}

// Gain returns the current echo gain in [0, 1].
func (c *Canceller) Gain() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gain
}

// LastDelay returns the delay chosen by the most recent Process call, or the
// fallback delay if Process has not run yet.
func (c *Canceller) LastDelay() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDelay
}

// Reset restores the initial gain and delay.
func (c *Canceller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gain = initialGain
	c.lastDelay = c.initDelay
}

// RMS returns the root mean square of samples, or 0 when samples is empty.
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

// softLimit clamps a copy of ref to ±0.98 and applies tanh saturation.
func softLimit(ref []float32) []float64 {
	out := make([]float64, len(ref))
	for i, v := range ref {
		x := max(-limitClamp, min(limitClamp, float64(v)))
		out[i] = math.Tanh(x * limitDrive)
	}
	return out
}

func rms64(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// resembles reports whether v stays close, on average, to the reference
// around its aligned position. Out-of-range neighbours count as zero
// distance.
func resembles(v float64, ref []float64, i, delay int) bool {
	var dist float64
	for k := -similarWindow; k <= similarWindow; k++ {
		idx := i - delay + k
		if idx >= 0 && idx < len(ref) {
			dist += math.Abs(v - ref[idx])
		}
	}
	return dist/float64(2*similarWindow+1) < similarLimit
}
