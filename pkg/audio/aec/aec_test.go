package aec_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/glasslisten/pkg/audio/aec"
)

func noise(seed uint64, n int, amp float32) []float32 {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]float32, n)
	for i := range out {
		out[i] = (r.Float32()*2 - 1) * amp
	}
	return out
}

func TestProcess_LengthAndRange(t *testing.T) {
	t.Parallel()

	c := aec.New()
	for block := range 20 {
		mic := noise(uint64(block), 2400, 1.5)
		ref := noise(uint64(block+100), 4096, 1)
		out := c.Process(mic, ref)
		if len(out) != len(mic) {
			t.Fatalf("block %d: len(out) = %d, want %d", block, len(out), len(mic))
		}
		for i, v := range out {
			if v < -1 || v > 1 || math.IsNaN(float64(v)) {
				t.Fatalf("block %d sample %d: %v out of [-1, 1]", block, i, v)
			}
		}
	}
}

func TestProcess_EmptyReferenceIsIdentity(t *testing.T) {
	t.Parallel()

	c := aec.New()
	mic := noise(1, 2400, 0.3)
	for _, ref := range [][]float32{nil, {}} {
		out := c.Process(mic, ref)
		if len(out) != len(mic) {
			t.Fatalf("len(out) = %d, want %d", len(out), len(mic))
		}
		for i := range mic {
			if out[i] != mic[i] {
				t.Fatalf("sample %d: got %v, want %v", i, out[i], mic[i])
			}
		}
	}
	if got := c.Gain(); got != 0.5 {
		t.Errorf("Gain() after identity passes = %v, want 0.5", got)
	}
}

func TestProcess_DoesNotModifyInputs(t *testing.T) {
	t.Parallel()

	mic := noise(2, 2400, 0.5)
	ref := noise(3, 4096, 1)
	micCopy := append([]float32(nil), mic...)
	refCopy := append([]float32(nil), ref...)

	aec.New().Process(mic, ref)

	for i := range mic {
		if mic[i] != micCopy[i] {
			t.Fatalf("mic sample %d modified", i)
		}
	}
	for i := range ref {
		if ref[i] != refCopy[i] {
			t.Fatalf("ref sample %d modified", i)
		}
	}
}

func TestEstimateDelay(t *testing.T) {
	t.Parallel()

	const lag = 1000
	ref := noise(7, 6000, 0.5)
	mic := make([]float32, 2400)
	copy(mic, ref[lag:])

	c := aec.New()
	got := c.EstimateDelay(mic, ref)
	if d := got - lag; d < -200 || d > 200 {
		t.Errorf("EstimateDelay = %d, want within 200 of %d", got, lag)
	}

	c.Process(mic, ref)
	if d := c.LastDelay() - lag; d < -200 || d > 200 {
		t.Errorf("LastDelay after Process = %d, want within 200 of %d", c.LastDelay(), lag)
	}
}

func TestEstimateDelay_FallsBackWithoutCorrelation(t *testing.T) {
	t.Parallel()

	c := aec.New(aec.WithInitialDelay(1234))
	got := c.EstimateDelay(make([]float32, 600), make([]float32, 3000))
	if got != 1234 {
		t.Errorf("EstimateDelay on silence = %d, want fallback 1234", got)
	}
}

func TestGain_ConvergesWithinBounds(t *testing.T) {
	t.Parallel()

	t.Run("silence drives gain to zero", func(t *testing.T) {
		t.Parallel()
		c := aec.New()
		mic := make([]float32, 10)
		ref := make([]float32, 10)
		for range 3000 {
			c.Process(mic, ref)
			if g := c.Gain(); g < 0 || g > 1 {
				t.Fatalf("gain %v left [0, 1]", g)
			}
		}
		if g := c.Gain(); g != 0 {
			t.Errorf("Gain() = %v, want 0", g)
		}
	})

	t.Run("loud residual drives gain to one", func(t *testing.T) {
		t.Parallel()
		c := aec.New()
		mic := make([]float32, 100)
		for i := range mic {
			mic[i] = 0.9
		}
		ref := make([]float32, 100)
		for range 100 {
			c.Process(mic, ref)
			if g := c.Gain(); g < 0 || g > 1 {
				t.Fatalf("gain %v left [0, 1]", g)
			}
		}
		if g := c.Gain(); g != 1 {
			t.Errorf("Gain() = %v, want 1", g)
		}
	})

	t.Run("constant-energy reference settles without overshoot", func(t *testing.T) {
		t.Parallel()
		c := aec.New(aec.WithInitialDelay(100))
		mic := make([]float32, 1000)
		ref := make([]float32, 2000)
		for i := range ref {
			ref[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/24000))
		}

		prev := c.Gain()
		for call := range 300 {
			out := c.Process(mic, ref)
			g := c.Gain()
			step := g - prev
			if bound := 0.1 * math.Abs(aec.RMS(out)-0.002); math.Abs(step) > bound+1e-12 {
				t.Fatalf("call %d: gain step %v exceeds adaptation bound %v", call, step, bound)
			}
			if step < 0 {
				t.Fatalf("call %d: gain reversed from %v to %v", call, prev, g)
			}
			if call >= 250 && g != prev {
				t.Fatalf("call %d: gain still moving (%v -> %v)", call, prev, g)
			}
			prev = g
		}
		if prev != 1 {
			t.Errorf("settled gain = %v, want the upper bound 1", prev)
		}
	})
}

func TestReset(t *testing.T) {
	t.Parallel()

	c := aec.New()
	for range 50 {
		c.Process(noise(1, 500, 1), noise(2, 500, 1))
	}
	c.Reset()
	if c.Gain() != 0.5 {
		t.Errorf("Gain() after Reset = %v, want 0.5", c.Gain())
	}
	if c.LastDelay() != aec.DefaultDelay {
		t.Errorf("LastDelay() after Reset = %d, want %d", c.LastDelay(), aec.DefaultDelay)
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := aec.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := aec.RMS([]float32{0.5, -0.5}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS = %v, want 0.5", got)
	}
}
