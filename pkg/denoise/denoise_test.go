package denoise_test

import (
	"errors"
	"math"
	"testing"

	"github.com/cadenza-audio/cadenza/pkg/audio"
	"github.com/cadenza-audio/cadenza/pkg/denoise"
)

func TestProcess_EmptyInput(t *testing.T) {
	d := denoise.New()
	_, err := d.Process(nil)
	if !errors.Is(err, denoise.ErrMalformedInput) {
		t.Fatalf("err = %v, want ErrMalformedInput", err)
	}
}

func TestProcess_NonFiniteInput(t *testing.T) {
	d := denoise.New()
	in := make([]float32, audio.TargetRate)
	in[100] = float32(math.NaN())
	if _, err := d.Process(in); !errors.Is(err, denoise.ErrMalformedInput) {
		t.Fatalf("NaN: err = %v, want ErrMalformedInput", err)
	}

	in[100] = float32(math.Inf(1))
	if _, err := d.Process(in); !errors.Is(err, denoise.ErrMalformedInput) {
		t.Fatalf("Inf: err = %v, want ErrMalformedInput", err)
	}
}

func TestProcess_PreservesLength(t *testing.T) {
	d := denoise.New()
	in := make([]float32, audio.TargetRate) // 1 s
	for i := range in {
		in[i] = 0.3 * float32(math.Sin(2*math.Pi*440*float64(i)/float64(audio.TargetRate)))
	}
	out, err := d.Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("output length = %d, want %d", len(out), len(in))
	}
}

func TestProcess_ShortInputPassesThrough(t *testing.T) {
	d := denoise.New()
	in := []float32{0.1, -0.1, 0.2}
	out, err := d.Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("output length = %d, want %d", len(out), len(in))
	}
}

func TestProcess_NearSilentNotAmplified(t *testing.T) {
	// Denoising only attenuates: a near-silent buffer must come back no
	// louder than it went in, beyond a small numerical epsilon.
	d := denoise.New()
	in := make([]float32, 2*audio.TargetRate)
	for i := range in {
		// Faint broadband noise.
		in[i] = 1e-4 * float32(math.Sin(float64(i)*12.9898+math.Cos(float64(i)*78.233)))
	}

	out, err := d.Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	const epsilon = 1e-5
	if got, want := audio.RMS(out), audio.RMS(in); got > want+epsilon {
		t.Errorf("RMS grew from %g to %g", want, got)
	}
}

func TestProcess_RemovesStationaryNoise(t *testing.T) {
	// A tone buried in steady hiss should come out with less total energy
	// than it went in, since the hiss dominates the quiet frames.
	d := denoise.New()
	in := make([]float32, 2*audio.TargetRate)
	for i := range in {
		tone := float32(0)
		if i >= len(in)/2 {
			tone = 0.4 * float32(math.Sin(2*math.Pi*440*float64(i)/float64(audio.TargetRate)))
		}
		hiss := 0.02 * float32(math.Sin(float64(i)*1.61803+math.Cos(float64(i)*3.14159)))
		in[i] = tone + hiss
	}

	out, err := d.Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got, want := audio.RMS(out), audio.RMS(in); got >= want {
		t.Errorf("RMS after denoise = %g, want below input RMS %g", got, want)
	}
}
