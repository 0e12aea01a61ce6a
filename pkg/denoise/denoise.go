// Package denoise implements spectral-subtraction noise reduction for the
// capture pipeline.
//
// Processing runs at 48 kHz, where the analysis window resolves enough
// spectrum to separate hiss and hum from speech: the 16 kHz pipeline audio
// is upsampled, cleaned with an STFT spectral subtraction pass, and brought
// back down. The noise spectrum is estimated per-bin from the quietest
// analysis frames of the buffer itself, so no calibration recording is
// needed.
//
// Denoising only attenuates: an already quiet buffer comes back no louder
// than it went in. A malformed buffer (empty, NaN, infinity) fails with
// [ErrMalformedInput]; callers skip denoising and continue with raw samples.
package denoise

import (
	"errors"
	"math"
	"sort"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/cadenza-audio/cadenza/pkg/audio"
)

// ErrMalformedInput reports an empty or non-finite input buffer.
var ErrMalformedInput = errors.New("denoise: malformed input")

const (
	procRate = 48000

	fftSize = 1024
	hopSize = 256
	halfFFT = fftSize/2 + 1

	// quietFraction of frames, ranked by energy, feeds the noise estimate.
	quietFraction = 0.1

	// overSubtraction and specFloor shape the subtraction: noise is removed
	// with a margin, but each bin keeps a floor of its original magnitude
	// to avoid musical-noise artifacts.
	overSubtraction = 1.5
	specFloor       = 0.05
)

// Option configures a Denoiser.
type Option func(*Denoiser)

// WithAggressiveness scales the noise over-subtraction margin. 1.0 is
// neutral; higher removes more noise at the risk of dulling speech.
func WithAggressiveness(v float64) Option {
	return func(d *Denoiser) {
		if v > 0 {
			d.overSub = overSubtraction * v
		}
	}
}

// Denoiser cleans 16 kHz mono float32 buffers. Safe for concurrent use;
// each Process call carries its own state.
type Denoiser struct {
	overSub float64
}

// New creates a Denoiser.
func New(opts ...Option) *Denoiser {
	d := &Denoiser{overSub: overSubtraction}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Process denoises samples and returns a buffer of the same length.
func (d *Denoiser) Process(samples []float32) ([]float32, error) {
	if len(samples) == 0 {
		return nil, ErrMalformedInput
	}
	for _, s := range samples {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return nil, ErrMalformedInput
		}
	}

	wide, err := resample(samples, audio.TargetRate, procRate)
	if err != nil {
		return nil, err
	}
	if len(wide) < fftSize {
		// Too short for one analysis window; pass through.
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	cleaned := d.spectralSubtract(wide)

	narrow, err := resample32(cleaned, procRate, audio.TargetRate)
	if err != nil {
		return nil, err
	}

	// The resampler round trip can be off by a few samples; pin the output
	// to the input length.
	out := make([]float32, len(samples))
	copy(out, narrow)
	return out, nil
}

// spectralSubtract runs the STFT analysis, noise estimation, subtraction,
// and overlap-add resynthesis over x at procRate.
func (d *Denoiser) spectralSubtract(x []float64) []float64 {
	hann := make([]float64, fftSize)
	for i := range hann {
		hann[i] = 0.5 * (1.0 - math.Cos(2*math.Pi*float64(i)/float64(fftSize)))
	}

	numFrames := (len(x)-fftSize)/hopSize + 1

	// Analysis pass: magnitudes and phases per frame.
	mags := make([][]float64, numFrames)
	phases := make([][]float64, numFrames)
	energies := make([]float64, numFrames)
	for t := 0; t < numFrames; t++ {
		start := t * hopSize
		re := make([]float64, fftSize)
		im := make([]float64, fftSize)
		for i := 0; i < fftSize; i++ {
			re[i] = x[start+i] * hann[i]
		}
		fftInPlace(re, im)

		mag := make([]float64, halfFFT)
		phase := make([]float64, halfFFT)
		var energy float64
		for i := 0; i < halfFFT; i++ {
			mag[i] = math.Hypot(re[i], im[i])
			phase[i] = math.Atan2(im[i], re[i])
			energy += mag[i] * mag[i]
		}
		mags[t], phases[t], energies[t] = mag, phase, energy
	}

	noise := estimateNoise(mags, energies)

	// Synthesis pass: subtract, rebuild, overlap-add.
	out := make([]float64, len(x))
	winSum := make([]float64, len(x))
	for t := 0; t < numFrames; t++ {
		re := make([]float64, fftSize)
		im := make([]float64, fftSize)
		for i := 0; i < halfFFT; i++ {
			enh := mags[t][i] - d.overSub*noise[i]
			if floor := specFloor * mags[t][i]; enh < floor {
				enh = floor
			}
			re[i] = enh * math.Cos(phases[t][i])
			im[i] = enh * math.Sin(phases[t][i])
			if i > 0 && i < halfFFT-1 {
				re[fftSize-i] = re[i]
				im[fftSize-i] = -im[i]
			}
		}
		ifftInPlace(re, im)

		start := t * hopSize
		for i := 0; i < fftSize; i++ {
			out[start+i] += re[i] * hann[i]
			winSum[start+i] += hann[i] * hann[i]
		}
	}
	for i := range out {
		if winSum[i] > 1e-9 {
			out[i] /= winSum[i]
		}
	}
	return out
}

// estimateNoise averages each bin over the quietest frames.
func estimateNoise(mags [][]float64, energies []float64) []float64 {
	order := make([]int, len(energies))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return energies[order[a]] < energies[order[b]] })

	n := int(float64(len(order)) * quietFraction)
	if n < 1 {
		n = 1
	}

	noise := make([]float64, halfFFT)
	for _, t := range order[:n] {
		for i, m := range mags[t] {
			noise[i] += m
		}
	}
	for i := range noise {
		noise[i] /= float64(n)
	}
	return noise
}

// resample converts float32 samples between rates, returning float64 for
// the analysis stage.
func resample(in []float32, from, to int) ([]float64, error) {
	buf := make([]float64, len(in))
	for i, s := range in {
		buf[i] = float64(s)
	}
	if from == to {
		return buf, nil
	}
	return runResampler(buf, from, to)
}

// resample32 converts float64 samples between rates, returning clamped
// float32 for the pipeline.
func resample32(in []float64, from, to int) ([]float32, error) {
	buf := in
	if from != to {
		var err error
		buf, err = runResampler(in, from, to)
		if err != nil {
			return nil, err
		}
	}
	out := make([]float32, len(buf))
	for i, s := range buf {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = float32(s)
	}
	return out, nil
}

func runResampler(in []float64, from, to int) ([]float64, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, err
	}

	// Pad the tail so the resampler's internal latency does not clip the
	// end of the buffer, then trim to the expected length.
	want := int(math.Round(float64(len(in)) * float64(to) / float64(from)))
	padded := append(append([]float64{}, in...), make([]float64, fftSize)...)

	out, err := rs.Process(padded)
	if err != nil {
		return nil, err
	}
	if len(out) > want {
		out = out[:want]
	}
	return out, nil
}
