// Package dsp holds the signal processing used on microphone records:
// magnitude spectra, level metering and offline convolution.
package dsp

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	algofft "github.com/MeKo-Christian/algo-fft"
	"gonum.org/v1/gonum/floats"
)

// DefaultSpectrumSize is the analysis window used for microphone spectra.
const DefaultSpectrumSize = 1024

var (
	ErrInvalidSize = errors.New("dsp: window size must be a power of two >= 2")
	ErrInvalidRate = errors.New("dsp: sample rate must be positive")
)

// Bin is one line of a magnitude spectrum.
type Bin struct {
	Frequency float64 `json:"f"`
	Magnitude float64 `json:"m"`
}

// Spectrum returns the Hann-windowed magnitude spectrum of the newest size
// samples, scaled so the largest bin is 1. Shorter input is zero padded at
// the end. The result holds size/2+1 bins from DC to Nyquist.
func Spectrum(samples []float32, sampleRate float64, size int) ([]Bin, error) {
	if size < 2 || size&(size-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	if !(sampleRate > 0) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRate, sampleRate)
	}

	if len(samples) > size {
		samples = samples[len(samples)-size:]
	}

	plan, err := algofft.NewPlan32(size)
	if err != nil {
		return nil, fmt.Errorf("dsp: fft plan: %w", err)
	}

	buf := make([]complex64, size)
	for i, v := range samples {
		buf[i] = complex(v*float32(hann(i, size)), 0)
	}

	if err := plan.Forward(buf, buf); err != nil {
		return nil, fmt.Errorf("dsp: forward fft: %w", err)
	}

	mags := make([]float64, size/2+1)
	for k := range mags {
		mags[k] = cmplx.Abs(complex128(buf[k]))
	}

	if peak := floats.Max(mags); peak > 0 {
		floats.Scale(1/peak, mags)
	}

	bins := make([]Bin, len(mags))
	for k, m := range mags {
		bins[k] = Bin{Frequency: float64(k) * sampleRate / float64(size), Magnitude: m}
	}

	return bins, nil
}

// PeakBin returns the index of the strongest bin, skipping DC.
func PeakBin(bins []Bin) int {
	if len(bins) < 2 {
		return 0
	}

	mags := make([]float64, len(bins)-1)
	for i, b := range bins[1:] {
		mags[i] = b.Magnitude
	}

	return floats.MaxIdx(mags) + 1
}

func hann(i, n int) float64 {
	return 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
}
