// Package resampler converts sampled signals between rates.
//
// It bridges audio files (tens of kHz) and the simulation clock, whose rate
// 1/Δt reaches several hundred kHz for millimetre cells.
package resampler

import (
	"errors"
	"fmt"
	"math"
)

const (
	DefaultLobes = 16
	MinLobes     = 4
	MaxLobes     = 64
)

var ErrInvalidRate = errors.New("resampler: rates must be positive and finite")

// Resampler performs band-limited interpolation with a Blackman-windowed
// sinc kernel.
type Resampler struct {
	lobes int
}

func New() *Resampler {
	return &Resampler{lobes: DefaultLobes}
}

// NewWithQuality sets the number of sinc lobes per side, clamped to
// [MinLobes, MaxLobes].
func NewWithQuality(lobes int) *Resampler {
	return &Resampler{lobes: min(max(lobes, MinLobes), MaxLobes)}
}

func (r *Resampler) Lobes() int {
	return r.lobes
}

// Resample converts data from srcRate to dstRate. The output always holds
// OutputLength(len(data), srcRate, dstRate) samples.
func (r *Resampler) Resample(data []float32, srcRate, dstRate float64) ([]float32, error) {
	if !validRate(srcRate) || !validRate(dstRate) {
		return nil, fmt.Errorf("%w: %v -> %v", ErrInvalidRate, srcRate, dstRate)
	}

	if srcRate == dstRate {
		return append([]float32(nil), data...), nil
	}

	n := OutputLength(len(data), srcRate, dstRate)
	out := make([]float32, n)

	ratio := dstRate / srcRate

	// Downsampling stretches the kernel so it also acts as the
	// anti-aliasing low-pass.
	cutoff := min(ratio, 1)
	radius := float64(r.lobes) / cutoff

	for i := range out {
		pos := float64(i) / ratio
		lo := max(int(math.Floor(pos-radius)), 0)
		hi := min(int(math.Ceil(pos+radius)), len(data)-1)

		var sum, wsum float64

		for j := lo; j <= hi; j++ {
			d := pos - float64(j)
			w := sinc(d*cutoff) * blackman(d/radius)
			sum += float64(data[j]) * w
			wsum += w
		}

		if wsum != 0 {
			out[i] = float32(sum / wsum)
		}
	}

	return out, nil
}

// ResampleChannels applies Resample to every channel.
func (r *Resampler) ResampleChannels(data [][]float32, srcRate, dstRate float64) ([][]float32, error) {
	out := make([][]float32, len(data))

	for ch := range data {
		res, err := r.Resample(data[ch], srcRate, dstRate)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", ch, err)
		}

		out[ch] = res
	}

	return out, nil
}

// OutputLength returns the resampled length of inputLen samples.
func OutputLength(inputLen int, srcRate, dstRate float64) int {
	if inputLen == 0 || !validRate(srcRate) || !validRate(dstRate) {
		return 0
	}

	return int(math.Round(float64(inputLen) * dstRate / srcRate))
}

func validRate(r float64) bool {
	return r > 0 && !math.IsInf(r, 0)
}

func sinc(x float64) float64 {
	if math.Abs(x) < 1e-10 {
		return 1
	}

	px := math.Pi * x

	return math.Sin(px) / px
}

// blackman is the Blackman window on [-1, 1], zero outside.
func blackman(x float64) float64 {
	if x < -1 || x > 1 {
		return 0
	}

	t := (x + 1) / 2

	return 0.42 - 0.5*math.Cos(2*math.Pi*t) + 0.08*math.Cos(4*math.Pi*t)
}
