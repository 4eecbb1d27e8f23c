package dsp

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// SilenceDB is reported for an all-zero signal.
const SilenceDB = -120.0

// RMS returns the root mean square of samples, 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	v := widen(samples)

	return math.Sqrt(floats.Dot(v, v) / float64(len(v)))
}

// Peak returns the largest absolute sample value.
func Peak(samples []float32) float64 {
	var peak float64

	for _, s := range samples {
		peak = max(peak, math.Abs(float64(s)))
	}

	return peak
}

// LinToDB converts a linear amplitude to decibels relative to ref, clamped
// at SilenceDB.
func LinToDB(v, ref float64) float64 {
	if v <= 0 || ref <= 0 {
		return SilenceDB
	}

	return max(20*math.Log10(v/ref), SilenceDB)
}

// Normalize scales samples in place so the peak magnitude is target and
// returns the applied gain. Silent input is left untouched with gain 1.
func Normalize(samples []float32, target float64) float64 {
	peak := Peak(samples)
	if peak == 0 {
		return 1
	}

	gain := target / peak
	for i := range samples {
		samples[i] = float32(float64(samples[i]) * gain)
	}

	return gain
}

func widen(samples []float32) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s)
	}

	return out
}
