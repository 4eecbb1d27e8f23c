package sim

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func TestSourceValueSine(t *testing.T) {
	t.Parallel()

	s := Source{Wave: WaveSine, Frequency: 1000, Amplitude: 10}
	for _, tt := range []float64{0, 1e-5, 2.5e-4, 7e-4} {
		want := 10 * math.Sin(2*math.Pi*1000*tt)
		if got := s.Value(tt, 0, nil); math.Abs(float64(got)-want) > 1e-4 {
			t.Errorf("t=%v: got %v, want %v", tt, got, want)
		}
	}

	s.Phase = 90
	if got := s.Value(0, 0, nil); math.Abs(float64(got)+10) > 1e-4 {
		t.Errorf("90 degree phase at t=0: got %v, want -10", got)
	}
}

func TestSourceValueGaussPeak(t *testing.T) {
	t.Parallel()

	s := Source{Wave: WaveGauss, Frequency: 1, Amplitude: 3, StdDev: 0.5}
	peak := 3 / (0.5 * math.Sqrt(2*math.Pi))

	// 2πft = 2 puts the pulse at the centre of its period.
	tPeak := 1 / math.Pi
	if got := s.Value(tPeak, 0, nil); math.Abs(float64(got)-peak) > 1e-4 {
		t.Errorf("peak: got %v, want %v", got, peak)
	}

	// One full period later the pulse repeats.
	tNext := (2 + gaussPeriod) / (2 * math.Pi)
	if got := s.Value(tNext, 0, nil); math.Abs(float64(got)-peak) > 1e-4 {
		t.Errorf("next peak: got %v, want %v", got, peak)
	}

	if got := s.Value(0, 0, nil); float64(got) > peak/10 {
		t.Errorf("edge of period: got %v, want near 0", got)
	}
}

func TestSourceValueNoise(t *testing.T) {
	t.Parallel()

	s := Source{Wave: WaveNoise, Amplitude: 2}
	a := rand.New(rand.NewPCG(7, 7))
	b := rand.New(rand.NewPCG(7, 7))

	var sum, sumSq float64

	const n = 20000

	for i := range n {
		va := s.Value(0, uint64(i), a)
		if vb := s.Value(0, uint64(i), b); va != vb {
			t.Fatalf("same seed diverged at %d", i)
		}

		sum += float64(va)
		sumSq += float64(va) * float64(va)
	}

	mean := sum / n
	std := math.Sqrt(sumSq/n - mean*mean)

	if math.Abs(mean) > 0.1 || math.Abs(std-2) > 0.1 {
		t.Errorf("mean %v std %v, want 0 and 2", mean, std)
	}
}

func TestSourceValueSamplesLoops(t *testing.T) {
	t.Parallel()

	s := Source{Wave: WaveSamples, Amplitude: 2}
	s.SetSamples([]float32{0.1, 0.2, 0.3})

	want := []float32{0.2, 0.4, 0.6, 0.2}
	for tick, w := range want {
		if got := s.Value(0, uint64(tick), nil); math.Abs(float64(got-w)) > 1e-6 {
			t.Errorf("tick %d: got %v, want %v", tick, got, w)
		}
	}
}

func TestSourceValidate(t *testing.T) {
	t.Parallel()

	l := Layout{Width: 10, Height: 10, Boundary: 2}

	tests := []struct {
		name string
		src  Source
		want error
	}{
		{"ok", NewSource(5, 5), nil},
		{"outside", NewSource(10, 5), ErrOutOfBounds},
		{"negative", NewSource(-1, 0), ErrOutOfBounds},
		{"gauss without width", Source{X: 1, Y: 1, Wave: WaveGauss}, ErrInvalidSource},
		{"samples without audio", Source{X: 1, Y: 1, Wave: WaveSamples}, ErrInvalidSource},
		{"nan amplitude", Source{X: 1, Y: 1, Amplitude: float32(math.NaN())}, ErrInvalidSource},
		{"negative frequency", Source{X: 1, Y: 1, Frequency: -3}, ErrInvalidSource},
	}

	for _, tc := range tests {
		err := tc.src.Validate(l)
		if tc.want == nil && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}

		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}
