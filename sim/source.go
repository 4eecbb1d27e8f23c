package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
)

// Waveform selects how a source computes its injected value.
type Waveform uint8

// Waveforms.
const (
	WaveSine Waveform = iota
	WaveGauss
	WaveNoise
	WaveSamples
)

var waveformNames = [...]string{
	WaveSine:    "sine",
	WaveGauss:   "gauss",
	WaveNoise:   "noise",
	WaveSamples: "samples",
}

func (w Waveform) String() string {
	if int(w) < len(waveformNames) {
		return waveformNames[w]
	}

	return fmt.Sprintf("Waveform(%d)", uint8(w))
}

// ParseWaveform parses a waveform by name, case-insensitively.
func ParseWaveform(s string) (Waveform, error) {
	for i, name := range waveformNames {
		if strings.EqualFold(s, name) {
			return Waveform(i), nil
		}
	}

	return 0, fmt.Errorf("%w: unknown waveform %q", ErrInvalidSource, s)
}

// MarshalText implements encoding.TextMarshaler.
func (w Waveform) MarshalText() ([]byte, error) {
	if int(w) >= len(waveformNames) {
		return nil, fmt.Errorf("%w: unknown waveform %d", ErrInvalidSource, uint8(w))
	}

	return []byte(w.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *Waveform) UnmarshalText(text []byte) error {
	parsed, err := ParseWaveform(string(text))
	if err != nil {
		return err
	}

	*w = parsed

	return nil
}

// gaussPeriod is the length of one pulse train period in phase units.
const gaussPeriod = 4.0

// Source injects a waveform at a cell of the simulation region.
type Source struct {
	ID   ID       `json:"id"`
	X    int      `json:"x"`
	Y    int      `json:"y"`
	Wave Waveform `json:"wave"`
	// Phase in degrees.
	Phase     float32 `json:"phase"`
	Frequency float32 `json:"frequency"`
	Amplitude float32 `json:"amplitude"`
	// StdDev is the width of the gauss pulse.
	StdDev float32 `json:"std_dev,omitempty"`
	// SampleFile names the audio file a samples source was loaded from.
	SampleFile string `json:"sample_file,omitempty"`

	samples []float32
}

// NewSource returns a 1 kHz sine of amplitude 10 at (x, y).
func NewSource(x, y int) Source {
	return Source{
		X:         x,
		Y:         y,
		Wave:      WaveSine,
		Frequency: 1000,
		Amplitude: 10,
		StdDev:    1,
	}
}

// SetSamples attaches audio for WaveSamples. The samples must already be
// at the simulation rate, one per tick.
func (s *Source) SetSamples(samples []float32) {
	s.samples = samples
}

// Samples returns the attached audio.
func (s *Source) Samples() []float32 {
	return s.samples
}

// Validate checks the source against the simulation region.
func (s *Source) Validate(l Layout) error {
	if !l.InSim(s.X, s.Y) {
		return fmt.Errorf("%w: source at (%d, %d)", ErrOutOfBounds, s.X, s.Y)
	}

	for _, v := range []float32{s.Phase, s.Frequency, s.Amplitude, s.StdDev} {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: non-finite parameter", ErrInvalidSource)
		}
	}

	if s.Frequency < 0 {
		return fmt.Errorf("%w: negative frequency %v", ErrInvalidSource, s.Frequency)
	}

	switch s.Wave {
	case WaveSine, WaveNoise:
	case WaveGauss:
		if s.StdDev <= 0 {
			return fmt.Errorf("%w: gauss std dev must be positive, got %v", ErrInvalidSource, s.StdDev)
		}
	case WaveSamples:
		if len(s.samples) == 0 {
			return fmt.Errorf("%w: samples source without audio", ErrInvalidSource)
		}
	default:
		return fmt.Errorf("%w: unknown waveform %d", ErrInvalidSource, uint8(s.Wave))
	}

	return nil
}

// Value returns the injected value at time t seconds and tick count tick.
// rng feeds WaveNoise.
func (s *Source) Value(t float64, tick uint64, rng *rand.Rand) float32 {
	amp := float64(s.Amplitude)
	arg := 2*math.Pi*float64(s.Frequency)*t - degToRad(s.Phase)

	switch s.Wave {
	case WaveSine:
		return float32(amp * math.Sin(arg))
	case WaveGauss:
		x := math.Mod(arg, gaussPeriod)
		if x < 0 {
			x += gaussPeriod
		}

		x -= gaussPeriod / 2

		sigma := float64(s.StdDev)
		scale := 1 / (sigma * math.Sqrt(2*math.Pi))

		return float32(amp * scale * math.Exp(-0.5*(x/sigma)*(x/sigma)))
	case WaveNoise:
		return float32(amp * rng.NormFloat64())
	case WaveSamples:
		if len(s.samples) == 0 {
			return 0
		}

		return s.Amplitude * s.samples[tick%uint64(len(s.samples))]
	default:
		return 0
	}
}
