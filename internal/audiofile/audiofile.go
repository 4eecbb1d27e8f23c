// Package audiofile loads and saves mono sample data as WAV or AIFF.
//
// Loaded audio is mixed down to mono and resampled to the caller's rate,
// which for sample-playback sources is the simulation rate 1/Δt.
package audiofile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"

	"wavefront/internal/aiff"
	"wavefront/pkg/resampler"
)

var (
	ErrUnknownFormat = errors.New("audiofile: unknown audio format")
	ErrInvalidRate   = errors.New("audiofile: invalid sample rate")
)

// Format is a container format known by extension.
type Format int

const (
	FormatUnknown Format = iota
	FormatWAV
	FormatAIFF
)

// FormatOf maps a file name to its container format.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return FormatWAV
	case ".aif", ".aiff", ".aifc":
		return FormatAIFF
	default:
		return FormatUnknown
	}
}

// Decode reads path and returns its mono mix with the native sample rate.
func Decode(path string) ([]float32, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	switch FormatOf(path) {
	case FormatWAV:
		return decodeWAV(f)
	case FormatAIFF:
		a, err := aiff.Parse(f)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", path, err)
		}

		return a.Mono(), a.SampleRate, nil
	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

func decodeWAV(r io.Reader) ([]float32, float64, error) {
	s, format, err := wav.Decode(r)
	if err != nil {
		return nil, 0, err
	}
	defer s.Close()

	out := make([]float32, 0, max(s.Len(), 0))
	buf := make([][2]float64, 4096)

	for {
		n, ok := s.Stream(buf)
		for _, frame := range buf[:n] {
			out = append(out, float32((frame[0]+frame[1])/2))
		}

		if !ok {
			break
		}
	}

	if err := s.Err(); err != nil {
		return nil, 0, err
	}

	return out, float64(format.SampleRate), nil
}

// Load decodes path and resamples it to rate.
func Load(path string, rate float64) ([]float32, error) {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}

	samples, src, err := Decode(path)
	if err != nil {
		return nil, err
	}

	return resampler.New().Resample(samples, src, rate)
}

// Save writes mono samples at rate. WAV files are encoded at the nearest
// integer rate; AIFF keeps the exact rate. Both use 16-bit PCM.
func Save(path string, samples []float32, rate float64) error {
	if !(rate >= 1) || math.IsInf(rate, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}

	format := FormatOf(path)
	if format == FormatUnknown {
		return fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	switch format {
	case FormatWAV:
		err = wav.Encode(f, sliceStreamer(samples), beep.Format{
			SampleRate:  beep.SampleRate(math.Round(rate)),
			NumChannels: 1,
			Precision:   2,
		})
	case FormatAIFF:
		err = aiff.Write(f, [][]float32{samples}, rate, 16)
	}

	if err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}

	return f.Close()
}

func sliceStreamer(samples []float32) beep.Streamer {
	pos := 0

	return beep.StreamerFunc(func(buf [][2]float64) (int, bool) {
		if pos >= len(samples) {
			return 0, false
		}

		n := copy2(buf, samples[pos:])
		pos += n

		return n, true
	})
}

func copy2(dst [][2]float64, src []float32) int {
	n := min(len(dst), len(src))
	for i := range n {
		v := float64(src[i])
		dst[i] = [2]float64{v, v}
	}

	return n
}

type cacheKey struct {
	path string
	rate float64
}

// Loader caches decoded and resampled files. Its Load method has the
// shape of a simulation sample loader.
type Loader struct {
	mu     sync.Mutex
	logger *slog.Logger
	cache  map[cacheKey][]float32
}

func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{logger: logger, cache: make(map[cacheKey][]float32)}
}

// Load returns the samples of path at rate. Callers must not modify the
// returned slice.
func (l *Loader) Load(path string, rate float64) ([]float32, error) {
	key := cacheKey{path, rate}

	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.cache[key]; ok {
		return s, nil
	}

	s, err := Load(path, rate)
	if err != nil {
		l.logger.Warn("Failed to load audio", "path", path, "rate", rate, "error", err)
		return nil, err
	}

	l.logger.Info("Audio loaded", "path", path, "rate", rate, "samples", len(s))
	l.cache[key] = s

	return s, nil
}
