package dsp

import (
	"errors"
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// DefaultBlockSize is the input block length used by Convolve.
const DefaultBlockSize = 1024

var (
	ErrEmptyResponse = errors.New("dsp: impulse response is empty")
	ErrBlockSize     = errors.New("dsp: invalid block size")
)

// OverlapAdd performs FFT-based block convolution against a fixed impulse
// response. Blocks may be shorter than the configured block size; the
// accumulated tail carries over between calls.
type OverlapAdd struct {
	fftSize   int
	blockSize int
	irLen     int

	plan  *algofft.Plan[complex64]
	irFFT []complex64

	buf  []complex64
	tail []float32
}

// NewOverlapAdd prepares an engine for ir with the given input block size.
func NewOverlapAdd(ir []float32, blockSize int) (*OverlapAdd, error) {
	if len(ir) == 0 {
		return nil, ErrEmptyResponse
	}

	if blockSize < 1 {
		return nil, fmt.Errorf("%w: %d", ErrBlockSize, blockSize)
	}

	fftSize := nextPowerOf2(blockSize + len(ir) - 1)

	plan, err := algofft.NewPlan32(fftSize)
	if err != nil {
		return nil, fmt.Errorf("dsp: fft plan: %w", err)
	}

	e := &OverlapAdd{
		fftSize:   fftSize,
		blockSize: blockSize,
		irLen:     len(ir),
		plan:      plan,
		irFFT:     make([]complex64, fftSize),
		buf:       make([]complex64, fftSize),
		tail:      make([]float32, fftSize),
	}

	for i, v := range ir {
		e.buf[i] = complex(v, 0)
	}

	if err := plan.Forward(e.irFFT, e.buf); err != nil {
		return nil, fmt.Errorf("dsp: impulse response fft: %w", err)
	}

	return e, nil
}

// BlockSize returns the largest block Process accepts.
func (e *OverlapAdd) BlockSize() int {
	return e.blockSize
}

// Process convolves one input block and returns the same number of output
// samples.
func (e *OverlapAdd) Process(block []float32) ([]float32, error) {
	if len(block) > e.blockSize {
		return nil, fmt.Errorf("%w: block of %d exceeds %d", ErrBlockSize, len(block), e.blockSize)
	}

	for i := range e.buf {
		if i < len(block) {
			e.buf[i] = complex(block[i], 0)
		} else {
			e.buf[i] = 0
		}
	}

	if err := e.plan.Forward(e.buf, e.buf); err != nil {
		return nil, fmt.Errorf("dsp: forward fft: %w", err)
	}

	for i := range e.buf {
		e.buf[i] *= e.irFFT[i]
	}

	// Inverse is scaled by 1/N.
	if err := e.plan.Inverse(e.buf, e.buf); err != nil {
		return nil, fmt.Errorf("dsp: inverse fft: %w", err)
	}

	for i := range e.tail {
		e.tail[i] += real(e.buf[i])
	}

	return e.shift(len(block)), nil
}

// Flush returns the remaining len(ir)-1 tail samples and resets the engine.
func (e *OverlapAdd) Flush() []float32 {
	return e.shift(e.irLen - 1)
}

func (e *OverlapAdd) shift(n int) []float32 {
	out := make([]float32, n)
	copy(out, e.tail[:n])
	copy(e.tail, e.tail[n:])
	clear(e.tail[len(e.tail)-n:])

	return out
}

// Convolve returns the full linear convolution of signal with ir, of length
// len(signal)+len(ir)-1.
func Convolve(signal, ir []float32, blockSize int) ([]float32, error) {
	e, err := NewOverlapAdd(ir, blockSize)
	if err != nil {
		return nil, err
	}

	out := make([]float32, 0, len(signal)+len(ir)-1)

	for start := 0; start < len(signal); start += blockSize {
		end := min(start+blockSize, len(signal))

		y, err := e.Process(signal[start:end])
		if err != nil {
			return nil, err
		}

		out = append(out, y...)
	}

	return append(out, e.Flush()...), nil
}

func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p *= 2
	}

	return p
}
