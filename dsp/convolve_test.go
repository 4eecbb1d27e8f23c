package dsp

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func directConvolve(x, h []float32) []float32 {
	out := make([]float32, len(x)+len(h)-1)
	for i, xv := range x {
		for j, hv := range h {
			out[i+j] += xv * hv
		}
	}

	return out
}

func TestConvolveMatchesDirect(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))

	tests := []struct {
		name      string
		signalLen int
		irLen     int
		blockSize int
	}{
		{"short ir", 1000, 7, 64},
		{"ir longer than block", 500, 300, 32},
		{"uneven tail block", 130, 40, 50},
		{"single tap", 33, 1, 8},
	}

	for _, tc := range tests {
		x := make([]float32, tc.signalLen)
		h := make([]float32, tc.irLen)

		for i := range x {
			x[i] = float32(rng.NormFloat64())
		}

		for i := range h {
			h[i] = float32(rng.NormFloat64()) * float32(math.Exp(-float64(i)/50))
		}

		got, err := Convolve(x, h, tc.blockSize)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}

		want := directConvolve(x, h)
		if len(got) != len(want) {
			t.Fatalf("%s: got %d samples, want %d", tc.name, len(got), len(want))
		}

		for i := range want {
			if math.Abs(float64(got[i]-want[i])) > 1e-3 {
				t.Fatalf("%s: sample %d: got %v, want %v", tc.name, i, got[i], want[i])
			}
		}
	}
}

func TestConvolveImpulseIdentity(t *testing.T) {
	t.Parallel()

	x := sine(300, 440, 8000, 1)

	got, err := Convolve(x, []float32{1}, DefaultBlockSize)
	if err != nil {
		t.Fatalf("Convolve: %v", err)
	}

	for i := range x {
		if math.Abs(float64(got[i]-x[i])) > 1e-5 {
			t.Fatalf("sample %d: got %v, want %v", i, got[i], x[i])
		}
	}
}

func TestOverlapAddErrors(t *testing.T) {
	t.Parallel()

	if _, err := NewOverlapAdd(nil, 64); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("empty ir: got %v", err)
	}

	if _, err := NewOverlapAdd([]float32{1}, 0); !errors.Is(err, ErrBlockSize) {
		t.Errorf("zero block: got %v", err)
	}

	e, err := NewOverlapAdd([]float32{1, 0.5}, 4)
	if err != nil {
		t.Fatalf("NewOverlapAdd: %v", err)
	}

	if _, err := e.Process(make([]float32, 5)); !errors.Is(err, ErrBlockSize) {
		t.Errorf("oversized block: got %v", err)
	}

	if e.BlockSize() != 4 {
		t.Errorf("BlockSize: got %d", e.BlockSize())
	}
}
