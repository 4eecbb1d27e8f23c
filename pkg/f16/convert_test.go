package f16

import (
	"errors"
	"math"
	"testing"
)

func TestKnownEncodings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float32
		want uint16
	}{
		{"zero", 0, 0x0000},
		{"negative zero", float32(math.Copysign(0, -1)), 0x8000},
		{"one", 1, 0x3C00},
		{"minus two", -2, 0xC000},
		{"max", 65504, 0x7BFF},
		{"overflow", 70000, 0x7C00},
		{"min normal", 1.0 / (1 << 14), 0x0400},
		{"min subnormal", 1.0 / (1 << 24), 0x0001},
		{"below subnormal", 1.0 / (1 << 26), 0x0000},
		{"infinity", float32(math.Inf(1)), 0x7C00},
		{"negative infinity", float32(math.Inf(-1)), 0xFC00},
		{"tie to even down", 1 + 1.0/(1<<11), 0x3C00},
		{"tie to even up", 1 + 3.0/(1<<11), 0x3C02},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := FromFloat32(tc.in); got != tc.want {
				t.Errorf("FromFloat32(%v): got %#04x, want %#04x", tc.in, got, tc.want)
			}
		})
	}
}

func TestNaNSurvives(t *testing.T) {
	t.Parallel()

	h := FromFloat32(float32(math.NaN()))
	if !math.IsNaN(float64(ToFloat32(h))) {
		t.Errorf("NaN encoded as %#04x", h)
	}
}

func TestEveryHalfRoundTrips(t *testing.T) {
	t.Parallel()

	for h := range uint32(1 << 16) {
		v := ToFloat32(uint16(h))
		if math.IsNaN(float64(v)) {
			continue
		}

		if got := FromFloat32(v); got != uint16(h) {
			t.Fatalf("%#04x -> %v -> %#04x", h, v, got)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.5, -0.25, 3, -1000}
	data := Encode(in)

	if len(data) != len(in)*Size {
		t.Fatalf("encoded %d bytes, want %d", len(data), len(in)*Size)
	}

	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	for i := range in {
		if out[i] != in[i] {
			t.Errorf("value %d: got %v, want %v", i, out[i], in[i])
		}
	}

	if _, err := Decode(data[:3]); !errors.Is(err, ErrOddLength) {
		t.Errorf("odd input: got %v, want ErrOddLength", err)
	}
}

func TestQuantizeAndAnalyze(t *testing.T) {
	t.Parallel()

	values := make([]float32, 4800)
	for i := range values {
		values[i] = float32(0.8 * math.Sin(2*math.Pi*float64(i)/48))
	}

	st := AnalyzeError(values)
	if st.SNR < 60 {
		t.Errorf("SNR %v dB below 60", st.SNR)
	}

	if st.MaxAbsError > 1e-3 {
		t.Errorf("max error %v", st.MaxAbsError)
	}

	Quantize(values)

	if st := AnalyzeError(values); !math.IsInf(st.SNR, 1) {
		t.Errorf("quantized values must round trip exactly, SNR %v", st.SNR)
	}

	if st := AnalyzeError(nil); st != (Stats{}) {
		t.Errorf("empty input: got %+v", st)
	}
}
