// Package f16 converts between float32 and IEEE 754 half precision.
//
// Microphone recordings are stored as f16 to halve their size. Pressures in a
// typical simulation stay well inside the f16 range; values beyond ±65504
// saturate to infinity and magnitudes below 2^-24 flush to zero.
package f16

import (
	"encoding/binary"
	"errors"
	"math"
)

// Size is the encoded width of one value in bytes.
const Size = 2

var ErrOddLength = errors.New("f16: input length must be a multiple of 2")

// Encode converts values to little-endian f16 bytes.
func Encode(values []float32) []byte {
	return Append(make([]byte, 0, len(values)*Size), values)
}

// Append appends the f16 encoding of values to dst.
func Append(dst []byte, values []float32) []byte {
	for _, v := range values {
		dst = binary.LittleEndian.AppendUint16(dst, FromFloat32(v))
	}

	return dst
}

// Decode converts little-endian f16 bytes to float32 values.
func Decode(data []byte) ([]float32, error) {
	if len(data)%Size != 0 {
		return nil, ErrOddLength
	}

	out := make([]float32, len(data)/Size)
	for i := range out {
		out[i] = ToFloat32(binary.LittleEndian.Uint16(data[i*Size:]))
	}

	return out, nil
}

// Quantize rounds every value through f16 in place.
func Quantize(values []float32) {
	for i, v := range values {
		values[i] = ToFloat32(FromFloat32(v))
	}
}

// FromFloat32 rounds v to the nearest f16, ties to even.
func FromFloat32(v float32) uint16 {
	bits := math.Float32bits(v)
	sign := uint16(bits>>16) & 0x8000
	exp := int((bits >> 23) & 0xFF)
	mant := bits & 0x7FFFFF

	switch {
	case exp == 0xFF:
		if mant == 0 {
			return sign | 0x7C00
		}

		// Keep NaN a NaN even when the payload bits fall away.
		return sign | 0x7C00 | uint16(mant>>13) | 0x200
	case exp == 0:
		// float32 subnormals are far below the f16 range.
		return sign
	}

	e := exp - 127 + 15

	if e >= 31 {
		return sign | 0x7C00
	}

	if e <= 0 {
		// f16 subnormal: shift the implicit bit into the mantissa.
		if e < -10 {
			return sign
		}

		m := mant | 0x800000
		shift := uint32(14 - e)
		half := uint32(1) << (shift - 1)
		r := m >> shift
		rem := m & (1<<shift - 1)

		if rem > half || (rem == half && r&1 == 1) {
			r++
		}

		return sign | uint16(r)
	}

	r := mant >> 13
	rem := mant & 0x1FFF

	if rem > 0x1000 || (rem == 0x1000 && r&1 == 1) {
		r++
		if r == 0x400 {
			r = 0
			e++

			if e >= 31 {
				return sign | 0x7C00
			}
		}
	}

	return sign | uint16(e)<<10 | uint16(r)
}

// ToFloat32 widens an f16 value.
func ToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1F
	mant := uint32(h & 0x3FF)

	switch exp {
	case 31:
		return math.Float32frombits(sign | 0x7F800000 | mant<<13)
	case 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}

		// Subnormal: value is mant * 2^-24.
		v := float32(mant) * (1.0 / (1 << 24))
		if sign != 0 {
			v = -v
		}

		return v
	}

	return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
}

// Stats describes the error introduced by an f16 round trip.
type Stats struct {
	MaxAbsError float64
	RMSError    float64
	SNR         float64 // dB, +Inf for a lossless round trip
}

// AnalyzeError round-trips values through f16 and reports the error.
func AnalyzeError(values []float32) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	var maxAbs, errPow, sigPow float64

	for _, v := range values {
		d := float64(ToFloat32(FromFloat32(v)) - v)
		maxAbs = max(maxAbs, math.Abs(d))
		errPow += d * d
		sigPow += float64(v) * float64(v)
	}

	n := float64(len(values))
	st := Stats{MaxAbsError: maxAbs, RMSError: math.Sqrt(errPow / n)}

	switch {
	case errPow == 0:
		st.SNR = math.Inf(1)
	case sigPow > 0:
		st.SNR = 10 * math.Log10(sigPow/errPow)
	}

	return st
}
