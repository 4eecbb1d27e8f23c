// Package aiff reads and writes AIFF and uncompressed AIFF-C audio.
//
// Supported sample formats are 8 to 32-bit integer PCM in either byte order
// ("NONE" or "sowt") and 32-bit float ("fl32").
package aiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	ErrNotAIFF           = errors.New("aiff: not an AIFF file")
	ErrUnsupportedFormat = errors.New("aiff: unsupported format")
	ErrInvalidFile       = errors.New("aiff: invalid file structure")
	ErrMissingChunk      = errors.New("aiff: missing required chunk")
)

const maxChannels = 8

// File is a decoded audio file. Data is organised as [channel][frame] with
// samples in [-1, 1].
type File struct {
	NumChannels   int
	SampleRate    float64
	BitsPerSample int
	NumFrames     int
	Compression   string

	Data [][]float32
}

// Duration returns the length in seconds.
func (f *File) Duration() float64 {
	if f.SampleRate <= 0 {
		return 0
	}

	return float64(f.NumFrames) / f.SampleRate
}

// Mono averages all channels into one.
func (f *File) Mono() []float32 {
	if len(f.Data) == 1 {
		return append([]float32(nil), f.Data[0]...)
	}

	out := make([]float32, f.NumFrames)
	if len(f.Data) == 0 {
		return out
	}

	scale := 1 / float32(len(f.Data))

	for _, ch := range f.Data {
		for i, v := range ch[:f.NumFrames] {
			out[i] += v * scale
		}
	}

	return out
}

type format struct {
	littleEndian bool
	float        bool
}

// Parse decodes a complete AIFF stream.
func Parse(r io.Reader) (*File, error) {
	var form [12]byte
	if _, err := io.ReadFull(r, form[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}

	if string(form[0:4]) != "FORM" {
		return nil, ErrNotAIFF
	}

	formType := string(form[8:12])
	if formType != "AIFF" && formType != "AIFC" {
		return nil, ErrNotAIFF
	}

	var (
		file  = &File{Compression: "NONE"}
		fmtc  format
		ssnd  []byte
		comm  bool
		sound bool
	)

	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return nil, fmt.Errorf("%w: chunk header: %w", ErrInvalidFile, err)
		}

		id := string(hdr[0:4])
		size := binary.BigEndian.Uint32(hdr[4:8])

		body := make([]byte, size+size%2)
		if _, err := io.ReadFull(r, body); err != nil {
			// A missing pad byte at the very end is tolerated.
			if !(errors.Is(err, io.ErrUnexpectedEOF) && size%2 == 1) {
				return nil, fmt.Errorf("%w: chunk %q: %w", ErrInvalidFile, id, err)
			}
		}

		body = body[:size]

		switch id {
		case "COMM":
			var err error
			if fmtc, err = file.parseCOMM(body, formType == "AIFC"); err != nil {
				return nil, err
			}

			comm = true
		case "SSND":
			if len(body) < 8 {
				return nil, fmt.Errorf("%w: SSND chunk too small", ErrInvalidFile)
			}

			offset := binary.BigEndian.Uint32(body[0:4])
			if uint64(offset)+8 > uint64(len(body)) {
				return nil, fmt.Errorf("%w: SSND offset %d", ErrInvalidFile, offset)
			}

			ssnd = body[8+offset:]
			sound = true
		}
	}

	if !comm {
		return nil, fmt.Errorf("%w: COMM chunk", ErrMissingChunk)
	}

	if !sound {
		return nil, fmt.Errorf("%w: SSND chunk", ErrMissingChunk)
	}

	file.decode(ssnd, fmtc)

	return file, nil
}

func (f *File) parseCOMM(b []byte, aifc bool) (format, error) {
	var fm format

	if len(b) < 18 {
		return fm, fmt.Errorf("%w: COMM chunk too small", ErrInvalidFile)
	}

	f.NumChannels = int(binary.BigEndian.Uint16(b[0:2]))
	f.NumFrames = int(binary.BigEndian.Uint32(b[2:6]))
	f.BitsPerSample = int(binary.BigEndian.Uint16(b[6:8]))
	f.SampleRate = extendedToFloat64(b[8:18])

	if f.NumChannels < 1 || f.NumChannels > maxChannels {
		return fm, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, f.NumChannels)
	}

	if f.BitsPerSample < 1 || f.BitsPerSample > 32 {
		return fm, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedFormat, f.BitsPerSample)
	}

	if !(f.SampleRate > 0) || math.IsInf(f.SampleRate, 0) {
		return fm, fmt.Errorf("%w: sample rate %v", ErrUnsupportedFormat, f.SampleRate)
	}

	if aifc && len(b) >= 22 {
		f.Compression = string(b[18:22])
	}

	switch f.Compression {
	case "NONE", "none", "twos":
	case "sowt":
		fm.littleEndian = true
	case "fl32", "FL32":
		if f.BitsPerSample != 32 {
			return fm, fmt.Errorf("%w: fl32 with %d bits", ErrUnsupportedFormat, f.BitsPerSample)
		}

		fm.float = true
	default:
		return fm, fmt.Errorf("%w: AIFC compression %q", ErrUnsupportedFormat, f.Compression)
	}

	return fm, nil
}

// decode converts interleaved PCM frames. Sample words are padded to whole
// bytes and left-justified, so every depth decodes against its word size.
func (f *File) decode(data []byte, fm format) {
	width := (f.BitsPerSample + 7) / 8
	frame := width * f.NumChannels

	f.NumFrames = min(f.NumFrames, len(data)/frame)
	f.Data = make([][]float32, f.NumChannels)

	for ch := range f.Data {
		f.Data[ch] = make([]float32, f.NumFrames)
	}

	scale := 1 / float64(uint64(1)<<(8*width-1))
	word := make([]byte, 4)

	for i := range f.NumFrames {
		for ch := range f.NumChannels {
			off := i*frame + ch*width
			src := data[off : off+width]

			// Left-justify into a big-endian 32-bit word.
			clear(word)

			for k := range width {
				if fm.littleEndian {
					word[k] = src[width-1-k]
				} else {
					word[k] = src[k]
				}
			}

			bits := binary.BigEndian.Uint32(word)

			var v float32
			if fm.float {
				v = math.Float32frombits(bits)
			} else {
				v = float32(float64(int32(bits)>>(32-8*width)) * scale)
			}

			f.Data[ch][i] = v
		}
	}
}

// extendedToFloat64 converts an 80-bit IEEE 754 extended value, the format
// AIFF uses for the sample rate.
func extendedToFloat64(b []byte) float64 {
	if len(b) != 10 {
		return 0
	}

	neg := b[0]&0x80 != 0
	exp := int(binary.BigEndian.Uint16(b[0:2]) & 0x7FFF)
	mant := binary.BigEndian.Uint64(b[2:10])

	switch {
	case exp == 0 && mant == 0:
		return 0
	case exp == 0x7FFF:
		if mant<<1 != 0 {
			return math.NaN()
		}

		if neg {
			return math.Inf(-1)
		}

		return math.Inf(1)
	}

	// The integer bit is explicit at position 63.
	v := math.Ldexp(float64(mant), exp-16383-63)
	if neg {
		v = -v
	}

	return v
}

// float64ToExtended is the inverse of extendedToFloat64 for finite values.
func float64ToExtended(v float64) [10]byte {
	var out [10]byte

	if v == 0 {
		return out
	}

	var sign uint16
	if v < 0 {
		sign = 0x8000
		v = -v
	}

	frac, exp := math.Frexp(v) // v = frac * 2^exp, frac in [0.5, 1)

	binary.BigEndian.PutUint16(out[0:2], sign|uint16(exp-1+16383))
	binary.BigEndian.PutUint64(out[2:10], uint64(math.Ldexp(frac, 64)))

	return out
}
