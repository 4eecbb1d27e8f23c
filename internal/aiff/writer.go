package aiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Write encodes data ([channel][frame]) as big-endian integer PCM AIFF with
// the given bit depth (8, 16, 24 or 32). Samples are clipped to [-1, 1].
func Write(w io.Writer, data [][]float32, sampleRate float64, bits int) error {
	if len(data) < 1 || len(data) > maxChannels {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, len(data))
	}

	if bits%8 != 0 || bits < 8 || bits > 32 {
		return fmt.Errorf("%w: %d-bit samples", ErrUnsupportedFormat, bits)
	}

	if !(sampleRate > 0) || math.IsInf(sampleRate, 0) {
		return fmt.Errorf("%w: sample rate %v", ErrUnsupportedFormat, sampleRate)
	}

	frames := len(data[0])
	for ch, d := range data {
		if len(d) != frames {
			return fmt.Errorf("%w: channel %d has %d frames, want %d", ErrInvalidFile, ch, len(d), frames)
		}
	}

	width := bits / 8
	audio := frames * width * len(data)
	ssndSize := 8 + audio
	formSize := 4 + (8 + 18) + (8 + ssndSize) + ssndSize%2

	b := make([]byte, 0, 8+formSize)
	b = append(b, "FORM"...)
	b = binary.BigEndian.AppendUint32(b, uint32(formSize))
	b = append(b, "AIFF"...)

	b = append(b, "COMM"...)
	b = binary.BigEndian.AppendUint32(b, 18)
	b = binary.BigEndian.AppendUint16(b, uint16(len(data)))
	b = binary.BigEndian.AppendUint32(b, uint32(frames))
	b = binary.BigEndian.AppendUint16(b, uint16(bits))
	ext := float64ToExtended(sampleRate)
	b = append(b, ext[:]...)

	b = append(b, "SSND"...)
	b = binary.BigEndian.AppendUint32(b, uint32(ssndSize))
	b = binary.BigEndian.AppendUint32(b, 0) // offset
	b = binary.BigEndian.AppendUint32(b, 0) // block size

	full := float64(uint64(1)<<(bits-1)) - 1
	word := make([]byte, 4)

	for i := range frames {
		for _, ch := range data {
			v := max(-1, min(1, float64(ch[i])))
			binary.BigEndian.PutUint32(word, uint32(int32(math.Round(v*full)))<<(32-bits))
			b = append(b, word[:width]...)
		}
	}

	if ssndSize%2 == 1 {
		b = append(b, 0)
	}

	_, err := w.Write(b)

	return err
}
