package reclib

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"wavefront/pkg/f16"
)

// Writer streams recordings into a library file. The index is appended and
// the header patched on Close, so the destination must be seekable.
type Writer struct {
	w       io.WriteSeeker
	pos     uint64
	started bool
	closed  bool
	index   []IndexEntry
}

func NewWriter(w io.WriteSeeker) *Writer {
	return &Writer{w: w}
}

// WriteHeader writes the file header with placeholder count and index offset.
func (w *Writer) WriteHeader() error {
	if w.started {
		return fmt.Errorf("%w: header already written", ErrWriterState)
	}

	hdr := make([]byte, 0, FileHeaderSize)
	hdr = append(hdr, MagicNumber...)
	hdr = binary.LittleEndian.AppendUint16(hdr, CurrentVersion)
	hdr = binary.LittleEndian.AppendUint32(hdr, 0)
	hdr = binary.LittleEndian.AppendUint64(hdr, 0)

	if _, err := w.w.Write(hdr); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	w.started = true
	w.pos = FileHeaderSize

	return nil
}

// WriteRecording appends one recording. A zero Encoding defaults to f16.
func (w *Writer) WriteRecording(rec *Recording) error {
	if !w.started || w.closed {
		return fmt.Errorf("%w: write outside header and close", ErrWriterState)
	}

	meta := rec.Meta
	meta.Length = len(rec.Samples)

	if meta.Encoding == 0 {
		meta.Encoding = EncodingF16
	}

	data, err := encodeSamples(rec.Samples, meta.Encoding)
	if err != nil {
		return err
	}

	metaChunk := buildMetaSubChunk(&meta)
	dataChunk := subChunk(ChunkTypeData, data)
	size := uint64(len(metaChunk) + len(dataChunk))

	hdr := binary.LittleEndian.AppendUint64([]byte(ChunkTypeRecord), size)

	for _, part := range [][]byte{hdr, metaChunk, dataChunk} {
		if _, err := w.w.Write(part); err != nil {
			return fmt.Errorf("failed to write recording %q: %w", meta.Name, err)
		}
	}

	w.index = append(w.index, IndexEntry{
		Offset:     w.pos,
		MicID:      meta.MicID,
		SampleRate: meta.SampleRate,
		Length:     meta.Length,
		Encoding:   meta.Encoding,
		Name:       meta.Name,
	})
	w.pos += ChunkHeaderSize + size

	return nil
}

// Close writes the index and patches the header. It does not close the
// underlying writer.
func (w *Writer) Close() error {
	if !w.started || w.closed {
		return fmt.Errorf("%w: close without header", ErrWriterState)
	}

	w.closed = true
	indexOffset := w.pos

	var body []byte
	for _, e := range w.index {
		body = binary.LittleEndian.AppendUint64(body, e.Offset)
		body = binary.LittleEndian.AppendUint64(body, e.MicID)
		body = binary.LittleEndian.AppendUint64(body, math.Float64bits(e.SampleRate))
		body = binary.LittleEndian.AppendUint32(body, uint32(e.Length))
		body = append(body, byte(e.Encoding))
		body = appendString(body, e.Name)
	}

	chunk := binary.LittleEndian.AppendUint64([]byte(ChunkTypeIndex), uint64(len(body)))
	chunk = append(chunk, body...)

	if _, err := w.w.Write(chunk); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}

	if _, err := w.w.Seek(countField, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to header: %w", err)
	}

	patch := binary.LittleEndian.AppendUint32(nil, uint32(len(w.index)))
	patch = binary.LittleEndian.AppendUint64(patch, indexOffset)

	if _, err := w.w.Write(patch); err != nil {
		return fmt.Errorf("failed to patch header: %w", err)
	}

	if _, err := w.w.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	return nil
}

// WriteLibrary writes lib in one call.
func WriteLibrary(w io.WriteSeeker, lib *Library) error {
	writer := NewWriter(w)

	if err := writer.WriteHeader(); err != nil {
		return err
	}

	for _, rec := range lib.Recordings {
		if err := writer.WriteRecording(rec); err != nil {
			return err
		}
	}

	return writer.Close()
}

func buildMetaSubChunk(m *Metadata) []byte {
	var b []byte

	b = binary.LittleEndian.AppendUint64(b, m.MicID)
	b = binary.LittleEndian.AppendUint32(b, uint32(int32(m.X)))
	b = binary.LittleEndian.AppendUint32(b, uint32(int32(m.Y)))
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(m.SampleRate))
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(m.DeltaL))
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(m.StartTime))
	b = binary.LittleEndian.AppendUint32(b, uint32(m.Length))
	b = append(b, byte(m.Encoding))
	b = appendString(b, m.Name)
	b = appendString(b, m.Description)

	b = binary.LittleEndian.AppendUint16(b, uint16(len(m.Tags)))
	for _, tag := range m.Tags {
		b = appendString(b, tag)
	}

	return subChunk(ChunkTypeMeta, b)
}

func subChunk(id string, payload []byte) []byte {
	b := make([]byte, 0, SubChunkHeaderSize+len(payload))
	b = append(b, id...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(payload)))

	return append(b, payload...)
}

// appendString writes a u16 length prefix; longer strings are truncated.
func appendString(b []byte, s string) []byte {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}

	b = binary.LittleEndian.AppendUint16(b, uint16(len(s)))

	return append(b, s...)
}

func encodeSamples(samples []float32, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingF16:
		return f16.Encode(samples), nil
	case EncodingF32:
		b := make([]byte, 0, len(samples)*4)
		for _, v := range samples {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
		}

		return b, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrEncoding, enc)
	}
}
