package reclib

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"wavefront/pkg/f16"
)

// Reader gives indexed access to a library; samples are read on demand.
type Reader struct {
	r           io.ReadSeeker
	version     uint16
	count       uint32
	indexOffset uint64
	index       []IndexEntry
}

// NewReader parses the header and the index of r.
func NewReader(r io.ReadSeeker) (*Reader, error) {
	reader := &Reader{r: r}

	if err := reader.readHeader(); err != nil {
		return nil, err
	}

	if err := reader.readIndex(); err != nil {
		return nil, err
	}

	return reader, nil
}

func (r *Reader) readHeader() error {
	hdr := make([]byte, FileHeaderSize)
	if _, err := io.ReadFull(r.r, hdr); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptedData, err)
	}

	if string(hdr[:4]) != MagicNumber {
		return ErrInvalidMagic
	}

	r.version = binary.LittleEndian.Uint16(hdr[4:])
	if r.version != CurrentVersion {
		return fmt.Errorf("%w: got version %d, expected %d", ErrUnsupportedVersion, r.version, CurrentVersion)
	}

	r.count = binary.LittleEndian.Uint32(hdr[countField:])
	r.indexOffset = binary.LittleEndian.Uint64(hdr[countField+4:])

	if r.indexOffset < FileHeaderSize {
		return fmt.Errorf("%w: index offset %d", ErrCorruptedData, r.indexOffset)
	}

	return nil
}

func (r *Reader) readIndex() error {
	if _, err := r.r.Seek(int64(r.indexOffset), io.SeekStart); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptedData, err)
	}

	body, err := r.readChunk(ChunkTypeIndex)
	if err != nil {
		return err
	}

	c := cursor{b: body}
	r.index = make([]IndexEntry, 0, r.count)

	for range r.count {
		var e IndexEntry

		e.Offset = c.u64()
		e.MicID = c.u64()
		e.SampleRate = c.f64()
		e.Length = int(c.u32())
		e.Encoding = Encoding(c.u8())
		e.Name = c.str()

		if c.err != nil {
			return c.err
		}

		r.index = append(r.index, e)
	}

	return nil
}

// readChunk reads a top-level chunk header and its body.
func (r *Reader) readChunk(id string) ([]byte, error) {
	hdr := make([]byte, ChunkHeaderSize)
	if _, err := io.ReadFull(r.r, hdr); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptedData, err)
	}

	if got := string(hdr[:4]); got != id {
		return nil, fmt.Errorf("%w: expected %q chunk, got %q", ErrInvalidChunk, id, got)
	}

	size := binary.LittleEndian.Uint64(hdr[4:])
	if size > math.MaxInt32 {
		return nil, fmt.Errorf("%w: chunk size %d", ErrCorruptedData, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptedData, err)
	}

	return body, nil
}

func (r *Reader) Version() uint16 {
	return r.version
}

func (r *Reader) Count() int {
	return int(r.count)
}

// List returns the index entries without loading samples.
func (r *Reader) List() []IndexEntry {
	out := make([]IndexEntry, len(r.index))
	copy(out, r.index)

	return out
}

// Load reads the i-th recording.
func (r *Reader) Load(i int) (*Recording, error) {
	if i < 0 || i >= len(r.index) {
		return nil, ErrInvalidIndex
	}

	if _, err := r.r.Seek(int64(r.index[i].Offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptedData, err)
	}

	body, err := r.readChunk(ChunkTypeRecord)
	if err != nil {
		return nil, err
	}

	return parseRecording(body)
}

// LoadByMic reads the first recording of the given microphone.
func (r *Reader) LoadByMic(id uint64) (*Recording, error) {
	for i, e := range r.index {
		if e.MicID == id {
			return r.Load(i)
		}
	}

	return nil, fmt.Errorf("%w: microphone %d", ErrNotFound, id)
}

// LoadByName reads the first recording with the given name.
func (r *Reader) LoadByName(name string) (*Recording, error) {
	for i, e := range r.index {
		if e.Name == name {
			return r.Load(i)
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

func parseRecording(body []byte) (*Recording, error) {
	c := cursor{b: body}

	meta := c.sub(ChunkTypeMeta)
	data := c.sub(ChunkTypeData)

	if c.err != nil {
		return nil, c.err
	}

	rec := &Recording{}
	if err := parseMeta(meta, &rec.Meta); err != nil {
		return nil, err
	}

	samples, err := decodeSamples(data, rec.Meta.Encoding)
	if err != nil {
		return nil, err
	}

	if len(samples) != rec.Meta.Length {
		return nil, fmt.Errorf("%w: %d samples, header says %d", ErrCorruptedData, len(samples), rec.Meta.Length)
	}

	rec.Samples = samples

	return rec, nil
}

func parseMeta(b []byte, m *Metadata) error {
	c := cursor{b: b}

	m.MicID = c.u64()
	m.X = int(int32(c.u32()))
	m.Y = int(int32(c.u32()))
	m.SampleRate = c.f64()
	m.DeltaL = c.f64()
	m.StartTime = c.f64()
	m.Length = int(c.u32())
	m.Encoding = Encoding(c.u8())
	m.Name = c.str()
	m.Description = c.str()

	if n := int(c.u16()); n > 0 {
		m.Tags = make([]string, n)
		for i := range m.Tags {
			m.Tags[i] = c.str()
		}
	}

	return c.err
}

func decodeSamples(data []byte, enc Encoding) ([]float32, error) {
	switch enc {
	case EncodingF16:
		out, err := f16.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptedData, err)
		}

		return out, nil
	case EncodingF32:
		if len(data)%4 != 0 {
			return nil, fmt.Errorf("%w: f32 data of %d bytes", ErrCorruptedData, len(data))
		}

		out := make([]float32, len(data)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}

		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrEncoding, enc)
	}
}

// ReadLibrary reads every recording of r.
func ReadLibrary(r io.ReadSeeker) (*Library, error) {
	reader, err := NewReader(r)
	if err != nil {
		return nil, err
	}

	lib := &Library{Version: reader.version, Recordings: make([]*Recording, 0, reader.count)}

	for i := range reader.Count() {
		rec, err := reader.Load(i)
		if err != nil {
			return nil, fmt.Errorf("failed to load recording %d: %w", i, err)
		}

		lib.Add(rec)
	}

	return lib, nil
}

// ReadFile is ReadLibrary on a file path.
func ReadFile(path string) (*Library, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadLibrary(f)
}

// WriteFile is WriteLibrary on a new file at path.
func WriteFile(path string, lib *Library) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := WriteLibrary(f, lib); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// cursor decodes little-endian fields and latches the first short read.
type cursor struct {
	b   []byte
	err error
}

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}

	if n > len(c.b) {
		c.err = fmt.Errorf("%w: need %d bytes, have %d", ErrCorruptedData, n, len(c.b))
		return nil
	}

	out := c.b[:n]
	c.b = c.b[n:]

	return out
}

func (c *cursor) u8() uint8 {
	if b := c.take(1); b != nil {
		return b[0]
	}

	return 0
}

func (c *cursor) u16() uint16 {
	if b := c.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}

	return 0
}

func (c *cursor) u32() uint32 {
	if b := c.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}

	return 0
}

func (c *cursor) u64() uint64 {
	if b := c.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}

	return 0
}

func (c *cursor) f64() float64 {
	return math.Float64frombits(c.u64())
}

func (c *cursor) str() string {
	return string(c.take(int(c.u16())))
}

func (c *cursor) sub(id string) []byte {
	hdr := c.take(SubChunkHeaderSize)
	if hdr == nil {
		return nil
	}

	if got := string(hdr[:4]); got != id {
		c.err = fmt.Errorf("%w: expected %q sub-chunk, got %q", ErrInvalidChunk, id, got)
		return nil
	}

	return c.take(int(binary.LittleEndian.Uint32(hdr[4:])))
}
