// Package reclib reads and writes recording libraries (.tlmrec).
//
// A recording library is a chunk-based binary container holding the pressure
// records of one or more microphones together with the simulation parameters
// they were taken under. Layout, all integers little-endian:
//
//	header  "TLMR" version:u16 count:u32 index_offset:u64
//	record  "REC-" size:u64 { "META" size:u32 ... } { "DATA" size:u32 ... }
//	index   "INDX" size:u64 entry*
//
// Samples are mono and stored either as f16 or as raw float32.
package reclib

import (
	"errors"
	"fmt"
)

const (
	MagicNumber = "TLMR"

	CurrentVersion uint16 = 1

	ChunkTypeRecord = "REC-"
	ChunkTypeIndex  = "INDX"
	ChunkTypeMeta   = "META"
	ChunkTypeData   = "DATA"

	// Extension is the conventional file suffix.
	Extension = ".tlmrec"
)

const (
	FileHeaderSize     = 18 // magic(4) + version(2) + count(4) + index offset(8)
	ChunkHeaderSize    = 12 // id(4) + size(8)
	SubChunkHeaderSize = 8  // id(4) + size(4)

	countField = 6 // count and index offset are patched together
)

var (
	ErrInvalidMagic       = errors.New("reclib: invalid magic number")
	ErrUnsupportedVersion = errors.New("reclib: unsupported format version")
	ErrInvalidChunk       = errors.New("reclib: invalid chunk")
	ErrCorruptedData      = errors.New("reclib: corrupted data")
	ErrNotFound           = errors.New("reclib: recording not found")
	ErrInvalidIndex       = errors.New("reclib: invalid recording index")
	ErrEncoding           = errors.New("reclib: unknown sample encoding")
	ErrWriterState        = errors.New("reclib: writer used out of order")
)

// Encoding selects the on-disk sample format.
type Encoding uint8

const (
	EncodingF16 Encoding = 1
	EncodingF32 Encoding = 2
)

func (e Encoding) String() string {
	switch e {
	case EncodingF16:
		return "f16"
	case EncodingF32:
		return "f32"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

// BytesPerSample returns the encoded width, 0 for unknown encodings.
func (e Encoding) BytesPerSample() int {
	switch e {
	case EncodingF16:
		return 2
	case EncodingF32:
		return 4
	default:
		return 0
	}
}

// Library is a collection of recordings.
type Library struct {
	Version    uint16
	Recordings []*Recording
}

func NewLibrary() *Library {
	return &Library{Version: CurrentVersion}
}

func (lib *Library) Add(rec *Recording) {
	lib.Recordings = append(lib.Recordings, rec)
}

// Recording is one microphone's pressure record with its metadata.
type Recording struct {
	Meta    Metadata
	Samples []float32
}

// NewRecording builds a recording and fills in its length.
func NewRecording(meta Metadata, samples []float32) *Recording {
	meta.Length = len(samples)

	return &Recording{Meta: meta, Samples: samples}
}

// Duration returns the recorded time span in seconds.
func (r *Recording) Duration() float64 {
	return duration(r.Meta.Length, r.Meta.SampleRate)
}

// Metadata describes where and how a recording was taken.
type Metadata struct {
	Name        string
	Description string
	MicID       uint64
	X, Y        int
	SampleRate  float64 // 1/Δt of the simulation
	DeltaL      float64 // cell size in metres
	StartTime   float64 // simulation time of the first sample
	Length      int
	Encoding    Encoding
	Tags        []string
}

// IndexEntry allows listing recordings without reading their samples.
type IndexEntry struct {
	Offset     uint64
	MicID      uint64
	SampleRate float64
	Length     int
	Encoding   Encoding
	Name       string
}

func (e *IndexEntry) Duration() float64 {
	return duration(e.Length, e.SampleRate)
}

func duration(n int, rate float64) float64 {
	if rate <= 0 {
		return 0
	}

	return float64(n) / rate
}
