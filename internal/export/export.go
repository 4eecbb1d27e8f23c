// Package export writes simulation state to files: microphone records as
// CSV or recording libraries, frames as PNG and scenes as JSON.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"wavefront/pkg/reclib"
	"wavefront/render"
	"wavefront/sim"
)

// CSVHeader is the first row of every record file.
var CSVHeader = []string{"time", "pressure"}

// WriteCSV writes samples as "time,pressure" rows.
func WriteCSV(w io.Writer, samples []sim.Sample) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(CSVHeader); err != nil {
		return err
	}

	row := make([]string, 2)
	for _, s := range samples {
		row[0] = strconv.FormatFloat(s.Time, 'g', -1, 64)
		row[1] = strconv.FormatFloat(float64(s.Pressure), 'g', -1, 32)

		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}

// CSVName is the file name of a microphone's record.
func CSVName(id sim.ID) string {
	return fmt.Sprintf("mic_%d.csv", id)
}

// WriteCSVDir writes one record file per microphone into dir and returns
// the paths written.
func WriteCSVDir(dir string, s *sim.Simulation) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var paths []string

	for _, m := range s.Microphones() {
		rec, ok := s.MicrophoneRecord(m.ID)
		if !ok {
			continue
		}

		path := filepath.Join(dir, CSVName(m.ID))
		if err := writeFile(path, func(w io.Writer) error { return WriteCSV(w, rec) }); err != nil {
			return paths, err
		}

		paths = append(paths, path)
	}

	return paths, nil
}

// Library collects every microphone record into a recording library.
// Microphones without samples are skipped.
func Library(s *sim.Simulation, enc reclib.Encoding) *reclib.Library {
	lib := reclib.NewLibrary()
	st := s.Status()
	params := s.Params()

	for _, m := range s.Microphones() {
		rec, ok := s.MicrophoneRecord(m.ID)
		if !ok || len(rec) == 0 {
			continue
		}

		lib.Add(reclib.NewRecording(reclib.Metadata{
			Name:       fmt.Sprintf("mic-%d", m.ID),
			MicID:      uint64(m.ID),
			X:          m.X,
			Y:          m.Y,
			SampleRate: 1 / st.DeltaT,
			DeltaL:     params.DeltaL,
			StartTime:  rec[0].Time,
			Encoding:   enc,
			Tags:       []string{params.Boundary.Kind.String()},
		}, sim.Pressures(rec)))
	}

	return lib
}

// WriteLibrary writes Library(s, enc) to path and returns the number of
// recordings.
func WriteLibrary(path string, s *sim.Simulation, enc reclib.Encoding) (int, error) {
	lib := Library(s, enc)

	if err := reclib.WriteFile(path, lib); err != nil {
		return 0, err
	}

	return len(lib.Recordings), nil
}

// Snapshot renders the current frame to a PNG file.
func Snapshot(path string, s *sim.Simulation, opts render.Options) error {
	r, err := render.New(opts)
	if err != nil {
		return err
	}

	var f sim.Frame
	s.Frame(&f)

	return writeFile(path, func(w io.Writer) error { return r.WritePNG(w, &f) })
}

// SaveScene writes the simulation's scene to path.
func SaveScene(path string, s *sim.Simulation) error {
	return writeFile(path, func(w io.Writer) error { return sim.WriteScene(w, s.Scene()) })
}

// LoadScene reads a scene file.
func LoadScene(path string) (sim.Scene, error) {
	f, err := os.Open(path)
	if err != nil {
		return sim.Scene{}, err
	}
	defer f.Close()

	sc, err := sim.ReadScene(f)
	if err != nil {
		return sim.Scene{}, fmt.Errorf("%s: %w", path, err)
	}

	return sc, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}

	return f.Close()
}
