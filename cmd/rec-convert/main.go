// Command rec-convert lists and exports microphone recording libraries.
//
// Usage:
//
//	rec-convert [options] <library.tlmrec>
//
// Without an export option the library index is listed. Options:
//
//	-csv dir       Write time,pressure CSV files
//	-audio dir     Write audio files (see -format)
//	-format        Audio container: wav or aiff
//	-rate          Resample exports to this rate (CSV default: native, audio default: 48000)
//	-ir file       Convolve audio exports with an impulse response (wav or aiff)
//	-normalize     Normalize audio exports to -1.0dB peak
//	-mic / -name   Select a single recording
//	-verbose       Show progress and details
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"wavefront/dsp"
	"wavefront/internal/audiofile"
	"wavefront/internal/export"
	"wavefront/pkg/reclib"
	"wavefront/pkg/resampler"
	"wavefront/sim"
)

const defaultAudioRate = 48000

var (
	errUsage       = errors.New("usage")
	errNoRecording = errors.New("no recordings selected")
)

type options struct {
	csvDir    string
	audioDir  string
	format    string
	rate      float64
	irPath    string
	normalize bool
	mic       int64
	name      string
	verbose   bool
}

func main() {
	err := run(os.Args[1:], os.Stdout, os.Stderr)

	switch {
	case err == nil:
	case errors.Is(err, flag.ErrHelp):
	case errors.Is(err, errUsage):
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	var opts options

	fs := flag.NewFlagSet("rec-convert", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.csvDir, "csv", "", "Write time,pressure CSV files to this directory")
	fs.StringVar(&opts.audioDir, "audio", "", "Write audio files to this directory")
	fs.StringVar(&opts.format, "format", "wav", "Audio container: wav or aiff")
	fs.Float64Var(&opts.rate, "rate", 0, "Resample exports to this rate (0: native for CSV, 48000 for audio)")
	fs.StringVar(&opts.irPath, "ir", "", "Convolve audio exports with this impulse response")
	fs.BoolVar(&opts.normalize, "normalize", false, "Normalize audio peak amplitude to -1.0dB")
	fs.Int64Var(&opts.mic, "mic", -1, "Export only the recording of this microphone id")
	fs.StringVar(&opts.name, "name", "", "Export only the recording with this name")
	fs.BoolVar(&opts.verbose, "verbose", false, "Show progress and details")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: rec-convert [options] <library%s>\n\n", reclib.Extension)
		fmt.Fprintf(stderr, "Lists or exports the microphone recordings of a library.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  rec-convert run.tlmrec\n")
		fmt.Fprintf(stderr, "  rec-convert -csv out run.tlmrec\n")
		fmt.Fprintf(stderr, "  rec-convert -audio out -ir hall.aif -normalize run.tlmrec\n")
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}

	lib, err := reclib.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	if opts.csvDir == "" && opts.audioDir == "" {
		list(stdout, lib)
		return nil
	}

	recs, err := selectRecordings(lib, opts)
	if err != nil {
		return err
	}

	if opts.csvDir != "" {
		if err := writeCSVs(stdout, recs, opts); err != nil {
			return err
		}
	}

	if opts.audioDir != "" {
		if err := writeAudio(stdout, recs, opts); err != nil {
			return err
		}
	}

	return nil
}

func list(w io.Writer, lib *reclib.Library) {
	fmt.Fprintf(w, "%d recordings:\n\n", len(lib.Recordings))

	for i, rec := range lib.Recordings {
		m := rec.Meta
		fmt.Fprintf(w, "  %3d: %-16s mic %-4d at (%d, %d)  %.0f Hz  %s  %d samples (%.3f ms)\n",
			i, m.Name, m.MicID, m.X, m.Y, m.SampleRate, m.Encoding, m.Length, rec.Duration()*1e3)
	}
}

func selectRecordings(lib *reclib.Library, opts options) ([]*reclib.Recording, error) {
	var out []*reclib.Recording

	for _, rec := range lib.Recordings {
		if opts.mic >= 0 && rec.Meta.MicID != uint64(opts.mic) {
			continue
		}

		if opts.name != "" && rec.Meta.Name != opts.name {
			continue
		}

		out = append(out, rec)
	}

	if len(out) == 0 {
		return nil, errNoRecording
	}

	return out, nil
}

// resampled returns the recording's samples at rate, or at the native rate
// when rate is 0, along with the rate used.
func resampled(rec *reclib.Recording, rate float64) ([]float32, float64, error) {
	if rate == 0 || rate == rec.Meta.SampleRate {
		return rec.Samples, rec.Meta.SampleRate, nil
	}

	out, err := resampler.New().Resample(rec.Samples, rec.Meta.SampleRate, rate)
	if err != nil {
		return nil, 0, err
	}

	return out, rate, nil
}

func writeCSVs(stdout io.Writer, recs []*reclib.Recording, opts options) error {
	if err := os.MkdirAll(opts.csvDir, 0o755); err != nil {
		return err
	}

	for _, rec := range recs {
		samples, rate, err := resampled(rec, opts.rate)
		if err != nil {
			return fmt.Errorf("%s: %w", rec.Meta.Name, err)
		}

		rows := make([]sim.Sample, len(samples))
		for i, p := range samples {
			rows[i] = sim.Sample{Time: rec.Meta.StartTime + float64(i)/rate, Pressure: p}
		}

		path := filepath.Join(opts.csvDir, export.CSVName(sim.ID(rec.Meta.MicID)))

		f, err := os.Create(path)
		if err != nil {
			return err
		}

		err = export.WriteCSV(f, rows)
		if cerr := f.Close(); err == nil {
			err = cerr
		}

		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		if opts.verbose {
			fmt.Fprintf(stdout, "  %s: %d rows at %.0f Hz\n", path, len(rows), rate)
		}
	}

	fmt.Fprintf(stdout, "Wrote %d CSV files to %s\n", len(recs), opts.csvDir)

	return nil
}

func writeAudio(stdout io.Writer, recs []*reclib.Recording, opts options) error {
	ext := "." + strings.ToLower(opts.format)
	if audiofile.FormatOf("x"+ext) == audiofile.FormatUnknown {
		return fmt.Errorf("%w: %s", audiofile.ErrUnknownFormat, opts.format)
	}

	rate := opts.rate
	if rate == 0 {
		rate = defaultAudioRate
	}

	var ir []float32

	if opts.irPath != "" {
		var err error
		if ir, err = audiofile.Load(opts.irPath, rate); err != nil {
			return fmt.Errorf("impulse response: %w", err)
		}

		if opts.verbose {
			fmt.Fprintf(stdout, "Impulse response %s: %d samples at %.0f Hz\n", opts.irPath, len(ir), rate)
		}
	}

	if err := os.MkdirAll(opts.audioDir, 0o755); err != nil {
		return err
	}

	for _, rec := range recs {
		samples, _, err := resampled(rec, rate)
		if err != nil {
			return fmt.Errorf("%s: %w", rec.Meta.Name, err)
		}

		if ir != nil {
			if samples, err = dsp.Convolve(samples, ir, dsp.DefaultBlockSize); err != nil {
				return fmt.Errorf("%s: %w", rec.Meta.Name, err)
			}
		}

		if opts.normalize {
			// Target peak at -1.0dB
			gain := dsp.Normalize(samples, math.Pow(10, -1.0/20.0))

			if opts.verbose {
				fmt.Fprintf(stdout, "  %s: gain %.2f dB\n", rec.Meta.Name, dsp.LinToDB(gain, 1))
			}
		}

		path := filepath.Join(opts.audioDir, fileStem(rec)+ext)
		if err := audiofile.Save(path, samples, rate); err != nil {
			return err
		}

		if opts.verbose {
			fmt.Fprintf(stdout, "  %s: %d samples at %.0f Hz\n", path, len(samples), rate)
		}
	}

	fmt.Fprintf(stdout, "Wrote %d audio files to %s\n", len(recs), opts.audioDir)

	return nil
}

func fileStem(rec *reclib.Recording) string {
	if rec.Meta.Name == "" {
		return fmt.Sprintf("mic-%d", rec.Meta.MicID)
	}

	return rec.Meta.Name
}
