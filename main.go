// Command wavefront runs a 2D transmission-line-matrix acoustic simulation
// with a terminal monitor, an optional web UI and file exports on exit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"wavefront/internal/audiofile"
	"wavefront/internal/engine"
	"wavefront/internal/export"
	"wavefront/pkg/reclib"
	"wavefront/render"
	"wavefront/sim"
	"wavefront/web"
)

// oneWayEpsilon is the -att-param used for the oneway kind when none is given.
const oneWayEpsilon = 0.001

type config struct {
	params sim.Params
	// set holds the flags given explicitly; they override a loaded scene.
	set map[string]bool

	scene     string
	saveScene string

	ticks uint64
	tps   int
	steps int
	plot  bool
	pause bool

	web    bool
	port   int
	open   bool
	noTUI  bool
	render render.Options

	recordOut string
	recordF16 bool
	csvDir    string
	snapshot  string

	logFile string
}

func (c *config) headless() bool {
	return c.noTUI || c.ticks > 0
}

func parseFlags(args []string, stderr io.Writer) (*config, error) {
	cfg := &config{params: sim.DefaultParams(), set: make(map[string]bool)}
	p := &cfg.params

	fs := flag.NewFlagSet("wavefront", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.IntVar(&p.Width, "width", p.Width, "Simulation region width in cells")
	fs.IntVar(&p.Height, "height", p.Height, "Simulation region height in cells")
	fs.IntVar(&p.Boundary.Width, "boundary", p.Boundary.Width, "Absorbing boundary ring width in cells")
	attenuation := fs.String("attenuation", p.Boundary.Kind.String(), "Boundary attenuation (power, linear, oneway, legacy, block)")
	fs.Float64Var(&p.Boundary.Param, "att-param", p.Boundary.Param, "Attenuation parameter (power order, or oneway epsilon)")
	fs.Float64Var(&p.DeltaL, "delta-l", p.DeltaL, "Cell size in metres")
	fs.IntVar(&p.MicHistory, "mic-history", p.MicHistory, "Samples retained per microphone")
	fs.Uint64Var(&p.Seed, "seed", uint64(time.Now().UnixNano()), "Noise source seed")

	fs.StringVar(&cfg.scene, "scene", "", "Scene JSON to load")
	fs.StringVar(&cfg.saveScene, "save-scene", "", "Write the scene JSON here on exit")

	fs.Uint64Var(&cfg.ticks, "ticks", 0, "Run N ticks headless as fast as possible, then exit")
	fs.IntVar(&cfg.tps, "tps", 30, "Frames per second")
	fs.IntVar(&cfg.steps, "steps", 1, "Ticks per frame")
	fs.BoolVar(&cfg.plot, "plot", true, "Record microphone samples")
	fs.BoolVar(&cfg.pause, "pause", false, "Start paused")

	fs.BoolVar(&cfg.web, "web", false, "Enable the web UI")
	fs.IntVar(&cfg.port, "port", 8080, "Web server port")
	fs.BoolVar(&cfg.open, "open", false, "Open the web UI in a browser")
	fs.BoolVar(&cfg.noTUI, "no-tui", false, "Disable the interactive TUI")
	gradient := fs.String("gradient", render.DefaultOptions().Gradient.String(), "Frame colour gradient (hue, diverging, gray)")
	pressureRange := fs.Float64("range", float64(render.DefaultOptions().Range), "Pressure mapped to the gradient ends")

	fs.StringVar(&cfg.recordOut, "record-out", "", "Write microphone records to this "+reclib.Extension+" library on exit")
	fs.BoolVar(&cfg.recordF16, "record-f16", true, "Store library samples as half precision")
	fs.StringVar(&cfg.csvDir, "csv-dir", "", "Write mic_<id>.csv files to this directory on exit")
	fs.StringVar(&cfg.snapshot, "snapshot", "", "Write a PNG of the final pressure field")

	fs.StringVar(&cfg.logFile, "log", "wavefront.log", "Log file path")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: wavefront [options]\n\n")
		fmt.Fprintf(stderr, "2D TLM acoustic wave simulation.\n\n")
		fmt.Fprintf(stderr, "Examples:\n")
		fmt.Fprintf(stderr, "  wavefront -scene room.json -web -open\n")
		fmt.Fprintf(stderr, "  wavefront -scene room.json -ticks 20000 -csv-dir out -snapshot out/field.png\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	fs.Visit(func(f *flag.Flag) { cfg.set[f.Name] = true })

	kind, err := sim.ParseAttenuation(*attenuation)
	if err != nil {
		return nil, err
	}

	p.Boundary.Kind = kind
	if kind == sim.AttenuationOneWay && !cfg.set["att-param"] {
		p.Boundary.Param = oneWayEpsilon
	}

	cfg.render = render.DefaultOptions()
	if cfg.render.Gradient, err = render.ParseGradient(*gradient); err != nil {
		return nil, err
	}

	cfg.render.Range = float32(*pressureRange)
	if _, err := render.New(cfg.render); err != nil {
		return nil, err
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	// Setup logging
	file, err := os.OpenFile(cfg.logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	logger := slog.New(slog.NewTextHandler(file, nil))
	slog.SetDefault(logger)
	slog.Info("Starting wavefront", "args", os.Args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdout); err != nil {
		slog.Error("Run failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup builds the simulation described by cfg.
func setup(cfg *config, logger *slog.Logger) (*sim.Simulation, error) {
	s, err := sim.New(cfg.params, logger)
	if err != nil {
		return nil, err
	}

	s.SetSampleLoader(audiofile.NewLoader(logger).Load)

	if cfg.scene == "" {
		if err := addDefaultScene(s); err != nil {
			return nil, err
		}
	} else {
		sc, err := export.LoadScene(cfg.scene)
		if err != nil {
			return nil, err
		}

		if err := s.LoadScene(sc); err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.scene, err)
		}

		logger.Info("Scene loaded", "path", cfg.scene,
			"sources", len(sc.Sources), "microphones", len(sc.Microphones),
			"walls", len(sc.RectWalls)+len(sc.CircWalls))

		if err := applyOverrides(s, cfg); err != nil {
			return nil, err
		}
	}

	s.SetPlotting(cfg.plot)

	return s, nil
}

// addDefaultScene places a 1 kHz source in the centre and a microphone
// halfway between it and the right edge.
func addDefaultScene(s *sim.Simulation) error {
	l := s.Layout()
	cx, cy := l.Width/2, l.Height/2

	if _, err := s.AddSource(sim.NewSource(cx, cy)); err != nil {
		return err
	}

	_, err := s.AddMicrophone(cx+(l.Width-cx)/2, cy)

	return err
}

// applyOverrides applies explicitly set flags on top of a loaded scene.
func applyOverrides(s *sim.Simulation, cfg *config) error {
	p := s.Params()
	want := cfg.params

	if cfg.set["width"] || cfg.set["height"] || cfg.set["boundary"] {
		w, h, b := p.Width, p.Height, p.Boundary.Width
		if cfg.set["width"] {
			w = want.Width
		}

		if cfg.set["height"] {
			h = want.Height
		}

		if cfg.set["boundary"] {
			b = want.Boundary.Width
		}

		if err := s.Resize(w, h, b); err != nil {
			return err
		}
	}

	if cfg.set["attenuation"] || cfg.set["att-param"] {
		bc := s.Params().Boundary
		if cfg.set["attenuation"] {
			bc.Kind = want.Boundary.Kind
			bc.Param = want.Boundary.Param
		}

		if cfg.set["att-param"] {
			bc.Param = want.Boundary.Param
		}

		if err := s.RebuildBoundaryCache(bc); err != nil {
			return err
		}
	}

	if cfg.set["delta-l"] {
		return s.SetDeltaL(want.DeltaL)
	}

	return nil
}

func run(ctx context.Context, cfg *config, logger *slog.Logger, stdout io.Writer) error {
	s, err := setup(cfg, logger)
	if err != nil {
		return err
	}

	ecfg := engine.Config{TPS: cfg.tps, Steps: cfg.steps, Paused: cfg.pause}
	if cfg.ticks > 0 {
		// Batch runs take larger frames; MaxTicks still stops on the exact tick.
		ecfg = engine.Config{TPS: 0, Steps: max(cfg.steps, 64), MaxTicks: cfg.ticks}
	}

	runner, err := engine.New(s, ecfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.web {
		srv := web.NewServer(runner, cfg.port, cfg.render, logger)

		g.Go(func() error { return srv.Start(ctx) })

		fmt.Fprintf(stdout, "Web UI available at %s\n", srv.URL())

		if cfg.open {
			go func() {
				time.Sleep(200 * time.Millisecond) // Give server time to start
				if err := web.OpenBrowser(srv.URL()); err != nil {
					slog.Error("Failed to open browser", "error", err)
				}
			}()
		}
	}

	g.Go(func() error {
		err := runner.Run(ctx)
		if err == nil {
			// Tick limit reached.
			cancel()
		}

		return err
	})

	if cfg.headless() {
		fmt.Fprintln(stdout, "Running headless. Log file:", cfg.logFile)
	} else {
		if err := runTUI(ctx, runner); err != nil {
			cancel()
			_ = g.Wait()

			return err
		}

		cancel()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	st := s.Status()
	logger.Info("Simulation stopped", "tick", st.Tick, "time", st.Time)
	fmt.Fprintf(stdout, "Stopped at tick %d (t = %.6f s)\n", st.Tick, st.Time)

	if levels := runner.Levels(); len(levels) > 0 {
		fmt.Fprintf(stdout, "Levels: %s\n", levelSummary(levels))
	}

	return exportResults(cfg, s, stdout)
}

// exportResults writes the files requested by the export flags.
func exportResults(cfg *config, s *sim.Simulation, stdout io.Writer) error {
	var errs []error

	if cfg.recordOut != "" {
		enc := reclib.EncodingF32
		if cfg.recordF16 {
			enc = reclib.EncodingF16
		}

		n, err := export.WriteLibrary(cfg.recordOut, s, enc)
		if err == nil {
			fmt.Fprintf(stdout, "Wrote %d recordings to %s\n", n, cfg.recordOut)
		}

		errs = append(errs, err)
	}

	if cfg.csvDir != "" {
		paths, err := export.WriteCSVDir(cfg.csvDir, s)
		if err == nil {
			fmt.Fprintf(stdout, "Wrote %d CSV files to %s\n", len(paths), cfg.csvDir)
		}

		errs = append(errs, err)
	}

	if cfg.snapshot != "" {
		err := export.Snapshot(cfg.snapshot, s, cfg.render)
		if err == nil {
			fmt.Fprintf(stdout, "Wrote snapshot %s\n", cfg.snapshot)
		}

		errs = append(errs, err)
	}

	if cfg.saveScene != "" {
		err := export.SaveScene(cfg.saveScene, s)
		if err == nil {
			fmt.Fprintf(stdout, "Wrote scene %s\n", cfg.saveScene)
		}

		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
