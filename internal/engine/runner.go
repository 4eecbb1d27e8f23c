// Package engine drives a simulation at a fixed frame rate and exposes the
// derived views (levels, spectra) shared by the terminal and web front ends.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"wavefront/dsp"
	"wavefront/sim"
)

// LevelWindow is the number of newest samples used for level metering.
const LevelWindow = 2048

// ErrInvalidConfig is returned by New for a negative rate or fewer than one
// step per frame.
var ErrInvalidConfig = errors.New("engine: invalid config")

// Config controls the scheduler.
type Config struct {
	// TPS is the number of frames per second; 0 runs unthrottled.
	TPS int
	// Steps is the number of simulation ticks per frame.
	Steps int
	// MaxTicks stops Run once the tick counter reaches it; 0 runs forever.
	MaxTicks uint64
	// Paused starts the runner without advancing the simulation.
	Paused bool
}

// DefaultConfig runs one tick per frame at 30 frames per second.
func DefaultConfig() Config {
	return Config{TPS: 30, Steps: 1}
}

// Runner owns the scheduling loop of one simulation.
type Runner struct {
	sim *sim.Simulation
	log *slog.Logger
	cfg Config

	running atomic.Bool
	frames  atomic.Uint64
}

// New returns a runner for s. A nil logger uses slog.Default().
func New(s *sim.Simulation, cfg Config, logger *slog.Logger) (*Runner, error) {
	if cfg.TPS < 0 || cfg.Steps < 1 {
		return nil, fmt.Errorf("%w: tps %d steps %d", ErrInvalidConfig, cfg.TPS, cfg.Steps)
	}

	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{sim: s, log: logger, cfg: cfg}
	r.running.Store(!cfg.Paused)

	return r, nil
}

// Sim returns the driven simulation.
func (r *Runner) Sim() *sim.Simulation {
	return r.sim
}

// Running reports whether frames advance the simulation.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// SetRunning starts or pauses the simulation.
func (r *Runner) SetRunning(on bool) {
	if r.running.Swap(on) != on {
		r.log.Info("Simulation running state changed", "running", on)
	}
}

// Toggle flips the running state and returns the new one.
func (r *Runner) Toggle() bool {
	for {
		old := r.running.Load()
		if r.running.CompareAndSwap(old, !old) {
			r.log.Info("Simulation running state changed", "running", !old)
			return !old
		}
	}
}

// Frames returns the number of frames executed so far.
func (r *Runner) Frames() uint64 {
	return r.frames.Load()
}

// Run executes frames until ctx is cancelled or MaxTicks is reached. It
// returns nil on reaching MaxTicks and ctx.Err() on cancellation.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("Runner started", "tps", r.cfg.TPS, "steps", r.cfg.Steps, "max_ticks", r.cfg.MaxTicks)

	var tick <-chan time.Time

	if r.cfg.TPS > 0 {
		t := time.NewTicker(time.Second / time.Duration(r.cfg.TPS))
		defer t.Stop()

		tick = t.C
	}

	idle := time.NewTicker(10 * time.Millisecond)
	defer idle.Stop()

	for {
		if r.done() {
			r.log.Info("Runner reached tick limit", "ticks", r.sim.Status().Tick)
			return nil
		}

		switch {
		case tick != nil:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		case !r.Running():
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-idle.C:
			}

			continue
		default:
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		r.frame()
	}
}

func (r *Runner) done() bool {
	return r.cfg.MaxTicks > 0 && r.sim.Status().Tick >= r.cfg.MaxTicks
}

func (r *Runner) frame() {
	if !r.Running() {
		return
	}

	n := r.cfg.Steps

	if r.cfg.MaxTicks > 0 {
		tick := r.sim.Status().Tick
		if tick >= r.cfg.MaxTicks {
			return
		}

		n = int(min(uint64(n), r.cfg.MaxTicks-tick))
	}

	r.sim.StepN(n)
	r.frames.Add(1)
}

// Level is the current loudness at one microphone.
type Level struct {
	ID   sim.ID  `json:"id"`
	RMS  float64 `json:"rms"`
	Peak float64 `json:"peak"`
	DB   float64 `json:"db"`
}

// Levels meters the newest LevelWindow samples of every microphone. dB is
// relative to a pressure of 1.
func (r *Runner) Levels() []Level {
	mics := r.sim.Microphones()
	out := make([]Level, 0, len(mics))

	for _, m := range mics {
		rec, ok := r.sim.MicrophoneLast(m.ID, LevelWindow)
		if !ok {
			continue
		}

		p := sim.Pressures(rec)
		rms := dsp.RMS(p)

		out = append(out, Level{ID: m.ID, RMS: rms, Peak: dsp.Peak(p), DB: dsp.LinToDB(rms, 1)})
	}

	return out
}

// Spectrum analyses the newest size samples of a microphone at the
// simulation rate.
func (r *Runner) Spectrum(id sim.ID, size int) ([]dsp.Bin, error) {
	rec, ok := r.sim.MicrophoneLast(id, size)
	if !ok {
		return nil, fmt.Errorf("%w: microphone %d", sim.ErrNotFound, id)
	}

	return dsp.Spectrum(sim.Pressures(rec), 1/r.sim.Status().DeltaT, size)
}
