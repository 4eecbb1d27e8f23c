package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"wavefront/sim"
)

func newTestRunner(t *testing.T, cfg Config) *Runner {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p := sim.DefaultParams()
	p.Width, p.Height, p.Boundary.Width = 32, 32, 8

	s, err := sim.New(p, logger)
	if err != nil {
		t.Fatalf("sim.New: %v", err)
	}

	r, err := New(s, cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return r
}

func TestRunStopsAtMaxTicks(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, Config{TPS: 0, Steps: 7, MaxTicks: 50})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := r.Sim().Status().Tick; got != 50 {
		t.Errorf("tick: got %d, want 50", got)
	}

	// ceil(50 / 7)
	if got := r.Frames(); got != 8 {
		t.Errorf("frames: got %d, want 8", got)
	}
}

func TestFramePastTickLimit(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, Config{Steps: 4, MaxTicks: 10})

	// Steps issued outside the runner, e.g. a web step command while paused.
	r.Sim().StepN(12)
	r.frame()

	if got := r.Sim().Status().Tick; got != 12 {
		t.Errorf("tick: got %d, want 12", got)
	}

	if got := r.Frames(); got != 0 {
		t.Errorf("frames: got %d, want 0", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := r.Sim().Status().Tick; got != 12 {
		t.Errorf("tick after Run: got %d, want 12", got)
	}
}

func TestRunCancelledWhilePaused(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, Config{TPS: 0, Steps: 1, Paused: true})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := r.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run: got %v, want deadline exceeded", err)
	}

	if got := r.Sim().Status().Tick; got != 0 {
		t.Errorf("paused runner advanced to tick %d", got)
	}
}

func TestRunThrottled(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, Config{TPS: 200, Steps: 2, MaxTicks: 10})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Five frames at 5 ms each.
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("throttled run finished in %v", elapsed)
	}
}

func TestToggle(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, DefaultConfig())

	if !r.Running() {
		t.Fatal("runner must start running unless paused")
	}

	if r.Toggle() || r.Running() {
		t.Error("Toggle did not pause")
	}

	r.SetRunning(true)

	if !r.Running() {
		t.Error("SetRunning(true) had no effect")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	s, _ := sim.New(sim.DefaultParams(), nil)

	for _, cfg := range []Config{{TPS: -1, Steps: 1}, {TPS: 10, Steps: 0}} {
		if _, err := New(s, cfg, nil); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%+v: got %v", cfg, err)
		}
	}
}

func TestLevelsAndSpectrum(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, Config{Steps: 1})
	s := r.Sim()

	src := sim.NewSource(16, 16)
	src.Frequency = 5000

	if _, err := s.AddSource(src); err != nil {
		t.Fatalf("AddSource: %v", err)
	}

	mic, err := s.AddMicrophone(18, 16)
	if err != nil {
		t.Fatalf("AddMicrophone: %v", err)
	}

	s.StepN(512)

	levels := r.Levels()
	if len(levels) != 1 || levels[0].ID != mic {
		t.Fatalf("levels: got %+v", levels)
	}

	if levels[0].RMS <= 0 || levels[0].Peak < levels[0].RMS {
		t.Errorf("level: got %+v", levels[0])
	}

	bins, err := r.Spectrum(mic, 256)
	if err != nil {
		t.Fatalf("Spectrum: %v", err)
	}

	if len(bins) != 129 {
		t.Errorf("bins: got %d, want 129", len(bins))
	}

	if _, err := r.Spectrum(mic+100, 256); !errors.Is(err, sim.ErrNotFound) {
		t.Errorf("unknown microphone: got %v", err)
	}
}
