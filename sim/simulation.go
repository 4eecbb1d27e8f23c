package sim

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"
)

// Params are the global simulation parameters.
type Params struct {
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	DeltaL     float64        `json:"delta_l"`
	Boundary   BoundaryConfig `json:"boundary"`
	MicHistory int            `json:"mic_history"`

	// Workers bounds the goroutines per grid pass; <= 0 uses GOMAXPROCS.
	Workers int `json:"-"`
	// Seed feeds the noise generator.
	Seed uint64 `json:"-"`
}

// DefaultParams returns a 400x400 region with a 50 cell power-law ring
// and 1 mm cells.
func DefaultParams() Params {
	return Params{
		Width:      DefaultWidth,
		Height:     DefaultHeight,
		DeltaL:     DefaultDeltaL,
		Boundary:   DefaultBoundaryConfig(),
		MicHistory: DefaultMicHistory,
	}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, p.Width, p.Height)
	}

	if !(p.DeltaL > 0) || math.IsInf(p.DeltaL, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidDeltaL, p.DeltaL)
	}

	if p.MicHistory < 0 {
		return fmt.Errorf("%w: negative microphone history %d", ErrInvalidDimensions, p.MicHistory)
	}

	return p.Boundary.Validate()
}

// Layout returns the padded grid geometry of p.
func (p Params) Layout() Layout {
	return Layout{Width: p.Width, Height: p.Height, Boundary: p.Boundary.Width}
}

// SampleLoader loads mono audio from path resampled to rate samples per second.
type SampleLoader func(path string, rate float64) ([]float32, error)

// Status is a snapshot of the simulation counters.
type Status struct {
	Tick        uint64  `json:"tick"`
	Time        float64 `json:"time"`
	DeltaT      float64 `json:"delta_t"`
	Plotting    bool    `json:"plotting"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Boundary    int     `json:"boundary"`
	Sources     int     `json:"sources"`
	Microphones int     `json:"microphones"`
	Walls       int     `json:"walls"`
}

// MicrophoneInfo describes a microphone without its samples.
type MicrophoneInfo struct {
	ID      ID     `json:"id"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Samples int    `json:"samples,omitempty"`
	Dropped uint64 `json:"dropped,omitempty"`
}

// Frame is a copy of the fields a renderer needs, in padded layout.
type Frame struct {
	Layout   Layout
	Tick     uint64
	Time     float64
	Pressure []float32
	Walls    []WallCell
}

// Simulation owns a Grid and the entities acting on it. One goroutine
// drives Step; any number may read concurrently.
type Simulation struct {
	mu  sync.RWMutex
	log *slog.Logger

	params Params
	grid   *Grid
	deltaT float64
	tick   uint64
	time   float64
	rng    *rand.Rand

	plotting   bool
	wallsDirty bool

	ids     IDAllocator
	sources []Source
	mics    []*Microphone
	rects   []RectWall
	circs   []CircWall

	loader SampleLoader
}

// New creates an empty simulation. A nil logger uses slog.Default().
func New(params Params, logger *slog.Logger) (*Simulation, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}

	grid, err := newConfiguredGrid(params)
	if err != nil {
		return nil, err
	}

	s := &Simulation{
		log:      logger,
		params:   params,
		grid:     grid,
		deltaT:   DeltaT(params.DeltaL),
		rng:      rand.New(rand.NewPCG(params.Seed, params.Seed^0x9e3779b97f4a7c15)),
		plotting: true,
	}

	logger.Info("simulation created",
		"width", params.Width,
		"height", params.Height,
		"boundary", params.Boundary.Width,
		"attenuation", params.Boundary.Kind.String(),
		"delta_t", s.deltaT)

	return s, nil
}

func newConfiguredGrid(p Params) (*Grid, error) {
	grid, err := NewGrid(p.Layout(), p.Workers)
	if err != nil {
		return nil, err
	}

	if err := grid.CacheBoundaries(p.Boundary); err != nil {
		return nil, err
	}

	return grid, nil
}

// SetSampleLoader installs the loader used for samples sources in scenes.
func (s *Simulation) SetSampleLoader(loader SampleLoader) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loader = loader
}

// Step runs one tick when running is true.
func (s *Simulation) Step(running bool) {
	if !running {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.step()
}

// StepN runs n ticks under a single lock.
func (s *Simulation) StepN(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for range n {
		s.step()
	}
}

func (s *Simulation) step() {
	if s.wallsDirty {
		s.rebuildWalls()
	}

	s.grid.Calc()
	s.applySources()

	if s.plotting {
		s.applyMicrophones()
	}

	s.grid.Advance()
	s.tick++
	s.time = float64(s.tick) * s.deltaT
}

// applySources adds every source's value to its cell. Co-located sources
// superpose.
func (s *Simulation) applySources() {
	for i := range s.sources {
		src := &s.sources[i]
		s.grid.Inject(src.X, src.Y, src.Value(s.time, s.tick, s.rng))
	}
}

func (s *Simulation) applyMicrophones() {
	for _, m := range s.mics {
		m.push(Sample{Time: s.time, Pressure: s.grid.Pressure(m.X, m.Y)})
	}
}

// RebuildWalls rebuilds the wall cache immediately.
func (s *Simulation) RebuildWalls() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rebuildWalls()
}

func (s *Simulation) rebuildWalls() {
	start := time.Now()

	s.grid.RebuildWalls(s.rects, s.circs)
	s.wallsDirty = false

	s.log.Debug("wall cache rebuilt",
		"rects", len(s.rects),
		"circles", len(s.circs),
		"elapsed", time.Since(start))
}

// RebuildBoundaryCache applies a new boundary configuration. A width
// change reallocates the grid and discards the wave state.
func (s *Simulation) RebuildBoundaryCache(cfg BoundaryConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.Width != s.params.Boundary.Width {
		p := s.params
		p.Boundary = cfg

		return s.resize(p)
	}

	if err := s.grid.CacheBoundaries(cfg); err != nil {
		return err
	}

	s.params.Boundary = cfg
	s.log.Info("boundary cache rebuilt", "width", cfg.Width, "attenuation", cfg.Kind.String(), "param", cfg.Param)

	return nil
}

// Resize reallocates the grid. Wave state, time and microphone records
// are discarded. Sources, microphones and circles outside the new region
// are removed and rectangles are clipped to it.
func (s *Simulation) Resize(width, height, boundary int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.params
	p.Width = width
	p.Height = height
	p.Boundary.Width = boundary

	if err := p.Validate(); err != nil {
		return err
	}

	return s.resize(p)
}

func (s *Simulation) resize(p Params) error {
	grid, err := newConfiguredGrid(p)
	if err != nil {
		return err
	}

	layout := p.Layout()

	s.sources = slices.DeleteFunc(s.sources, func(src Source) bool {
		if layout.InSim(src.X, src.Y) {
			return false
		}

		s.log.Warn("source removed by resize", "id", src.ID, "x", src.X, "y", src.Y)

		return true
	})

	s.mics = slices.DeleteFunc(s.mics, func(m *Microphone) bool {
		if layout.InSim(m.X, m.Y) {
			return false
		}

		s.log.Warn("microphone removed by resize", "id", m.ID, "x", m.X, "y", m.Y)

		return true
	})

	s.rects = clipRects(s.rects, layout, s.log)

	s.circs = slices.DeleteFunc(s.circs, func(w CircWall) bool {
		if layout.InSim(w.Center.X, w.Center.Y) {
			return false
		}

		s.log.Warn("wall removed by resize", "id", w.ID, "center", w.Center)

		return true
	})

	s.params = p
	s.grid = grid
	s.resetCounters()
	s.rebuildWalls()

	s.log.Info("grid resized", "width", p.Width, "height", p.Height, "boundary", p.Boundary.Width)

	return nil
}

// clipRects clamps rectangles to the region of l and drops those left
// without any cell inside it.
func clipRects(rects []RectWall, l Layout, log *slog.Logger) []RectWall {
	out := rects[:0]

	for _, w := range rects {
		clipped := w
		clipped.Max.X = min(w.Max.X, l.Width-1)
		clipped.Max.Y = min(w.Max.Y, l.Height-1)

		if clipped.Deletable() {
			log.Warn("wall removed by resize", "id", w.ID, "min", w.Min, "max", w.Max)
			continue
		}

		if clipped != w {
			log.Warn("wall clipped by resize", "id", w.ID, "max", clipped.Max)
		}

		out = append(out, clipped)
	}

	clear(rects[len(out):])

	return out
}

// Reset zeroes the wave state, the clock and all microphone records.
func (s *Simulation) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.grid.Reset()
	s.resetCounters()
}

func (s *Simulation) resetCounters() {
	s.tick = 0
	s.time = 0

	for _, m := range s.mics {
		m.Clear()
	}
}

// SetDeltaL changes the spatial step and resets the simulation. Samples
// sources are reloaded at the new rate when a loader is installed; if any
// reload fails nothing changes.
func (s *Simulation) SetDeltaL(deltaL float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.params
	p.DeltaL = deltaL

	if err := p.Validate(); err != nil {
		return err
	}

	deltaT := DeltaT(deltaL)

	sources := slices.Clone(s.sources)
	for i := range sources {
		if err := s.loadSamples(&sources[i], deltaT); err != nil {
			return err
		}
	}

	s.params = p
	s.deltaT = deltaT
	s.sources = sources
	s.grid.Reset()
	s.resetCounters()

	return nil
}

func (s *Simulation) loadSamples(src *Source, deltaT float64) error {
	if src.Wave != WaveSamples || src.SampleFile == "" {
		return nil
	}

	if s.loader == nil {
		if len(src.samples) > 0 {
			return nil
		}

		return fmt.Errorf("%w: no loader for %q", ErrInvalidSource, src.SampleFile)
	}

	samples, err := s.loader(src.SampleFile, 1/deltaT)
	if err != nil {
		return fmt.Errorf("load samples %q: %w", src.SampleFile, err)
	}

	src.samples = samples

	return nil
}

// SetPlotting enables or disables microphone sampling.
func (s *Simulation) SetPlotting(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.plotting = on
}

// Plotting reports whether microphones are sampled.
func (s *Simulation) Plotting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.plotting
}

// Params returns the current parameters.
func (s *Simulation) Params() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.params
}

// Layout returns the current padded layout.
func (s *Simulation) Layout() Layout {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.grid.Layout()
}

// Status returns the current counters.
func (s *Simulation) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		Tick:        s.tick,
		Time:        s.time,
		DeltaT:      s.deltaT,
		Plotting:    s.plotting,
		Width:       s.params.Width,
		Height:      s.params.Height,
		Boundary:    s.params.Boundary.Width,
		Sources:     len(s.sources),
		Microphones: len(s.mics),
		Walls:       len(s.rects) + len(s.circs),
	}
}

// Pressure returns the pressure at simulation coordinates. The caller
// must pass coordinates inside the padded grid.
func (s *Simulation) Pressure(x, y int) float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.grid.Pressure(x, y)
}

// Wall returns the wall cache entry at simulation coordinates. Edits
// made since the last step are not visible until the next step or an
// explicit RebuildWalls.
func (s *Simulation) Wall(x, y int) WallCell {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.grid.Wall(x, y)
}

// Energy returns the pulse energy of the current generation.
func (s *Simulation) Energy() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.grid.Energy()
}

// Frame copies the pressure field and wall cache into f, reusing its buffers.
func (s *Simulation) Frame(f *Frame) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f.Layout = s.grid.Layout()
	f.Tick = s.tick
	f.Time = s.time
	f.Pressure = s.grid.CopyPressure(f.Pressure)
	f.Walls = s.grid.CopyWalls(f.Walls)
}
