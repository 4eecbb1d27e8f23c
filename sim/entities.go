package sim

import (
	"fmt"
	"math"
	"slices"
)

// AddSource validates src, assigns it a fresh id and adds it.
func (s *Simulation) AddSource(src Source) (ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadSamples(&src, s.deltaT); err != nil {
		return 0, err
	}

	if err := src.Validate(s.grid.Layout()); err != nil {
		return 0, err
	}

	src.ID = s.ids.Next()
	s.sources = append(s.sources, src)

	return src.ID, nil
}

// UpdateSource replaces the source with src.ID. Attached audio is kept
// when src carries none for the same file.
func (s *Simulation) UpdateSource(src Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.sources, func(o Source) bool { return o.ID == src.ID })
	if i < 0 {
		return fmt.Errorf("%w: source %d", ErrNotFound, src.ID)
	}

	if src.samples == nil && src.SampleFile == s.sources[i].SampleFile {
		src.samples = s.sources[i].samples
	} else if err := s.loadSamples(&src, s.deltaT); err != nil {
		return err
	}

	if err := src.Validate(s.grid.Layout()); err != nil {
		return err
	}

	s.sources[i] = src

	return nil
}

// RemoveSource removes a source and reports whether it existed.
func (s *Simulation) RemoveSource(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.sources)
	s.sources = slices.DeleteFunc(s.sources, func(o Source) bool { return o.ID == id })

	return len(s.sources) != n
}

// Sources returns a copy of the live sources.
func (s *Simulation) Sources() []Source {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.sources)
}

// AddMicrophone places a microphone at simulation coordinates.
func (s *Simulation) AddMicrophone(x, y int) (ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.grid.Layout().InSim(x, y) {
		return 0, fmt.Errorf("%w: microphone at (%d, %d)", ErrOutOfBounds, x, y)
	}

	m := NewMicrophone(s.ids.Next(), x, y, s.params.MicHistory)
	s.mics = append(s.mics, m)

	return m.ID, nil
}

// MoveMicrophone moves a microphone and clears its record.
func (s *Simulation) MoveMicrophone(id ID, x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.microphone(id)
	if m == nil {
		return fmt.Errorf("%w: microphone %d", ErrNotFound, id)
	}

	if !s.grid.Layout().InSim(x, y) {
		return fmt.Errorf("%w: microphone at (%d, %d)", ErrOutOfBounds, x, y)
	}

	m.X, m.Y = x, y
	m.Clear()

	return nil
}

// RemoveMicrophone removes a microphone and reports whether it existed.
func (s *Simulation) RemoveMicrophone(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.mics)
	s.mics = slices.DeleteFunc(s.mics, func(m *Microphone) bool { return m.ID == id })

	return len(s.mics) != n
}

// MicrophoneRecord returns a copy of a microphone's retained samples.
func (s *Simulation) MicrophoneRecord(id ID) ([]Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.microphone(id)
	if m == nil {
		return nil, false
	}

	return m.Record(), true
}

// MicrophoneLast returns a copy of a microphone's newest n samples.
func (s *Simulation) MicrophoneLast(id ID, n int) ([]Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.microphone(id)
	if m == nil {
		return nil, false
	}

	return m.Last(n), true
}

// ClearMicrophoneRecords empties every microphone record.
func (s *Simulation) ClearMicrophoneRecords() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.mics {
		m.Clear()
	}
}

// Microphones describes the live microphones in insertion order.
func (s *Simulation) Microphones() []MicrophoneInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]MicrophoneInfo, len(s.mics))
	for i, m := range s.mics {
		out[i] = MicrophoneInfo{ID: m.ID, X: m.X, Y: m.Y, Samples: m.Len(), Dropped: m.Dropped()}
	}

	return out
}

func (s *Simulation) microphone(id ID) *Microphone {
	for _, m := range s.mics {
		if m.ID == id {
			return m
		}
	}

	return nil
}

// AddRectWall validates w, assigns it a fresh id and schedules a wall rebuild.
// The corners may be given in any order.
func (s *Simulation) AddRectWall(w RectWall) (ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w.Min, w.Max = NormalizeRect(w.Min, w.Max)
	if err := validateRect(s.grid.Layout(), w); err != nil {
		return 0, err
	}

	w.ID = s.ids.Next()
	s.rects = append(s.rects, w)
	s.wallsDirty = true

	return w.ID, nil
}

// AddCircWall validates w, assigns it a fresh id and schedules a wall rebuild.
func (s *Simulation) AddCircWall(w CircWall) (ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateCirc(s.grid.Layout(), w); err != nil {
		return 0, err
	}

	w.ID = s.ids.Next()
	s.circs = append(s.circs, w)
	s.wallsDirty = true

	return w.ID, nil
}

// UpdateRectWall replaces the rectangle with w.ID. A resize that
// collapses the wall deletes it; removed reports that case.
func (s *Simulation) UpdateRectWall(w RectWall) (removed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.rects, func(o RectWall) bool { return o.ID == w.ID })
	if i < 0 {
		return false, fmt.Errorf("%w: wall %d", ErrNotFound, w.ID)
	}

	if w.Deletable() {
		s.rects = slices.Delete(s.rects, i, i+1)
		s.wallsDirty = true

		return true, nil
	}

	if err := validateRect(s.grid.Layout(), w); err != nil {
		return false, err
	}

	s.rects[i] = w
	s.wallsDirty = true

	return false, nil
}

// UpdateCircWall replaces the circle with w.ID. A zero radius deletes it.
func (s *Simulation) UpdateCircWall(w CircWall) (removed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.circs, func(o CircWall) bool { return o.ID == w.ID })
	if i < 0 {
		return false, fmt.Errorf("%w: wall %d", ErrNotFound, w.ID)
	}

	if w.Deletable() {
		s.circs = slices.Delete(s.circs, i, i+1)
		s.wallsDirty = true

		return true, nil
	}

	if err := validateCirc(s.grid.Layout(), w); err != nil {
		return false, err
	}

	s.circs[i] = w
	s.wallsDirty = true

	return false, nil
}

// RemoveWall removes a wall of either shape and reports whether it existed.
func (s *Simulation) RemoveWall(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.rects) + len(s.circs)
	s.rects = slices.DeleteFunc(s.rects, func(o RectWall) bool { return o.ID == id })
	s.circs = slices.DeleteFunc(s.circs, func(o CircWall) bool { return o.ID == id })

	if len(s.rects)+len(s.circs) == n {
		return false
	}

	s.wallsDirty = true

	return true
}

// Walls returns copies of the live walls.
func (s *Simulation) Walls() ([]RectWall, []CircWall) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.rects), slices.Clone(s.circs)
}

// WallByID returns the wall with the given id.
func (s *Simulation) WallByID(id ID) (Wall, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, w := range s.rects {
		if w.ID == id {
			return w, true
		}
	}

	for _, w := range s.circs {
		if w.ID == id {
			return w, true
		}
	}

	return nil, false
}

func validateReflection(r float32) error {
	if math.IsNaN(float64(r)) || r < 0 || r > 1 {
		return fmt.Errorf("%w: reflection factor %v outside [0, 1]", ErrInvalidGeometry, r)
	}

	return nil
}

func validateRect(l Layout, w RectWall) error {
	if w.Deletable() {
		return fmt.Errorf("%w: empty rectangle %v-%v", ErrInvalidGeometry, w.Min, w.Max)
	}

	if !l.InSim(w.Min.X, w.Min.Y) || !l.InSim(w.Max.X, w.Max.Y) {
		return fmt.Errorf("%w: rectangle %v-%v", ErrOutOfBounds, w.Min, w.Max)
	}

	return validateReflection(w.Reflection)
}

func validateCirc(l Layout, w CircWall) error {
	if w.Deletable() {
		return fmt.Errorf("%w: radius %d", ErrInvalidGeometry, w.Radius)
	}

	if !l.InSim(w.Center.X, w.Center.Y) {
		return fmt.Errorf("%w: circle centre %v", ErrOutOfBounds, w.Center)
	}

	if w.OpenArc < 0 || w.OpenArc > 360 {
		return fmt.Errorf("%w: open arc %v outside [0, 360]", ErrInvalidGeometry, w.OpenArc)
	}

	for _, v := range []float32{w.OpenArc, w.Rotation} {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: non-finite angle", ErrInvalidGeometry)
		}
	}

	return validateReflection(w.Reflection)
}
