package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
)

// SceneVersion is the scene document version written by this package.
const SceneVersion = 1

// Scene is the persistent part of a simulation. Microphone records and
// wave state are not included.
type Scene struct {
	Version     int              `json:"version"`
	Params      Params           `json:"params"`
	Sources     []Source         `json:"sources"`
	Microphones []MicrophoneInfo `json:"microphones"`
	RectWalls   []RectWall       `json:"rect_walls"`
	CircWalls   []CircWall       `json:"circ_walls"`
}

// Scene captures the current entities and parameters.
func (s *Simulation) Scene() Scene {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc := Scene{
		Version:     SceneVersion,
		Params:      s.params,
		Sources:     slices.Clone(s.sources),
		Microphones: make([]MicrophoneInfo, len(s.mics)),
		RectWalls:   slices.Clone(s.rects),
		CircWalls:   slices.Clone(s.circs),
	}

	for i, m := range s.mics {
		sc.Microphones[i] = MicrophoneInfo{ID: m.ID, X: m.X, Y: m.Y}
	}

	return sc
}

// LoadScene replaces the whole simulation state with sc. Ids are kept as
// stored. Nothing changes if sc is invalid.
func (s *Simulation) LoadScene(sc Scene) error {
	if sc.Version != SceneVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedScene, sc.Version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := sc.Params
	p.Workers = s.params.Workers
	p.Seed = s.params.Seed

	if p.MicHistory == 0 {
		p.MicHistory = DefaultMicHistory
	}

	if err := p.Validate(); err != nil {
		return err
	}

	grid, err := newConfiguredGrid(p)
	if err != nil {
		return err
	}

	layout := grid.Layout()
	seen := make(map[ID]bool)

	claim := func(id ID) error {
		if id == 0 || seen[id] {
			return fmt.Errorf("%w: missing or duplicate id %d", ErrInvalidGeometry, id)
		}

		seen[id] = true

		return nil
	}

	sources := slices.Clone(sc.Sources)
	for i := range sources {
		src := &sources[i]

		err := claim(src.ID)
		if err == nil {
			err = s.loadSamples(src, DeltaT(p.DeltaL))
		}

		if err == nil {
			err = src.Validate(layout)
		}

		if err != nil {
			return fmt.Errorf("source %d: %w", src.ID, err)
		}
	}

	mics := make([]*Microphone, 0, len(sc.Microphones))
	for _, mi := range sc.Microphones {
		if err := claim(mi.ID); err != nil {
			return err
		}

		if !layout.InSim(mi.X, mi.Y) {
			return fmt.Errorf("%w: microphone %d at (%d, %d)", ErrOutOfBounds, mi.ID, mi.X, mi.Y)
		}

		mics = append(mics, NewMicrophone(mi.ID, mi.X, mi.Y, p.MicHistory))
	}

	for _, w := range sc.RectWalls {
		if err := claim(w.ID); err != nil {
			return err
		}

		if err := validateRect(layout, w); err != nil {
			return fmt.Errorf("wall %d: %w", w.ID, err)
		}
	}

	for _, w := range sc.CircWalls {
		if err := claim(w.ID); err != nil {
			return err
		}

		if err := validateCirc(layout, w); err != nil {
			return fmt.Errorf("wall %d: %w", w.ID, err)
		}
	}

	for id := range seen {
		s.ids.Observe(id)
	}

	s.params = p
	s.grid = grid
	s.deltaT = DeltaT(p.DeltaL)
	s.sources = sources
	s.mics = mics
	s.rects = slices.Clone(sc.RectWalls)
	s.circs = slices.Clone(sc.CircWalls)
	s.resetCounters()
	s.rebuildWalls()

	s.log.Info("scene loaded",
		"sources", len(s.sources),
		"microphones", len(s.mics),
		"rect_walls", len(s.rects),
		"circ_walls", len(s.circs))

	return nil
}

// WriteScene encodes sc as indented JSON.
func WriteScene(w io.Writer, sc Scene) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(sc); err != nil {
		return fmt.Errorf("encode scene: %w", err)
	}

	return nil
}

// ReadScene decodes a scene and checks its version.
func ReadScene(r io.Reader) (Scene, error) {
	var sc Scene
	if err := json.NewDecoder(r).Decode(&sc); err != nil {
		return Scene{}, fmt.Errorf("decode scene: %w", err)
	}

	if sc.Version != SceneVersion {
		return Scene{}, fmt.Errorf("%w: %d", ErrUnsupportedScene, sc.Version)
	}

	return sc, nil
}
