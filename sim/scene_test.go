package sim

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func populatedSim(t *testing.T) *Simulation {
	t.Helper()

	s := newTestSim(t, 80, 60, 6)

	steps := []error{
		first(s.AddSource(Source{X: 10, Y: 12, Wave: WaveSine, Phase: 30, Frequency: 440, Amplitude: 5})),
		first(s.AddSource(Source{X: 40, Y: 30, Wave: WaveGauss, Frequency: 2000, Amplitude: 2, StdDev: 0.4})),
		first(s.AddSource(Source{X: 70, Y: 50, Wave: WaveNoise, Amplitude: 0.1})),
		first(s.AddMicrophone(60, 20)),
		first(s.AddRectWall(RectWall{Min: Point{0, 40}, Max: Point{30, 44}, Hollow: true, Reflection: 0.9})),
		first(s.AddCircWall(CircWall{Center: Point{55, 35}, Radius: 9, Hollow: true, Reflection: 0.5, OpenArc: 45, Rotation: 120})),
	}

	for i, err := range steps {
		if err != nil {
			t.Fatalf("setup step %d: %v", i, err)
		}
	}

	return s
}

func first(_ ID, err error) error {
	return err
}

func TestSceneRoundTrip(t *testing.T) {
	t.Parallel()

	src := populatedSim(t)
	src.StepN(10)

	var buf bytes.Buffer
	if err := WriteScene(&buf, src.Scene()); err != nil {
		t.Fatalf("WriteScene: %v", err)
	}

	sc, err := ReadScene(&buf)
	if err != nil {
		t.Fatalf("ReadScene: %v", err)
	}

	dst := newTestSim(t, 10, 10, 0)
	if err := dst.LoadScene(sc); err != nil {
		t.Fatalf("LoadScene: %v", err)
	}

	want := src.Scene()
	got := dst.Scene()

	if !reflect.DeepEqual(got, want) {
		t.Errorf("scene mismatch:\n got %+v\nwant %+v", got, want)
	}

	if st := dst.Status(); st.Tick != 0 {
		t.Errorf("loaded scene starts at tick %d", st.Tick)
	}

	// Loaded walls are in the cache without a step.
	if !dst.Wall(0, 40).IsWall {
		t.Error("loaded rectangle missing from the wall cache")
	}

	// New ids continue above the loaded ones.
	id, err := dst.AddMicrophone(1, 1)
	if err != nil {
		t.Fatalf("AddMicrophone: %v", err)
	}

	for _, m := range want.Microphones {
		if id <= m.ID {
			t.Errorf("new id %d not above loaded id %d", id, m.ID)
		}
	}
}

func TestLoadSceneRejectsDuplicateIDs(t *testing.T) {
	t.Parallel()

	s := populatedSim(t)
	sc := s.Scene()
	sc.Microphones = append(sc.Microphones, MicrophoneInfo{ID: sc.Sources[0].ID, X: 1, Y: 1})

	dst := newTestSim(t, 10, 10, 0)
	before := dst.Scene()

	if err := dst.LoadScene(sc); !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("got %v, want ErrInvalidGeometry", err)
	}

	if !reflect.DeepEqual(dst.Scene(), before) {
		t.Error("failed load modified the simulation")
	}
}

func TestLoadSceneRejectsOutOfBounds(t *testing.T) {
	t.Parallel()

	sc := populatedSim(t).Scene()
	sc.Params.Width = 20

	if err := newTestSim(t, 10, 10, 0).LoadScene(sc); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("got %v, want ErrOutOfBounds", err)
	}
}

func TestReadSceneVersion(t *testing.T) {
	t.Parallel()

	_, err := ReadScene(strings.NewReader(`{"version": 7}`))
	if !errors.Is(err, ErrUnsupportedScene) {
		t.Errorf("got %v, want ErrUnsupportedScene", err)
	}

	if _, err := ReadScene(strings.NewReader(`{`)); err == nil {
		t.Error("expected decode error")
	}
}

func TestSceneJSONNames(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteScene(&buf, populatedSim(t).Scene()); err != nil {
		t.Fatalf("WriteScene: %v", err)
	}

	for _, key := range []string{`"rect_walls"`, `"circ_walls"`, `"wave": "gauss"`, `"attenuation": "power"`, `"open_arc": 45`} {
		if !strings.Contains(buf.String(), key) {
			t.Errorf("scene JSON lacks %s", key)
		}
	}
}

func TestSceneAfterShrinkLoads(t *testing.T) {
	t.Parallel()

	s := newTestSim(t, 60, 60, 4)

	partial, err := s.AddRectWall(RectWall{Min: Point{20, 5}, Max: Point{45, 8}, Reflection: 1})
	if err != nil {
		t.Fatalf("AddRectWall: %v", err)
	}

	steps := []error{
		first(s.AddRectWall(RectWall{Min: Point{40, 40}, Max: Point{55, 55}, Reflection: 1})),
		first(s.AddCircWall(CircWall{Center: Point{50, 10}, Radius: 5, Reflection: 1})),
		first(s.AddCircWall(CircWall{Center: Point{10, 10}, Radius: 5, Hollow: true, Reflection: 0.5})),
	}

	for i, err := range steps {
		if err != nil {
			t.Fatalf("setup step %d: %v", i, err)
		}
	}

	if err := s.Resize(30, 30, 0); err != nil {
		t.Fatalf("Resize: %v", err)
	}

	rects, circs := s.Walls()
	if len(rects) != 1 || rects[0].ID != partial || rects[0].Max != (Point{29, 8}) {
		t.Errorf("rects after shrink: got %+v, want %d clipped to (29, 8)", rects, partial)
	}

	if len(circs) != 1 || circs[0].Center != (Point{10, 10}) {
		t.Errorf("circles after shrink: got %+v", circs)
	}

	var buf bytes.Buffer
	if err := WriteScene(&buf, s.Scene()); err != nil {
		t.Fatalf("WriteScene: %v", err)
	}

	sc, err := ReadScene(&buf)
	if err != nil {
		t.Fatalf("ReadScene: %v", err)
	}

	loaded := newTestSim(t, 10, 10, 0)
	if err := loaded.LoadScene(sc); err != nil {
		t.Fatalf("LoadScene of a shrunk scene: %v", err)
	}

	if got := loaded.Status(); got.Walls != 2 || got.Width != 30 {
		t.Errorf("loaded status: %+v", got)
	}
}

func TestSceneAfterBoundaryWidthChange(t *testing.T) {
	t.Parallel()

	s := populatedSim(t)
	before := s.Scene()

	cfg := before.Params.Boundary
	cfg.Width = 12

	if err := s.RebuildBoundaryCache(cfg); err != nil {
		t.Fatalf("RebuildBoundaryCache: %v", err)
	}

	after := s.Scene()
	if len(after.Sources) != len(before.Sources) || len(after.RectWalls) != len(before.RectWalls) ||
		len(after.CircWalls) != len(before.CircWalls) || len(after.Microphones) != len(before.Microphones) {
		t.Errorf("entities changed by a boundary width change: got %+v, want %+v", after, before)
	}

	if err := newTestSim(t, 10, 10, 0).LoadScene(after); err != nil {
		t.Errorf("LoadScene: %v", err)
	}
}
