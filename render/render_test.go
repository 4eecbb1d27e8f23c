package render

import (
	"bytes"
	"errors"
	"image/color"
	"image/png"
	"testing"

	"wavefront/sim"
)

func testFrame() *sim.Frame {
	l := sim.Layout{Width: 4, Height: 3, Boundary: 1}
	f := &sim.Frame{
		Layout:   l,
		Pressure: make([]float32, l.Len()),
		Walls:    make([]sim.WallCell, l.Len()),
	}

	f.Pressure[l.SimIndex(0, 0)] = 5
	f.Pressure[l.SimIndex(1, 0)] = -5
	f.Walls[l.SimIndex(3, 2)] = sim.WallCell{IsWall: true, Reflection: 1, DrawReflection: 0.5}

	return f
}

func TestRenderColors(t *testing.T) {
	t.Parallel()

	r, err := New(DefaultOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	img := r.Render(testFrame())

	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 3 {
		t.Fatalf("bounds: got %v", b)
	}

	if got := img.RGBAAt(0, 0); got != (color.RGBA{255, 0, 0, 255}) {
		t.Errorf("high pressure: got %v, want red", got)
	}

	if got := img.RGBAAt(1, 0); got != (color.RGBA{0, 0, 255, 255}) {
		t.Errorf("low pressure: got %v, want blue", got)
	}

	if got := img.RGBAAt(3, 2); got != (color.RGBA{128, 128, 128, 255}) {
		t.Errorf("wall: got %v, want mid grey", got)
	}
}

func TestRenderBoundaryAndScale(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.Boundary = true
	opts.Scale = 3

	r, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	img := r.Render(testFrame())
	if b := img.Bounds(); b.Dx() != 18 || b.Dy() != 15 {
		t.Fatalf("bounds: got %v", b)
	}

	// Simulation cell (0, 0) starts at padded pixel (1, 1), magnified by 3.
	for _, p := range [][2]int{{3, 3}, {5, 5}} {
		if got := img.RGBAAt(p[0], p[1]); got.R != 255 || got.B != 0 {
			t.Errorf("pixel %v: got %v", p, got)
		}
	}
}

func TestGradients(t *testing.T) {
	t.Parallel()

	for _, g := range []Gradient{GradientHue, GradientDiverging, GradientGray} {
		parsed, err := ParseGradient(g.String())
		if err != nil || parsed != g {
			t.Errorf("ParseGradient(%q): %v, %v", g, parsed, err)
		}

		r, err := New(Options{Gradient: g, Range: 1, Scale: 1})
		if err != nil {
			t.Fatalf("%v: %v", g, err)
		}

		lo, hi := r.Color(-1), r.Color(1)
		if lo == hi {
			t.Errorf("%v: extremes share colour %v", g, lo)
		}
	}

	r, _ := New(Options{Gradient: GradientDiverging, Range: 1, Scale: 1})
	if got := r.Color(0); got.R < 250 || got.G < 250 || got.B < 250 {
		t.Errorf("diverging centre: got %v, want near white", got)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	t.Parallel()

	for _, opts := range []Options{{Range: 0, Scale: 1}, {Range: 1, Scale: 0}, {Gradient: 9, Range: 1, Scale: 1}} {
		if _, err := New(opts); !errors.Is(err, ErrInvalidOptions) {
			t.Errorf("%+v: got %v", opts, err)
		}
	}

	if _, err := ParseGradient("rainbow"); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("ParseGradient: got %v", err)
	}
}

func TestWritePNG(t *testing.T) {
	t.Parallel()

	r, _ := New(DefaultOptions())

	var buf bytes.Buffer
	if err := r.WritePNG(&buf, testFrame()); err != nil {
		t.Fatalf("WritePNG: %v", err)
	}

	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}

	if b := img.Bounds(); b.Dx() != 4 {
		t.Errorf("decoded width %d", b.Dx())
	}
}
