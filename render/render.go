// Package render turns simulation frames into images.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strings"

	"github.com/crazy3lf/colorconv"

	"wavefront/sim"
)

const paletteSize = 1024

var ErrInvalidOptions = errors.New("render: invalid options")

// Gradient selects the pressure colour map.
type Gradient int

const (
	// GradientHue sweeps the hue from blue (low) to red (high).
	GradientHue Gradient = iota
	// GradientDiverging fades blue to white to red.
	GradientDiverging
	GradientGray
)

func (g Gradient) String() string {
	switch g {
	case GradientHue:
		return "hue"
	case GradientDiverging:
		return "diverging"
	case GradientGray:
		return "gray"
	default:
		return fmt.Sprintf("gradient(%d)", int(g))
	}
}

// ParseGradient is the inverse of Gradient.String.
func ParseGradient(s string) (Gradient, error) {
	for _, g := range []Gradient{GradientHue, GradientDiverging, GradientGray} {
		if strings.EqualFold(s, g.String()) {
			return g, nil
		}
	}

	return 0, fmt.Errorf("%w: unknown gradient %q", ErrInvalidOptions, s)
}

// Options configures a Renderer.
type Options struct {
	Gradient Gradient
	// Pressures outside [-Range, Range] saturate.
	Range float32
	// Boundary includes the absorbing ring in the image.
	Boundary bool
	// Scale magnifies each cell to Scale x Scale pixels.
	Scale int
}

func DefaultOptions() Options {
	return Options{Gradient: GradientHue, Range: 2, Scale: 1}
}

// Renderer maps frames to RGBA images through a precomputed palette.
type Renderer struct {
	opts    Options
	palette [paletteSize]color.RGBA
}

func New(opts Options) (*Renderer, error) {
	if !(opts.Range > 0) || math.IsInf(float64(opts.Range), 0) {
		return nil, fmt.Errorf("%w: range %v", ErrInvalidOptions, opts.Range)
	}

	if opts.Scale < 1 || opts.Scale > 16 {
		return nil, fmt.Errorf("%w: scale %d", ErrInvalidOptions, opts.Scale)
	}

	r := &Renderer{opts: opts}

	for i := range r.palette {
		c, err := gradientColor(opts.Gradient, float64(i)/(paletteSize-1))
		if err != nil {
			return nil, err
		}

		r.palette[i] = c
	}

	return r, nil
}

func (r *Renderer) Options() Options {
	return r.opts
}

// gradientColor returns the colour at position t in [0, 1].
func gradientColor(g Gradient, t float64) (color.RGBA, error) {
	var (
		red, green, blue uint8
		err              error
	)

	switch g {
	case GradientHue:
		red, green, blue, err = colorconv.HSVToRGB(240*(1-t), 1, 1)
	case GradientDiverging:
		hue := 240.0
		if t >= 0.5 {
			hue = 0
		}

		red, green, blue, err = colorconv.HSVToRGB(hue, math.Abs(2*t-1), 1)
	case GradientGray:
		v := uint8(math.Round(255 * t))
		red, green, blue = v, v, v
	default:
		return color.RGBA{}, fmt.Errorf("%w: gradient %d", ErrInvalidOptions, int(g))
	}

	if err != nil {
		return color.RGBA{}, fmt.Errorf("render: %w", err)
	}

	return color.RGBA{R: red, G: green, B: blue, A: 255}, nil
}

// Color maps a pressure to its palette entry.
func (r *Renderer) Color(p float32) color.RGBA {
	if math.IsNaN(float64(p)) {
		return r.palette[paletteSize/2]
	}

	t := (float64(p)/float64(r.opts.Range) + 1) / 2
	t = min(max(t, 0), 1)

	return r.palette[int(math.Round(t*(paletteSize-1)))]
}

// WallColor is the grey level of a wall cell's draw reflection.
func WallColor(w sim.WallCell) color.RGBA {
	v := uint8(math.Round(255 * float64(min(max(w.DrawReflection, 0), 1))))

	return color.RGBA{R: v, G: v, B: v, A: 255}
}

// Render draws f into a new image.
func (r *Renderer) Render(f *sim.Frame) *image.RGBA {
	l := f.Layout
	x0, y0, w, h := l.Boundary, l.Boundary, l.Width, l.Height

	if r.opts.Boundary {
		x0, y0, w, h = 0, 0, l.PaddedWidth(), l.PaddedHeight()
	}

	s := r.opts.Scale
	img := image.NewRGBA(image.Rect(0, 0, w*s, h*s))

	for y := range h {
		for x := range w {
			i := l.Index(x0+x, y0+y)

			c := r.Color(f.Pressure[i])
			if f.Walls[i].IsWall {
				c = WallColor(f.Walls[i])
			}

			for dy := range s {
				for dx := range s {
					img.SetRGBA(x*s+dx, y*s+dy, c)
				}
			}
		}
	}

	return img
}

// WritePNG renders f and encodes it as PNG.
func (r *Renderer) WritePNG(w io.Writer, f *sim.Frame) error {
	return png.Encode(w, r.Render(f))
}
