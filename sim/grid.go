package sim

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Grid is the cell store: two pulse generations, the derived pressure
// field, and the wall and boundary caches. All slices share one length,
// Layout.Len().
//
// Grid is not safe for concurrent use; Simulation serialises access.
type Grid struct {
	layout Layout

	cur      []Cell
	next     []Cell
	pressure []float32
	walls    []WallCell
	boundary [][4]float32

	workers int
}

// NewGrid allocates a zeroed grid with identity boundary factors and no walls.
// workers <= 0 selects runtime.GOMAXPROCS.
func NewGrid(layout Layout, workers int) (*Grid, error) {
	if layout.Width <= 0 || layout.Height <= 0 || layout.Boundary < 0 {
		return nil, fmt.Errorf("%w: %dx%d boundary %d", ErrInvalidDimensions, layout.Width, layout.Height, layout.Boundary)
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	n := layout.Len()

	g := &Grid{
		layout:   layout,
		cur:      make([]Cell, n),
		next:     make([]Cell, n),
		pressure: make([]float32, n),
		walls:    make([]WallCell, n),
		boundary: make([][4]float32, n),
		workers:  workers,
	}

	for i := range g.boundary {
		g.boundary[i] = identityFactors
	}

	return g, nil
}

// Layout returns the grid geometry.
func (g *Grid) Layout() Layout {
	return g.layout
}

// Calc computes the next generation from the current one. Cells on the
// outer edge are not scattered and are held at zero.
func (g *Grid) Calc() {
	w := g.layout.PaddedWidth()
	h := g.layout.PaddedHeight()

	g.clearEdges()

	g.forRows(1, h-1, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			row := y * w
			for x := 1; x < w-1; x++ {
				i := row + x

				fromBelow := g.cur[i+w].Top
				fromLeft := g.cur[i-1].Right
				fromAbove := g.cur[i-w].Bottom
				fromRight := g.cur[i+1].Left

				if wc := g.walls[i]; wc.IsWall {
					r := wc.Reflection
					g.next[i] = Cell{
						Bottom: r * fromBelow,
						Left:   r * fromLeft,
						Top:    r * fromAbove,
						Right:  r * fromRight,
					}

					continue
				}

				f := &g.boundary[i]
				b := f[DirBottom] * fromBelow
				l := f[DirLeft] * fromLeft
				t := f[DirTop] * fromAbove
				r := f[DirRight] * fromRight
				half := 0.5 * (b + l + t + r)

				g.next[i] = Cell{
					Bottom: half - b,
					Left:   half - l,
					Top:    half - t,
					Right:  half - r,
				}
			}
		}
	})
}

func (g *Grid) clearEdges() {
	w := g.layout.PaddedWidth()
	h := g.layout.PaddedHeight()

	clear(g.next[:w])
	clear(g.next[(h-1)*w:])

	for y := 1; y < h-1; y++ {
		g.next[y*w] = Cell{}
		g.next[y*w+w-1] = Cell{}
	}
}

// Inject adds v to all four pulses of the cell at simulation
// coordinates (x, y) in the next generation.
func (g *Grid) Inject(x, y int, v float32) {
	c := &g.next[g.layout.SimIndex(x, y)]
	c.Bottom += v
	c.Left += v
	c.Top += v
	c.Right += v
}

// Advance makes the next generation current by swapping the buffers and
// recomputes the pressure field.
func (g *Grid) Advance() {
	g.cur, g.next = g.next, g.cur

	w := g.layout.PaddedWidth()

	g.forRows(0, g.layout.PaddedHeight(), func(y0, y1 int) {
		for i := y0 * w; i < y1*w; i++ {
			g.pressure[i] = g.cur[i].Pressure()
		}
	})
}

// Reset zeroes both generations and the pressure field. Caches are kept.
func (g *Grid) Reset() {
	clear(g.cur)
	clear(g.next)
	clear(g.pressure)
}

// Pressure returns the pressure at simulation coordinates. Coordinates
// outside the padded grid panic.
func (g *Grid) Pressure(x, y int) float32 {
	return g.pressure[g.layout.SimIndex(x, y)]
}

// Wall returns the wall cache entry at simulation coordinates.
func (g *Grid) Wall(x, y int) WallCell {
	return g.walls[g.layout.SimIndex(x, y)]
}

// BoundaryFactors returns the boundary cache entry at padded coordinates.
func (g *Grid) BoundaryFactors(px, py int) [4]float32 {
	return g.boundary[g.layout.Index(px, py)]
}

// Energy returns the summed pulse energy of the current generation.
func (g *Grid) Energy() float64 {
	return totalEnergy(g.cur)
}

// CopyPressure copies the padded pressure field into dst, growing it as needed.
func (g *Grid) CopyPressure(dst []float32) []float32 {
	dst = growSlice(dst, len(g.pressure))
	copy(dst, g.pressure)

	return dst
}

// CopyWalls copies the padded wall cache into dst, growing it as needed.
func (g *Grid) CopyWalls(dst []WallCell) []WallCell {
	dst = growSlice(dst, len(g.walls))
	copy(dst, g.walls)

	return dst
}

// forRows splits [lo, hi) into bands and runs fn on them concurrently,
// returning once every band is done.
func (g *Grid) forRows(lo, hi int, fn func(y0, y1 int)) {
	n := hi - lo
	if n <= 0 {
		return
	}

	workers := min(g.workers, n)
	if workers <= 1 {
		fn(lo, hi)

		return
	}

	band := (n + workers - 1) / workers

	var eg errgroup.Group
	eg.SetLimit(workers)

	for y0 := lo; y0 < hi; y0 += band {
		y1 := min(y0+band, hi)
		eg.Go(func() error {
			fn(y0, y1)

			return nil
		})
	}

	_ = eg.Wait()
}

func totalEnergy(cells []Cell) float64 {
	var sum float64
	for _, c := range cells {
		sum += c.Energy()
	}

	return sum
}

func growSlice[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}

	return s[:n]
}
