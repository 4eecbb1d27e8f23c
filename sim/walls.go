package sim

import (
	"math"
)

// Wall is a rectangle or circle obstacle. The set is closed: only RectWall
// and CircWall implement it, and consumers switch on the concrete type.
type Wall interface {
	WallID() ID
	Deletable() bool
	isWall()
}

// RectWall is an axis-aligned rectangle with inclusive corners.
type RectWall struct {
	ID         ID      `json:"id"`
	Min        Point   `json:"min"`
	Max        Point   `json:"max"`
	Hollow     bool    `json:"hollow"`
	Reflection float32 `json:"reflection"`
}

func (RectWall) isWall() {}

// WallID returns the wall's id.
func (w RectWall) WallID() ID { return w.ID }

// Width returns the number of columns covered.
func (w RectWall) Width() int { return w.Max.X - w.Min.X + 1 }

// Height returns the number of rows covered.
func (w RectWall) Height() int { return w.Max.Y - w.Min.Y + 1 }

// Deletable reports whether a resize collapsed the wall to nothing.
func (w RectWall) Deletable() bool {
	return w.Width() <= 0 || w.Height() <= 0
}

// EdgeContains reports whether (x, y) lies on one of the four border
// rows or columns.
func (w RectWall) EdgeContains(x, y int) bool {
	if x < w.Min.X || x > w.Max.X || y < w.Min.Y || y > w.Max.Y {
		return false
	}

	return x == w.Min.X || x == w.Max.X || y == w.Min.Y || y == w.Max.Y
}

// Contains reports whether (x, y) lies strictly inside the border.
func (w RectWall) Contains(x, y int) bool {
	return x > w.Min.X && x < w.Max.X && y > w.Min.Y && y < w.Max.Y
}

// CircWall is a circle, optionally hollow with an open arc.
type CircWall struct {
	ID         ID      `json:"id"`
	Center     Point   `json:"center"`
	Radius     int     `json:"radius"`
	Hollow     bool    `json:"hollow"`
	Reflection float32 `json:"reflection"`
	// OpenArc is the angular size of the gap in degrees, hollow walls only.
	OpenArc float32 `json:"open_arc"`
	// Rotation turns the gap, in degrees.
	Rotation float32 `json:"rotation"`
}

func (CircWall) isWall() {}

// WallID returns the wall's id.
func (w CircWall) WallID() ID { return w.ID }

// Deletable reports whether the radius collapsed to zero.
func (w CircWall) Deletable() bool {
	return w.Radius <= 0
}

// Contains reports whether (x, y) lies strictly inside the circle.
func (w CircWall) Contains(x, y int) bool {
	dx := x - w.Center.X
	dy := y - w.Center.Y

	return dx*dx+dy*dy < w.Radius*w.Radius
}

// Boundary rasterises the circle with the midpoint algorithm and calls fn
// for the eight symmetric points of every step. Points may repeat.
func (w CircWall) Boundary(fn func(x, y int)) {
	cx, cy := w.Center.X, w.Center.Y
	bx, by := 0, w.Radius
	d := 1 - w.Radius

	for bx <= by {
		fn(cx+bx, cy+by)
		fn(cx+bx, cy-by)
		fn(cx-bx, cy+by)
		fn(cx-bx, cy-by)
		fn(cx+by, cy+bx)
		fn(cx+by, cy-bx)
		fn(cx-by, cy+bx)
		fn(cx-by, cy-bx)

		if d < 0 {
			d += 2*bx + 3
		} else {
			d += 2*(bx-by) + 5
			by--
		}

		bx++
	}
}

// BoundaryPoints returns the rasterised boundary in emission order.
func (w CircWall) BoundaryPoints() []Point {
	var pts []Point

	w.Boundary(func(x, y int) {
		pts = append(pts, Point{X: x, Y: y})
	})

	return pts
}

// angleAt returns the rotated angle of (x, y) around the centre in
// [0, 2π). Angles grow counter-clockwise on screen, where y points down.
func (w CircWall) angleAt(x, y int) (float64, bool) {
	if w.Radius <= 0 {
		return 0, false
	}

	c := float64(x-w.Center.X) / float64(w.Radius)
	a := math.Acos(max(-1, min(1, c)))

	if math.IsNaN(a) {
		return 0, false
	}

	if y-w.Center.Y > 0 {
		a = 2*math.Pi - a
	}

	a = math.Mod(a+degToRad(w.Rotation), 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}

	return a, true
}

// inArc reports whether a boundary point is solid, i.e. not in the open gap.
func (w CircWall) inArc(x, y int) bool {
	if !w.Hollow || w.OpenArc <= 0 {
		return true
	}

	a, ok := w.angleAt(x, y)
	if !ok {
		return true
	}

	half := degToRad(w.OpenArc) / 2

	return a >= half && a <= 2*math.Pi-half
}

// RotateTowards points the open arc at (x, y). It returns false and
// leaves the rotation untouched when the angle is undefined.
func (w *CircWall) RotateTowards(x, y float64) bool {
	dx := x - float64(w.Center.X)
	dy := y - float64(w.Center.Y)

	a := math.Acos(dx / math.Hypot(dx, dy))
	if math.IsNaN(a) {
		return false
	}

	if dy > 0 {
		a = 2*math.Pi - a
	}

	rot := math.Mod(360-a*180/math.Pi, 360)
	if rot < 0 {
		rot += 360
	}

	w.Rotation = float32(rot)

	return true
}

func degToRad(deg float32) float64 {
	return float64(deg) * math.Pi / 180
}

// RebuildWalls recomputes the wall cache from scratch and installs it.
// Rectangles are applied before circles; later walls overwrite earlier ones.
func (g *Grid) RebuildWalls(rects []RectWall, circs []CircWall) {
	cache := make([]WallCell, g.layout.Len())

	for _, w := range rects {
		markRect(cache, g.layout, w)
	}

	for _, w := range circs {
		markCirc(cache, g.layout, w)
	}

	sealEdges(cache, g.layout)

	g.walls = cache
}

func markRect(cache []WallCell, l Layout, w RectWall) {
	for y := max(w.Min.Y, 0); y <= min(w.Max.Y, l.Height-1); y++ {
		for x := max(w.Min.X, 0); x <= min(w.Max.X, l.Width-1); x++ {
			switch {
			case w.EdgeContains(x, y):
				cache[l.SimIndex(x, y)] = reflective(w.Reflection)
			case !w.Hollow && w.Contains(x, y):
				cache[l.SimIndex(x, y)] = absorbing(w.Reflection)
			}
		}
	}
}

func markCirc(cache []WallCell, l Layout, w CircWall) {
	if !w.Hollow {
		r := w.Radius
		for y := max(w.Center.Y-r, 0); y <= min(w.Center.Y+r, l.Height-1); y++ {
			for x := max(w.Center.X-r, 0); x <= min(w.Center.X+r, l.Width-1); x++ {
				if w.Contains(x, y) {
					cache[l.SimIndex(x, y)] = absorbing(w.Reflection)
				}
			}
		}
	}

	w.Boundary(func(x, y int) {
		px, py := l.Pad(x, y)
		if !l.InPadded(px, py) || !w.inArc(x, y) {
			return
		}

		cache[l.Index(px, py)] = reflective(w.Reflection)
	})
}

// sealEdges extends every wall cell on the edge of the simulation region
// outward through the boundary ring as absorbing wall, so no live seam
// remains between the wall and the ring.
func sealEdges(cache []WallCell, l Layout) {
	bw := l.Boundary
	if bw == 0 {
		return
	}

	seal := func(edge, px, py int) {
		wc := cache[edge]
		if !wc.IsWall {
			return
		}

		cache[l.Index(px, py)] = absorbing(wc.DrawReflection)
	}

	for x := range l.Width {
		px, top := l.Pad(x, 0)
		_, bottom := l.Pad(x, l.Height-1)

		for d := 1; d <= bw; d++ {
			seal(l.Index(px, top), px, top-d)
			seal(l.Index(px, bottom), px, bottom+d)
		}
	}

	for y := range l.Height {
		left, py := l.Pad(0, y)
		right, _ := l.Pad(l.Width-1, y)

		for d := 1; d <= bw; d++ {
			seal(l.Index(left, py), left-d, py)
			seal(l.Index(right, py), right+d, py)
		}
	}
}

func reflective(r float32) WallCell {
	return WallCell{IsWall: true, Reflection: r, DrawReflection: r}
}

func absorbing(draw float32) WallCell {
	return WallCell{IsWall: true, Reflection: 0, DrawReflection: draw}
}
