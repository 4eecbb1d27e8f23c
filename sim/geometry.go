package sim

// Point is a cell coordinate. Unless stated otherwise it is unpadded,
// i.e. relative to the top-left cell of the simulation region.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Layout describes the padded grid: a Width x Height simulation region
// surrounded on every side by Boundary cells of absorbing ring.
type Layout struct {
	Width    int
	Height   int
	Boundary int
}

// PaddedWidth returns the row width of the padded grid.
func (l Layout) PaddedWidth() int {
	return l.Width + 2*l.Boundary
}

// PaddedHeight returns the number of rows of the padded grid.
func (l Layout) PaddedHeight() int {
	return l.Height + 2*l.Boundary
}

// Len returns the number of cells in the padded grid.
func (l Layout) Len() int {
	return l.PaddedWidth() * l.PaddedHeight()
}

// Index maps padded coordinates to a flat offset.
func (l Layout) Index(px, py int) int {
	return py*l.PaddedWidth() + px
}

// Coords maps a flat offset back to padded coordinates.
func (l Layout) Coords(i int) (int, int) {
	w := l.PaddedWidth()

	return i % w, i / w
}

// Pad converts simulation coordinates to padded coordinates. Every cell
// index derived from a user-facing coordinate goes through here.
func (l Layout) Pad(x, y int) (int, int) {
	return x + l.Boundary, y + l.Boundary
}

// Unpad converts padded coordinates to simulation coordinates. Results
// are negative or beyond Width/Height for cells inside the boundary ring.
func (l Layout) Unpad(px, py int) (int, int) {
	return px - l.Boundary, py - l.Boundary
}

// SimIndex maps simulation coordinates to a flat offset.
func (l Layout) SimIndex(x, y int) int {
	return l.Index(l.Pad(x, y))
}

// InSim reports whether simulation coordinates lie inside the simulation region.
func (l Layout) InSim(x, y int) bool {
	return x >= 0 && y >= 0 && x < l.Width && y < l.Height
}

// InPadded reports whether padded coordinates lie inside the grid.
func (l Layout) InPadded(px, py int) bool {
	return px >= 0 && py >= 0 && px < l.PaddedWidth() && py < l.PaddedHeight()
}

// OnOuterEdge reports whether padded coordinates lie on the outermost ring,
// where a cell lacks a neighbour in at least one direction.
func (l Layout) OnOuterEdge(px, py int) bool {
	return px == 0 || py == 0 || px == l.PaddedWidth()-1 || py == l.PaddedHeight()-1
}

// NormalizeRect orders two arbitrary corners into min and max corners.
func NormalizeRect(a, b Point) (Point, Point) {
	minP := Point{X: min(a.X, b.X), Y: min(a.Y, b.Y)}
	maxP := Point{X: max(a.X, b.X), Y: max(a.Y, b.Y)}

	return minP, maxP
}
