package sim

// Cell holds the four directional pulses of a TLM node. Each component is
// the pulse the node sends toward the neighbour in that direction.
type Cell struct {
	Bottom float32
	Left   float32
	Top    float32
	Right  float32
}

// Pressure returns the node pressure, half the sum of its pulses.
func (c Cell) Pressure() float32 {
	return 0.5 * (c.Bottom + c.Left + c.Top + c.Right)
}

// Energy returns the sum of squared pulses.
func (c Cell) Energy() float64 {
	b, l, t, r := float64(c.Bottom), float64(c.Left), float64(c.Top), float64(c.Right)

	return b*b + l*l + t*t + r*r
}

// WallCell describes how a cell behaves as an obstacle.
type WallCell struct {
	IsWall bool
	// Reflection scales pulses sent back from a wall cell. Zero absorbs.
	Reflection float32
	// DrawReflection is the wall's nominal factor, for rendering only.
	DrawReflection float32
}

// Direction indices into a boundary factor entry.
const (
	DirBottom = iota
	DirLeft
	DirTop
	DirRight
)

var identityFactors = [4]float32{1, 1, 1, 1}
