package sim

import (
	"fmt"
	"math"
	"strings"
)

// Attenuation selects the absorbing boundary formula.
type Attenuation uint8

// Attenuation kinds. Only AttenuationPower is validated as an absorbing
// boundary; the others are kept for experimentation.
const (
	// AttenuationPower: 1 - (d/W)^p.
	AttenuationPower Attenuation = iota
	// AttenuationLinear: 1 - d/W.
	AttenuationLinear
	// AttenuationOneWay: 1 - ((1+eps) - exp(d²/b)), b = W²/ln(eps).
	AttenuationOneWay
	// AttenuationLegacy: a fixed -0.17157287525 on the innermost ring, 0 elsewhere.
	AttenuationLegacy
	// AttenuationBlock: 0 on every ring.
	AttenuationBlock
)

var attenuationNames = [...]string{
	AttenuationPower:  "power",
	AttenuationLinear: "linear",
	AttenuationOneWay: "oneway",
	AttenuationLegacy: "legacy",
	AttenuationBlock:  "block",
}

func (a Attenuation) String() string {
	if int(a) < len(attenuationNames) {
		return attenuationNames[a]
	}

	return fmt.Sprintf("Attenuation(%d)", uint8(a))
}

// ParseAttenuation parses a kind by name, case-insensitively.
func ParseAttenuation(s string) (Attenuation, error) {
	for i, name := range attenuationNames {
		if strings.EqualFold(s, name) {
			return Attenuation(i), nil
		}
	}

	return 0, fmt.Errorf("%w: unknown attenuation %q", ErrInvalidBoundary, s)
}

// MarshalText implements encoding.TextMarshaler.
func (a Attenuation) MarshalText() ([]byte, error) {
	if int(a) >= len(attenuationNames) {
		return nil, fmt.Errorf("%w: unknown attenuation %d", ErrInvalidBoundary, uint8(a))
	}

	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Attenuation) UnmarshalText(text []byte) error {
	parsed, err := ParseAttenuation(string(text))
	if err != nil {
		return err
	}

	*a = parsed

	return nil
}

// BoundaryConfig configures the absorbing ring around the simulation region.
type BoundaryConfig struct {
	Width int         `json:"width"`
	Kind  Attenuation `json:"attenuation"`
	// Param is the power order for AttenuationPower and epsilon for
	// AttenuationOneWay. Other kinds ignore it.
	Param float64 `json:"param"`
}

// DefaultBoundaryConfig returns a 50 cell ring with fifth order power law.
func DefaultBoundaryConfig() BoundaryConfig {
	return BoundaryConfig{Width: 50, Kind: AttenuationPower, Param: 5}
}

// Validate reports whether the configuration can build a cache.
func (c BoundaryConfig) Validate() error {
	if c.Width < 0 {
		return fmt.Errorf("%w: negative width %d", ErrInvalidBoundary, c.Width)
	}

	switch c.Kind {
	case AttenuationPower:
		if !(c.Param > 0) || math.IsInf(c.Param, 0) {
			return fmt.Errorf("%w: power order must be positive, got %v", ErrInvalidBoundary, c.Param)
		}
	case AttenuationOneWay:
		if !(c.Param > 0 && c.Param < 1) {
			return fmt.Errorf("%w: epsilon must be in (0, 1), got %v", ErrInvalidBoundary, c.Param)
		}
	case AttenuationLinear, AttenuationLegacy, AttenuationBlock:
	default:
		return fmt.Errorf("%w: unknown attenuation %d", ErrInvalidBoundary, uint8(c.Kind))
	}

	return nil
}

// AttenuationFactor returns the factor for a ring at the given distance
// from the simulation region. A zero width has no ring and yields 1.
func AttenuationFactor(kind Attenuation, width, distance int, param float64) float32 {
	if width <= 0 {
		return 1
	}

	d := float64(distance)
	w := float64(width)

	switch kind {
	case AttenuationPower:
		return float32(1 - math.Pow(d/w, param))
	case AttenuationLinear:
		return float32(1 - d/w)
	case AttenuationOneWay:
		if !(param > 0 && param < 1) {
			return 1
		}

		b := w * w / math.Log(param)

		return float32(1 - ((1 + param) - math.Exp(d*d/b)))
	case AttenuationLegacy:
		if distance == 1 {
			return -0.17157287525
		}

		return 0
	default:
		return 0
	}
}

// CacheBoundaries rebuilds the boundary cache for cfg. The grid's layout
// boundary width is authoritative; cfg.Width must match it.
func (g *Grid) CacheBoundaries(cfg BoundaryConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Width != g.layout.Boundary {
		return fmt.Errorf("%w: width %d does not match grid boundary %d", ErrInvalidBoundary, cfg.Width, g.layout.Boundary)
	}

	cache := make([][4]float32, g.layout.Len())
	for i := range cache {
		cache[i] = identityFactors
	}

	bw := cfg.Width
	pw := g.layout.PaddedWidth()
	ph := g.layout.PaddedHeight()

	// Rings run from the outside in; the outer edge (r == 0) is never scattered.
	for r := 1; r < bw; r++ {
		af := AttenuationFactor(cfg.Kind, bw, bw-r, cfg.Param)

		for x := r; x < pw-r; x++ {
			cache[g.layout.Index(x, ph-r-1)] = [4]float32{1, 1, af, 1}
		}

		for y := r; y < ph-r; y++ {
			cache[g.layout.Index(r, y)] = [4]float32{1, 1, 1, af}
		}

		for x := r; x < pw-r; x++ {
			cache[g.layout.Index(x, r)] = [4]float32{af, 1, 1, 1}
		}

		for y := r; y < ph-r; y++ {
			cache[g.layout.Index(pw-r-1, y)] = [4]float32{1, af, 1, 1}
		}
	}

	g.boundary = cache

	return nil
}
