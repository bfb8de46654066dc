package power

import (
	"errors"
	"fmt"
	"math"
)

// Errors returned by line-of-sight and edge validation.
var (
	ErrZeroLOS     = errors.New("power: line-of-sight vector has zero norm")
	ErrBadEdges    = errors.New("power: at least two bin edges required")
	ErrNegativeEll = errors.New("power: multipole orders must be non-negative")
)

// LOSKind distinguishes fixed and per-point line-of-sight conventions.
type LOSKind int

const (
	// LOSGlobal measures angles against a fixed unit vector.
	LOSGlobal LOSKind = iota

	// LOSFirstPoint uses the direction of the first field's position as
	// the local line-of-sight of each pair.
	LOSFirstPoint

	// LOSEndPoint uses the direction of the second field's position; it
	// is computed by swapping the fields and conjugating the result.
	LOSEndPoint
)

// String returns the conventional name of the line-of-sight kind.
func (k LOSKind) String() string {
	switch k {
	case LOSGlobal:
		return "global"
	case LOSFirstPoint:
		return "firstpoint"
	case LOSEndPoint:
		return "endpoint"
	}
	return fmt.Sprintf("LOSKind(%d)", int(k))
}

// LOS specifies the line-of-sight convention of an estimate. For
// LOSGlobal, Dir holds the unit direction; it is unused otherwise.
type LOS struct {
	Kind LOSKind
	Dir  [3]float64
}

// GlobalLOS returns a fixed line-of-sight along dir, normalized to unit
// length.
func GlobalLOS(dir [3]float64) (LOS, error) {
	norm := math.Sqrt(dir[0]*dir[0] + dir[1]*dir[1] + dir[2]*dir[2])
	if norm == 0 {
		return LOS{}, ErrZeroLOS
	}
	for i := range dir {
		dir[i] /= norm
	}
	return LOS{Kind: LOSGlobal, Dir: dir}, nil
}

// AxisLOS returns a fixed line-of-sight along a Cartesian axis (0, 1 or 2).
func AxisLOS(axis int) (LOS, error) {
	if axis < 0 || axis > 2 {
		return LOS{}, fmt.Errorf("power: line-of-sight axis must be 0, 1 or 2: %d", axis)
	}
	var dir [3]float64
	dir[axis] = 1
	return LOS{Kind: LOSGlobal, Dir: dir}, nil
}

// FirstPointLOS returns the local first-point line-of-sight convention.
func FirstPointLOS() LOS { return LOS{Kind: LOSFirstPoint} }

// EndPointLOS returns the local end-point line-of-sight convention.
func EndPointLOS() LOS { return LOS{Kind: LOSEndPoint} }

// safeDivide returns num/denom, or 0 when denom is 0. Points at the
// origin get direction cosine 0 by convention rather than NaN.
func safeDivide(num, denom float64) float64 {
	if denom == 0 {
		return 0
	}
	return num / denom
}

// wrapCoord maps a position coordinate from the wrapped convention
// (negative upper half) into [0, boxsize): negative coordinates are sent
// to [boxsize/2, boxsize).
func wrapCoord(x, boxsize float64) float64 {
	if x < 0 {
		return x + boxsize
	}
	return x
}

// validateEdges checks that a bin-edge sequence has at least two entries
// and increases strictly.
func validateEdges(name string, edges []float64) error {
	if len(edges) < 2 {
		return fmt.Errorf("power: %s-edges are of size %d < 2: %w", name, len(edges), ErrBadEdges)
	}
	for i := 1; i < len(edges); i++ {
		if !(edges[i] > edges[i-1]) {
			return fmt.Errorf("power: %s-edges must increase strictly at index %d", name, i)
		}
	}
	return nil
}

// digitize returns the bin index of x against sorted edges, following the
// half-open rule: index i means edges[i-1] <= x < edges[i]. Values below
// edges[0] map to 0, values at or above edges[len-1] map to len(edges).
func digitize(x float64, edges []float64) int {
	lo, hi := 0, len(edges)
	for lo < hi {
		mid := (lo + hi) / 2
		if edges[mid] > x {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}
