package stats

import (
	"errors"
	"math"
	"sort"
)

var (
	ErrRebinFactor = errors.New("stats: rebin factor must divide the number of bins")
	ErrSliceStep   = errors.New("stats: slice step must be positive")
	ErrUnknownEll  = errors.New("stats: multipole not measured")
	ErrBadEdges    = errors.New("stats: edges must hold at least two increasing values")
)

// Info carries estimator-level metadata attached to a measurement.
type Info struct {
	Autocorr      bool
	Nmesh         [3]int
	BoxSize       [3]float64
	BoxCenter     [3]float64
	LOSType       string
	LOS           [3]float64
	Compensations [2]string
}

// PowerOptions select which corrections to apply when reading a
// measurement. The zero value applies none; Defaults applies all.
type PowerOptions struct {
	// AddDirect adds the pair-count based direct estimate.
	AddDirect bool
	// RemoveShotNoise subtracts the shot noise estimate.
	RemoveShotNoise bool
	// NullZeroMode removes the zero-mode power from the bin containing
	// k = 0, when that bin is within the edges.
	NullZeroMode bool
	// DivideWNorm divides by the normalization.
	DivideWNorm bool
}

// Defaults returns the options applied by the Power convenience methods.
func Defaults() PowerOptions {
	return PowerOptions{AddDirect: true, RemoveShotNoise: true, NullZeroMode: true, DivideWNorm: true}
}

// Slice selects the index range [Start, Stop) along one axis. A negative
// Stop means the end of the axis. Step 0 is treated as 1; a step larger
// than 1 additionally rebins the selected range by that factor.
type Slice struct {
	Start, Stop, Step int
}

// All selects a whole axis unchanged.
func All() Slice { return Slice{Stop: -1, Step: 1} }

func (s Slice) normalize(n int) (start, stop, step int, err error) {
	step = s.Step
	if step == 0 {
		step = 1
	}
	if step < 0 {
		return 0, 0, 0, ErrSliceStep
	}
	start = s.Start
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	stop = s.Stop
	if stop < 0 || stop > n {
		stop = n
	}
	if stop < start {
		stop = start
	}
	return start, stop, step, nil
}

// Range bounds a coordinate interval, inclusive on both ends.
type Range struct {
	Min, Max float64
}

// within reports the first and past-the-end indices of x values inside r.
func (r Range) within(x []float64) (lo, hi int) {
	lo, hi = -1, -1
	for i, v := range x {
		if v >= r.Min && v <= r.Max {
			if lo < 0 {
				lo = i
			}
			hi = i + 1
		}
	}
	if lo < 0 {
		return 0, 0
	}
	return lo, hi
}

func nanToZero(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return x
}

func cnanToZero(x complex128) complex128 {
	return complex(nanToZero(real(x)), nanToZero(imag(x)))
}

func cnan() complex128 {
	return complex(math.NaN(), math.NaN())
}

// digitizeIndex returns the bin index that would contain x under
// half-open binning, or -1 when x falls outside the edges.
func digitizeIndex(x float64, edges []float64) int {
	i := sort.SearchFloat64s(edges, x)
	// SearchFloat64s finds the first edge >= x; half-open bins put a
	// value equal to an edge in the bin starting at that edge.
	if i < len(edges) && edges[i] == x {
		i++
	}
	i--
	if i < 0 || i >= len(edges)-1 {
		return -1
	}
	return i
}

func validEdges(edges []float64) error {
	if len(edges) < 2 {
		return ErrBadEdges
	}
	for i := 1; i < len(edges); i++ {
		if !(edges[i] > edges[i-1]) {
			return ErrBadEdges
		}
	}
	return nil
}

func cloneFloats(x []float64) []float64 {
	return append([]float64(nil), x...)
}

func cloneInts(x []int64) []int64 {
	return append([]int64(nil), x...)
}

func cloneComplexes(x []complex128) []complex128 {
	return append([]complex128(nil), x...)
}

func cloneFloatGrid(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i := range x {
		out[i] = cloneFloats(x[i])
	}
	return out
}

func cloneIntGrid(x [][]int64) [][]int64 {
	out := make([][]int64, len(x))
	for i := range x {
		out[i] = cloneInts(x[i])
	}
	return out
}

func cloneComplexGrid(x [][]complex128) [][]complex128 {
	out := make([][]complex128, len(x))
	for i := range x {
		out[i] = cloneComplexes(x[i])
	}
	return out
}

// rebinEdges keeps every factor-th edge, including the last.
func rebinEdges(edges []float64, factor int) []float64 {
	out := make([]float64, 0, (len(edges)-1)/factor+1)
	for i := 0; i < len(edges); i += factor {
		out = append(out, edges[i])
	}
	return out
}
