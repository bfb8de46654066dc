package power

import (
	"errors"
	"math"
	"sort"

	"github.com/cwbudde/algo-fftpower/mesh"
)

// ErrTooFewValues reports that a coordinate mesh holds fewer than two
// distinct norm values in the requested range, so no binning can be built.
var ErrTooFewValues = errors.New("power: too few unique coordinate values for edges")

// FindUniqueEdges builds bin edges such that each bin contains exactly one
// of the distinct Cartesian norms realized on the coordinate mesh spanned
// by the per-axis arrays coords. Norms closer than half the fundamental
// separation x0 are merged. Only norms in [xmin, xmax] are kept. The
// collective result is identical on every rank of comm.
func FindUniqueEdges(coords [3][]float64, x0, xmin, xmax float64, comm mesh.Comm) ([]float64, error) {
	if x0 <= 0 {
		return nil, errors.New("power: fundamental separation must be positive")
	}
	key := func(x2 float64) int64 {
		return int64(x2/((0.5*x0)*(0.5*x0)) + 0.5)
	}

	// First-occurrence dedupe of the local norms, keyed on the merged
	// squared norm.
	seen := make(map[int64]float64)
	var keys []int64
	min2, max2 := xmin*xmin, xmax*xmax
	for _, x := range coords[0] {
		for _, y := range coords[1] {
			for _, z := range coords[2] {
				x2 := x*x + y*y + z*z
				if x2 < min2 || x2 > max2 {
					continue
				}
				k := key(x2)
				if _, ok := seen[k]; !ok {
					seen[k] = x2
					keys = append(keys, k)
				}
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	local := make([]float64, len(keys))
	for i, k := range keys {
		local[i] = seen[k]
	}

	all, err := comm.AllGatherFloat64(local)
	if err != nil {
		return nil, err
	}

	// Ranks may contribute overlapping values. Dedupe again, keeping the
	// lowest-rank occurrence of each merged norm.
	seen = make(map[int64]float64, len(all))
	keys = keys[:0]
	for _, x2 := range all {
		k := key(x2)
		if _, ok := seen[k]; !ok {
			seen[k] = x2
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if len(keys) < 2 {
		return nil, ErrTooFewValues
	}
	fx := make([]float64, len(keys))
	for i, k := range keys {
		fx[i] = math.Sqrt(seen[k])
	}

	// Midpoint edges around each unique norm.
	edges := make([]float64, 0, len(fx)+1)
	edges = append(edges, xmin)
	for i := 1; i < len(fx); i++ {
		edges = append(edges, fx[i]-(fx[i]-fx[i-1])/2)
	}
	last := fx[len(fx)-1] + (fx[len(fx)-1]-fx[len(fx)-2])/2
	edges = append(edges, math.Min(last, xmax))
	return edges, nil
}
