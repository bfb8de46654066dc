package mesh

import (
	"errors"
	"fmt"
	"math"
)

// Errors returned by grid and field constructors.
var (
	ErrOddMesh      = errors.New("mesh: mesh sizes must be even")
	ErrGridMismatch = errors.New("mesh: box size or mesh shape mismatch")
	ErrCommMismatch = errors.New("mesh: communicator mismatch")
)

// Grid describes a periodic box sampled on a regular mesh.
type Grid struct {
	BoxSize [3]float64
	Nmesh   [3]int
}

// Validate checks the grid for positive box sides and even, positive mesh
// sizes. Odd mesh sizes are rejected because the wavevector wrap-around at
// the Nyquist frequency is ambiguous for them.
func (g Grid) Validate() error {
	for axis := 0; axis < 3; axis++ {
		if g.BoxSize[axis] <= 0 {
			return fmt.Errorf("mesh: box size must be > 0 along axis %d: %f", axis, g.BoxSize[axis])
		}
		if g.Nmesh[axis] <= 0 {
			return fmt.Errorf("mesh: mesh size must be > 0 along axis %d: %d", axis, g.Nmesh[axis])
		}
		if g.Nmesh[axis]%2 != 0 {
			return ErrOddMesh
		}
	}
	return nil
}

// Ntot returns the total number of mesh cells.
func (g Grid) Ntot() int {
	return g.Nmesh[0] * g.Nmesh[1] * g.Nmesh[2]
}

// CellSize returns the physical cell size along each axis.
func (g Grid) CellSize() [3]float64 {
	var c [3]float64
	for axis := 0; axis < 3; axis++ {
		c[axis] = g.BoxSize[axis] / float64(g.Nmesh[axis])
	}
	return c
}

// KFund returns the fundamental wavenumber 2*pi/boxsize along each axis.
func (g Grid) KFund() [3]float64 {
	var k [3]float64
	for axis := 0; axis < 3; axis++ {
		k[axis] = 2 * math.Pi / g.BoxSize[axis]
	}
	return k
}

// KNyquist returns the Nyquist wavenumber pi*nmesh/boxsize along each axis.
func (g Grid) KNyquist() [3]float64 {
	var k [3]float64
	for axis := 0; axis < 3; axis++ {
		k[axis] = math.Pi * float64(g.Nmesh[axis]) / g.BoxSize[axis]
	}
	return k
}

// Equal reports whether two grids share box size and mesh shape exactly.
func (g Grid) Equal(other Grid) bool {
	return g.BoxSize == other.BoxSize && g.Nmesh == other.Nmesh
}

// KCoords returns the Fourier coordinates of a Hermitian-compressed mesh
// as seen by one rank of comm: the rank's slab of wavenumbers along the
// first axis, the full second axis, and the compressed non-negative half
// of the third axis.
func (g Grid) KCoords(comm Comm) [3][]float64 {
	kf := g.KFund()
	x0, x1 := slabRange(g.Nmesh[0], comm.Size(), comm.Rank())
	var out [3][]float64
	out[0] = make([]float64, x1-x0)
	for i := range out[0] {
		out[0][i] = fullCoord(x0+i, g.Nmesh[0], kf[0])
	}
	out[1] = make([]float64, g.Nmesh[1])
	for i := range out[1] {
		out[1][i] = fullCoord(i, g.Nmesh[1], kf[1])
	}
	out[2] = make([]float64, g.Nmesh[2]/2+1)
	for i := range out[2] {
		out[2][i] = float64(i) * kf[2]
	}
	return out
}

// slabRange returns the half-open index range [start, stop) owned by rank
// along an axis of size n, for a communicator of the given size. The split
// is deterministic so that every rank agrees on the decomposition.
func slabRange(n, size, rank int) (start, stop int) {
	start = rank * n / size
	stop = (rank + 1) * n / size
	return start, stop
}

// fullCoord returns the coordinate of index i on a full axis of size n with
// spacing d: indices below n/2 map to non-negative values, the upper half
// wraps to negative values (the Nyquist index n/2 maps to -n/2*d).
func fullCoord(i, n int, d float64) float64 {
	if i < n/2 {
		return float64(i) * d
	}
	return float64(i-n) * d
}
