package power

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-fftpower/internal/legendre"
	"github.com/cwbudde/algo-fftpower/mesh"
)

// Field is the read-only view of a distributed mesh that the binning
// engine consumes. Both mesh.RealField and mesh.ComplexField satisfy it.
type Field interface {
	Grid() mesh.Grid
	Comm() mesh.Comm
	SlabStart() int
	SlabLen() int
	AxisCoord(axis int) []float64
	StoredDim(axis int) int
	ValueAt(ix, iy, iz int) complex128
	Compressed() bool
	Fourier() bool
}

// BinnedModes holds per (x, mu) bin mode counts, coordinate averages and
// value averages. Empty bins carry NaN averages and a zero count.
type BinnedModes struct {
	XEdges  []float64
	MuEdges []float64

	X      [][]float64
	Mu     [][]float64
	Power  [][]complex128
	NModes [][]int64

	// PowerZero is the raw (unaveraged) accumulated value of the zero
	// mode, recorded before the zero mode is folded into its bin.
	PowerZero  complex128
	NModesZero int64
}

// BinnedPoles holds Legendre-weighted averages per x bin, one row per
// requested degree. The mu dependence is integrated out over all modes,
// including those outside the mu binning range.
type BinnedPoles struct {
	Ells   []int
	XEdges []float64

	X      []float64
	Power  [][]complex128
	NModes []int64

	PowerZero []complex128
}

// ProjectOptions control the binning of a field onto (x, mu) wedges and
// Legendre multipoles.
type ProjectOptions struct {
	// Ells lists the Legendre degrees to accumulate. Empty means wedges
	// only.
	Ells []int
	// LOS is the line-of-sight direction used to compute mu. A zero
	// vector assigns mu = 0 to every mode.
	LOS [3]float64
	// Antisymmetric flips the sign of the Hermitian mirror contribution.
	// It is set when the binned field is odd under k -> -k.
	Antisymmetric bool
	// ExcludeZero drops the zero mode instead of folding it into the bin
	// containing x = 0.
	ExcludeZero bool
}

// ProjectToBasis bins a field onto the (x, mu) grid spanned by xedges and
// muedges and, when opt.Ells is non-empty, simultaneously accumulates the
// (2 ell + 1) P_ell(mu) weighted multipoles per x bin. Multipoles only
// count modes whose mu lies between the first and last mu edges. muedges
// may be nil, in which case a single mu bin spanning [-1, 1] is used.
//
// Mode coordinates follow the field's natural units. For a compressed
// Fourier field, modes on the positive half of the compression axis are
// counted twice, the second time with mu negated and the value
// conjugated. Bins whose upper x edge reaches the smallest per-axis
// Nyquist coordinate are emptied, since they are not fully sampled.
func ProjectToBasis(f Field, xedges, muedges []float64, opt ProjectOptions) (*BinnedModes, *BinnedPoles, error) {
	if err := validateEdges("x", xedges); err != nil {
		return nil, nil, err
	}
	if muedges == nil {
		muedges = []float64{-1, 1}
	}
	if err := validateEdges("mu", muedges); err != nil {
		return nil, nil, err
	}
	for _, ell := range opt.Ells {
		if ell < 0 {
			return nil, nil, fmt.Errorf("%w: ell=%d", ErrNegativeEll, ell)
		}
	}

	grid := f.Grid()
	nx := len(xedges) - 1
	nmu := len(muedges) - 1

	// Padded histogram layout per axis: index 0 collects values below
	// the first edge, 1..n the bins, n+1 values at or above the last
	// edge, n+2 the zero mode.
	px, pmu := nx+3, nmu+3
	ncell := px * pmu
	nrows := 1 + len(opt.Ells)

	xsum := make([]float64, ncell)
	musum := make([]float64, ncell)
	nsum := make([]int64, ncell)
	ysum := make([]complex128, nrows*ncell)

	var spacing [3]float64
	if f.Fourier() {
		spacing = grid.KFund()
	} else {
		spacing = grid.CellSize()
	}
	mincell := math.Min(spacing[0], math.Min(spacing[1], spacing[2]))

	cx := f.AxisCoord(0)
	cy := f.AxisCoord(1)
	cz := f.AxisCoord(2)
	mirror := f.Compressed()

	deposit := func(x, mu float64, v complex128) {
		var ix, imu int
		if x < mincell/2 {
			ix, imu = nx+2, nmu+2
		} else {
			ix = digitize(x, xedges)
			imu = digitize(mu, muedges)
			if imu == nmu+1 && mu == muedges[nmu] {
				imu = nmu
			}
		}
		cell := ix*pmu + imu
		xsum[cell] += x
		musum[cell] += mu
		nsum[cell]++
		ysum[cell] += v
		for il, ell := range opt.Ells {
			leg := float64(2*ell+1) * legendre.P(ell, mu)
			ysum[(1+il)*ncell+cell] += complex(leg*real(v), leg*imag(v))
		}
	}

	for ii := 0; ii < f.SlabLen(); ii++ {
		x0 := cx[ii]
		for jj := 0; jj < f.StoredDim(1); jj++ {
			x1 := cy[jj]
			for ll := 0; ll < f.StoredDim(2); ll++ {
				x2 := cz[ll]
				xnorm := math.Sqrt(x0*x0 + x1*x1 + x2*x2)
				mu := safeDivide(x0*opt.LOS[0]+x1*opt.LOS[1]+x2*opt.LOS[2], xnorm)
				v := f.ValueAt(ii, jj, ll)
				deposit(xnorm, mu, v)
				if mirror && x2 > 0 {
					mv := complex(real(v), -imag(v))
					if opt.Antisymmetric {
						mv = -mv
					}
					deposit(xnorm, -mu, mv)
				}
			}
		}
	}

	comm := f.Comm()
	if err := comm.AllReduceFloat64(xsum); err != nil {
		return nil, nil, err
	}
	if err := comm.AllReduceFloat64(musum); err != nil {
		return nil, nil, err
	}
	if err := comm.AllReduceInt64(nsum); err != nil {
		return nil, nil, err
	}
	if err := allReduceComplex128(comm, ysum); err != nil {
		return nil, nil, err
	}

	// Bins reaching past the smallest per-axis Nyquist coordinate are
	// not fully sampled on the grid. Empty them so their averages come
	// out NaN rather than biased.
	xnyq := math.Inf(1)
	for axis := 0; axis < 3; axis++ {
		if v := float64(grid.Nmesh[axis]/2) * spacing[axis]; v < xnyq {
			xnyq = v
		}
	}
	for i := 1; i <= nx; i++ {
		if xedges[i] < xnyq {
			continue
		}
		for j := 0; j < pmu; j++ {
			cell := i*pmu + j
			xsum[cell], musum[cell], nsum[cell] = 0, 0, 0
			for r := 0; r < nrows; r++ {
				ysum[r*ncell+cell] = 0
			}
		}
	}

	zcell := (nx+2)*pmu + (nmu + 2)
	out := &BinnedModes{
		XEdges:     append([]float64(nil), xedges...),
		MuEdges:    append([]float64(nil), muedges...),
		PowerZero:  ysum[zcell],
		NModesZero: nsum[zcell],
	}
	var poles *BinnedPoles
	if len(opt.Ells) > 0 {
		poles = &BinnedPoles{
			Ells:      append([]int(nil), opt.Ells...),
			XEdges:    append([]float64(nil), xedges...),
			PowerZero: make([]complex128, len(opt.Ells)),
		}
		for il := range opt.Ells {
			poles.PowerZero[il] = ysum[(1+il)*ncell+zcell]
		}
	}

	// Fold the zero mode into the bin x = 0 would land in, unless the
	// caller asked for it to be dropped.
	if !opt.ExcludeZero {
		tcell := digitize(0, xedges)*pmu + digitize(0, muedges)
		xsum[tcell] += xsum[zcell]
		musum[tcell] += musum[zcell]
		nsum[tcell] += nsum[zcell]
		for r := 0; r < nrows; r++ {
			ysum[r*ncell+tcell] += ysum[r*ncell+zcell]
		}
	}
	xsum[zcell], musum[zcell], nsum[zcell] = 0, 0, 0
	for r := 0; r < nrows; r++ {
		ysum[r*ncell+zcell] = 0
	}

	out.X = make([][]float64, nx)
	out.Mu = make([][]float64, nx)
	out.Power = make([][]complex128, nx)
	out.NModes = make([][]int64, nx)
	for i := 0; i < nx; i++ {
		out.X[i] = make([]float64, nmu)
		out.Mu[i] = make([]float64, nmu)
		out.Power[i] = make([]complex128, nmu)
		out.NModes[i] = make([]int64, nmu)
		for j := 0; j < nmu; j++ {
			cell := (i+1)*pmu + (j + 1)
			n := nsum[cell]
			out.NModes[i][j] = n
			out.X[i][j] = meanOrNaN(xsum[cell], n)
			out.Mu[i][j] = meanOrNaN(musum[cell], n)
			out.Power[i][j] = cmeanOrNaN(ysum[cell], n)
		}
	}

	if poles != nil {
		poles.X = make([]float64, nx)
		poles.NModes = make([]int64, nx)
		poles.Power = make([][]complex128, len(opt.Ells))
		for il := range opt.Ells {
			poles.Power[il] = make([]complex128, nx)
		}
		// Multipoles integrate between the first and last mu edges, so
		// only the interior mu columns contribute. The folded zero mode
		// sits in an interior column and is kept.
		for i := 0; i < nx; i++ {
			var n int64
			var xs float64
			for j := 1; j <= nmu; j++ {
				cell := (i+1)*pmu + j
				n += nsum[cell]
				xs += xsum[cell]
			}
			poles.NModes[i] = n
			poles.X[i] = meanOrNaN(xs, n)
			for il := range opt.Ells {
				var s complex128
				for j := 1; j <= nmu; j++ {
					s += ysum[(1+il)*ncell+(i+1)*pmu+j]
				}
				poles.Power[il][i] = cmeanOrNaN(s, n)
			}
		}
	}
	return out, poles, nil
}

func meanOrNaN(sum float64, n int64) float64 {
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func cmeanOrNaN(sum complex128, n int64) complex128 {
	if n == 0 {
		return complex(math.NaN(), math.NaN())
	}
	return sum / complex(float64(n), 0)
}

func allReduceComplex128(comm mesh.Comm, x []complex128) error {
	buf := make([]float64, 2*len(x))
	for i, v := range x {
		buf[2*i] = real(v)
		buf[2*i+1] = imag(v)
	}
	if err := comm.AllReduceFloat64(buf); err != nil {
		return err
	}
	for i := range x {
		x[i] = complex(buf[2*i], buf[2*i+1])
	}
	return nil
}
