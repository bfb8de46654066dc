package power

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cwbudde/algo-vecmath"
	"go.uber.org/zap"

	"github.com/cwbudde/algo-fftpower/internal/legendre"
	"github.com/cwbudde/algo-fftpower/mesh"
	"github.com/cwbudde/algo-fftpower/stats"
)

var (
	// ErrLocalWedges is returned when mu wedges are requested together
	// with a local line-of-sight, for which mu is not defined mode by
	// mode.
	ErrLocalWedges = errors.New("power: mu wedges require a global line-of-sight")

	// ErrMissingMesh is returned when the first mesh is absent.
	ErrMissingMesh = errors.New("power: first mesh is required")
)

// Options configure a mesh power spectrum estimate.
type Options struct {
	// KEdges are explicit wavenumber bin edges. When nil, edges are
	// derived from KMin, KMax and KStep.
	KEdges []float64
	// KMin is the lower bound of derived edges.
	KMin float64
	// KMax is the upper bound of derived edges; 0 means the smallest
	// per-axis Nyquist wavenumber.
	KMax float64
	// KStep is the width of derived edges; 0 means bins built around
	// each distinct wavenumber norm realized on the mesh.
	KStep float64

	// MuEdges bin the direction cosine; nil means a single bin spanning
	// [-1, 1]. More than one mu bin requires a global line-of-sight.
	// With a local line-of-sight a two-edge range restricts the mode sum
	// of every multipole to modes whose z-axis mu lies inside it.
	MuEdges []float64

	// Ells lists the multipole orders to measure. Empty means wedges
	// only with a global line-of-sight, and (0, 2, 4) with a local one.
	Ells []int

	// LOS selects the line-of-sight convention. The zero value is a
	// global line-of-sight with no direction and is rejected; use
	// GlobalLOS, AxisLOS, FirstPointLOS or EndPointLOS.
	LOS LOS

	// BoxCenter is the physical position of the box center, used to
	// reconstruct positions under a local line-of-sight.
	BoxCenter [3]float64

	// Compensation1 and Compensation2 deconvolve the assignment windows
	// of the first and second mesh. Nil applies no correction.
	Compensation1, Compensation2 *Compensation

	// WNorm overrides the internally estimated normalization when
	// non-zero.
	WNorm float64

	// ShotNoise overrides the internally estimated shot noise.
	ShotNoise *float64

	// Logger receives progress messages. Nil disables logging.
	Logger *zap.Logger
}

// MeshPower is the result of a mesh power spectrum estimate. Wedges is
// always set with a global line-of-sight; Poles is set whenever
// multipoles were requested.
type MeshPower struct {
	Wedges *stats.Wedges
	Poles  *stats.Multipoles
}

// ComputeMeshPower estimates the power spectrum of one mesh, or the
// cross spectrum of two. Pass a nil second mesh (or the same field
// twice) for an auto spectrum. Fields may be real-space or already
// transformed; inputs are not modified.
func ComputeMeshPower(f1, f2 Field, opt Options) (*MeshPower, error) {
	log := opt.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if f1 == nil {
		return nil, ErrMissingMesh
	}
	grid := f1.Grid()
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	autocorr := f2 == nil || f2 == f1
	if !autocorr {
		if !grid.Equal(f2.Grid()) {
			return nil, mesh.ErrGridMismatch
		}
		if f1.Comm() != f2.Comm() {
			return nil, mesh.ErrCommMismatch
		}
	}

	los := opt.LOS
	if los.Kind == LOSGlobal {
		n := math.Sqrt(los.Dir[0]*los.Dir[0] + los.Dir[1]*los.Dir[1] + los.Dir[2]*los.Dir[2])
		if n == 0 {
			return nil, ErrZeroLOS
		}
		for i := range los.Dir {
			los.Dir[i] /= n
		}
	}
	local := los.Kind != LOSGlobal

	ells := append([]int(nil), opt.Ells...)
	for _, ell := range ells {
		if ell < 0 {
			return nil, fmt.Errorf("%w: ell=%d", ErrNegativeEll, ell)
		}
	}
	if local && len(ells) == 0 {
		ells = []int{0, 2, 4}
	}

	muedges := opt.MuEdges
	if muedges != nil {
		if err := validateEdges("mu", muedges); err != nil {
			return nil, err
		}
		if local && len(muedges) > 2 {
			return nil, ErrLocalWedges
		}
	}

	kedges, err := deriveKEdges(grid, f1.Comm(), opt)
	if err != nil {
		return nil, err
	}
	log.Info("k binning prepared",
		zap.Int("nbins", len(kedges)-1),
		zap.Float64("kmin", kedges[0]),
		zap.Float64("kmax", kedges[len(kedges)-1]))

	wnorm := opt.WNorm
	if wnorm == 0 {
		feff := f2
		if autocorr {
			feff = f1
		}
		wnorm, err = Normalization(f1, feff)
		if err != nil {
			return nil, err
		}
	}
	shotnoise := 0.0
	if opt.ShotNoise != nil {
		shotnoise = *opt.ShotNoise
	} else if autocorr {
		if ms, ok := f1.(MeshSummary); ok {
			shotnoise = ms.UnnormalizedShotNoise() / wnorm
		}
	}

	info := stats.Info{
		Autocorr:  autocorr,
		Nmesh:     grid.Nmesh,
		BoxSize:   grid.BoxSize,
		BoxCenter: opt.BoxCenter,
		LOSType:   los.Kind.String(),
		LOS:       los.Dir,
	}
	if opt.Compensation1 != nil {
		info.Compensations[0] = opt.Compensation1.String()
	}
	if opt.Compensation2 != nil {
		info.Compensations[1] = opt.Compensation2.String()
	}

	run := runGlobal
	if local {
		run = runLocal
	}
	t0 := time.Now()
	out, err := run(f1, f2, autocorr, kedges, muedges, ells, los, opt, wnorm, shotnoise*wnorm, info, log)
	if err != nil {
		return nil, err
	}
	log.Info("mesh power computed", zap.Duration("elapsed", time.Since(t0)))
	return out, nil
}

// deriveKEdges resolves the wavenumber binning from the options.
func deriveKEdges(grid mesh.Grid, comm mesh.Comm, opt Options) ([]float64, error) {
	if opt.KEdges != nil {
		if err := validateEdges("k", opt.KEdges); err != nil {
			return nil, err
		}
		return append([]float64(nil), opt.KEdges...), nil
	}
	kny := grid.KNyquist()
	kmax := opt.KMax
	if kmax == 0 {
		kmax = math.Min(kny[0], math.Min(kny[1], kny[2]))
	}
	if opt.KStep == 0 {
		kf := grid.KFund()
		minkf := math.Min(kf[0], math.Min(kf[1], kf[2]))
		return FindUniqueEdges(grid.KCoords(comm), minkf, opt.KMin, kmax+1e-5*minkf, comm)
	}
	var edges []float64
	for v := opt.KMin; v < kmax+1e-5*opt.KStep; v += opt.KStep {
		edges = append(edges, v)
	}
	if err := validateEdges("k", edges); err != nil {
		return nil, err
	}
	return edges, nil
}

func toComplex(f Field) (*mesh.ComplexField, error) {
	switch m := f.(type) {
	case *mesh.RealField:
		return m.R2C()
	case *mesh.ComplexField:
		return m.Clone(), nil
	}
	if f.Fourier() {
		return materializeComplex(f)
	}
	rf, err := materializeReal(f)
	if err != nil {
		return nil, err
	}
	return rf.R2C()
}

func toReal(f Field) (*mesh.RealField, error) {
	switch m := f.(type) {
	case *mesh.RealField:
		return m.Clone(), nil
	case *mesh.ComplexField:
		return m.C2R()
	}
	if !f.Fourier() {
		return materializeReal(f)
	}
	cf, err := materializeComplex(f)
	if err != nil {
		return nil, err
	}
	return cf.C2R()
}

// materializeReal copies an arbitrary real-space field, such as a
// decorated mesh, into a plain slab.
func materializeReal(f Field) (*mesh.RealField, error) {
	out, err := mesh.NewRealField(f.Grid(), f.Comm())
	if err != nil {
		return nil, err
	}
	for i := 0; i < f.SlabLen(); i++ {
		for j := 0; j < f.StoredDim(1); j++ {
			for l := 0; l < f.StoredDim(2); l++ {
				out.Set(i, j, l, real(f.ValueAt(i, j, l)))
			}
		}
	}
	return out, nil
}

func materializeComplex(f Field) (*mesh.ComplexField, error) {
	out, err := mesh.NewComplexField(f.Grid(), f.Comm())
	if err != nil {
		return nil, err
	}
	for i := 0; i < f.SlabLen(); i++ {
		for j := 0; j < f.StoredDim(1); j++ {
			for l := 0; l < f.StoredDim(2); l++ {
				out.Set(i, j, l, f.ValueAt(i, j, l))
			}
		}
	}
	return out, nil
}

func conj(v complex128) complex128 {
	return complex(real(v), -imag(v))
}

// runGlobal measures the spectrum against a fixed line-of-sight: a
// single transform per mesh, a conjugate product and one projection.
func runGlobal(f1, f2 Field, autocorr bool, kedges, muedges []float64, ells []int, los LOS, opt Options, wnorm, snNonorm float64, info stats.Info, log *zap.Logger) (*MeshPower, error) {
	c1, err := toComplex(f1)
	if err != nil {
		return nil, err
	}
	var comps []Compensation
	if opt.Compensation1 != nil {
		comps = append(comps, *opt.Compensation1)
	}
	if !autocorr && opt.Compensation2 != nil {
		comps = append(comps, *opt.Compensation2)
	}
	compensate(c1, comps...)

	c2 := c1
	if !autocorr {
		if c2, err = toComplex(f2); err != nil {
			return nil, err
		}
	}
	if err := c1.ConjMul(c2); err != nil {
		return nil, err
	}

	res, poles, err := ProjectToBasis(c1, kedges, muedges, ProjectOptions{Ells: ells, LOS: los.Dir})
	if err != nil {
		return nil, err
	}

	// The forward transform carries 1/Ntot per mesh; undo both factors
	// and flip the product back to conj(F1) F2 ordering.
	ntot := float64(f1.Grid().Ntot())
	corr := func(v complex128) complex128 {
		return complex(ntot*ntot, 0) * conj(v)
	}

	nk, nmu := len(kedges)-1, len(res.MuEdges)-1
	pw := make([][]complex128, nk)
	for i := 0; i < nk; i++ {
		pw[i] = make([]complex128, nmu)
		for j := 0; j < nmu; j++ {
			pw[i][j] = corr(res.Power[i][j])
		}
	}
	wedges, err := stats.NewWedges(stats.Wedges{
		KEdges:          res.XEdges,
		MuEdges:         res.MuEdges,
		K:               res.X,
		Mu:              res.Mu,
		PowerNonorm:     pw,
		PowerZeroNonorm: corr(res.PowerZero),
		NModes:          res.NModes,
		WNorm:           wnorm,
		ShotNoiseNonorm: snNonorm,
		Info:            info,
	})
	if err != nil {
		return nil, err
	}
	out := &MeshPower{Wedges: wedges}

	if poles != nil {
		pp := make([][]complex128, len(poles.Ells))
		pz := make([]complex128, len(poles.Ells))
		for il := range poles.Ells {
			pp[il] = make([]complex128, nk)
			for i := 0; i < nk; i++ {
				pp[il][i] = corr(poles.Power[il][i])
			}
			pz[il] = corr(poles.PowerZero[il])
		}
		out.Poles, err = stats.NewMultipoles(stats.Multipoles{
			Ells:            poles.Ells,
			KEdges:          poles.XEdges,
			K:               poles.X,
			PowerNonorm:     pp,
			PowerZeroNonorm: pz,
			NModes:          poles.NModes,
			WNorm:           wnorm,
			ShotNoiseNonorm: snNonorm,
			Info:            info,
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// runLocal measures multipoles with a line-of-sight varying mode by
// mode, expanding each order on real spherical harmonics: one transform
// per (ell, m) on top of the base transform of the second mesh.
func runLocal(f1, f2 Field, autocorr bool, kedges, muedges []float64, ells []int, los LOS, opt Options, wnorm, snNonorm float64, info stats.Info, log *zap.Logger) (*MeshPower, error) {
	// The end-point convention is the first-point one with the fields
	// swapped and the result conjugated.
	swap := los.Kind == LOSEndPoint
	if swap && !autocorr {
		f1, f2 = f2, f1
	}
	m2 := f2
	if autocorr {
		m2 = f1
	}

	uniq := append([]int(nil), ells...)
	sort.Ints(uniq)
	n := 0
	for i, ell := range uniq {
		if i == 0 || ell != uniq[i-1] {
			uniq[n] = ell
			n++
		}
	}
	uniq = uniq[:n]
	nonzero := uniq
	has0 := false
	if len(uniq) > 0 && uniq[0] == 0 {
		has0 = true
		nonzero = uniq[1:]
	}

	grid := f1.Grid()
	comm := f1.Comm()

	var rfield1 *mesh.RealField
	var err error
	if len(nonzero) > 0 {
		if rfield1, err = toReal(f1); err != nil {
			return nil, err
		}
	}
	A0, err := toComplex(m2)
	if err != nil {
		return nil, err
	}

	var compBoth []Compensation
	if opt.Compensation1 != nil {
		compBoth = append(compBoth, *opt.Compensation1)
	}
	if autocorr {
		compBoth = append(compBoth, compBoth...)
	} else if opt.Compensation2 != nil {
		compBoth = append(compBoth, *opt.Compensation2)
	}

	// The product of each Aell with A0 carries both assignment windows,
	// so all compensations go onto A0. For an auto spectrum with only
	// the monopole, A0 multiplies itself and a single window suffices.
	var aell0 *mesh.ComplexField
	if autocorr {
		if len(nonzero) > 0 {
			if has0 {
				aell0 = A0.Clone()
			}
			compensate(A0, compBoth...)
		} else {
			if has0 {
				aell0 = A0
			}
			if opt.Compensation1 != nil {
				compensate(A0, *opt.Compensation1)
			}
		}
	} else {
		if has0 {
			if aell0, err = toComplex(f1); err != nil {
				return nil, err
			}
		}
		compensate(A0, compBoth...)
	}

	type row struct {
		power []complex128
		zero  complex128
	}
	rows := make(map[int]row, len(uniq))
	var k1d []float64
	var nmodes []int64
	nk := len(kedges) - 1

	if has0 {
		if err := aell0.ConjMul(A0); err != nil {
			return nil, err
		}
		res, _, err := ProjectToBasis(aell0, kedges, muedges, ProjectOptions{LOS: [3]float64{0, 0, 1}})
		if err != nil {
			return nil, err
		}
		r := row{power: make([]complex128, nk)}
		for i := 0; i < nk; i++ {
			r.power[i] = res.Power[i][0]
		}
		r.zero = res.PowerZero
		rows[0] = r
		k1d, nmodes = flatten1D(res)
		log.Info("multipole computed", zap.Int("ell", 0))
	}

	if len(nonzero) > 0 {
		rf := rfield1.Clone()
		cf, err := mesh.NewComplexField(grid, comm)
		if err != nil {
			return nil, err
		}
		aell, err := mesh.NewComplexField(grid, comm)
		if err != nil {
			return nil, err
		}
		xhat := unitPositions(rfield1, opt.BoxCenter)
		khat := unitWavevectors(A0)
		ylmbuf := make([]float64, len(rf.Data()))

		for _, ell := range nonzero {
			t0 := time.Now()
			aell.Zero()
			for m := -ell; m <= ell; m++ {
				ylm := legendre.NewYlm(ell, m)
				for idx := range ylmbuf {
					ylmbuf[idx] = ylm.At(xhat[0][idx], xhat[1][idx], xhat[2][idx])
				}
				vecmath.MulBlock(rf.Data(), rfield1.Data(), ylmbuf)
				if err := rf.R2CTo(cf); err != nil {
					return nil, err
				}
				cdata := cf.Data()
				for idx := range cdata {
					cdata[idx] *= complex(ylm.At(khat[0][idx], khat[1][idx], khat[2][idx]), 0)
				}
				if err := aell.Add(cf); err != nil {
					return nil, err
				}
			}
			if err := aell.ConjMul(A0); err != nil {
				return nil, err
			}
			res, _, err := ProjectToBasis(aell, kedges, muedges, ProjectOptions{
				LOS:           [3]float64{0, 0, 1},
				Antisymmetric: ell%2 == 1,
			})
			if err != nil {
				return nil, err
			}
			r := row{power: make([]complex128, nk)}
			for i := 0; i < nk; i++ {
				r.power[i] = 4 * math.Pi * res.Power[i][0]
			}
			r.zero = 4 * math.Pi * res.PowerZero
			rows[ell] = r
			k1d, nmodes = flatten1D(res)
			log.Info("multipole computed",
				zap.Int("ell", ell),
				zap.Int("transforms", 2*ell+1),
				zap.Duration("elapsed", time.Since(t0)))
		}
	}

	ntot := float64(grid.Ntot())
	corr := func(v complex128) complex128 {
		v = complex(ntot*ntot, 0) * conj(v)
		if swap {
			v = conj(v)
		}
		return v
	}
	pp := make([][]complex128, len(ells))
	pz := make([]complex128, len(ells))
	for il, ell := range ells {
		r := rows[ell]
		pp[il] = make([]complex128, nk)
		for i := 0; i < nk; i++ {
			pp[il][i] = corr(r.power[i])
		}
		pz[il] = corr(r.zero)
	}
	poles, err := stats.NewMultipoles(stats.Multipoles{
		Ells:            ells,
		KEdges:          append([]float64(nil), kedges...),
		K:               k1d,
		PowerNonorm:     pp,
		PowerZeroNonorm: pz,
		NModes:          nmodes,
		WNorm:           wnorm,
		ShotNoiseNonorm: snNonorm,
		Info:            info,
	})
	if err != nil {
		return nil, err
	}
	return &MeshPower{Poles: poles}, nil
}

func flatten1D(res *BinnedModes) ([]float64, []int64) {
	nk := len(res.XEdges) - 1
	k := make([]float64, nk)
	n := make([]int64, nk)
	for i := 0; i < nk; i++ {
		k[i] = res.X[i][0]
		n[i] = res.NModes[i][0]
	}
	return k, n
}

// unitPositions returns the unit direction components of every cell of a
// real-space slab, with positions reconstructed from the wrapped grid
// coordinates and the box center.
func unitPositions(f *mesh.RealField, boxcenter [3]float64) [3][]float64 {
	grid := f.Grid()
	var offset [3]float64
	for axis := 0; axis < 3; axis++ {
		offset[axis] = boxcenter[axis] - grid.BoxSize[axis]/2
	}
	cx := f.AxisCoord(0)
	cy := f.AxisCoord(1)
	cz := f.AxisCoord(2)
	size := f.SlabLen() * f.StoredDim(1) * f.StoredDim(2)
	var out [3][]float64
	for axis := range out {
		out[axis] = make([]float64, size)
	}
	idx := 0
	for i := 0; i < f.SlabLen(); i++ {
		x := wrapCoord(cx[i], grid.BoxSize[0]) + offset[0]
		for j := 0; j < f.StoredDim(1); j++ {
			y := wrapCoord(cy[j], grid.BoxSize[1]) + offset[1]
			for l := 0; l < f.StoredDim(2); l++ {
				z := wrapCoord(cz[l], grid.BoxSize[2]) + offset[2]
				norm := math.Sqrt(x*x + y*y + z*z)
				out[0][idx] = safeDivide(x, norm)
				out[1][idx] = safeDivide(y, norm)
				out[2][idx] = safeDivide(z, norm)
				idx++
			}
		}
	}
	return out
}

// unitWavevectors returns the unit direction components of every stored
// mode of a compressed Fourier slab.
func unitWavevectors(f *mesh.ComplexField) [3][]float64 {
	kx := f.AxisCoord(0)
	ky := f.AxisCoord(1)
	kz := f.AxisCoord(2)
	size := f.SlabLen() * f.StoredDim(1) * f.StoredDim(2)
	var out [3][]float64
	for axis := range out {
		out[axis] = make([]float64, size)
	}
	idx := 0
	for i := 0; i < f.SlabLen(); i++ {
		for j := 0; j < f.StoredDim(1); j++ {
			for l := 0; l < f.StoredDim(2); l++ {
				norm := math.Sqrt(kx[i]*kx[i] + ky[j]*ky[j] + kz[l]*kz[l])
				out[0][idx] = safeDivide(kx[i], norm)
				out[1][idx] = safeDivide(ky[j], norm)
				out[2][idx] = safeDivide(kz[l], norm)
				idx++
			}
		}
	}
	return out
}
