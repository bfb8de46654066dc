package stats

import (
	"math"

	"gonum.org/v1/gonum/interp"

	"github.com/cwbudde/algo-fftpower/internal/legendre"
)

// Multipoles is a power spectrum measurement decomposed on Legendre
// multipoles and binned in k. PowerNonorm is indexed [ell][k] following
// the order of Ells.
type Multipoles struct {
	Ells   []int
	KEdges []float64

	K []float64

	PowerNonorm       [][]complex128
	PowerDirectNonorm [][]complex128
	PowerZeroNonorm   []complex128
	NModes            []int64

	WNorm           float64
	ShotNoiseNonorm float64

	Info Info
}

// NewMultipoles assembles a measurement from raw binned sums. Nil
// PowerDirectNonorm and PowerZeroNonorm default to zero and a zero WNorm
// to one.
func NewMultipoles(m Multipoles) (*Multipoles, error) {
	if err := validEdges(m.KEdges); err != nil {
		return nil, err
	}
	if m.WNorm == 0 {
		m.WNorm = 1
	}
	if m.PowerDirectNonorm == nil {
		m.PowerDirectNonorm = make([][]complex128, len(m.Ells))
		for i := range m.PowerDirectNonorm {
			m.PowerDirectNonorm[i] = make([]complex128, len(m.KEdges)-1)
		}
	}
	if m.PowerZeroNonorm == nil {
		m.PowerZeroNonorm = make([]complex128, len(m.Ells))
	}
	return &m, nil
}

// Shape returns the number of k bins.
func (m *Multipoles) Shape() int { return len(m.KEdges) - 1 }

// EllIndex returns the row of a multipole order.
func (m *Multipoles) EllIndex(ell int) (int, error) {
	for i, l := range m.Ells {
		if l == ell {
			return i, nil
		}
	}
	return 0, ErrUnknownEll
}

// ShotNoise returns the normalized shot noise.
func (m *Multipoles) ShotNoise() float64 {
	return m.ShotNoiseNonorm / m.WNorm
}

// GetPower returns the measurement with the selected corrections
// applied. Shot noise only enters the monopole.
func (m *Multipoles) GetPower(opt PowerOptions) [][]complex128 {
	out := cloneComplexGrid(m.PowerNonorm)
	for il := range out {
		for i := range out[il] {
			if opt.AddDirect {
				out[il][i] += m.PowerDirectNonorm[il][i]
			}
		}
	}
	if opt.NullZeroMode {
		if ik := digitizeIndex(0, m.KEdges); ik >= 0 && m.NModes[ik] > 0 {
			for il := range out {
				out[il][ik] -= m.PowerZeroNonorm[il] / complex(float64(m.NModes[ik]), 0)
			}
		}
	}
	if opt.RemoveShotNoise {
		if il, err := m.EllIndex(0); err == nil {
			for i := range out[il] {
				out[il][i] -= complex(m.ShotNoiseNonorm, 0)
			}
		}
	}
	if opt.DivideWNorm {
		for il := range out {
			for i := range out[il] {
				out[il][i] /= complex(m.WNorm, 0)
			}
		}
	}
	return out
}

// Power returns the fully corrected measurement.
func (m *Multipoles) Power() [][]complex128 {
	return m.GetPower(Defaults())
}

// PowerReal returns the fully corrected measurement reduced to real
// values: the real part for even multipoles, the imaginary part for odd
// ones.
func (m *Multipoles) PowerReal() [][]float64 {
	p := m.Power()
	out := make([][]float64, len(p))
	for il, ell := range m.Ells {
		out[il] = make([]float64, len(p[il]))
		for i := range p[il] {
			if ell%2 == 0 {
				out[il][i] = real(p[il][i])
			} else {
				out[il][i] = imag(p[il][i])
			}
		}
	}
	return out
}

// KAvg returns the mode-averaged wavenumbers.
func (m *Multipoles) KAvg() []float64 { return cloneFloats(m.K) }

// KMid returns the k bin midpoints.
func (m *Multipoles) KMid() []float64 { return midpoints(m.KEdges) }

// Clone returns a deep copy.
func (m *Multipoles) Clone() *Multipoles {
	out := *m
	out.Ells = append([]int(nil), m.Ells...)
	out.KEdges = cloneFloats(m.KEdges)
	out.K = cloneFloats(m.K)
	out.PowerNonorm = cloneComplexGrid(m.PowerNonorm)
	out.PowerDirectNonorm = cloneComplexGrid(m.PowerDirectNonorm)
	out.PowerZeroNonorm = cloneComplexes(m.PowerZeroNonorm)
	out.NModes = cloneInts(m.NModes)
	return &out
}

// Rebin groups k bins by the given factor in place. A factor of one
// leaves the stored arrays untouched.
func (m *Multipoles) Rebin(factor int) error {
	nk := m.Shape()
	if factor <= 0 || nk%factor != 0 {
		return ErrRebinFactor
	}
	if factor == 1 {
		return nil
	}
	mk := nk / factor
	nmodes := make([]int64, mk)
	kavg := make([]float64, mk)
	power := make([][]complex128, len(m.Ells))
	direct := make([][]complex128, len(m.Ells))
	for il := range m.Ells {
		power[il] = make([]complex128, mk)
		direct[il] = make([]complex128, mk)
	}
	for i := 0; i < mk; i++ {
		var n int64
		var sk float64
		sp := make([]complex128, len(m.Ells))
		sd := make([]complex128, len(m.Ells))
		for a := 0; a < factor; a++ {
			oi := i*factor + a
			fm := float64(m.NModes[oi])
			n += m.NModes[oi]
			sk += nanToZero(m.K[oi]) * fm
			for il := range m.Ells {
				sp[il] += cnanToZero(m.PowerNonorm[il][oi]) * complex(fm, 0)
				sd[il] += cnanToZero(m.PowerDirectNonorm[il][oi]) * complex(fm, 0)
			}
		}
		nmodes[i] = n
		if n == 0 {
			kavg[i] = math.NaN()
			for il := range m.Ells {
				power[il][i], direct[il][i] = cnan(), cnan()
			}
		} else {
			fn := complex(float64(n), 0)
			kavg[i] = sk / float64(n)
			for il := range m.Ells {
				power[il][i] = sp[il] / fn
				direct[il][i] = sd[il] / fn
			}
		}
	}
	m.NModes, m.K = nmodes, kavg
	m.PowerNonorm, m.PowerDirectNonorm = power, direct
	m.KEdges = rebinEdges(m.KEdges, factor)
	return nil
}

// SliceBins restricts the measurement to the given k index range in
// place; a slice step larger than one rebins the kept range.
func (m *Multipoles) SliceBins(sk Slice) error {
	k0, k1, fk, err := sk.normalize(m.Shape())
	if err != nil {
		return err
	}
	m.K = cloneFloats(m.K[k0:k1])
	m.NModes = cloneInts(m.NModes[k0:k1])
	for il := range m.Ells {
		m.PowerNonorm[il] = cloneComplexes(m.PowerNonorm[il][k0:k1])
		m.PowerDirectNonorm[il] = cloneComplexes(m.PowerDirectNonorm[il][k0:k1])
	}
	m.KEdges = cloneFloats(m.KEdges[k0 : k1+1])
	if fk != 1 {
		return m.Rebin(fk)
	}
	return nil
}

// Select restricts the measurement to the bins whose mode-averaged
// wavenumber falls in the given range.
func (m *Multipoles) Select(kr *Range) error {
	if kr == nil {
		return nil
	}
	lo, hi := kr.within(m.K)
	return m.SliceBins(Slice{Start: lo, Stop: hi, Step: 1})
}

// ToWedges projects the multipoles onto (k, mu) wedges by integrating
// the Legendre expansion exactly over each wedge. ells selects the
// orders used; nil means all measured orders.
func (m *Multipoles) ToWedges(muedges []float64, ells []int) (*Wedges, error) {
	if err := validEdges(muedges); err != nil {
		return nil, err
	}
	if ells == nil {
		ells = m.Ells
	}
	rows := make([]int, len(ells))
	for i, ell := range ells {
		il, err := m.EllIndex(ell)
		if err != nil {
			return nil, err
		}
		rows[i] = il
	}
	nk := m.Shape()
	nmu := len(muedges) - 1
	mumid := midpoints(muedges)

	kgrid := make([][]float64, nk)
	mugrid := make([][]float64, nk)
	power := make([][]complex128, nk)
	direct := make([][]complex128, nk)
	nmodes := make([][]int64, nk)
	for i := 0; i < nk; i++ {
		kgrid[i] = make([]float64, nmu)
		mugrid[i] = make([]float64, nmu)
		power[i] = make([]complex128, nmu)
		direct[i] = make([]complex128, nmu)
		nmodes[i] = make([]int64, nmu)
		for j := 0; j < nmu; j++ {
			kgrid[i][j] = m.K[i]
			mugrid[i][j] = mumid[j]
			nmodes[i][j] = m.NModes[i]
			for r, ell := range ells {
				dmu := muedges[j+1] - muedges[j]
				poly := complex(legendre.Integral(ell, muedges[j], muedges[j+1])/dmu, 0)
				power[i][j] += m.PowerNonorm[rows[r]][i] * poly
				direct[i][j] += m.PowerDirectNonorm[rows[r]][i] * poly
			}
		}
	}
	var zero complex128
	if il, err := m.EllIndex(0); err == nil {
		zero = m.PowerZeroNonorm[il]
	}
	return NewWedges(Wedges{
		KEdges:            cloneFloats(m.KEdges),
		MuEdges:           cloneFloats(muedges),
		K:                 kgrid,
		Mu:                mugrid,
		PowerNonorm:       power,
		PowerDirectNonorm: direct,
		PowerZeroNonorm:   zero,
		NModes:            nmodes,
		WNorm:             m.WNorm,
		ShotNoiseNonorm:   m.ShotNoiseNonorm,
		Info:              m.Info,
	})
}

// Interpolate evaluates the corrected power spectrum of one multipole at
// k by linear interpolation over the mode-averaged wavenumbers, holding
// the boundary value between the outermost wavenumbers and the edges.
// Points outside the edges return NaN.
func (m *Multipoles) Interpolate(ell int, k float64) (complex128, error) {
	il, err := m.EllIndex(ell)
	if err != nil {
		return 0, err
	}
	if k < m.KEdges[0] || k > m.KEdges[len(m.KEdges)-1] {
		return cnan(), nil
	}
	power := m.Power()
	var ks, re, im []float64
	for i, kv := range m.K {
		v := power[il][i]
		if math.IsNaN(kv) || math.IsNaN(real(v)) || math.IsNaN(imag(v)) {
			continue
		}
		ks = append(ks, kv)
		re = append(re, real(v))
		im = append(im, imag(v))
	}
	switch len(ks) {
	case 0:
		return cnan(), nil
	case 1:
		return complex(re[0], im[0]), nil
	}
	var pre, pim interp.PiecewiseLinear
	if err := pre.Fit(ks, re); err != nil {
		return cnan(), nil
	}
	if err := pim.Fit(ks, im); err != nil {
		return cnan(), nil
	}
	return complex(pre.Predict(k), pim.Predict(k)), nil
}

// SumMultipoles combines measurements of the same binning, adding the
// raw sums and normalizations. Bin layouts are assumed identical and are
// not checked; modes and counts are taken from the first measurement.
func SumMultipoles(ms ...*Multipoles) *Multipoles {
	out := ms[0].Clone()
	out.WNorm = 0
	out.ShotNoiseNonorm = 0
	for il := range out.PowerNonorm {
		out.PowerZeroNonorm[il] = 0
		for i := range out.PowerNonorm[il] {
			out.PowerNonorm[il][i] = 0
			out.PowerDirectNonorm[il][i] = 0
		}
	}
	for _, m := range ms {
		out.WNorm += m.WNorm
		out.ShotNoiseNonorm += m.ShotNoiseNonorm
		for il := range out.PowerNonorm {
			out.PowerZeroNonorm[il] += m.PowerZeroNonorm[il]
			for i := range out.PowerNonorm[il] {
				out.PowerNonorm[il][i] += m.PowerNonorm[il][i]
				out.PowerDirectNonorm[il][i] += m.PowerDirectNonorm[il][i]
			}
		}
	}
	return out
}
