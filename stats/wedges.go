package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Wedges is a power spectrum measurement binned in (k, mu).
//
// PowerNonorm holds the raw binned estimate, without normalization, shot
// noise or zero-mode correction. K and Mu hold the mode-averaged
// coordinates per bin, NaN where a bin is empty.
type Wedges struct {
	KEdges  []float64
	MuEdges []float64

	K  [][]float64
	Mu [][]float64

	PowerNonorm       [][]complex128
	PowerDirectNonorm [][]complex128
	PowerZeroNonorm   complex128
	NModes            [][]int64

	WNorm           float64
	ShotNoiseNonorm float64

	Info Info
}

// NewWedges assembles a measurement from raw binned sums. Nil
// PowerDirectNonorm defaults to zero and a zero WNorm to one.
func NewWedges(w Wedges) (*Wedges, error) {
	if err := validEdges(w.KEdges); err != nil {
		return nil, err
	}
	if err := validEdges(w.MuEdges); err != nil {
		return nil, err
	}
	if w.WNorm == 0 {
		w.WNorm = 1
	}
	if w.PowerDirectNonorm == nil {
		nk, nmu := len(w.KEdges)-1, len(w.MuEdges)-1
		w.PowerDirectNonorm = make([][]complex128, nk)
		for i := range w.PowerDirectNonorm {
			w.PowerDirectNonorm[i] = make([]complex128, nmu)
		}
	}
	return &w, nil
}

// Shape returns the number of (k, mu) bins.
func (w *Wedges) Shape() (nk, nmu int) {
	return len(w.KEdges) - 1, len(w.MuEdges) - 1
}

// ShotNoise returns the normalized shot noise.
func (w *Wedges) ShotNoise() float64 {
	return w.ShotNoiseNonorm / w.WNorm
}

// GetPower returns the measurement with the selected corrections applied.
func (w *Wedges) GetPower(opt PowerOptions) [][]complex128 {
	out := cloneComplexGrid(w.PowerNonorm)
	for i := range out {
		for j := range out[i] {
			if opt.AddDirect {
				out[i][j] += w.PowerDirectNonorm[i][j]
			}
			if opt.RemoveShotNoise {
				out[i][j] -= complex(w.ShotNoiseNonorm, 0)
			}
		}
	}
	if opt.NullZeroMode {
		ik := digitizeIndex(0, w.KEdges)
		imu := digitizeIndex(0, w.MuEdges)
		if ik >= 0 && imu >= 0 && w.NModes[ik][imu] > 0 {
			out[ik][imu] -= w.PowerZeroNonorm / complex(float64(w.NModes[ik][imu]), 0)
		}
	}
	if opt.DivideWNorm {
		for i := range out {
			for j := range out[i] {
				out[i][j] /= complex(w.WNorm, 0)
			}
		}
	}
	return out
}

// Power returns the fully corrected measurement.
func (w *Wedges) Power() [][]complex128 {
	return w.GetPower(Defaults())
}

// PowerReal returns the real part of the fully corrected measurement.
func (w *Wedges) PowerReal() [][]float64 {
	p := w.Power()
	out := make([][]float64, len(p))
	for i := range p {
		out[i] = make([]float64, len(p[i]))
		for j := range p[i] {
			out[i][j] = real(p[i][j])
		}
	}
	return out
}

// KAvg returns the mode-weighted mean wavenumber per k bin, NaN for rows
// with no modes.
func (w *Wedges) KAvg() []float64 {
	nk, nmu := w.Shape()
	out := make([]float64, nk)
	for i := 0; i < nk; i++ {
		var s float64
		var n int64
		for j := 0; j < nmu; j++ {
			s += nanToZero(w.K[i][j]) * float64(w.NModes[i][j])
			n += w.NModes[i][j]
		}
		if n == 0 {
			out[i] = math.NaN()
		} else {
			out[i] = s / float64(n)
		}
	}
	return out
}

// MuAvg returns the mode-weighted mean mu per wedge, NaN for empty
// columns.
func (w *Wedges) MuAvg() []float64 {
	nk, nmu := w.Shape()
	out := make([]float64, nmu)
	for j := 0; j < nmu; j++ {
		var s float64
		var n int64
		for i := 0; i < nk; i++ {
			s += nanToZero(w.Mu[i][j]) * float64(w.NModes[i][j])
			n += w.NModes[i][j]
		}
		if n == 0 {
			out[j] = math.NaN()
		} else {
			out[j] = s / float64(n)
		}
	}
	return out
}

// KMid returns the k bin midpoints.
func (w *Wedges) KMid() []float64 { return midpoints(w.KEdges) }

// MuMid returns the mu bin midpoints.
func (w *Wedges) MuMid() []float64 { return midpoints(w.MuEdges) }

func midpoints(edges []float64) []float64 {
	out := make([]float64, len(edges)-1)
	floats.AddTo(out, edges[:len(edges)-1], edges[1:])
	floats.Scale(0.5, out)
	return out
}

// Clone returns a deep copy.
func (w *Wedges) Clone() *Wedges {
	out := *w
	out.KEdges = cloneFloats(w.KEdges)
	out.MuEdges = cloneFloats(w.MuEdges)
	out.K = cloneFloatGrid(w.K)
	out.Mu = cloneFloatGrid(w.Mu)
	out.PowerNonorm = cloneComplexGrid(w.PowerNonorm)
	out.PowerDirectNonorm = cloneComplexGrid(w.PowerDirectNonorm)
	out.NModes = cloneIntGrid(w.NModes)
	return &out
}

// Rebin groups bins by the given factors in place. Each factor must
// divide the corresponding bin count. Counts are summed; coordinate and
// power averages are recombined weighted by mode counts, with NaN
// entries of empty bins dropped. Unit factors leave the stored arrays
// untouched.
func (w *Wedges) Rebin(fk, fmu int) error {
	nk, nmu := w.Shape()
	if fk <= 0 || fmu <= 0 || nk%fk != 0 || nmu%fmu != 0 {
		return ErrRebinFactor
	}
	if fk == 1 && fmu == 1 {
		return nil
	}
	mk, mmu := nk/fk, nmu/fmu
	nmodes := make([][]int64, mk)
	kavg := make([][]float64, mk)
	muavg := make([][]float64, mk)
	power := make([][]complex128, mk)
	direct := make([][]complex128, mk)
	for i := 0; i < mk; i++ {
		nmodes[i] = make([]int64, mmu)
		kavg[i] = make([]float64, mmu)
		muavg[i] = make([]float64, mmu)
		power[i] = make([]complex128, mmu)
		direct[i] = make([]complex128, mmu)
		for j := 0; j < mmu; j++ {
			var n int64
			var sk, smu float64
			var sp, sd complex128
			for a := 0; a < fk; a++ {
				for b := 0; b < fmu; b++ {
					oi, oj := i*fk+a, j*fmu+b
					m := w.NModes[oi][oj]
					n += m
					fm := float64(m)
					sk += nanToZero(w.K[oi][oj]) * fm
					smu += nanToZero(w.Mu[oi][oj]) * fm
					sp += cnanToZero(w.PowerNonorm[oi][oj]) * complex(fm, 0)
					sd += cnanToZero(w.PowerDirectNonorm[oi][oj]) * complex(fm, 0)
				}
			}
			nmodes[i][j] = n
			if n == 0 {
				kavg[i][j], muavg[i][j] = math.NaN(), math.NaN()
				power[i][j], direct[i][j] = cnan(), cnan()
			} else {
				fn := complex(float64(n), 0)
				kavg[i][j] = sk / float64(n)
				muavg[i][j] = smu / float64(n)
				power[i][j] = sp / fn
				direct[i][j] = sd / fn
			}
		}
	}
	w.NModes, w.K, w.Mu = nmodes, kavg, muavg
	w.PowerNonorm, w.PowerDirectNonorm = power, direct
	w.KEdges = rebinEdges(w.KEdges, fk)
	w.MuEdges = rebinEdges(w.MuEdges, fmu)
	return nil
}

// SliceBins restricts the measurement to the given index ranges in
// place; slice steps larger than one rebin the kept range.
func (w *Wedges) SliceBins(sk, smu Slice) error {
	nk, nmu := w.Shape()
	k0, k1, fk, err := sk.normalize(nk)
	if err != nil {
		return err
	}
	m0, m1, fmu, err := smu.normalize(nmu)
	if err != nil {
		return err
	}
	w.K = sliceFloatGrid(w.K, k0, k1, m0, m1)
	w.Mu = sliceFloatGrid(w.Mu, k0, k1, m0, m1)
	w.PowerNonorm = sliceComplexGrid(w.PowerNonorm, k0, k1, m0, m1)
	w.PowerDirectNonorm = sliceComplexGrid(w.PowerDirectNonorm, k0, k1, m0, m1)
	w.NModes = sliceIntGrid(w.NModes, k0, k1, m0, m1)
	w.KEdges = cloneFloats(w.KEdges[k0 : k1+1])
	w.MuEdges = cloneFloats(w.MuEdges[m0 : m1+1])
	if fk != 1 || fmu != 1 {
		return w.Rebin(fk, fmu)
	}
	return nil
}

// Select restricts the measurement to the bins whose mode-averaged
// coordinates fall in the given ranges. A nil range keeps an axis whole.
func (w *Wedges) Select(kr, mur *Range) error {
	sk, smu := All(), All()
	if kr != nil {
		lo, hi := kr.within(w.KAvg())
		sk = Slice{Start: lo, Stop: hi, Step: 1}
	}
	if mur != nil {
		lo, hi := mur.within(w.MuAvg())
		smu = Slice{Start: lo, Stop: hi, Step: 1}
	}
	return w.SliceBins(sk, smu)
}

// Interpolate evaluates the corrected power spectrum at (k, mu) by
// bilinear interpolation over the mode-averaged coordinates, holding the
// boundary value between the outermost coordinates and the edges.
// Points outside the edges return NaN.
func (w *Wedges) Interpolate(k, mu float64) complex128 {
	if k < w.KEdges[0] || k > w.KEdges[len(w.KEdges)-1] ||
		mu < w.MuEdges[0] || mu > w.MuEdges[len(w.MuEdges)-1] {
		return cnan()
	}
	power := w.Power()
	kavg, muavg := w.KAvg(), w.MuAvg()
	var ks, mus []float64
	var ki, mi []int
	for i, v := range kavg {
		if !math.IsNaN(v) {
			ks = append(ks, v)
			ki = append(ki, i)
		}
	}
	for j, v := range muavg {
		if !math.IsNaN(v) {
			mus = append(mus, v)
			mi = append(mi, j)
		}
	}
	if len(ks) == 0 || len(mus) == 0 {
		return cnan()
	}
	i0, i1, tk := clampSegment(ks, k)
	j0, j1, tmu := clampSegment(mus, mu)
	p := func(a, b int) complex128 { return power[ki[a]][mi[b]] }
	ck, cmk := complex(tk, 0), complex(1-tk, 0)
	cm, cmm := complex(tmu, 0), complex(1-tmu, 0)
	return cmk*cmm*p(i0, j0) + ck*cmm*p(i1, j0) + cmk*cm*p(i0, j1) + ck*cm*p(i1, j1)
}

// clampSegment locates x in the sorted coordinate list, returning the
// bracketing indices and the interpolation weight, clamped to the ends.
func clampSegment(xs []float64, x float64) (i0, i1 int, t float64) {
	n := len(xs)
	if n == 1 || x <= xs[0] {
		return 0, 0, 0
	}
	if x >= xs[n-1] {
		return n - 1, n - 1, 0
	}
	i := sort.SearchFloat64s(xs, x)
	i0, i1 = i-1, i
	t = (x - xs[i0]) / (xs[i1] - xs[i0])
	return i0, i1, t
}

func sliceFloatGrid(x [][]float64, k0, k1, m0, m1 int) [][]float64 {
	out := make([][]float64, k1-k0)
	for i := range out {
		out[i] = cloneFloats(x[k0+i][m0:m1])
	}
	return out
}

func sliceIntGrid(x [][]int64, k0, k1, m0, m1 int) [][]int64 {
	out := make([][]int64, k1-k0)
	for i := range out {
		out[i] = cloneInts(x[k0+i][m0:m1])
	}
	return out
}

func sliceComplexGrid(x [][]complex128, k0, k1, m0, m1 int) [][]complex128 {
	out := make([][]complex128, k1-k0)
	for i := range out {
		out[i] = cloneComplexes(x[k0+i][m0:m1])
	}
	return out
}

// SumWedges combines measurements of the same binning, adding the raw
// sums and normalizations. Bin layouts are assumed identical and are not
// checked; modes and counts are taken from the first measurement.
func SumWedges(ws ...*Wedges) *Wedges {
	out := ws[0].Clone()
	out.WNorm = 0
	out.ShotNoiseNonorm = 0
	out.PowerZeroNonorm = 0
	for i := range out.PowerNonorm {
		for j := range out.PowerNonorm[i] {
			out.PowerNonorm[i][j] = 0
			out.PowerDirectNonorm[i][j] = 0
		}
	}
	for _, w := range ws {
		out.WNorm += w.WNorm
		out.ShotNoiseNonorm += w.ShotNoiseNonorm
		out.PowerZeroNonorm += w.PowerZeroNonorm
		for i := range out.PowerNonorm {
			for j := range out.PowerNonorm[i] {
				out.PowerNonorm[i][j] += w.PowerNonorm[i][j]
				out.PowerDirectNonorm[i][j] += w.PowerDirectNonorm[i][j]
			}
		}
	}
	return out
}
