package power

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-fftpower/mesh"
)

// ErrUnknownResampler reports an unrecognized particle-assignment scheme.
var ErrUnknownResampler = errors.New("power: unknown resampler")

// Resampler identifies the particle-to-mesh assignment scheme whose window
// a compensation corrects for.
type Resampler int

const (
	ResamplerNGP Resampler = iota
	ResamplerCIC
	ResamplerTSC
	ResamplerPCS
)

func (r Resampler) String() string {
	switch r {
	case ResamplerNGP:
		return "ngp"
	case ResamplerCIC:
		return "cic"
	case ResamplerTSC:
		return "tsc"
	case ResamplerPCS:
		return "pcs"
	}
	return fmt.Sprintf("Resampler(%d)", int(r))
}

// order is the exponent of the aliasing-free sinc window.
func (r Resampler) order() int {
	return int(r) + 1
}

// Compensation describes the Fourier-space correction for one mesh. With
// interlacing the assignment window deconvolves exactly as a sinc power;
// without it the correction also absorbs the leading aliasing
// contribution of the scheme.
type Compensation struct {
	Resampler  Resampler
	Interlaced bool
}

// ParseCompensation parses names like "cic" (interlaced) and "cic-sn"
// (non-interlaced).
func ParseCompensation(s string) (Compensation, error) {
	c := Compensation{Interlaced: true}
	name := s
	if n := len(s); n > 3 && s[n-3:] == "-sn" {
		c.Interlaced = false
		name = s[:n-3]
	}
	switch name {
	case "ngp":
		c.Resampler = ResamplerNGP
	case "cic":
		c.Resampler = ResamplerCIC
	case "tsc":
		c.Resampler = ResamplerTSC
	case "pcs":
		c.Resampler = ResamplerPCS
	default:
		return Compensation{}, fmt.Errorf("%w: %q", ErrUnknownResampler, s)
	}
	return c, nil
}

func (c Compensation) String() string {
	if c.Interlaced {
		return c.Resampler.String()
	}
	return c.Resampler.String() + "-sn"
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(x) / x
}

// window evaluates the correction at dimensionless wavenumbers
// kc[i] = k[i] * cellsize[i]. The binned field is divided by it.
func (c Compensation) window(kc [3]float64) float64 {
	w := 1.0
	if c.Interlaced {
		p := c.Resampler.order()
		for _, k := range kc {
			s := sinc(k / 2)
			for i := 0; i < p; i++ {
				w *= s
			}
		}
		return w
	}
	for _, k := range kc {
		s2 := math.Sin(k / 2)
		s2 *= s2
		switch c.Resampler {
		case ResamplerNGP:
			// exact
		case ResamplerCIC:
			w *= math.Sqrt(1 - 2.0/3.0*s2)
		case ResamplerTSC:
			w *= math.Sqrt(1 - s2 + 2.0/15.0*s2*s2)
		case ResamplerPCS:
			w *= math.Sqrt(1 - 4.0/3.0*s2 + 2.0/5.0*s2*s2 - 4.0/315.0*s2*s2*s2)
		}
	}
	return w
}

// compensate divides every stored mode of cf by the product of the given
// compensation windows.
func compensate(cf *mesh.ComplexField, comps ...Compensation) {
	if len(comps) == 0 {
		return
	}
	cell := cf.Grid().CellSize()
	kx := cf.AxisCoord(0)
	ky := cf.AxisCoord(1)
	kz := cf.AxisCoord(2)
	for i := 0; i < cf.SlabLen(); i++ {
		for j := 0; j < cf.StoredDim(1); j++ {
			for l := 0; l < cf.StoredDim(2); l++ {
				kc := [3]float64{kx[i] * cell[0], ky[j] * cell[1], kz[l] * cell[2]}
				w := 1.0
				for _, c := range comps {
					w *= c.window(kc)
				}
				if w != 1 {
					cf.Set(i, j, l, cf.At(i, j, l)/complex(w, 0))
				}
			}
		}
	}
}
