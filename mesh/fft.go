package mesh

import (
	"fmt"
	"sync"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// planCache reuses FFT plans by transform size. Plans are safe to share
// once created; concurrent creation of the same size is resolved by the
// first writer winning.
var planCache sync.Map // int -> *algofft.Plan[complex128]

func getPlan(n int) (*algofft.Plan[complex128], error) {
	if p, ok := planCache.Load(n); ok {
		return p.(*algofft.Plan[complex128]), nil
	}
	plan, err := algofft.NewPlan64(n)
	if err != nil {
		return nil, fmt.Errorf("mesh: failed to create FFT plan of size %d: %w", n, err)
	}
	actual, _ := planCache.LoadOrStore(n, plan)
	return actual.(*algofft.Plan[complex128]), nil
}

// transformAxis applies the 1D plan along the given axis of a full
// row-major [n0][n1][n2] complex array, in place. forward selects the
// transform direction; the inverse direction includes the 1/n factor.
func transformAxis(data []complex128, n [3]int, axis int, forward bool) error {
	plan, err := getPlan(n[axis])
	if err != nil {
		return err
	}
	apply := plan.Inverse
	if forward {
		apply = plan.Forward
	}

	switch axis {
	case 2:
		for off := 0; off < len(data); off += n[2] {
			if err := apply(data[off:off+n[2]], data[off:off+n[2]]); err != nil {
				return err
			}
		}
	case 1:
		tmp := make([]complex128, n[1])
		for i := 0; i < n[0]; i++ {
			base := i * n[1] * n[2]
			for l := 0; l < n[2]; l++ {
				for j := 0; j < n[1]; j++ {
					tmp[j] = data[base+j*n[2]+l]
				}
				if err := apply(tmp, tmp); err != nil {
					return err
				}
				for j := 0; j < n[1]; j++ {
					data[base+j*n[2]+l] = tmp[j]
				}
			}
		}
	default:
		tmp := make([]complex128, n[0])
		stride := n[1] * n[2]
		for rest := 0; rest < stride; rest++ {
			for i := 0; i < n[0]; i++ {
				tmp[i] = data[i*stride+rest]
			}
			if err := apply(tmp, tmp); err != nil {
				return err
			}
			for i := 0; i < n[0]; i++ {
				data[i*stride+rest] = tmp[i]
			}
		}
	}
	return nil
}

// R2C transforms the real field to Fourier space, returning a new
// Hermitian-compressed complex field with the convention
// F(k) = 1/Ntot sum_r exp(-i k.r) F(r). The receiver is left untouched.
func (f *RealField) R2C() (*ComplexField, error) {
	out, err := NewComplexField(f.grid, f.comm)
	if err != nil {
		return nil, err
	}
	if err := f.R2CTo(out); err != nil {
		return nil, err
	}
	return out, nil
}

// R2CTo transforms the real field into an existing complex field, reusing
// its storage. The destination must share grid and communicator.
func (f *RealField) R2CTo(dst *ComplexField) error {
	if !f.grid.Equal(dst.grid) {
		return ErrGridMismatch
	}
	if f.comm != dst.comm {
		return ErrCommMismatch
	}

	// The transform works on the full grid: slabs are gathered, the 3D
	// transform is applied locally, and each rank keeps its own slab.
	full, err := f.comm.AllGatherFloat64(f.data)
	if err != nil {
		return err
	}
	n := f.grid.Nmesh
	work := make([]complex128, len(full))
	for i, v := range full {
		work[i] = complex(v, 0)
	}
	for axis := 2; axis >= 0; axis-- {
		if err := transformAxis(work, n, axis, true); err != nil {
			return err
		}
	}

	norm := complex(1/float64(f.grid.Ntot()), 0)
	nzc := dst.nzc
	for ix := 0; ix < dst.nx; ix++ {
		gx := dst.x0 + ix
		for iy := 0; iy < n[1]; iy++ {
			src := (gx*n[1] + iy) * n[2]
			dstOff := (ix*n[1] + iy) * nzc
			for iz := 0; iz < nzc; iz++ {
				dst.data[dstOff+iz] = work[src+iz] * norm
			}
		}
	}
	return nil
}

// C2R transforms the Hermitian-compressed field back to real space,
// undoing the R2C convention. The receiver is left untouched.
func (f *ComplexField) C2R() (*RealField, error) {
	out, err := NewRealField(f.grid, f.comm)
	if err != nil {
		return nil, err
	}

	full, err := f.comm.AllGatherComplex128(f.data)
	if err != nil {
		return nil, err
	}
	n := f.grid.Nmesh
	nzc := f.nzc

	// Expand the compressed spectrum to the full last axis using
	// F(-k) = conj(F(k)).
	work := make([]complex128, n[0]*n[1]*n[2])
	for i := 0; i < n[0]; i++ {
		for j := 0; j < n[1]; j++ {
			src := (i*n[1] + j) * nzc
			dst := (i*n[1] + j) * n[2]
			copy(work[dst:dst+nzc], full[src:src+nzc])
		}
	}
	for i := 0; i < n[0]; i++ {
		mi := (n[0] - i) % n[0]
		for j := 0; j < n[1]; j++ {
			mj := (n[1] - j) % n[1]
			dst := (i*n[1] + j) * n[2]
			src := (mi*n[1] + mj) * nzc
			for l := nzc; l < n[2]; l++ {
				v := full[src+n[2]-l]
				work[dst+l] = complex(real(v), -imag(v))
			}
		}
	}

	for axis := 0; axis < 3; axis++ {
		if err := transformAxis(work, n, axis, false); err != nil {
			return nil, err
		}
	}

	scale := float64(f.grid.Ntot())
	for ix := 0; ix < out.nx; ix++ {
		gx := out.x0 + ix
		base := gx * n[1] * n[2]
		localBase := ix * n[1] * n[2]
		for r := 0; r < n[1]*n[2]; r++ {
			out.data[localBase+r] = real(work[base+r]) * scale
		}
	}
	return out, nil
}
