package mesh

// ComplexField is a Fourier-space scalar field on a Grid, slab-decomposed
// along the first axis and Hermitian-compressed along the last: only the
// non-negative half of the last axis (Nmesh[2]/2+1 planes) is stored.
// Each stored mode with a strictly positive last-axis wavenumber also
// represents its missing negative-frequency mirror.
type ComplexField struct {
	grid Grid
	comm Comm
	x0   int
	nx   int
	nzc  int
	data []complex128
}

// NewComplexField allocates a zeroed Hermitian-compressed complex field.
func NewComplexField(grid Grid, comm Comm) (*ComplexField, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if comm == nil {
		comm = Self()
	}
	start, stop := slabRange(grid.Nmesh[0], comm.Size(), comm.Rank())
	nx := stop - start
	nzc := grid.Nmesh[2]/2 + 1
	return &ComplexField{
		grid: grid,
		comm: comm,
		x0:   start,
		nx:   nx,
		nzc:  nzc,
		data: make([]complex128, nx*grid.Nmesh[1]*nzc),
	}, nil
}

// Grid returns the field geometry.
func (f *ComplexField) Grid() Grid { return f.grid }

// Comm returns the communicator the field is distributed over.
func (f *ComplexField) Comm() Comm { return f.comm }

// SlabStart returns the global index of the first local plane.
func (f *ComplexField) SlabStart() int { return f.x0 }

// SlabLen returns the number of local planes along the first axis.
func (f *ComplexField) SlabLen() int { return f.nx }

// Data returns the local storage, row-major [SlabLen][Nmesh[1]][Nmesh[2]/2+1].
func (f *ComplexField) Data() []complex128 { return f.data }

// At returns the mode at local plane ix, row iy, stored column iz.
func (f *ComplexField) At(ix, iy, iz int) complex128 {
	return f.data[(ix*f.grid.Nmesh[1]+iy)*f.nzc+iz]
}

// Set stores v at local plane ix, row iy, stored column iz.
func (f *ComplexField) Set(ix, iy, iz int, v complex128) {
	f.data[(ix*f.grid.Nmesh[1]+iy)*f.nzc+iz] = v
}

// AxisCoord returns the stored wavevector coordinates along an axis: the
// local slab values for axis 0, the full axis for axis 1, and the
// compressed non-negative half for axis 2.
func (f *ComplexField) AxisCoord(axis int) []float64 {
	dk := f.grid.KFund()
	switch axis {
	case 0:
		out := make([]float64, f.nx)
		for i := range out {
			out[i] = fullCoord(f.x0+i, f.grid.Nmesh[0], dk[0])
		}
		return out
	case 1:
		n := f.grid.Nmesh[1]
		out := make([]float64, n)
		for i := range out {
			out[i] = fullCoord(i, n, dk[1])
		}
		return out
	default:
		out := make([]float64, f.nzc)
		for i := range out {
			out[i] = float64(i) * dk[2]
		}
		return out
	}
}

// StoredDim returns the number of stored samples along an axis.
func (f *ComplexField) StoredDim(axis int) int {
	switch axis {
	case 0:
		return f.nx
	case 1:
		return f.grid.Nmesh[1]
	default:
		return f.nzc
	}
}

// ValueAt returns the stored mode value.
func (f *ComplexField) ValueAt(ix, iy, iz int) complex128 {
	return f.At(ix, iy, iz)
}

// Compressed reports Hermitian compression along the last axis.
func (f *ComplexField) Compressed() bool { return true }

// Fourier reports whether the field lives in Fourier space.
func (f *ComplexField) Fourier() bool { return true }

// Clone returns a deep copy sharing grid and communicator.
func (f *ComplexField) Clone() *ComplexField {
	out := &ComplexField{grid: f.grid, comm: f.comm, x0: f.x0, nx: f.nx, nzc: f.nzc}
	out.data = make([]complex128, len(f.data))
	copy(out.data, f.data)
	return out
}

// Zero resets all stored modes to zero.
func (f *ComplexField) Zero() {
	for i := range f.data {
		f.data[i] = 0
	}
}

// ConjMul replaces f with conj(f)*other, mode by mode. The two fields must
// share grid and decomposition.
func (f *ComplexField) ConjMul(other *ComplexField) error {
	if !f.grid.Equal(other.grid) {
		return ErrGridMismatch
	}
	if f.comm != other.comm {
		return ErrCommMismatch
	}
	for i, v := range f.data {
		re, im := real(v), imag(v)
		f.data[i] = complex(re, -im) * other.data[i]
	}
	return nil
}

// Add accumulates other into f, mode by mode.
func (f *ComplexField) Add(other *ComplexField) error {
	if !f.grid.Equal(other.grid) {
		return ErrGridMismatch
	}
	if f.comm != other.comm {
		return ErrCommMismatch
	}
	for i, v := range other.data {
		f.data[i] += v
	}
	return nil
}

// Scale multiplies every stored mode by s.
func (f *ComplexField) Scale(s complex128) {
	for i := range f.data {
		f.data[i] *= s
	}
}
