package mesh

// RealField is a real-valued scalar field on a Grid, slab-decomposed along
// the first axis. The local slab covers global indices [SlabStart,
// SlabStart+SlabLen) and is stored row-major as data[ix][iy][iz].
type RealField struct {
	grid Grid
	comm Comm
	x0   int
	nx   int
	data []float64
}

// NewRealField allocates a zeroed real field distributed over comm.
func NewRealField(grid Grid, comm Comm) (*RealField, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if comm == nil {
		comm = Self()
	}
	start, stop := slabRange(grid.Nmesh[0], comm.Size(), comm.Rank())
	nx := stop - start
	return &RealField{
		grid: grid,
		comm: comm,
		x0:   start,
		nx:   nx,
		data: make([]float64, nx*grid.Nmesh[1]*grid.Nmesh[2]),
	}, nil
}

// Grid returns the field geometry.
func (f *RealField) Grid() Grid { return f.grid }

// Comm returns the communicator the field is distributed over.
func (f *RealField) Comm() Comm { return f.comm }

// SlabStart returns the global index of the first local plane.
func (f *RealField) SlabStart() int { return f.x0 }

// SlabLen returns the number of local planes along the first axis.
func (f *RealField) SlabLen() int { return f.nx }

// Data returns the local slab storage. The layout is row-major
// [SlabLen][Nmesh[1]][Nmesh[2]].
func (f *RealField) Data() []float64 { return f.data }

// At returns the value at local plane ix, row iy, column iz.
func (f *RealField) At(ix, iy, iz int) float64 {
	return f.data[(ix*f.grid.Nmesh[1]+iy)*f.grid.Nmesh[2]+iz]
}

// Set stores v at local plane ix, row iy, column iz.
func (f *RealField) Set(ix, iy, iz int, v float64) {
	f.data[(ix*f.grid.Nmesh[1]+iy)*f.grid.Nmesh[2]+iz] = v
}

// AxisCoord returns the stored position coordinates along an axis: the
// local slab values for axis 0, the full axis otherwise. Coordinates use
// the wrapped convention of the package: upper-half indices map to
// negative positions.
func (f *RealField) AxisCoord(axis int) []float64 {
	cell := f.grid.CellSize()
	if axis == 0 {
		out := make([]float64, f.nx)
		for i := range out {
			out[i] = fullCoord(f.x0+i, f.grid.Nmesh[0], cell[0])
		}
		return out
	}
	n := f.grid.Nmesh[axis]
	out := make([]float64, n)
	for i := range out {
		out[i] = fullCoord(i, n, cell[axis])
	}
	return out
}

// StoredDim returns the number of stored samples along an axis.
func (f *RealField) StoredDim(axis int) int {
	if axis == 0 {
		return f.nx
	}
	return f.grid.Nmesh[axis]
}

// ValueAt returns the field value at a stored point as a complex number
// with zero imaginary part, so real and Fourier fields can be binned by
// the same projection code.
func (f *RealField) ValueAt(ix, iy, iz int) complex128 {
	return complex(f.At(ix, iy, iz), 0)
}

// Compressed reports Hermitian compression; real fields never compress.
func (f *RealField) Compressed() bool { return false }

// Fourier reports whether the field lives in Fourier space.
func (f *RealField) Fourier() bool { return false }

// Clone returns a deep copy sharing grid and communicator.
func (f *RealField) Clone() *RealField {
	out := &RealField{grid: f.grid, comm: f.comm, x0: f.x0, nx: f.nx}
	out.data = make([]float64, len(f.data))
	copy(out.data, f.data)
	return out
}

// Sum returns the global sum of the field over all ranks.
func (f *RealField) Sum() (float64, error) {
	local := 0.0
	for _, v := range f.data {
		local += v
	}
	buf := []float64{local}
	if err := f.comm.AllReduceFloat64(buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}
