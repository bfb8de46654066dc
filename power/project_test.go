package power

import (
	"math"
	"sync"
	"testing"

	"github.com/cwbudde/algo-fftpower/internal/testutil"
	"github.com/cwbudde/algo-fftpower/mesh"
)

func testGrid() mesh.Grid {
	return mesh.Grid{Nmesh: [3]int{8, 8, 8}, BoxSize: [3]float64{100, 100, 100}}
}

func newComplexField(t *testing.T, comm mesh.Comm) *mesh.ComplexField {
	t.Helper()
	cf, err := mesh.NewComplexField(testGrid(), comm)
	if err != nil {
		t.Fatalf("NewComplexField: %v", err)
	}
	return cf
}

// setGlobal writes a value at global Fourier indices, skipping ranks that
// do not own the slab.
func setGlobal(cf *mesh.ComplexField, ix, iy, iz int, v complex128) {
	if ix < cf.SlabStart() || ix >= cf.SlabStart()+cf.SlabLen() {
		return
	}
	cf.Set(ix-cf.SlabStart(), iy, iz, v)
}

func TestProjectConstantField(t *testing.T) {
	cf := newComplexField(t, mesh.Self())
	data := cf.Data()
	for i := range data {
		data[i] = 1
	}
	kf := cf.Grid().KFund()[0]

	res, poles, err := ProjectToBasis(cf, []float64{0, 3.9 * kf}, []float64{-1, 0, 1}, ProjectOptions{
		Ells: []int{0},
		LOS:  [3]float64{0, 0, 1},
	})
	if err != nil {
		t.Fatalf("ProjectToBasis: %v", err)
	}

	// Every counted mode carries the same value, so all non-empty
	// averages equal it.
	for j := 0; j < 2; j++ {
		if res.NModes[0][j] == 0 {
			t.Fatalf("mu bin %d is empty", j)
		}
		testutil.RequireComplexNearlyEqual(t, res.Power[0][j], 1, 1e-12)
	}
	testutil.RequireComplexNearlyEqual(t, poles.Power[0][0], 1, 1e-12)

	// The zero mode is recorded before being folded into its bin.
	if res.NModesZero != 1 {
		t.Fatalf("NModesZero=%d, want 1", res.NModesZero)
	}
	testutil.RequireComplexNearlyEqual(t, res.PowerZero, 1, 1e-12)

	// Multipole counts integrate over the full mu range.
	if want := res.NModes[0][0] + res.NModes[0][1]; poles.NModes[0] != want {
		t.Fatalf("pole nmodes=%d, want %d", poles.NModes[0], want)
	}
}

func TestProjectPolesRespectMuRange(t *testing.T) {
	cf := newComplexField(t, mesh.Self())
	data := cf.Data()
	for i := range data {
		data[i] = 1
	}
	kf := cf.Grid().KFund()[0]
	xedges := []float64{0.5 * kf, 3.9 * kf}

	narrow, npoles, err := ProjectToBasis(cf, xedges, []float64{0.25, 0.75}, ProjectOptions{
		Ells: []int{0},
		LOS:  [3]float64{0, 0, 1},
	})
	if err != nil {
		t.Fatalf("ProjectToBasis: %v", err)
	}
	full, fpoles, err := ProjectToBasis(cf, xedges, []float64{-1, 1}, ProjectOptions{
		Ells: []int{0},
		LOS:  [3]float64{0, 0, 1},
	})
	if err != nil {
		t.Fatalf("ProjectToBasis: %v", err)
	}

	// Multipoles integrate between the first and last mu edges, so the
	// pole count matches the wedge count exactly and narrowing the mu
	// range drops modes.
	if npoles.NModes[0] != narrow.NModes[0][0] {
		t.Fatalf("pole nmodes=%d, want wedge count %d", npoles.NModes[0], narrow.NModes[0][0])
	}
	if npoles.NModes[0] == 0 || npoles.NModes[0] >= fpoles.NModes[0] {
		t.Fatalf("narrow pole nmodes=%d, full range %d", npoles.NModes[0], fpoles.NModes[0])
	}
	if fpoles.NModes[0] != full.NModes[0][0] {
		t.Fatalf("full pole nmodes=%d, want wedge count %d", fpoles.NModes[0], full.NModes[0][0])
	}
	testutil.RequireNearlyEqual(t, npoles.X[0], narrow.X[0][0], 1e-12)
	testutil.RequireComplexNearlyEqual(t, npoles.Power[0][0], 1, 1e-12)
}

func TestProjectPlaneWaveShell(t *testing.T) {
	cf := newComplexField(t, mesh.Self())
	setGlobal(cf, 2, 0, 0, 0.25)
	setGlobal(cf, 6, 0, 0, 0.25)
	kf := cf.Grid().KFund()[0]

	// Narrow shell around |k| = 2 kf. It holds six modes: four in the
	// kz = 0 plane and the kz = 2 mode counted twice through its
	// Hermitian mirror.
	xedges := []float64{1.9 * kf, 2.1 * kf}
	res, poles, err := ProjectToBasis(cf, xedges, []float64{-1, 0, 1}, ProjectOptions{
		Ells:        []int{0, 2},
		LOS:         [3]float64{0, 0, 1},
		ExcludeZero: true,
	})
	if err != nil {
		t.Fatalf("ProjectToBasis: %v", err)
	}

	// mu in [0, 1] takes the four kz = 0 modes plus (0, 0, 2) at mu = 1;
	// mu in [-1, 0) takes only the mirror of (0, 0, 2).
	if res.NModes[0][1] != 5 || res.NModes[0][0] != 1 {
		t.Fatalf("nmodes=%v, want [1 5]", res.NModes[0])
	}
	testutil.RequireComplexNearlyEqual(t, res.Power[0][1], 0.5/5, 1e-12)
	testutil.RequireComplexNearlyEqual(t, res.Power[0][0], 0, 1e-12)
	testutil.RequireNearlyEqual(t, res.Mu[0][1], 0.2, 1e-12)
	testutil.RequireNearlyEqual(t, res.X[0][1], 2*kf, 1e-12)

	if poles.NModes[0] != 6 {
		t.Fatalf("pole nmodes=%d, want 6", poles.NModes[0])
	}
	testutil.RequireComplexNearlyEqual(t, poles.Power[0][0], complex(0.5/6, 0), 1e-12)
	// The carrier modes sit at mu = 0, where P_2 = -1/2.
	testutil.RequireComplexNearlyEqual(t, poles.Power[1][0], complex(5*(-0.5)*0.5/6, 0), 1e-12)
}

func TestProjectHermitianMirrorSign(t *testing.T) {
	kf := testGrid().KFund()[0]
	xedges := []float64{0.5 * kf, 1.5 * kf}

	run := func(antisym bool) (*BinnedModes, *BinnedPoles) {
		cf := newComplexField(t, mesh.Self())
		setGlobal(cf, 0, 0, 1, 1i)
		res, poles, err := ProjectToBasis(cf, xedges, nil, ProjectOptions{
			Ells:          []int{0, 1},
			LOS:           [3]float64{0, 0, 1},
			Antisymmetric: antisym,
			ExcludeZero:   true,
		})
		if err != nil {
			t.Fatalf("ProjectToBasis: %v", err)
		}
		return res, poles
	}

	// Even binning of an odd field cancels between a mode and its
	// mirror; the odd multipole survives.
	res, poles := run(false)
	if got := res.NModes[0][0]; got != 6 {
		t.Fatalf("nmodes=%d, want 6", got)
	}
	testutil.RequireComplexNearlyEqual(t, 6*res.Power[0][0], 0, 1e-12)
	testutil.RequireComplexNearlyEqual(t, 6*poles.Power[1][0], 6i, 1e-12)

	// With the mirror sign flipped the roles swap.
	res, poles = run(true)
	testutil.RequireComplexNearlyEqual(t, 6*res.Power[0][0], 2i, 1e-12)
	testutil.RequireComplexNearlyEqual(t, 6*poles.Power[1][0], 0, 1e-12)
}

func TestProjectZeroModeFolding(t *testing.T) {
	kf := testGrid().KFund()[0]
	xedges := []float64{0, 3.9 * kf}

	run := func(exclude bool) *BinnedModes {
		cf := newComplexField(t, mesh.Self())
		data := cf.Data()
		for i := range data {
			data[i] = 1
		}
		res, _, err := ProjectToBasis(cf, xedges, nil, ProjectOptions{ExcludeZero: exclude})
		if err != nil {
			t.Fatalf("ProjectToBasis: %v", err)
		}
		return res
	}

	fold := run(false)
	excl := run(true)

	if fold.NModesZero != 1 || excl.NModesZero != 1 {
		t.Fatalf("NModesZero fold=%d excl=%d, want 1", fold.NModesZero, excl.NModesZero)
	}
	if fold.NModes[0][0] != excl.NModes[0][0]+1 {
		t.Fatalf("fold nmodes=%d excl nmodes=%d", fold.NModes[0][0], excl.NModes[0][0])
	}
	foldSum := fold.Power[0][0] * complex(float64(fold.NModes[0][0]), 0)
	exclSum := excl.Power[0][0] * complex(float64(excl.NModes[0][0]), 0)
	testutil.RequireComplexNearlyEqual(t, foldSum, exclSum+fold.PowerZero, 1e-9)
}

func TestProjectNyquistBinsEmptied(t *testing.T) {
	cf := newComplexField(t, mesh.Self())
	data := cf.Data()
	for i := range data {
		data[i] = 1
	}
	kf := cf.Grid().KFund()[0]
	knyq := cf.Grid().KNyquist()[0]

	res, _, err := ProjectToBasis(cf, []float64{0, 2 * kf, knyq + kf}, nil, ProjectOptions{})
	if err != nil {
		t.Fatalf("ProjectToBasis: %v", err)
	}
	if res.NModes[0][0] == 0 {
		t.Fatal("fully sampled bin is empty")
	}
	if res.NModes[1][0] != 0 {
		t.Fatalf("bin past Nyquist kept %d modes", res.NModes[1][0])
	}
	if !math.IsNaN(real(res.Power[1][0])) || !math.IsNaN(res.X[1][0]) {
		t.Fatal("emptied bin averages are not NaN")
	}
}

func TestProjectModeCountMatchesFullGrid(t *testing.T) {
	cf := newComplexField(t, mesh.Self())
	data := cf.Data()
	for i := range data {
		data[i] = 1
	}
	grid := cf.Grid()
	kf := grid.KFund()[0]
	n := grid.Nmesh[0]
	kmax := 3.99 * kf

	res, poles, err := ProjectToBasis(cf, []float64{0, kmax}, nil, ProjectOptions{
		Ells: []int{0},
		LOS:  [3]float64{0, 0, 1},
	})
	if err != nil {
		t.Fatalf("ProjectToBasis: %v", err)
	}

	// Inside the Nyquist-limited range every mode of the uncompressed
	// grid appears exactly once: the mirror pass restores the kz < 0
	// half and the double-counted kz = n/2 plane lies outside any norm
	// below the per-axis Nyquist.
	var want int64
	wrap := func(i int) float64 {
		if i >= n/2 {
			i -= n
		}
		return float64(i) * kf
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for l := 0; l < n; l++ {
				kx, ky, kz := wrap(i), wrap(j), wrap(l)
				if math.Sqrt(kx*kx+ky*ky+kz*kz) < kmax {
					want++
				}
			}
		}
	}
	if res.NModes[0][0] != want {
		t.Fatalf("nmodes=%d, want %d", res.NModes[0][0], want)
	}
	if poles.NModes[0] != want {
		t.Fatalf("pole nmodes=%d, want %d", poles.NModes[0], want)
	}
}

func TestProjectRealField(t *testing.T) {
	rf, err := mesh.NewRealField(testGrid(), mesh.Self())
	if err != nil {
		t.Fatalf("NewRealField: %v", err)
	}
	data := rf.Data()
	for i := range data {
		data[i] = 2
	}
	cell := rf.Grid().CellSize()[0]

	res, _, err := ProjectToBasis(rf, []float64{0, 3.9 * cell}, nil, ProjectOptions{})
	if err != nil {
		t.Fatalf("ProjectToBasis: %v", err)
	}
	if res.NModes[0][0] == 0 {
		t.Fatal("bin is empty")
	}
	testutil.RequireComplexNearlyEqual(t, res.Power[0][0], 2, 1e-12)
	// Real fields have no Hermitian mirror; the origin cell is the zero
	// coordinate.
	if res.NModesZero != 1 {
		t.Fatalf("NModesZero=%d, want 1", res.NModesZero)
	}
}

func TestProjectDistributedMatchesSerial(t *testing.T) {
	grid := testGrid()
	global := testutil.DeterministicNoise(11, 1, grid.Ntot())
	kf := grid.KFund()[0]
	xedges := []float64{0, kf, 2 * kf, 3 * kf, 3.9 * kf}
	muedges := []float64{-1, -0.5, 0, 0.5, 1}
	opt := ProjectOptions{Ells: []int{0, 2, 4}, LOS: [3]float64{0, 0, 1}}

	project := func(comm mesh.Comm) (*BinnedModes, *BinnedPoles) {
		rf, err := mesh.NewRealField(grid, comm)
		if err != nil {
			t.Errorf("NewRealField: %v", err)
			return nil, nil
		}
		row := grid.Nmesh[1] * grid.Nmesh[2]
		copy(rf.Data(), global[rf.SlabStart()*row:(rf.SlabStart()+rf.SlabLen())*row])
		cf, err := rf.R2C()
		if err != nil {
			t.Errorf("R2C: %v", err)
			return nil, nil
		}
		res, poles, err := ProjectToBasis(cf, xedges, muedges, opt)
		if err != nil {
			t.Errorf("ProjectToBasis: %v", err)
		}
		return res, poles
	}

	serial, serialPoles := project(mesh.Self())

	comms := mesh.NewLocalGroup(2)
	dist := make([]*BinnedModes, len(comms))
	distPoles := make([]*BinnedPoles, len(comms))
	var wg sync.WaitGroup
	for r, c := range comms {
		wg.Add(1)
		go func(r int, c mesh.Comm) {
			defer wg.Done()
			dist[r], distPoles[r] = project(c)
		}(r, c)
	}
	wg.Wait()
	if t.Failed() {
		t.FailNow()
	}

	for r := range dist {
		for i := range serial.XEdges[:len(serial.XEdges)-1] {
			for j := range serial.MuEdges[:len(serial.MuEdges)-1] {
				if dist[r].NModes[i][j] != serial.NModes[i][j] {
					t.Fatalf("rank %d bin (%d,%d): nmodes=%d want %d",
						r, i, j, dist[r].NModes[i][j], serial.NModes[i][j])
				}
				if serial.NModes[i][j] == 0 {
					continue
				}
				testutil.RequireComplexNearlyEqual(t, dist[r].Power[i][j], serial.Power[i][j], 1e-10)
				testutil.RequireNearlyEqual(t, dist[r].X[i][j], serial.X[i][j], 1e-10)
				testutil.RequireNearlyEqual(t, dist[r].Mu[i][j], serial.Mu[i][j], 1e-10)
			}
		}
		for il := range serialPoles.Ells {
			testutil.RequireComplexSliceNearlyEqual(t, distPoles[r].Power[il], serialPoles.Power[il], 1e-10)
		}
	}
}

func TestProjectRejectsBadInput(t *testing.T) {
	cf := newComplexField(t, mesh.Self())
	if _, _, err := ProjectToBasis(cf, []float64{1}, nil, ProjectOptions{}); err == nil {
		t.Fatal("single x edge accepted")
	}
	if _, _, err := ProjectToBasis(cf, []float64{0, 1}, []float64{1, -1}, ProjectOptions{}); err == nil {
		t.Fatal("decreasing mu edges accepted")
	}
	if _, _, err := ProjectToBasis(cf, []float64{0, 1}, nil, ProjectOptions{Ells: []int{-2}}); err == nil {
		t.Fatal("negative ell accepted")
	}
}
