package power

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/cwbudde/algo-fftpower/internal/testutil"
	"github.com/cwbudde/algo-fftpower/mesh"
)

// overdensityWave fills a real field with 1 + amplitude * cos(k . x) for
// integer wavevector k in fundamental units.
func overdensityWave(t *testing.T, grid mesh.Grid, comm mesh.Comm, k [3]int, amplitude float64) *mesh.RealField {
	t.Helper()
	rf, err := mesh.NewRealField(grid, comm)
	if err != nil {
		t.Fatalf("NewRealField: %v", err)
	}
	wave := testutil.PlaneWave(grid.Nmesh, k, amplitude)
	row := grid.Nmesh[1] * grid.Nmesh[2]
	local := wave[rf.SlabStart()*row : (rf.SlabStart()+rf.SlabLen())*row]
	data := rf.Data()
	for i, v := range local {
		data[i] = 1 + v
	}
	return rf
}

// waveBin locates the k bin holding the fundamental multiple m.
func waveBin(t *testing.T, kedges []float64, grid mesh.Grid, m int) int {
	t.Helper()
	k := float64(m) * grid.KFund()[0]
	for i := 0; i+1 < len(kedges); i++ {
		if k >= kedges[i] && k < kedges[i+1] {
			return i
		}
	}
	t.Fatalf("no bin holds k=%v in %v", k, kedges)
	return -1
}

func mustAxisLOS(t *testing.T, axis int) LOS {
	t.Helper()
	los, err := AxisLOS(axis)
	if err != nil {
		t.Fatalf("AxisLOS: %v", err)
	}
	return los
}

func TestGlobalAutoPlaneWave(t *testing.T) {
	grid := testGrid()
	const amp = 0.8
	rf := overdensityWave(t, grid, mesh.Self(), [3]int{2, 0, 0}, amp)

	mp, err := ComputeMeshPower(rf, nil, Options{
		LOS:  mustAxisLOS(t, 0),
		Ells: []int{0, 2, 4},
	})
	if err != nil {
		t.Fatalf("ComputeMeshPower: %v", err)
	}

	vol := grid.BoxSize[0] * grid.BoxSize[1] * grid.BoxSize[2]
	bin := waveBin(t, mp.Wedges.KEdges, grid, 2)

	// The wave shell holds six modes with the two carriers among them.
	nk, _ := mp.Wedges.Shape()
	if mp.Wedges.NModes[bin][0] != 6 {
		t.Fatalf("nmodes=%d, want 6", mp.Wedges.NModes[bin][0])
	}
	power := mp.Wedges.Power()
	want := amp * amp * vol / 12
	testutil.RequireComplexNearlyEqual(t, power[bin][0], complex(want, 0), 1e-6*want)

	// The DC carrier is removed with the zero mode.
	testutil.RequireComplexNearlyEqual(t, power[0][0], 0, 1e-6)

	// Everything else is empty of signal.
	for i := 0; i < nk; i++ {
		if i == bin || i == 0 {
			continue
		}
		if v := power[i][0]; !cmplx.IsNaN(v) && cmplx.Abs(v) > 1e-6 {
			t.Fatalf("bin %d holds spurious power %v", i, v)
		}
	}

	// Carriers sit at mu = +-1 where every Legendre polynomial of even
	// degree is one.
	poles := mp.Poles.Power()
	for il, ell := range mp.Poles.Ells {
		want := float64(2*ell+1) * amp * amp * vol / 12
		testutil.RequireComplexNearlyEqual(t, poles[il][bin], complex(want, 0), 1e-6*want)
	}
}

func TestGlobalAutoOddMultipolesVanish(t *testing.T) {
	grid := testGrid()
	rf, err := mesh.NewRealField(grid, mesh.Self())
	if err != nil {
		t.Fatalf("NewRealField: %v", err)
	}
	data := rf.Data()
	noise := testutil.DeterministicNoise(11, 0.2, len(data))
	for i := range data {
		data[i] = 1 + noise[i]
	}

	mp, err := ComputeMeshPower(rf, nil, Options{
		LOS:  mustAxisLOS(t, 2),
		Ells: []int{0, 1, 3},
	})
	if err != nil {
		t.Fatalf("ComputeMeshPower: %v", err)
	}

	// Every mode of an auto spectrum carries a real value, and within a
	// k bin each mode is paired with its reflection at -mu, so the odd
	// orders cancel up to rounding.
	poles := mp.Poles.Power()
	for i, n := range mp.Poles.NModes {
		if n == 0 {
			continue
		}
		scale := cmplx.Abs(poles[0][i])
		if scale == 0 {
			scale = 1
		}
		for _, il := range []int{1, 2} {
			if r := cmplx.Abs(poles[il][i]); r > 1e-9*scale {
				t.Fatalf("ell=%d bin %d holds %v against monopole %v",
					mp.Poles.Ells[il], i, poles[il][i], poles[0][i])
			}
		}
	}
}

func TestGlobalMuWedges(t *testing.T) {
	grid := testGrid()
	const amp = 0.5
	rf := overdensityWave(t, grid, mesh.Self(), [3]int{2, 0, 0}, amp)

	mp, err := ComputeMeshPower(rf, nil, Options{
		LOS:     mustAxisLOS(t, 0),
		MuEdges: []float64{-1, 0, 1},
	})
	if err != nil {
		t.Fatalf("ComputeMeshPower: %v", err)
	}
	bin := waveBin(t, mp.Wedges.KEdges, grid, 2)
	vol := grid.BoxSize[0] * grid.BoxSize[1] * grid.BoxSize[2]
	power := mp.Wedges.Power()

	// The mu < 0 wedge holds only the kx = -2 carrier; the mu >= 0 wedge
	// dilutes the kx = +2 carrier among four signal-free modes.
	if mp.Wedges.NModes[bin][0] != 1 || mp.Wedges.NModes[bin][1] != 5 {
		t.Fatalf("nmodes=%v", mp.Wedges.NModes[bin])
	}
	testutil.RequireComplexNearlyEqual(t, power[bin][0], complex(amp*amp*vol/4, 0), 1e-6*vol)
	testutil.RequireComplexNearlyEqual(t, power[bin][1], complex(amp*amp*vol/20, 0), 1e-6*vol)
}

func TestCrossMatchesAuto(t *testing.T) {
	grid := testGrid()
	rf, err := mesh.NewRealField(grid, mesh.Self())
	if err != nil {
		t.Fatalf("NewRealField: %v", err)
	}
	noise := testutil.DeterministicNoise(3, 0.2, grid.Ntot())
	data := rf.Data()
	for i := range data {
		data[i] = 1 + noise[i]
	}
	opt := Options{LOS: mustAxisLOS(t, 2), Ells: []int{0, 2}}

	auto, err := ComputeMeshPower(rf, nil, opt)
	if err != nil {
		t.Fatalf("auto: %v", err)
	}
	cross, err := ComputeMeshPower(rf, rf.Clone(), opt)
	if err != nil {
		t.Fatalf("cross: %v", err)
	}
	if cross.Wedges.Info.Autocorr {
		t.Fatal("distinct meshes flagged as autocorr")
	}
	ap, cp := auto.Wedges.Power(), cross.Wedges.Power()
	for i := range ap {
		if cmplx.IsNaN(ap[i][0]) && cmplx.IsNaN(cp[i][0]) {
			continue
		}
		testutil.RequireComplexNearlyEqual(t, cp[i][0], ap[i][0], 1e-9*(1+cmplx.Abs(ap[i][0])))
	}
}

func TestComplexInputMatchesReal(t *testing.T) {
	grid := testGrid()
	rf := overdensityWave(t, grid, mesh.Self(), [3]int{1, 1, 0}, 0.3)
	cf, err := rf.R2C()
	if err != nil {
		t.Fatalf("R2C: %v", err)
	}
	opt := Options{LOS: mustAxisLOS(t, 0), WNorm: 1}

	fromReal, err := ComputeMeshPower(rf, nil, opt)
	if err != nil {
		t.Fatalf("real input: %v", err)
	}
	fromComplex, err := ComputeMeshPower(cf, nil, opt)
	if err != nil {
		t.Fatalf("complex input: %v", err)
	}
	rp, cp := fromReal.Wedges.Power(), fromComplex.Wedges.Power()
	for i := range rp {
		if cmplx.IsNaN(rp[i][0]) && cmplx.IsNaN(cp[i][0]) {
			continue
		}
		testutil.RequireComplexNearlyEqual(t, cp[i][0], rp[i][0], 1e-9*(1+cmplx.Abs(rp[i][0])))
	}
}

func TestLocalMonopoleMatchesGlobal(t *testing.T) {
	grid := testGrid()
	rf := overdensityWave(t, grid, mesh.Self(), [3]int{0, 0, 2}, 0.7)

	global, err := ComputeMeshPower(rf, nil, Options{LOS: mustAxisLOS(t, 2), Ells: []int{0}})
	if err != nil {
		t.Fatalf("global: %v", err)
	}
	local, err := ComputeMeshPower(rf, nil, Options{
		LOS:       FirstPointLOS(),
		Ells:      []int{0},
		BoxCenter: [3]float64{50, 50, 50},
	})
	if err != nil {
		t.Fatalf("local: %v", err)
	}
	if local.Wedges != nil {
		t.Fatal("local line-of-sight produced wedges")
	}

	gp, lp := global.Poles.Power(), local.Poles.Power()
	for i := range gp[0] {
		if cmplx.IsNaN(gp[0][i]) && cmplx.IsNaN(lp[0][i]) {
			continue
		}
		testutil.RequireComplexNearlyEqual(t, lp[0][i], gp[0][i], 1e-9*(1+cmplx.Abs(gp[0][i])))
	}
	for i := range global.Poles.NModes {
		if local.Poles.NModes[i] != global.Poles.NModes[i] {
			t.Fatalf("bin %d: nmodes=%d want %d", i, local.Poles.NModes[i], global.Poles.NModes[i])
		}
	}
}

func TestLocalMuRangeRestrictsModes(t *testing.T) {
	grid := testGrid()
	rf, err := mesh.NewRealField(grid, mesh.Self())
	if err != nil {
		t.Fatalf("NewRealField: %v", err)
	}
	data := rf.Data()
	noise := testutil.DeterministicNoise(5, 0.3, len(data))
	for i := range data {
		data[i] = 1 + noise[i]
	}
	base := Options{
		LOS:       FirstPointLOS(),
		Ells:      []int{0},
		BoxCenter: [3]float64{50, 50, 50},
	}

	full, err := ComputeMeshPower(rf, nil, base)
	if err != nil {
		t.Fatalf("full range: %v", err)
	}
	explicit := base
	explicit.MuEdges = []float64{-1, 1}
	same, err := ComputeMeshPower(rf, nil, explicit)
	if err != nil {
		t.Fatalf("explicit range: %v", err)
	}
	upper := base
	upper.MuEdges = []float64{0, 1}
	half, err := ComputeMeshPower(rf, nil, upper)
	if err != nil {
		t.Fatalf("half range: %v", err)
	}

	// An explicit [-1, 1] range is the default; a narrower range drops
	// the modes whose z-axis mu falls outside it from every multipole.
	fp, sp := full.Poles.Power(), same.Poles.Power()
	var nfull, nhalf int64
	for i := range full.Poles.NModes {
		if !cmplx.IsNaN(fp[0][i]) {
			testutil.RequireComplexNearlyEqual(t, sp[0][i], fp[0][i], 0)
		}
		if same.Poles.NModes[i] != full.Poles.NModes[i] {
			t.Fatalf("bin %d: nmodes=%d want %d", i, same.Poles.NModes[i], full.Poles.NModes[i])
		}
		nfull += full.Poles.NModes[i]
		nhalf += half.Poles.NModes[i]
	}
	if nhalf == 0 || nhalf >= nfull {
		t.Fatalf("half-range nmodes=%d against full range %d", nhalf, nfull)
	}
}

func TestLocalQuadrupoleDistantObserver(t *testing.T) {
	grid := testGrid()
	const amp = 0.6
	rf := overdensityWave(t, grid, mesh.Self(), [3]int{0, 0, 2}, amp)

	global, err := ComputeMeshPower(rf, nil, Options{LOS: mustAxisLOS(t, 2), Ells: []int{0, 2}})
	if err != nil {
		t.Fatalf("global: %v", err)
	}
	// An observer far below the box sees an almost constant direction to
	// every cell, so the varying line-of-sight reduces to the z axis.
	local, err := ComputeMeshPower(rf, nil, Options{
		LOS:       FirstPointLOS(),
		Ells:      []int{0, 2},
		BoxCenter: [3]float64{0, 0, 5e4},
	})
	if err != nil {
		t.Fatalf("local: %v", err)
	}

	bin := waveBin(t, global.Poles.KEdges, grid, 2)
	gp, lp := global.Poles.PowerReal(), local.Poles.PowerReal()
	for il := range global.Poles.Ells {
		g, l := gp[il][bin], lp[il][bin]
		if g == 0 {
			t.Fatalf("ell=%d: global power is zero", global.Poles.Ells[il])
		}
		if rel := math.Abs(l-g) / math.Abs(g); rel > 0.01 {
			t.Fatalf("ell=%d: local=%v global=%v rel=%v", global.Poles.Ells[il], l, g, rel)
		}
	}
}

func TestEndpointMatchesFirstpointAuto(t *testing.T) {
	grid := testGrid()
	rf := overdensityWave(t, grid, mesh.Self(), [3]int{0, 1, 1}, 0.4)
	base := Options{Ells: []int{0, 2, 4}, BoxCenter: [3]float64{1e3, 0, 0}}

	optFP := base
	optFP.LOS = FirstPointLOS()
	fp, err := ComputeMeshPower(rf, nil, optFP)
	if err != nil {
		t.Fatalf("firstpoint: %v", err)
	}
	optEP := base
	optEP.LOS = EndPointLOS()
	ep, err := ComputeMeshPower(rf, nil, optEP)
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}

	fpr, epr := fp.Poles.PowerReal(), ep.Poles.PowerReal()
	for il := range fpr {
		for i := range fpr[il] {
			a, b := fpr[il][i], epr[il][i]
			if math.IsNaN(a) && math.IsNaN(b) {
				continue
			}
			testutil.RequireNearlyEqual(t, b, a, 1e-9*(1+math.Abs(a)))
		}
	}
}

func TestWNormAndShotNoiseOverrides(t *testing.T) {
	grid := testGrid()
	const amp = 0.8
	rf := overdensityWave(t, grid, mesh.Self(), [3]int{2, 0, 0}, amp)
	sn := 5.0

	mp, err := ComputeMeshPower(rf, nil, Options{
		LOS:       mustAxisLOS(t, 0),
		WNorm:     1,
		ShotNoise: &sn,
	})
	if err != nil {
		t.Fatalf("ComputeMeshPower: %v", err)
	}
	if got := mp.Wedges.ShotNoise(); got != sn {
		t.Fatalf("shotnoise=%v, want %v", got, sn)
	}
	ntot := float64(grid.Ntot())
	bin := waveBin(t, mp.Wedges.KEdges, grid, 2)
	want := ntot * ntot * amp * amp / 12
	testutil.RequireComplexNearlyEqual(t, mp.Wedges.Power()[bin][0], complex(want-sn, 0), 1e-6*want)
}

func TestDeriveKEdgesStep(t *testing.T) {
	grid := testGrid()
	kf := grid.KFund()[0]
	rf := overdensityWave(t, grid, mesh.Self(), [3]int{2, 0, 0}, 0.1)

	mp, err := ComputeMeshPower(rf, nil, Options{LOS: mustAxisLOS(t, 0), KStep: kf})
	if err != nil {
		t.Fatalf("ComputeMeshPower: %v", err)
	}
	edges := mp.Wedges.KEdges
	if len(edges) != 5 {
		t.Fatalf("got %d edges: %v", len(edges), edges)
	}
	for i, e := range edges {
		testutil.RequireNearlyEqual(t, e, float64(i)*kf, 1e-12)
	}
}

func TestComputeMeshPowerErrors(t *testing.T) {
	grid := testGrid()
	rf, err := mesh.NewRealField(grid, mesh.Self())
	if err != nil {
		t.Fatalf("NewRealField: %v", err)
	}

	if _, err := ComputeMeshPower(nil, nil, Options{}); !errors.Is(err, ErrMissingMesh) {
		t.Fatalf("nil mesh: %v", err)
	}
	if _, err := ComputeMeshPower(rf, nil, Options{}); !errors.Is(err, ErrZeroLOS) {
		t.Fatalf("zero los: %v", err)
	}
	if _, err := ComputeMeshPower(rf, nil, Options{
		LOS:     FirstPointLOS(),
		MuEdges: []float64{-1, 0, 1},
	}); !errors.Is(err, ErrLocalWedges) {
		t.Fatalf("local wedges: %v", err)
	}
	if _, err := ComputeMeshPower(rf, nil, Options{
		LOS:  mustAxisLOS(t, 0),
		Ells: []int{-2},
	}); !errors.Is(err, ErrNegativeEll) {
		t.Fatalf("negative ell: %v", err)
	}

	other, err := mesh.NewRealField(mesh.Grid{Nmesh: [3]int{4, 4, 4}, BoxSize: [3]float64{100, 100, 100}}, mesh.Self())
	if err != nil {
		t.Fatalf("NewRealField: %v", err)
	}
	if _, err := ComputeMeshPower(rf, other, Options{LOS: mustAxisLOS(t, 0)}); !errors.Is(err, mesh.ErrGridMismatch) {
		t.Fatalf("grid mismatch: %v", err)
	}

	badGrid := mesh.Grid{Nmesh: [3]int{7, 8, 8}, BoxSize: [3]float64{100, 100, 100}}
	if err := badGrid.Validate(); !errors.Is(err, mesh.ErrOddMesh) {
		t.Fatalf("odd mesh: %v", err)
	}
}

func TestEstimatorDistributedMatchesSerial(t *testing.T) {
	grid := testGrid()
	noise := testutil.DeterministicNoise(7, 0.3, grid.Ntot())
	opt := Options{LOS: FirstPointLOS(), Ells: []int{0, 2}, BoxCenter: [3]float64{0, 0, 2e3}}

	compute := func(comm mesh.Comm) *MeshPower {
		rf, err := mesh.NewRealField(grid, comm)
		if err != nil {
			t.Errorf("NewRealField: %v", err)
			return nil
		}
		row := grid.Nmesh[1] * grid.Nmesh[2]
		local := noise[rf.SlabStart()*row : (rf.SlabStart()+rf.SlabLen())*row]
		data := rf.Data()
		for i, v := range local {
			data[i] = 1 + v
		}
		mp, err := ComputeMeshPower(rf, nil, opt)
		if err != nil {
			t.Errorf("ComputeMeshPower: %v", err)
			return nil
		}
		return mp
	}

	serial := compute(mesh.Self())

	comms := mesh.NewLocalGroup(2)
	dist := make([]*MeshPower, len(comms))
	done := make(chan struct{})
	for r, c := range comms {
		go func(r int, c mesh.Comm) {
			dist[r] = compute(c)
			done <- struct{}{}
		}(r, c)
	}
	for range comms {
		<-done
	}
	if t.Failed() {
		t.FailNow()
	}

	sp := serial.Poles.Power()
	for r := range dist {
		dp := dist[r].Poles.Power()
		for il := range sp {
			for i := range sp[il] {
				if cmplx.IsNaN(sp[il][i]) && cmplx.IsNaN(dp[il][i]) {
					continue
				}
				testutil.RequireComplexNearlyEqual(t, dp[il][i], sp[il][i], 1e-8*(1+cmplx.Abs(sp[il][i])))
			}
		}
	}
}
