package stats

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"os"
)

// header keys shared by both statistics.
func writeHeader(w io.Writer, info Info, shotnoise, wnorm float64) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# autocorr = %v\n", info.Autocorr)
	fmt.Fprintf(bw, "# los_type = %s\n", info.LOSType)
	fmt.Fprintf(bw, "# los = [%.12e %.12e %.12e]\n", info.LOS[0], info.LOS[1], info.LOS[2])
	fmt.Fprintf(bw, "# nmesh = [%d %d %d]\n", info.Nmesh[0], info.Nmesh[1], info.Nmesh[2])
	fmt.Fprintf(bw, "# boxsize = [%.12e %.12e %.12e]\n", info.BoxSize[0], info.BoxSize[1], info.BoxSize[2])
	fmt.Fprintf(bw, "# boxcenter = [%.12e %.12e %.12e]\n", info.BoxCenter[0], info.BoxCenter[1], info.BoxCenter[2])
	fmt.Fprintf(bw, "# compensations = [%s %s]\n", orNone(info.Compensations[0]), orNone(info.Compensations[1]))
	fmt.Fprintf(bw, "# shotnoise = %.12e\n", shotnoise)
	fmt.Fprintf(bw, "# wnorm = %.12e\n", wnorm)
	return bw.Flush()
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

func fmtComplex(v complex128) string {
	return fmt.Sprintf("%.12e%+.12ej", real(v), imag(v))
}

// WriteTXT writes the measurement as a plain-text table: one row per
// (k, mu) bin with the mode count, bin midpoints, mode averages and the
// corrected power.
func (w *Wedges) WriteTXT(out io.Writer) error {
	if err := writeHeader(out, w.Info, w.ShotNoise(), w.WNorm); err != nil {
		return err
	}
	bw := bufio.NewWriter(out)
	fmt.Fprintf(bw, "# nmodes kmid kavg mumid muavg P(k,mu)\n")
	power := w.Power()
	kmid, mumid := w.KMid(), w.MuMid()
	nk, nmu := w.Shape()
	for i := 0; i < nk; i++ {
		for j := 0; j < nmu; j++ {
			fmt.Fprintf(bw, "%d %.12e %.12e %.12e %.12e %s\n",
				w.NModes[i][j], kmid[i], w.K[i][j], mumid[j], w.Mu[i][j], fmtComplex(power[i][j]))
		}
	}
	return bw.Flush()
}

// WriteTXT writes the measurement as a plain-text table: one row per k
// bin with the mode count, bin midpoint, mode average and the corrected
// power of every multipole.
func (m *Multipoles) WriteTXT(out io.Writer) error {
	if err := writeHeader(out, m.Info, m.ShotNoise(), m.WNorm); err != nil {
		return err
	}
	bw := bufio.NewWriter(out)
	fmt.Fprintf(bw, "# nmodes kmid kavg")
	for _, ell := range m.Ells {
		fmt.Fprintf(bw, " P%d(k)", ell)
	}
	fmt.Fprintf(bw, "\n")
	power := m.Power()
	kmid := m.KMid()
	for i := 0; i < m.Shape(); i++ {
		fmt.Fprintf(bw, "%d %.12e %.12e", m.NModes[i], kmid[i], m.K[i])
		for il := range m.Ells {
			fmt.Fprintf(bw, " %s", fmtComplex(power[il][i]))
		}
		fmt.Fprintf(bw, "\n")
	}
	return bw.Flush()
}

// SaveTXT writes the plain-text table to a file.
func (w *Wedges) SaveTXT(filename string) error {
	return writeFile(filename, w.WriteTXT)
}

// SaveTXT writes the plain-text table to a file.
func (m *Multipoles) SaveTXT(filename string) error {
	return writeFile(filename, m.WriteTXT)
}

func writeFile(filename string, write func(io.Writer) error) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// wedgesState is the stable serialized form of Wedges.
type wedgesState struct {
	KEdges, MuEdges   []float64
	K, Mu             [][]float64
	PowerNonorm       [][]complex128
	PowerDirectNonorm [][]complex128
	PowerZeroNonorm   complex128
	NModes            [][]int64
	WNorm             float64
	ShotNoiseNonorm   float64
	Info              Info
}

// multipolesState is the stable serialized form of Multipoles.
type multipolesState struct {
	Ells              []int
	KEdges            []float64
	K                 []float64
	PowerNonorm       [][]complex128
	PowerDirectNonorm [][]complex128
	PowerZeroNonorm   []complex128
	NModes            []int64
	WNorm             float64
	ShotNoiseNonorm   float64
	Info              Info
}

// Write serializes the measurement in binary form.
func (w *Wedges) Write(out io.Writer) error {
	return gob.NewEncoder(out).Encode(wedgesState{
		KEdges: w.KEdges, MuEdges: w.MuEdges, K: w.K, Mu: w.Mu,
		PowerNonorm: w.PowerNonorm, PowerDirectNonorm: w.PowerDirectNonorm,
		PowerZeroNonorm: w.PowerZeroNonorm, NModes: w.NModes,
		WNorm: w.WNorm, ShotNoiseNonorm: w.ShotNoiseNonorm, Info: w.Info,
	})
}

// ReadWedges deserializes a measurement written by Write. Fields absent
// from older serializations keep their defaults.
func ReadWedges(in io.Reader) (*Wedges, error) {
	var s wedgesState
	if err := gob.NewDecoder(in).Decode(&s); err != nil {
		return nil, err
	}
	return NewWedges(Wedges{
		KEdges: s.KEdges, MuEdges: s.MuEdges, K: s.K, Mu: s.Mu,
		PowerNonorm: s.PowerNonorm, PowerDirectNonorm: s.PowerDirectNonorm,
		PowerZeroNonorm: s.PowerZeroNonorm, NModes: s.NModes,
		WNorm: s.WNorm, ShotNoiseNonorm: s.ShotNoiseNonorm, Info: s.Info,
	})
}

// Write serializes the measurement in binary form.
func (m *Multipoles) Write(out io.Writer) error {
	return gob.NewEncoder(out).Encode(multipolesState{
		Ells: m.Ells, KEdges: m.KEdges, K: m.K,
		PowerNonorm: m.PowerNonorm, PowerDirectNonorm: m.PowerDirectNonorm,
		PowerZeroNonorm: m.PowerZeroNonorm, NModes: m.NModes,
		WNorm: m.WNorm, ShotNoiseNonorm: m.ShotNoiseNonorm, Info: m.Info,
	})
}

// ReadMultipoles deserializes a measurement written by Write. Fields
// absent from older serializations keep their defaults.
func ReadMultipoles(in io.Reader) (*Multipoles, error) {
	var s multipolesState
	if err := gob.NewDecoder(in).Decode(&s); err != nil {
		return nil, err
	}
	return NewMultipoles(Multipoles{
		Ells: s.Ells, KEdges: s.KEdges, K: s.K,
		PowerNonorm: s.PowerNonorm, PowerDirectNonorm: s.PowerDirectNonorm,
		PowerZeroNonorm: s.PowerZeroNonorm, NModes: s.NModes,
		WNorm: s.WNorm, ShotNoiseNonorm: s.ShotNoiseNonorm, Info: s.Info,
	})
}

// Save writes the binary form to a file.
func (w *Wedges) Save(filename string) error {
	return writeFile(filename, w.Write)
}

// Save writes the binary form to a file.
func (m *Multipoles) Save(filename string) error {
	return writeFile(filename, m.Write)
}

// LoadWedges reads the binary form from a file.
func LoadWedges(filename string) (*Wedges, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadWedges(f)
}

// LoadMultipoles reads the binary form from a file.
func LoadMultipoles(filename string) (*Multipoles, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadMultipoles(f)
}
