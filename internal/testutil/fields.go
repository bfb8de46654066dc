package testutil

import (
	"math"
	"math/rand"
)

// DeterministicNoise fills a slice of the given length with uniform noise
// in [-amplitude, amplitude], reproducible from the seed.
func DeterministicNoise(seed int64, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}
	return out
}

// PlaneWave samples amplitude * cos(2*pi*(kx*i/nx + ky*j/ny + kz*l/nz)) on
// an (nx, ny, nz) grid in row-major order. Its Fourier transform is a
// pair of conjugate modes at +-(kx, ky, kz).
func PlaneWave(n [3]int, k [3]int, amplitude float64) []float64 {
	out := make([]float64, n[0]*n[1]*n[2])
	idx := 0
	for i := 0; i < n[0]; i++ {
		pi := float64(k[0]) * float64(i) / float64(n[0])
		for j := 0; j < n[1]; j++ {
			pj := float64(k[1]) * float64(j) / float64(n[1])
			for l := 0; l < n[2]; l++ {
				pl := float64(k[2]) * float64(l) / float64(n[2])
				out[idx] = amplitude * math.Cos(2*math.Pi*(pi+pj+pl))
				idx++
			}
		}
	}
	return out
}

// Impulse3D returns an (nx, ny, nz) grid that is zero everywhere except
// for a unit value at pos.
func Impulse3D(n [3]int, pos [3]int) []float64 {
	out := make([]float64, n[0]*n[1]*n[2])
	out[(pos[0]*n[1]+pos[1])*n[2]+pos[2]] = 1
	return out
}

// DC returns a constant-valued slice.
func DC(value float64, length int) []float64 {
	out := make([]float64, length)
	for i := range out {
		out[i] = value
	}
	return out
}

// Ones returns a slice of length n filled with 1.0.
func Ones(n int) []float64 {
	return DC(1.0, n)
}
