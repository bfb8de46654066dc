// Package legendre provides Legendre polynomials, their exact integrals,
// associated Legendre functions and real spherical harmonics, as needed by
// multipole estimation and multipole-to-wedge projection.
package legendre

import "math"

// P evaluates the Legendre polynomial P_ell(x) by the three-term
// recurrence (ell+1) P_{ell+1} = (2ell+1) x P_ell - ell P_{ell-1}.
func P(ell int, x float64) float64 {
	switch ell {
	case 0:
		return 1
	case 1:
		return x
	}
	pm2, pm1 := 1.0, x
	for l := 2; l <= ell; l++ {
		p := (float64(2*l-1)*x*pm1 - float64(l-1)*pm2) / float64(l)
		pm2, pm1 = pm1, p
	}
	return pm1
}

// Antiderivative evaluates the antiderivative of P_ell at x, using
// int P_ell = (P_{ell+1} - P_{ell-1}) / (2 ell + 1) for ell >= 1.
func Antiderivative(ell int, x float64) float64 {
	if ell == 0 {
		return x
	}
	return (P(ell+1, x) - P(ell-1, x)) / float64(2*ell+1)
}

// Integral returns the exact integral of P_ell over [a, b].
func Integral(ell int, a, b float64) float64 {
	return Antiderivative(ell, b) - Antiderivative(ell, a)
}

// AssocP evaluates the associated Legendre function P_ell^m(x) for
// m >= 0, including the Condon-Shortley phase. The standard upward
// recurrence in degree is started from the closed-form P_m^m.
func AssocP(ell, m int, x float64) float64 {
	if m < 0 || m > ell {
		return 0
	}
	// P_m^m = (-1)^m (2m-1)!! (1-x^2)^{m/2}
	pmm := 1.0
	if m > 0 {
		s := math.Sqrt((1 - x) * (1 + x))
		fact := 1.0
		for i := 1; i <= m; i++ {
			pmm *= -fact * s
			fact += 2
		}
	}
	if ell == m {
		return pmm
	}
	pmmp1 := x * float64(2*m+1) * pmm
	if ell == m+1 {
		return pmmp1
	}
	var p float64
	for l := m + 2; l <= ell; l++ {
		p = (x*float64(2*l-1)*pmmp1 - float64(l+m-1)*pmm) / float64(l-m)
		pmm, pmmp1 = pmmp1, p
	}
	return p
}

// Ylm is a real spherical harmonic of fixed degree and order, evaluated
// on unit-normalized Cartesian direction components.
type Ylm struct {
	Ell, M int
	amp    float64
}

// NewYlm returns the real spherical harmonic Y_ell^m with |m| <= ell,
// normalized so that the harmonics are orthonormal over the sphere.
func NewYlm(ell, m int) Ylm {
	amp := math.Sqrt(float64(2*ell+1) / (4 * math.Pi))
	if m != 0 {
		am := m
		if am < 0 {
			am = -am
		}
		// (ell + |m|)! / (ell - |m|)!
		fac := 1.0
		for n := ell - am + 1; n <= ell+am; n++ {
			fac *= float64(n)
		}
		amp *= math.Sqrt(2 / fac)
	}
	return Ylm{Ell: ell, M: m, amp: amp}
}

// At evaluates the harmonic at the unit direction (xhat, yhat, zhat).
// The polar dependence is carried by the associated Legendre function of
// zhat; the azimuthal dependence by cos/sin of |m| times the azimuth.
// The explicit (-1)^m cancels the Condon-Shortley phase of AssocP.
func (y Ylm) At(xhat, yhat, zhat float64) float64 {
	am := y.M
	if am < 0 {
		am = -am
	}
	v := y.amp * AssocP(y.Ell, am, zhat)
	if am%2 == 1 {
		v = -v
	}
	if y.M == 0 {
		return v
	}
	phi := math.Atan2(yhat, xhat)
	if y.M < 0 {
		return v * math.Sin(float64(am)*phi)
	}
	return v * math.Cos(float64(am)*phi)
}
