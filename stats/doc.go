// Package stats holds binned power spectrum measurements and the
// operations that post-process them: normalization and shot-noise
// corrections, rebinning, slicing and selection, conversion between
// Legendre multipoles and (k, mu) wedges, interpolation, and plain-text
// or binary serialization.
//
// Measurements are stored unnormalized. Estimator-level quantities such
// as the normalization wnorm, the shot noise and the zero-mode power are
// kept alongside the raw sums so every correction can be applied, or
// not, at read time.
package stats
