// Package power estimates binned power spectra from 3D fields sampled on
// a periodic mesh.
//
// The package provides the mode-binning projection engine, unique-edge
// construction, and two estimators: a global line-of-sight estimator
// (single transform, conjugate cross-multiply) and a local line-of-sight
// estimator that decomposes each multipole into real spherical harmonics
// and sums one forward transform per (ell, m) term.
//
// Results are returned as stats.Wedges and stats.Multipoles containers,
// which carry the normalization and shot-noise bookkeeping.
package power
