// Package mesh provides slab-decomposed 3D fields on a periodic box,
// together with the spectral transforms and collective-communication
// primitives the power package is built on.
//
// Fields are distributed along the first axis across the ranks of a
// Comm. Complex fields use Hermitian-compressed storage along the last
// axis, keeping only the non-negative half of the spectrum; the mirror
// half is reconstructed on demand by consumers.
//
// The wavevector and position conventions follow the usual periodic
// particle-mesh layout: the forward transform is
//
//	F(k) = 1/Ntot * sum_r exp(-i k.r) F(r)
//
// and coordinates along a full axis of size n run over
// 0, d, ..., (n/2-1)d, -n/2 d, ..., -d.
package mesh
