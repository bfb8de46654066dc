package power

// MeshSummary supplements a field painted from a weighted point set with
// the catalog-level sums the estimator cannot recover from the mesh alone.
// Fields that implement it get a shot-noise estimate and a weight-based
// normalization; plain fields fall back to uniform-density assumptions.
type MeshSummary interface {
	// SumWeights is the collective sum of the painted weights.
	SumWeights() float64
	// UnnormalizedShotNoise is sum(w^2), before division by the power
	// spectrum normalization.
	UnnormalizedShotNoise() float64
}

type summer interface {
	Sum() (float64, error)
}

// fieldWeight returns the effective weight sum of a field: the catalog
// weight sum when available, the mesh cell count for a Fourier field of
// unit mean density, and the collective cell sum otherwise.
func fieldWeight(f Field) (float64, error) {
	if ms, ok := f.(MeshSummary); ok {
		return ms.SumWeights(), nil
	}
	if f.Fourier() {
		return float64(f.Grid().Ntot()), nil
	}
	if s, ok := f.(summer); ok {
		return s.Sum()
	}
	return float64(f.Grid().Ntot()), nil
}

// Normalization estimates the power spectrum normalization of a pair of
// fields under the uniform-density assumption, s1 * s2 / V with V the box
// volume. Pass the same field twice for an auto spectrum.
func Normalization(f1, f2 Field) (float64, error) {
	s1, err := fieldWeight(f1)
	if err != nil {
		return 0, err
	}
	s2 := s1
	if f2 != f1 {
		s2, err = fieldWeight(f2)
		if err != nil {
			return 0, err
		}
	}
	box := f1.Grid().BoxSize
	return s1 * s2 / (box[0] * box[1] * box[2]), nil
}
