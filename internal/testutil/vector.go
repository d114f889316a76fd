package testutil

// UnitVector returns a dim-length unit vector with a single non-zero
// component. Distinct idx values produce orthogonal vectors, which makes
// cosine similarity between test embeddings easy to reason about.
func UnitVector(dim, idx int) []float32 {
	vec := make([]float32, dim)
	vec[idx%dim] = 1.0
	return vec
}
