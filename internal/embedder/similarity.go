package embedder

import "math"

// CosineSimilarity computes the cosine similarity of two vectors, accumulating in float64.
// It returns 0 for empty, zero or mismatched vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Similarity01 maps cosine similarity onto [0,1] by clamping negatives to 0.
func Similarity01(a, b []float32) float64 {
	s := CosineSimilarity(a, b)
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
