package search

import "math"

// cosineSimilarity computes dot(a,b) / (‖a‖·‖b‖). Vectors of differing
// length score 0 and are treated as non-matches; correct indexing never
// produces them (IndexSegments rejects mixed dimensionality up front).
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
