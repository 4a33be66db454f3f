package embed

import "math"

// CosineDistance returns 1 - cosine similarity. Smaller means more similar:
// 0 for identical direction, 1 for orthogonal, 2 for opposite. Vectors of
// mismatched dimension or zero magnitude are maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
