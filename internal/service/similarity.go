package service

import "math"

// cosineSimilarity returns 0 for vectors of different length or zero norm.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

func maxSimilarity(candidate []float32, others [][]float32) float64 {
	best := math.Inf(-1)
	for _, other := range others {
		if sim := cosineSimilarity(candidate, other); sim > best {
			best = sim
		}
	}
	return best
}
