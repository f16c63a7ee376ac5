package core

import "math"

// CosineDistance returns 1 - cos(a, b). Vectors of unequal length or with zero
// magnitude are treated as orthogonal and yield 1.
func CosineDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}

	distance := 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
	// Rounding can push identical vectors slightly below zero.
	if distance < 0 {
		distance = 0
	}
	return float32(distance)
}

// NormalizeVector returns a unit-length copy of v.
// A zero vector is returned as a zero vector of the same length.
func NormalizeVector(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}

	var magnitude float64
	for _, val := range v {
		magnitude += float64(val) * float64(val)
	}
	magnitude = math.Sqrt(magnitude)

	result := make([]float32, len(v))
	if magnitude == 0 {
		return result
	}
	for i, val := range v {
		result[i] = float32(float64(val) / magnitude)
	}
	return result
}
