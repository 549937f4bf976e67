package embedding

import (
	"math"
	"sort"
)

// CosineSimilarity returns the cosine of the angle between two vectors,
// or 0 for mismatched or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
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

// EuclideanDistance returns the L2 distance between two vectors.
// Mismatched vectors return +Inf.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// DotProduct returns the inner product of two vectors, or 0 for
// mismatched vectors.
func DotProduct(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// Match is one FindSimilar hit.
type Match struct {
	// Index into the candidate list.
	Index int `json:"index"`

	// Score is the cosine similarity to the query.
	Score float64 `json:"score"`
}

// SimilarOptions tunes FindSimilar.
type SimilarOptions struct {
	// TopK bounds the result count. Zero means all matches.
	TopK int `json:"top_k"`

	// Threshold drops candidates scoring below it.
	Threshold float64 `json:"threshold"`
}

// FindSimilar ranks candidates by cosine similarity to the query,
// highest first, applying the threshold then the top-K cut.
func FindSimilar(query []float32, candidates [][]float32, opts SimilarOptions) []Match {
	var matches []Match
	for i, candidate := range candidates {
		score := CosineSimilarity(query, candidate)
		if score < opts.Threshold {
			continue
		}
		matches = append(matches, Match{Index: i, Score: score})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if opts.TopK > 0 && len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches
}
