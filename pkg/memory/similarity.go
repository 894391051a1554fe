package memory

import (
	"math"
	"sort"
)

// Cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either vector is zero.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// RankBySimilarity scores docs against vector by brute force and returns the
// top k. Used by the key-value and SQL adapters that have no ANN index.
func RankBySimilarity(docs []Document, vector []float32, k int) []Match {
	matches := make([]Match, 0, len(docs))
	for _, d := range docs {
		if len(d.Embedding) != len(vector) {
			continue
		}
		matches = append(matches, Match{Document: d, Similarity: Cosine(vector, d.Embedding)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
