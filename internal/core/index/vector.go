package index

import (
	"fmt"
	"math"
	"sort"
)

// CosineSimilarity は2つのベクトルのコサイン類似度を返します
// 長さが異なる場合やゼロベクトルの場合は 0 を返します
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ValidateVector はベクトルが空でなく、有限値のみで、期待する次元数であることを確認します
// dimension が 0 以下の場合は次元数を検査しません
func ValidateVector(v []float32, dimension int) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrMalformedVector)
	}
	if dimension > 0 && len(v) != dimension {
		return fmt.Errorf("%w: expected %d dimensions, got %d", ErrMalformedVector, dimension, len(v))
	}
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite value at position %d", ErrMalformedVector, i)
		}
	}
	return nil
}

// SortResults は類似度の降順に並べ替えます。同点は挿入順（Seq 昇順）を保ちます
func SortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Passage.Seq < results[j].Passage.Seq
	})
}
