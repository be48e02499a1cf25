// Package indextest はインデックス関連テスト用の決定的なEmbedderを提供します
package indextest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// DefaultDimension はテスト用Embedderの次元数
const DefaultDimension = 64

// ErrEmbeddingFailed は FailOn に一致した場合に返されます
var ErrEmbeddingFailed = errors.New("embedding failed")

// ErrBatchTooLarge は MaxBatch を超えるバッチを受け取った場合に返されます
var ErrBatchTooLarge = errors.New("batch too large")

// HashEmbedder は単語をハッシュしたバッグオブワーズで決定的なベクトルを生成します
// 同じ単語を多く共有するテキストほどコサイン類似度が高くなります
type HashEmbedder struct {
	Model string
	Dim   int
	// FailOn が空でなく、入力テキストに含まれる場合は ErrEmbeddingFailed を返す
	FailOn string
	// MaxBatch が正なら、それを超えるバッチは ErrBatchTooLarge になる
	MaxBatch int

	mu    sync.Mutex
	calls int
}

// NewHashEmbedder は既定設定の HashEmbedder を作成します
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{Model: "hash-embedding", Dim: DefaultDimension}
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *HashEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if e.MaxBatch > 0 && len(texts) > e.MaxBatch {
		return nil, ErrBatchTooLarge
	}

	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if e.FailOn != "" && strings.Contains(text, e.FailOn) {
			return nil, ErrEmbeddingFailed
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *HashEmbedder) ModelName() string { return e.Model }

func (e *HashEmbedder) Dimension() int { return e.Dim }

func (e *HashEmbedder) MaxBatchSize() int { return e.MaxBatch }

// Calls は BatchEmbed の呼び出し回数を返します
func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[int(h.Sum32())%e.Dim]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
