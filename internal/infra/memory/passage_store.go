// Package memory はプロセス内メモリに保持するストア実装を提供します
// 開発時と単体テスト向けで、プロセス終了とともに内容は失われます
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/sanseviera/miage-projet-llm/internal/core/index"
)

// PassageStore はプロセス内に保持する index.PassageStore 実装
type PassageStore struct {
	mu       sync.RWMutex
	passages []index.Passage
	meta     index.Meta
	nextSeq  int64
}

var _ index.PassageStore = (*PassageStore)(nil)

// NewPassageStore は空の PassageStore を作成します
func NewPassageStore() *PassageStore {
	return &PassageStore{nextSeq: 1}
}

func (s *PassageStore) Insert(ctx context.Context, meta index.Meta, passages []index.Passage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.passages) > 0 && s.meta != meta {
		return fmt.Errorf("%w: index holds %s/%d, got %s/%d",
			index.ErrDimensionMismatch, s.meta.Model, s.meta.Dimension, meta.Model, meta.Dimension)
	}
	for _, p := range passages {
		if len(p.Embedding) != meta.Dimension {
			return fmt.Errorf("%w: expected %d dimensions, got %d", index.ErrDimensionMismatch, meta.Dimension, len(p.Embedding))
		}
	}

	s.meta = meta
	for _, p := range passages {
		p.Embedding = slices.Clone(p.Embedding)
		p.Seq = s.nextSeq
		s.nextSeq++
		s.passages = append(s.passages, p)
	}
	return nil
}

func (s *PassageStore) Search(ctx context.Context, vector []float32, k int) ([]index.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]index.SearchResult, 0, len(s.passages))
	for _, p := range s.passages {
		results = append(results, index.SearchResult{
			Passage: p,
			Score:   index.CosineSimilarity(vector, p.Embedding),
		})
	}
	index.SortResults(results)
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *PassageStore) List(ctx context.Context, limit int) ([]index.Passage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.passages)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]index.Passage, n)
	copy(out, s.passages[:n])
	return out, nil
}

func (s *PassageStore) Stats(ctx context.Context) (index.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.passages) == 0 {
		return index.Stats{}, nil
	}
	return index.Stats{
		Passages:  len(s.passages),
		Model:     s.meta.Model,
		Dimension: s.meta.Dimension,
	}, nil
}

func (s *PassageStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.passages = nil
	s.meta = index.Meta{}
	return nil
}

func (s *PassageStore) Close() error {
	return nil
}
