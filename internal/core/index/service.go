package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sanseviera/miage-projet-llm/internal/core/chunk"
)

// defaultBatchSize は1回のEmbedding呼び出しで送るチャンク数の既定値
const defaultBatchSize = 100

// Observer はインデックス構築の結果を受け取ります（メトリクス用）
type Observer interface {
	ObservePassagesIndexed(n int)
}

// Service はドキュメントのチャンク化・Embedding・格納・検索を提供します
//
// Index と Clear は排他、Search と AllPassages は並行に実行できます。
type Service struct {
	mu        sync.RWMutex
	store     PassageStore
	embedder  Embedder
	splitter  *chunk.Splitter
	tokens    chunk.TokenCounter
	listCap   int
	batchSize int
	logger    *slog.Logger
	observer  Observer
	now       func() time.Time
}

// Option は Service のオプション設定
type Option func(*Service)

// WithLogger はロガーを設定します
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTokenCounter はパッセージのトークン数計算に使うカウンタを設定します
func WithTokenCounter(counter chunk.TokenCounter) Option {
	return func(s *Service) {
		if counter != nil {
			s.tokens = counter
		}
	}
}

// WithListCap は AllPassages が返す件数の上限を設定します
func WithListCap(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.listCap = n
		}
	}
}

// WithBatchSize はEmbeddingのバッチサイズを設定します。Embedder の上限を超える値は上限に切り詰めます
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithObserver はインデックス構築結果の通知先を設定します
func WithObserver(o Observer) Option {
	return func(s *Service) {
		s.observer = o
	}
}

// NewService は新しい Service を作成します
func NewService(store PassageStore, embedder Embedder, splitter *chunk.Splitter, opts ...Option) *Service {
	s := &Service{
		store:     store,
		embedder:  embedder,
		splitter:  splitter,
		tokens:    chunk.RuneCounter{},
		listCap:   DefaultListCap,
		batchSize: defaultBatchSize,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if limit := embedder.MaxBatchSize(); limit > 0 && s.batchSize > limit {
		s.batchSize = limit
	}
	return s
}

// Index はドキュメント群をチャンク化してインデックスに追加します
//
// clearExisting が true の場合は既存のパッセージを先に削除します。
// 各ドキュメントのパッセージは全チャンクのEmbedding成功後に1回で挿入されるため、
// 失敗時も途中までのドキュメントはインデックスに残り、失敗したドキュメントは一切残りません。
// エラー時も途中までの結果を返します。
func (s *Service) Index(ctx context.Context, texts []string, clearExisting bool) (*IndexResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &IndexResult{}

	if clearExisting {
		if err := s.store.Clear(ctx); err != nil {
			return result, NewIndexError("clear", -1, err)
		}
		s.logger.Info("document index cleared before indexing")
	}

	meta := Meta{Model: s.embedder.ModelName(), Dimension: s.embedder.Dimension()}

	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return result, NewIndexError("index", i, err)
		}

		chunks := s.splitter.Split(text)
		if len(chunks) == 0 {
			result.Skipped++
			continue
		}

		vectors, err := s.embedChunks(ctx, chunks, meta.Dimension)
		if err != nil {
			s.logger.Error("failed to embed document", "document", i, "chunks", len(chunks), "error", err)
			return result, NewIndexError("embed", i, err)
		}

		now := s.now()
		passages := make([]Passage, len(chunks))
		for j, content := range chunks {
			passages[j] = Passage{
				ID:        uuid.New(),
				Content:   content,
				Embedding: vectors[j],
				Tokens:    s.tokens.CountTokens(content),
				CreatedAt: now,
			}
		}

		if err := s.store.Insert(ctx, meta, passages); err != nil {
			s.logger.Error("failed to insert passages", "document", i, "passages", len(passages), "error", err)
			return result, NewIndexError("insert", i, err)
		}

		result.Documents++
		result.Passages += len(passages)
		if s.observer != nil {
			s.observer.ObservePassagesIndexed(len(passages))
		}
	}

	s.logger.Info("documents indexed",
		"documents", result.Documents,
		"passages", result.Passages,
		"skipped", result.Skipped,
	)
	return result, nil
}

// embedChunks はチャンクをバッチに分けてEmbeddingし、各ベクトルを検証します
func (s *Service) embedChunks(ctx context.Context, chunks []string, dimension int) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += s.batchSize {
		end := min(start+s.batchSize, len(chunks))
		batch := chunks[start:end]

		embeddings, err := s.embedder.BatchEmbed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("batch embed failed: %w", err)
		}
		if len(embeddings) != len(batch) {
			return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrMalformedVector, len(batch), len(embeddings))
		}
		for _, v := range embeddings {
			if err := ValidateVector(v, dimension); err != nil {
				return nil, err
			}
		}
		vectors = append(vectors, embeddings...)
	}
	return vectors, nil
}

// Search はクエリに近いパッセージを類似度の高い順に最大 k 件返します
// k が 0 以下の場合は DefaultSearchLimit を使います
func (s *Service) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 {
		k = DefaultSearchLimit
	}

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read index stats: %w", err)
	}
	if stats.Passages == 0 {
		return nil, ErrNotInitialized
	}
	if stats.Model != "" && stats.Model != s.embedder.ModelName() {
		return nil, fmt.Errorf("%w: index built with model %s, query uses %s", ErrDimensionMismatch, stats.Model, s.embedder.ModelName())
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if err := ValidateVector(vector, 0); err != nil {
		return nil, err
	}
	if len(vector) != stats.Dimension {
		return nil, fmt.Errorf("%w: index has %d dimensions, query has %d", ErrDimensionMismatch, stats.Dimension, len(vector))
	}

	results, err := s.store.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return results, nil
}

// AllPassages は格納済みパッセージの内容を挿入順に上限件数まで返します
// 改行は空白に置き換えます。空のインデックスでは空スライスを返します
func (s *Service) AllPassages(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	passages, err := s.store.List(ctx, s.listCap)
	if err != nil {
		return nil, fmt.Errorf("failed to list passages: %w", err)
	}

	contents := make([]string, 0, len(passages))
	for _, p := range passages {
		contents = append(contents, strings.ReplaceAll(p.Content, "\n", " "))
	}
	return contents, nil
}

// Clear はインデックスを空にします。空のインデックスに対しても成功します
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Clear(ctx); err != nil {
		return NewIndexError("clear", -1, err)
	}
	s.logger.Info("document index cleared")
	return nil
}

// Stats はインデックスの統計情報を返します
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read index stats: %w", err)
	}
	return stats, nil
}

// Close は下位のストアを閉じます
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Close()
}
