package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/sanseviera/miage-projet-llm/internal/core/index"
	"github.com/sanseviera/miage-projet-llm/internal/platform/database"
	"github.com/sanseviera/miage-projet-llm/internal/platform/lock"
)

// PassageStore は pgvector の vector 列にベクトルを格納する index.PassageStore 実装
//
// 検索は <=> (コサイン距離) の昇順で行い、スコアは 1 - 距離 とします。
type PassageStore struct {
	pool *pgxpool.Pool
	tp   *database.TransactionProvider
}

var _ index.PassageStore = (*PassageStore)(nil)

// NewPassageStore は新しい PassageStore を作成します
func NewPassageStore(pool *pgxpool.Pool) *PassageStore {
	return &PassageStore{
		pool: pool,
		tp:   database.NewTransactionProvider(pool),
	}
}

func (s *PassageStore) Insert(ctx context.Context, meta index.Meta, passages []index.Passage) error {
	_, err := database.Transact(ctx, s.tp, func(a *database.Adapter) (struct{}, error) {
		if err := a.Locks.Acquire(ctx, lock.GenerateLockID("passages")); err != nil {
			return struct{}{}, err
		}
		if err := ensureMeta(ctx, a.Tx, meta); err != nil {
			return struct{}{}, err
		}

		batch := &pgx.Batch{}
		for _, p := range passages {
			if len(p.Embedding) != meta.Dimension {
				return struct{}{}, fmt.Errorf("%w: expected %d dimensions, got %d",
					index.ErrDimensionMismatch, meta.Dimension, len(p.Embedding))
			}
			id := p.ID
			if id == uuid.Nil {
				id = uuid.New()
			}
			createdAt := p.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now()
			}
			batch.Queue(`
				INSERT INTO passages (id, content, tokens, embedding, created_at)
				VALUES ($1, $2, $3, $4, $5)
			`, id, p.Content, p.Tokens, pgvector.NewVector(p.Embedding), createdAt)
		}
		if err := a.Tx.SendBatch(ctx, batch).Close(); err != nil {
			if database.IsUniqueViolation(err) {
				return struct{}{}, fmt.Errorf("duplicate passage id: %w", err)
			}
			return struct{}{}, fmt.Errorf("failed to insert passages: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

func ensureMeta(ctx context.Context, tx pgx.Tx, meta index.Meta) error {
	var stored index.Meta
	err := tx.QueryRow(ctx, "SELECT model, dimension FROM index_meta WHERE id = 1").Scan(&stored.Model, &stored.Dimension)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx, "INSERT INTO index_meta (id, model, dimension) VALUES (1, $1, $2)", meta.Model, meta.Dimension); err != nil {
			return fmt.Errorf("failed to record index meta: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to read index meta: %w", err)
	case stored != meta:
		return fmt.Errorf("%w: index holds %s/%d, got %s/%d",
			index.ErrDimensionMismatch, stored.Model, stored.Dimension, meta.Model, meta.Dimension)
	}
	return nil
}

func (s *PassageStore) Search(ctx context.Context, vector []float32, k int) ([]index.SearchResult, error) {
	if k <= 0 {
		k = index.DefaultSearchLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT seq, id, content, tokens, embedding, created_at, 1 - (embedding <=> $1) AS score
		FROM passages
		ORDER BY embedding <=> $1, seq
		LIMIT $2
	`, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search passages: %w", err)
	}
	defer rows.Close()

	results := []index.SearchResult{}
	for rows.Next() {
		var (
			r   index.SearchResult
			vec pgvector.Vector
		)
		if err := rows.Scan(&r.Passage.Seq, &r.Passage.ID, &r.Passage.Content, &r.Passage.Tokens, &vec, &r.Passage.CreatedAt, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		r.Passage.Embedding = vec.Slice()
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search results: %w", err)
	}

	// 距離計算の丸め差で同点の並びが揺れないよう、共通の規則で並べ直す
	index.SortResults(results)
	return results, nil
}

func (s *PassageStore) List(ctx context.Context, limit int) ([]index.Passage, error) {
	var (
		rows pgx.Rows
		err  error
	)
	const q = "SELECT seq, id, content, tokens, embedding, created_at FROM passages ORDER BY seq"
	if limit > 0 {
		rows, err = s.pool.Query(ctx, q+" LIMIT $1", limit)
	} else {
		rows, err = s.pool.Query(ctx, q)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list passages: %w", err)
	}
	defer rows.Close()

	passages := []index.Passage{}
	for rows.Next() {
		var (
			p   index.Passage
			vec pgvector.Vector
		)
		if err := rows.Scan(&p.Seq, &p.ID, &p.Content, &p.Tokens, &vec, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan passage: %w", err)
		}
		p.Embedding = vec.Slice()
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate passages: %w", err)
	}
	return passages, nil
}

func (s *PassageStore) Stats(ctx context.Context) (index.Stats, error) {
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM passages").Scan(&count); err != nil {
		return index.Stats{}, fmt.Errorf("failed to count passages: %w", err)
	}
	if count == 0 {
		return index.Stats{}, nil
	}

	stats := index.Stats{Passages: count}
	err := s.pool.QueryRow(ctx, "SELECT model, dimension FROM index_meta WHERE id = 1").Scan(&stats.Model, &stats.Dimension)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return index.Stats{}, fmt.Errorf("failed to read index meta: %w", err)
	}
	return stats, nil
}

// Clear は全パッセージとメタ情報を削除します
func (s *PassageStore) Clear(ctx context.Context) error {
	_, err := database.Transact(ctx, s.tp, func(a *database.Adapter) (struct{}, error) {
		if err := a.Locks.Acquire(ctx, lock.GenerateLockID("passages")); err != nil {
			return struct{}{}, err
		}
		if _, err := a.Tx.Exec(ctx, "TRUNCATE passages RESTART IDENTITY"); err != nil {
			return struct{}{}, fmt.Errorf("failed to truncate passages: %w", err)
		}
		if _, err := a.Tx.Exec(ctx, "DELETE FROM index_meta"); err != nil {
			return struct{}{}, fmt.Errorf("failed to clear index meta: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

// Close は何もしません。プールの所有者が閉じます
func (s *PassageStore) Close() error {
	return nil
}
