// Package sqlite はローカルファイルに永続化するドキュメントインデックスと会話ストアを提供します
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sanseviera/miage-projet-llm/internal/core/index"
	"github.com/sanseviera/miage-projet-llm/internal/infra/sqlite/migrations"
)

// DatabaseFile はインデックスディレクトリ内のDBファイル名
const DatabaseFile = "index.db"

// ErrClosed は Close 後に操作した場合に返されます
var ErrClosed = errors.New("sqlite store closed")

// PassageStore は <dir>/index.db に格納する index.PassageStore 実装
//
// ベクトルはリトルエンディアンの float32 BLOB として保存し、検索は全件のコサイン類似度で行います。
type PassageStore struct {
	mu  sync.RWMutex
	dir string
	db  *sql.DB
}

var _ index.PassageStore = (*PassageStore)(nil)

// NewPassageStore は dir にインデックスを開きます。ディレクトリがなければ作成します
func NewPassageStore(dir string) (*PassageStore, error) {
	if dir == "" {
		return nil, errors.New("index directory is required")
	}
	s := &PassageStore{dir: dir}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PassageStore) open() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	db, err := openDatabase(filepath.Join(s.dir, DatabaseFile), migrations.Passages)
	if err != nil {
		return fmt.Errorf("opening index database: %w", err)
	}

	s.db = db
	return nil
}

func (s *PassageStore) Insert(ctx context.Context, meta index.Meta, passages []index.Passage) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var stored index.Meta
	err = tx.QueryRowContext(ctx, "SELECT model, dimension FROM index_meta WHERE id = 1").Scan(&stored.Model, &stored.Dimension)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, "INSERT INTO index_meta (id, model, dimension) VALUES (1, ?, ?)", meta.Model, meta.Dimension); err != nil {
			return fmt.Errorf("recording index meta: %w", err)
		}
	case err != nil:
		return fmt.Errorf("reading index meta: %w", err)
	case stored != meta:
		return fmt.Errorf("%w: index holds %s/%d, got %s/%d",
			index.ErrDimensionMismatch, stored.Model, stored.Dimension, meta.Model, meta.Dimension)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO passages (id, content, tokens, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range passages {
		if len(p.Embedding) != meta.Dimension {
			return fmt.Errorf("%w: expected %d dimensions, got %d", index.ErrDimensionMismatch, meta.Dimension, len(p.Embedding))
		}
		id := p.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, id.String(), p.Content, p.Tokens, encodeVector(p.Embedding), createdAt.UnixNano()); err != nil {
			return fmt.Errorf("inserting passage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing passages: %w", err)
	}
	return nil
}

func (s *PassageStore) Search(ctx context.Context, vector []float32, k int) ([]index.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	passages, err := s.query(ctx, "SELECT seq, id, content, tokens, embedding, created_at FROM passages ORDER BY seq")
	if err != nil {
		return nil, err
	}

	results := make([]index.SearchResult, 0, len(passages))
	for _, p := range passages {
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
	if s.db == nil {
		return nil, ErrClosed
	}

	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx, "SELECT seq, id, content, tokens, embedding, created_at FROM passages ORDER BY seq LIMIT ?", limit)
}

func (s *PassageStore) query(ctx context.Context, q string, args ...any) ([]index.Passage, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying passages: %w", err)
	}
	defer rows.Close()

	passages := []index.Passage{}
	for rows.Next() {
		var (
			p         index.Passage
			id        string
			blob      []byte
			createdAt int64
		)
		if err := rows.Scan(&p.Seq, &id, &p.Content, &p.Tokens, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning passage: %w", err)
		}
		p.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parsing passage id: %w", err)
		}
		p.Embedding = decodeVector(blob)
		p.CreatedAt = time.Unix(0, createdAt)
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating passages: %w", err)
	}
	return passages, nil
}

func (s *PassageStore) Stats(ctx context.Context) (index.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return index.Stats{}, ErrClosed
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM passages").Scan(&count); err != nil {
		return index.Stats{}, fmt.Errorf("counting passages: %w", err)
	}
	if count == 0 {
		return index.Stats{}, nil
	}

	stats := index.Stats{Passages: count}
	err := s.db.QueryRowContext(ctx, "SELECT model, dimension FROM index_meta WHERE id = 1").Scan(&stats.Model, &stats.Dimension)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return index.Stats{}, fmt.Errorf("reading index meta: %w", err)
	}
	return stats, nil
}

// Clear はDBを閉じてインデックスディレクトリごと削除し、空の状態で開き直します
func (s *PassageStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("closing index database: %w", err)
		}
		s.db = nil
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("removing index directory: %w", err)
	}
	return s.open()
}

func (s *PassageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
