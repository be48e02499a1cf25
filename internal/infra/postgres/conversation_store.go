// Package postgres は PostgreSQL 上の会話ストアとパッセージストアを提供します
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sanseviera/miage-projet-llm/internal/core/conversation"
	"github.com/sanseviera/miage-projet-llm/internal/platform/database"
	"github.com/sanseviera/miage-projet-llm/internal/platform/lock"
)

// ConversationStore は conversations テーブルに1セッション1行で保存する conversation.Store 実装
//
// メッセージは JSONB 配列として保持し、追記は配列の連結で行います。
type ConversationStore struct {
	pool *pgxpool.Pool
	tp   *database.TransactionProvider
	now  func() time.Time
}

var _ conversation.Store = (*ConversationStore)(nil)

// NewConversationStore は新しい ConversationStore を作成します
func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{
		pool: pool,
		tp:   database.NewTransactionProvider(pool),
		now:  time.Now,
	}
}

// Append はメッセージ群を1トランザクションで追記します
//
// セッション単位のアドバイザリロックを保持するため、複数プロセスからの追記でもターンが混ざりません。
func (s *ConversationStore) Append(ctx context.Context, sessionID string, messages ...conversation.Message) error {
	if len(messages) == 0 {
		return nil
	}
	for _, m := range messages {
		if _, err := conversation.ParseRole(string(m.Role)); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	_, err = database.Transact(ctx, s.tp, func(a *database.Adapter) (struct{}, error) {
		if err := a.Locks.Acquire(ctx, lock.GenerateLockID("conversation", sessionID)); err != nil {
			return struct{}{}, err
		}
		_, err := a.Tx.Exec(ctx, `
			INSERT INTO conversations (session_id, messages, created_at, updated_at)
			VALUES ($1, $2::jsonb, $3, $3)
			ON CONFLICT (session_id) DO UPDATE
			SET messages = conversations.messages || EXCLUDED.messages,
			    updated_at = EXCLUDED.updated_at
		`, sessionID, payload, s.now())
		if err != nil {
			return struct{}{}, fmt.Errorf("failed to append messages: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (s *ConversationStore) History(ctx context.Context, sessionID string) ([]conversation.Message, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, "SELECT messages FROM conversations WHERE session_id = $1", sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return []conversation.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return decodeMessages(raw)
}

func (s *ConversationStore) Get(ctx context.Context, sessionID string) (*conversation.Record, error) {
	var (
		rec conversation.Record
		raw []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, messages, created_at, updated_at
		FROM conversations
		WHERE session_id = $1
	`, sessionID).Scan(&rec.SessionID, &raw, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conversation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	rec.Messages, err = decodeMessages(raw)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *ConversationStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM conversations WHERE session_id = $1)", sessionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check conversation: %w", err)
	}
	return exists, nil
}

func (s *ConversationStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT session_id FROM conversations ORDER BY created_at, session_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *ConversationStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM conversations WHERE session_id = $1", sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func decodeMessages(raw []byte) ([]conversation.Message, error) {
	messages := []conversation.Message{}
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	for i, m := range messages {
		if _, err := conversation.ParseRole(string(m.Role)); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}
	return messages, nil
}
