package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sanseviera/miage-projet-llm/internal/core/conversation"
	"github.com/sanseviera/miage-projet-llm/internal/infra/sqlite/migrations"
)

// ConversationStore はローカルのSQLiteファイルに保存する conversation.Store 実装
//
// メッセージは1行1件で保持し、id の昇順が追記順になります。
type ConversationStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ conversation.Store = (*ConversationStore)(nil)

// NewConversationStore は file に会話DBを開きます。親ディレクトリがなければ作成します
func NewConversationStore(file string) (*ConversationStore, error) {
	if file == "" {
		return nil, errors.New("conversation database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, fmt.Errorf("creating conversation directory: %w", err)
	}
	db, err := openDatabase(file, migrations.Conversations)
	if err != nil {
		return nil, fmt.Errorf("opening conversation database: %w", err)
	}
	return &ConversationStore{db: db, now: time.Now}, nil
}

// Append はメッセージ群を1トランザクションで追記します
func (s *ConversationStore) Append(ctx context.Context, sessionID string, messages ...conversation.Message) error {
	if len(messages) == 0 {
		return nil
	}
	for _, m := range messages {
		if _, err := conversation.ParseRole(string(m.Role)); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UnixNano()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (session_id, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET updated_at = excluded.updated_at
	`, sessionID, now, now); err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range messages {
		if _, err := stmt.ExecContext(ctx, sessionID, string(m.Role), m.Content, m.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing messages: %w", err)
	}
	return nil
}

func (s *ConversationStore) History(ctx context.Context, sessionID string) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content, created_at FROM messages WHERE session_id = ? ORDER BY id", sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []conversation.Message{}
	for rows.Next() {
		var (
			role    string
			m       conversation.Message
			created int64
		)
		if err := rows.Scan(&role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if m.Role, err = conversation.ParseRole(role); err != nil {
			return nil, err
		}
		m.Timestamp = time.Unix(0, created).UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

func (s *ConversationStore) Get(ctx context.Context, sessionID string) (*conversation.Record, error) {
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		"SELECT created_at, updated_at FROM conversations WHERE session_id = ?", sessionID).Scan(&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conversation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	messages, err := s.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &conversation.Record{
		SessionID: sessionID,
		Messages:  messages,
		CreatedAt: time.Unix(0, created).UTC(),
		UpdatedAt: time.Unix(0, updated).UTC(),
	}, nil
}

func (s *ConversationStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM conversations WHERE session_id = ?)", sessionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking conversation: %w", err)
	}
	return exists, nil
}

// Sessions はセッションIDを作成順に返します
func (s *ConversationStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT session_id FROM conversations ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return ids, nil
}

func (s *ConversationStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return false, fmt.Errorf("deleting messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE session_id = ?", sessionID)
	if err != nil {
		return false, fmt.Errorf("deleting conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing delete: %w", err)
	}
	return n > 0, nil
}

func (s *ConversationStore) Close() error {
	return s.db.Close()
}
