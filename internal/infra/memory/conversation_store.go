package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/sanseviera/miage-projet-llm/internal/core/conversation"
)

// ConversationStore はプロセス内に保持する conversation.Store 実装
type ConversationStore struct {
	mu      sync.RWMutex
	records map[string]*conversation.Record
	order   []string
	now     func() time.Time
}

var _ conversation.Store = (*ConversationStore)(nil)

// NewConversationStore は空の ConversationStore を作成します
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		records: make(map[string]*conversation.Record),
		now:     time.Now,
	}
}

func (s *ConversationStore) Append(ctx context.Context, sessionID string, messages ...conversation.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[sessionID]
	if !ok {
		rec = &conversation.Record{SessionID: sessionID, CreatedAt: now}
		s.records[sessionID] = rec
		s.order = append(s.order, sessionID)
	}
	rec.Messages = append(rec.Messages, messages...)
	rec.UpdatedAt = now
	return nil
}

func (s *ConversationStore) History(ctx context.Context, sessionID string) ([]conversation.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[sessionID]
	if !ok {
		return []conversation.Message{}, nil
	}
	return slices.Clone(rec.Messages), nil
}

func (s *ConversationStore) Get(ctx context.Context, sessionID string) (*conversation.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[sessionID]
	if !ok {
		return nil, conversation.ErrNotFound
	}
	copied := *rec
	copied.Messages = slices.Clone(rec.Messages)
	return &copied, nil
}

func (s *ConversationStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[sessionID]
	return ok, nil
}

func (s *ConversationStore) Sessions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.order), nil
}

func (s *ConversationStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[sessionID]; !ok {
		return false, nil
	}
	delete(s.records, sessionID)
	s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == sessionID })
	return true, nil
}
