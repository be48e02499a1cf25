// Package chat は検索拡張つきの会話応答を提供します
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/sanseviera/miage-projet-llm/internal/core/chunk"
	"github.com/sanseviera/miage-projet-llm/internal/core/conversation"
	"github.com/sanseviera/miage-projet-llm/internal/core/index"
	"github.com/sanseviera/miage-projet-llm/internal/core/llm"
	"github.com/sanseviera/miage-projet-llm/internal/core/session"
)

// newSessionAttempts は未使用のセッションIDを探す試行回数
const newSessionAttempts = 5

// Retriever はクエリに関連するパッセージを返します
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]index.SearchResult, error)
}

// TurnObserver はターンの結果を受け取ります（メトリクス用）
type TurnObserver interface {
	ObserveTurn(outcome string)
	ObserveRetrievalFallback(reason string)
}

// Service は会話ターンを処理します
//
// 同じセッションIDのターンは到着順に1つずつ処理され、異なるセッションは並行に処理されます。
type Service struct {
	store     conversation.Store
	sessions  *session.Store
	retriever Retriever
	llm       llm.Client
	cfg       Config
	turns     *turnLocks
	tokens    chunk.TokenCounter
	observer  TurnObserver
	logger    *slog.Logger
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

// WithClock は現在時刻の取得関数を差し替えます
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTokenCounter はプロンプトのトークン数計測に使うカウンタを設定します
func WithTokenCounter(counter chunk.TokenCounter) Option {
	return func(s *Service) {
		if counter != nil {
			s.tokens = counter
		}
	}
}

// WithObserver はターン結果の通知先を設定します
func WithObserver(o TurnObserver) Option {
	return func(s *Service) {
		s.observer = o
	}
}

// NewService は新しい Service を作成します
// retriever が nil の場合、検索は常に空の結果として扱われます
func NewService(
	store conversation.Store,
	sessions *session.Store,
	retriever Retriever,
	client llm.Client,
	cfg Config,
	opts ...Option,
) *Service {
	s := &Service{
		store:     store,
		sessions:  sessions,
		retriever: retriever,
		llm:       client,
		cfg:       cfg.withDefaults(),
		turns:     newTurnLocks(),
		tokens:    chunk.RuneCounter{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Respond は1ターンを処理し、生成した応答を返します
//
// 永続化に失敗した場合もエラーにはせず、RespondResult.PersistErr に設定して応答を返します。
func (s *Service) Respond(ctx context.Context, params RespondParams) (*RespondResult, error) {
	if err := params.validate(); err != nil {
		s.observeTurn(OutcomeInvalid)
		return nil, err
	}

	release, err := s.turns.acquire(ctx, params.SessionID)
	if err != nil {
		s.observeTurn(OutcomeError)
		return nil, fmt.Errorf("waiting for session turn: %w", err)
	}
	defer release()

	logger := s.logger.With("sessionID", params.SessionID)

	// 1. 永続履歴の読み込み
	history, err := s.History(ctx, params.SessionID)
	if err != nil {
		s.observeTurn(OutcomeError)
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}

	// 2. 検索（失敗しても空のコンテキストで続行）
	var passages []index.SearchResult
	if params.UseRAG {
		passages = s.retrieve(ctx, logger, params.Message)
	}
	contents := make([]string, len(passages))
	for i, p := range passages {
		contents[i] = p.Passage.Content
	}

	// 3. プロンプト構築
	prompt := BuildPrompt(s.cfg.SystemPrompt, contents, history, params.Message)
	logger.Info("prompt assembled",
		"history", len(history),
		"passages", len(passages),
		"promptTokens", s.countTokens(prompt),
	)

	userAt := s.timestampAfter(lastTimestamp(history))

	// 4. 生成（1回だけ呼び出す）
	genCtx, cancel := withTimeout(ctx, s.cfg.GenerationTimeout)
	response, err := s.llm.Chat(genCtx, prompt)
	cancel()
	if err != nil {
		logger.Error("failed to generate response", "error", err)
		s.observeTurn(OutcomeGenerationError)
		return nil, &GenerationError{SessionID: params.SessionID, Err: err}
	}

	assistantAt := s.timestampAfter(userAt)
	user := conversation.UserMessage(params.Message, userAt)
	assistant := conversation.AssistantMessage(response, assistantAt)

	result := &RespondResult{Response: response, Passages: passages}

	// 5. 永続化。クライアントが切断しても保存は続ける
	storeCtx, cancel := withTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	err = s.store.Append(storeCtx, params.SessionID, user, assistant)
	cancel()
	if err != nil {
		logger.Error("failed to persist conversation turn", "error", err)
		result.PersistErr = &PersistenceError{SessionID: params.SessionID, Err: err}
		s.observeTurn(OutcomePersistError)
	} else {
		s.observeTurn(OutcomeOK)
	}

	if s.sessions != nil {
		s.sessions.Append(params.SessionID, user, assistant)
	}

	logger.Info("turn completed", "responseLength", len(response), "persisted", err == nil)
	return result, nil
}

// retrieve はパッセージを検索します。失敗時は理由を記録して nil を返します
func (s *Service) retrieve(ctx context.Context, logger *slog.Logger, query string) []index.SearchResult {
	if s.retriever == nil {
		return nil
	}

	searchCtx, cancel := withTimeout(ctx, s.cfg.RetrievalTimeout)
	defer cancel()

	results, err := s.retriever.Search(searchCtx, query, s.cfg.RetrievalK)
	if err == nil {
		return results
	}

	reason := FallbackError
	switch {
	case errors.Is(err, index.ErrNotInitialized):
		reason = FallbackNotInitialized
	case errors.Is(err, context.DeadlineExceeded):
		reason = FallbackTimeout
	}
	logger.Warn("retrieval failed, continuing without context", "reason", reason, "error", err)
	if s.observer != nil {
		s.observer.ObserveRetrievalFallback(reason)
	}
	return nil
}

// History はセッションの永続履歴を古い順に返します
func (s *Service) History(ctx context.Context, sessionID string) ([]conversation.Message, error) {
	storeCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.store.History(storeCtx, sessionID)
}

// Conversation はセッションの永続レコードを返します。存在しなければ conversation.ErrNotFound
func (s *Service) Conversation(ctx context.Context, sessionID string) (*conversation.Record, error) {
	storeCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.store.Get(storeCtx, sessionID)
}

// NewSession は永続ストアにもメモリにも存在しない新しいセッションIDを割り当てます
func (s *Service) NewSession(ctx context.Context) (string, error) {
	for range newSessionAttempts {
		id := uuid.NewString()

		storeCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
		exists, err := s.store.Exists(storeCtx, id)
		cancel()
		if err != nil {
			return "", fmt.Errorf("failed to check session: %w", err)
		}
		if exists {
			continue
		}
		if s.sessions != nil {
			if _, ok := s.sessions.Get(id); ok {
				continue
			}
			s.sessions.GetOrCreate(id)
		}

		s.logger.Info("session created", "sessionID", id)
		return id, nil
	}
	return "", errors.New("failed to allocate an unused session id")
}

// Sessions は永続ストアとメモリの両方にあるセッションIDを重複なく昇順で返します
func (s *Service) Sessions(ctx context.Context) ([]string, error) {
	storeCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	ids, err := s.store.Sessions(storeCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if s.sessions != nil {
		ids = append(ids, s.sessions.Sessions()...)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// DeleteConversation は永続履歴とセッションメモリを削除します。どちらかが存在した場合 true
func (s *Service) DeleteConversation(ctx context.Context, sessionID string) (bool, error) {
	release, err := s.turns.acquire(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("waiting for session turn: %w", err)
	}
	defer release()

	storeCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	deleted, err := s.store.Delete(storeCtx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	if s.sessions != nil && s.sessions.Delete(sessionID) {
		deleted = true
	}
	if deleted {
		s.logger.Info("conversation deleted", "sessionID", sessionID)
	}
	return deleted, nil
}


func (s *Service) observeTurn(outcome string) {
	if s.observer != nil {
		s.observer.ObserveTurn(outcome)
	}
}

func (s *Service) countTokens(prompt []llm.Message) int {
	total := 0
	for _, m := range prompt {
		total += s.tokens.CountTokens(m.Content)
	}
	return total
}

// timestampAfter は prev より厳密に後の時刻を返します
// 永続化先の精度に合わせてマイクロ秒に丸めます
func (s *Service) timestampAfter(prev time.Time) time.Time {
	ts := s.now().UTC().Truncate(time.Microsecond)
	if !prev.IsZero() && !ts.After(prev) {
		ts = prev.Add(time.Microsecond)
	}
	return ts
}

func lastTimestamp(history []conversation.Message) time.Time {
	if len(history) == 0 {
		return time.Time{}
	}
	return history[len(history)-1].Timestamp
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
