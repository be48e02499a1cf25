// Package httpapi は会話バックエンドのHTTPインターフェースを提供します
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sanseviera/miage-projet-llm/internal/core/chat"
	"github.com/sanseviera/miage-projet-llm/internal/core/conversation"
	"github.com/sanseviera/miage-projet-llm/internal/core/index"
	"github.com/sanseviera/miage-projet-llm/internal/core/session"
	"github.com/sanseviera/miage-projet-llm/internal/core/summary"
)

// DefaultMaxRequestBytes はリクエストボディの既定上限
const DefaultMaxRequestBytes = 10 << 20

// ChatService はHTTP層が使う会話操作
type ChatService interface {
	Respond(ctx context.Context, params chat.RespondParams) (*chat.RespondResult, error)
	History(ctx context.Context, sessionID string) ([]conversation.Message, error)
	NewSession(ctx context.Context) (string, error)
	Sessions(ctx context.Context) ([]string, error)
	DeleteConversation(ctx context.Context, sessionID string) (bool, error)
}

// IndexService はHTTP層が使うドキュメントインデックス操作
type IndexService interface {
	Index(ctx context.Context, texts []string, clearExisting bool) (*index.IndexResult, error)
	Clear(ctx context.Context) error
	AllPassages(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (index.Stats, error)
}

// Summarizer はテキスト要約を行います
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxLength int) (*summary.Result, error)
}

// RequestRecorder はHTTPリクエストの計測先（メトリクス用）
type RequestRecorder interface {
	RecordHTTPRequest(route string, status int, duration time.Duration)
}

// Deps はサーバーが依存するサービス群
type Deps struct {
	Chat    ChatService
	Index   IndexService
	Memory  *session.Store
	Summary Summarizer
}

// Server はHTTPサーバー
type Server struct {
	deps            Deps
	logger          *slog.Logger
	recorder        RequestRecorder
	metricsHandler  http.Handler
	maxRequestBytes int64
	handler         http.Handler
}

// Option は Server のオプション設定
type Option func(*Server)

// WithLogger はロガーを設定します
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics はリクエスト計測先と /metrics ハンドラを設定します
func WithMetrics(recorder RequestRecorder, handler http.Handler) Option {
	return func(s *Server) {
		s.recorder = recorder
		s.metricsHandler = handler
	}
}

// WithMaxRequestBytes はリクエストボディの上限を設定します
func WithMaxRequestBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxRequestBytes = n
		}
	}
}

// New は新しい Server を作成します
func New(deps Deps, opts ...Option) *Server {
	s := &Server{
		deps:            deps,
		logger:          slog.Default(),
		maxRequestBytes: DefaultMaxRequestBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.middleware(s.routes())
	return s
}

// Handler はミドルウェア適用済みのハンドラを返します
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.handleChat(false))
	mux.HandleFunc("POST /chat/rag", s.handleChat(true))
	mux.HandleFunc("POST /chat/new-session", s.handleNewSession)
	mux.HandleFunc("GET /chat/sessions", s.handleSessions)
	mux.HandleFunc("GET /chat/documents", s.handleListDocuments)

	mux.HandleFunc("POST /chat/memory/tag", s.handleMemoryTag)
	mux.HandleFunc("POST /chat/memory/clear", s.handleMemoryClear)
	mux.HandleFunc("GET /chat/memory/{session_id}", s.handleMemoryMetadata)

	mux.HandleFunc("POST /documents/index", s.handleIndexDocuments)
	mux.HandleFunc("DELETE /documents", s.handleClearDocuments)
	mux.HandleFunc("GET /documents/stats", s.handleDocumentStats)

	mux.HandleFunc("GET /history/{session_id}", s.handleHistory)
	mux.HandleFunc("DELETE /history/{session_id}", s.handleDeleteHistory)

	mux.HandleFunc("POST /summarize", s.handleSummarize)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	return mux
}

// ListenAndServe は addr で待ち受け、ctx がキャンセルされると shutdownTimeout 以内に停止します
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}
