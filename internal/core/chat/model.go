package chat

import (
	"strings"
	"time"

	"github.com/sanseviera/miage-projet-llm/internal/core/index"
)

const (
	// DefaultSystemPrompt は固定のシステム指示
	DefaultSystemPrompt = "You are a helpful assistant."
	// DefaultRetrievalK は1ターンで取得するパッセージ数
	DefaultRetrievalK = index.DefaultSearchLimit
)

// ターンの結果種別（メトリクスのラベル）
const (
	OutcomeOK              = "ok"
	OutcomeInvalid         = "invalid"
	OutcomeError           = "error"
	OutcomeGenerationError = "generation_error"
	OutcomePersistError    = "persist_error"
)

// 検索を諦めて空のコンテキストで続行した理由
const (
	FallbackNotInitialized = "not_initialized"
	FallbackTimeout        = "timeout"
	FallbackError          = "error"
)

// Config は Service の設定
type Config struct {
	SystemPrompt      string
	RetrievalK        int
	RetrievalTimeout  time.Duration // 0 以下でタイムアウトなし
	GenerationTimeout time.Duration
	StoreTimeout      time.Duration
}

// DefaultConfig はデフォルト設定を返します
func DefaultConfig() Config {
	return Config{
		SystemPrompt:      DefaultSystemPrompt,
		RetrievalK:        DefaultRetrievalK,
		RetrievalTimeout:  10 * time.Second,
		GenerationTimeout: 60 * time.Second,
		StoreTimeout:      5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.SystemPrompt) == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.RetrievalK <= 0 {
		c.RetrievalK = DefaultRetrievalK
	}
	return c
}

// RespondParams は1ターンの入力
type RespondParams struct {
	Message   string
	SessionID string
	UseRAG    bool
}

func (p RespondParams) validate() error {
	if strings.TrimSpace(p.Message) == "" {
		return &ValidationError{Field: "message", Message: "must not be empty"}
	}
	if strings.TrimSpace(p.SessionID) == "" {
		return &ValidationError{Field: "session_id", Message: "must not be empty"}
	}
	return nil
}

// RespondResult は1ターンの出力
type RespondResult struct {
	Response string
	Passages []index.SearchResult
	// PersistErr は永続化に失敗した場合の *PersistenceError。応答自体は有効
	PersistErr error
}
