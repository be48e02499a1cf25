package session

import (
	"slices"
	"time"

	"github.com/samber/mo"

	"github.com/sanseviera/miage-projet-llm/internal/core/conversation"
)

const (
	// DefaultMaxMessages はセッションごとに保持するメッセージ数の上限
	DefaultMaxMessages = 50
	// DefaultTimeout は最終アクティビティからセッションが非アクティブになるまでの時間
	DefaultTimeout = time.Hour
	// DefaultSummaryEvery は要約を再生成するメッセージ数の間隔
	DefaultSummaryEvery = 10
	// DefaultSummaryWindow は要約に使う直近メッセージ数
	DefaultSummaryWindow = 10
)

// Config は Store の設定
type Config struct {
	MaxMessages   int
	Timeout       time.Duration
	SummaryEvery  int // 0 以下で要約を無効化
	SummaryWindow int
}

// DefaultConfig はデフォルト設定を返します
func DefaultConfig() Config {
	return Config{
		MaxMessages:   DefaultMaxMessages,
		Timeout:       DefaultTimeout,
		SummaryEvery:  DefaultSummaryEvery,
		SummaryWindow: DefaultSummaryWindow,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxMessages <= 0 {
		c.MaxMessages = d.MaxMessages
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.SummaryWindow <= 0 {
		c.SummaryWindow = d.SummaryWindow
	}
	return c
}

// Metadata はセッションのメタデータ
type Metadata struct {
	CreatedAt    time.Time
	LastActivity time.Time
	MessageCount int // 追加されたメッセージの累計。バッファから溢れても減らない
	Tags         []string
	Summary      mo.Option[string]
}

func (m Metadata) clone() Metadata {
	m.Tags = slices.Clone(m.Tags)
	return m
}

// Snapshot はある時点のセッション内容のコピー
type Snapshot struct {
	SessionID string
	Messages  []conversation.Message
	Metadata  Metadata
}
