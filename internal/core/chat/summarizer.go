package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/sanseviera/miage-projet-llm/internal/core/conversation"
	"github.com/sanseviera/miage-projet-llm/internal/core/llm"
	"github.com/sanseviera/miage-projet-llm/internal/core/session"
)

// ConversationSummarizer は直近のメッセージをLLMで短く要約します
type ConversationSummarizer struct {
	llm llm.Client
}

var _ session.Summarizer = (*ConversationSummarizer)(nil)

// NewConversationSummarizer は新しい ConversationSummarizer を作成します
func NewConversationSummarizer(client llm.Client) *ConversationSummarizer {
	return &ConversationSummarizer{llm: client}
}

// Summarize はメッセージ本文を改行で連結した要約プロンプトで1回だけLLMを呼び出します
func (c *ConversationSummarizer) Summarize(ctx context.Context, messages []conversation.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages to summarize")
	}

	contents := make([]string, len(messages))
	for i, m := range messages {
		contents[i] = m.Content
	}
	prompt := "Summarize this conversation briefly:\n" + strings.Join(contents, "\n")

	summary, err := llm.Complete(ctx, c.llm, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to summarize conversation: %w", err)
	}
	return strings.TrimSpace(summary), nil
}
