package chat

import (
	"strings"

	"github.com/sanseviera/miage-projet-llm/internal/core/conversation"
	"github.com/sanseviera/miage-projet-llm/internal/core/llm"
)

// BuildPrompt は1ターン分のプロンプトを組み立てる
//
// 順序: システム指示、検索結果があれば Context ブロック、永続履歴、新しいユーザーメッセージ。
func BuildPrompt(systemPrompt string, passages []string, history []conversation.Message, message string) []llm.Message {
	prompt := make([]llm.Message, 0, len(history)+3)
	prompt = append(prompt, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})

	if block := FormatContext(passages); block != "" {
		prompt = append(prompt, llm.Message{Role: llm.RoleSystem, Content: "Context: " + block})
	}

	for _, m := range history {
		switch m.Role {
		case conversation.RoleUser:
			prompt = append(prompt, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case conversation.RoleAssistant:
			prompt = append(prompt, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		}
	}

	return append(prompt, llm.Message{Role: llm.RoleUser, Content: message})
}

// FormatContext は各パッセージに "- " を付け、空行で連結する
func FormatContext(passages []string) string {
	if len(passages) == 0 {
		return ""
	}
	items := make([]string, len(passages))
	for i, p := range passages {
		items[i] = "- " + p
	}
	return strings.Join(items, "\n\n")
}
