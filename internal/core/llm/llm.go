package llm

import "context"

// Role はプロンプト内のメッセージ種別
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message はLLMに渡す1メッセージ
type Message struct {
	Role    Role
	Content string
}

// Client はLLM通信インターフェース
type Client interface {
	// Chat はメッセージ列を1回の呼び出しで送信し、生成テキストを返す
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Complete は単一のユーザープロンプトで Chat を呼び出す
func Complete(ctx context.Context, c Client, prompt string) (string, error) {
	return c.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}})
}
