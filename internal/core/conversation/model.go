package conversation

import (
	"fmt"
	"time"
)

// Role は保存されるメッセージの送信者種別
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole は文字列から Role を解釈する
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// Message は会話の1メッセージ。追加後は変更しない
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// UserMessage はユーザーメッセージを作成する
func UserMessage(content string, ts time.Time) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: ts}
}

// AssistantMessage はアシスタントメッセージを作成する
func AssistantMessage(content string, ts time.Time) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: ts}
}

// Record はセッション単位の永続会話レコード
type Record struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
