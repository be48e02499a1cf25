package chat

import "fmt"

// ValidationError は不正なリクエストを表します。副作用の前に返されます
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Message)
}

// GenerationError は言語モデルの呼び出し失敗（タイムアウトを含む）を表します
type GenerationError struct {
	SessionID string
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("chat: generation failed (session=%s): %s", e.SessionID, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// PersistenceError は生成後の会話の永続化失敗を表します
// 生成済みの応答は呼び出し元に返されます
type PersistenceError struct {
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("chat: failed to persist turn (session=%s): %s", e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
