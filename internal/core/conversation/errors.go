package conversation

import "errors"

var (
	// ErrNotFound は会話レコードが存在しない場合のエラー
	ErrNotFound = errors.New("conversation not found")

	// ErrUnknownRole は未知のロールを受け取った場合のエラー
	ErrUnknownRole = errors.New("unknown message role")
)
