// Package migrations はSQLiteスキーマを埋め込みます
package migrations

import "embed"

// FS は各ストアの *.up.sql を保持します
//
//go:embed passages/*.sql conversations/*.sql
var FS embed.FS

// FS 内のディレクトリ
const (
	Passages      = "passages"
	Conversations = "conversations"
)
