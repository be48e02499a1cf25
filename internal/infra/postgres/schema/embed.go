// Package schema は PostgreSQL 用の前方専用マイグレーションを埋め込みます
package schema

import "embed"

// FS は番号順に適用される *.up.sql を保持します
//
//go:embed *.sql
var FS embed.FS
