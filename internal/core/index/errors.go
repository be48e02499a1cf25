package index

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized はインデックスが空の状態で検索した場合に返されます
	ErrNotInitialized = errors.New("document index not initialized")

	// ErrDimensionMismatch はベクトルの次元数またはモデルが既存インデックスと一致しない場合に返されます
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrMalformedVector はEmbeddingゲートウェイが不正なベクトルを返した場合に返されます
	ErrMalformedVector = errors.New("malformed embedding vector")
)

// IndexError はインデックス構築中の失敗を表します
type IndexError struct {
	Op       string // 操作名 (clear, embed, insert)
	Document int    // 失敗したドキュメントの位置。ドキュメントに紐付かない場合は -1
	Err      error
}

func (e *IndexError) Error() string {
	if e.Document >= 0 {
		return fmt.Sprintf("index: %s: %s (document=%d)", e.Op, e.Err, e.Document)
	}
	return fmt.Sprintf("index: %s: %s", e.Op, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// NewIndexError は新しいIndexErrorを作成します
func NewIndexError(op string, document int, err error) *IndexError {
	return &IndexError{
		Op:       op,
		Document: document,
		Err:      err,
	}
}
