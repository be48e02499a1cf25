package index

import "context"

// PassageStore はパッセージの永続化と類似検索を担うストア
type PassageStore interface {
	// Insert はパッセージを1トランザクションで挿入し、Seq を採番する。
	// 初回挿入時に meta を記録し、以降 meta と食い違う場合は ErrDimensionMismatch を返す
	Insert(ctx context.Context, meta Meta, passages []Passage) error

	// Search はコサイン類似度の高い順に最大 k 件を返す
	Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error)

	// List は Seq 昇順で最大 limit 件を返す
	List(ctx context.Context, limit int) ([]Passage, error)

	// Stats は件数と記録済みの meta を返す
	Stats(ctx context.Context) (Stats, error)

	// Clear は全パッセージと永続化状態を削除する。空でも成功する
	Clear(ctx context.Context) error

	Close() error
}
