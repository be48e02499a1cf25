package index

import (
	"time"

	"github.com/google/uuid"
)

// DefaultSearchLimit は検索件数の既定値
const DefaultSearchLimit = 4

// DefaultListCap はパッセージ一覧の既定上限
const DefaultListCap = 100

// Passage はインデックスに格納されるチャンクとそのベクトル
type Passage struct {
	ID        uuid.UUID
	Content   string
	Embedding []float32
	Seq       int64 // 挿入順の連番。ストアが採番する
	Tokens    int
	CreatedAt time.Time
}

// SearchResult は類似検索の結果
type SearchResult struct {
	Passage Passage
	Score   float64 // コサイン類似度
}

// Meta はインデックス全体で共有されるEmbedding情報
type Meta struct {
	Model     string
	Dimension int
}

// Stats はインデックスの統計情報
type Stats struct {
	Passages  int
	Model     string
	Dimension int
}

// IndexResult はインデックス構築の結果
type IndexResult struct {
	Documents int // パッセージが挿入されたドキュメント数
	Passages  int
	Skipped   int // 空のためスキップしたドキュメント数
}
