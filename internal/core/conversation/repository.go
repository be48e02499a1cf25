package conversation

import "context"

// Store は永続会話ストアのインターフェース
//
// 1セッションにつき1レコードを持ち、メッセージは追記のみ。
type Store interface {
	// Append はメッセージ群を順序通りに追記する。レコードがなければ作成する
	Append(ctx context.Context, sessionID string, messages ...Message) error

	// History はセッションの全メッセージを古い順に返す。レコードがなければ空スライス
	History(ctx context.Context, sessionID string) ([]Message, error)

	// Get はレコード全体を返す。存在しなければ ErrNotFound
	Get(ctx context.Context, sessionID string) (*Record, error)

	// Exists はレコードの存在を確認する
	Exists(ctx context.Context, sessionID string) (bool, error)

	// Sessions は既知のセッションIDを作成順に返す
	Sessions(ctx context.Context) ([]string, error)

	// Delete はレコードを削除する。削除した場合 true
	Delete(ctx context.Context, sessionID string) (bool, error)
}
