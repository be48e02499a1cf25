package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sanseviera/miage-projet-llm/internal/platform/lock"
)

// TransactionProvider は pgx トランザクションをコールバックの背後に隠します
type TransactionProvider struct {
	pool *pgxpool.Pool
}

// NewTransactionProvider は新しいTransactionProviderを作成します
func NewTransactionProvider(pool *pgxpool.Pool) *TransactionProvider {
	return &TransactionProvider{pool: pool}
}

// Adapter は1つのトランザクション内で使う操作対象をまとめたもの
type Adapter struct {
	Tx    pgx.Tx
	Locks *lock.Manager
}

func newAdapter(tx pgx.Tx) *Adapter {
	return &Adapter{
		Tx:    tx,
		Locks: lock.NewManager(tx),
	}
}

// Transact はトランザクション内で fn を実行します。
// fn がエラーを返すかパニックした場合はロールバックし、成功時のみコミットします
func Transact[T any](ctx context.Context, p *TransactionProvider, fn func(*Adapter) (T, error)) (_ T, err error) {
	var zero T
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	// コミット済みの場合 Rollback は pgx.ErrTxClosed を返すだけ
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = fmt.Errorf("tx rollback failed: %v (original err: %w)", rbErr, err)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(r)
		}
	}()

	result, err := fn(newAdapter(tx))
	if err != nil {
		return zero, err
	}

	if err = tx.Commit(ctx); err != nil {
		return zero, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}
