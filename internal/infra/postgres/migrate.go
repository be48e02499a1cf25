package postgres

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sanseviera/miage-projet-llm/internal/infra/postgres/schema"
	"github.com/sanseviera/miage-projet-llm/internal/platform/database"
	"github.com/sanseviera/miage-projet-llm/internal/platform/lock"
)

// EnsureSchema は未適用のマイグレーションを番号順に適用します
//
// 複数プロセスが同時に起動しても1回だけ適用されるよう、アドバイザリロック下で実行します。
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return ensureSchema(ctx, pool, schema.FS)
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) error {
	files, err := migrationFiles(fsys)
	if err != nil {
		return err
	}

	tp := database.NewTransactionProvider(pool)
	_, err = database.Transact(ctx, tp, func(a *database.Adapter) (struct{}, error) {
		if err := a.Locks.Acquire(ctx, lock.GenerateLockID("schema_migrations")); err != nil {
			return struct{}{}, err
		}
		if _, err := a.Tx.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version    INTEGER PRIMARY KEY,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)
		`); err != nil {
			return struct{}{}, fmt.Errorf("failed to create schema_migrations table: %w", err)
		}

		var current int
		if err := a.Tx.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
			return struct{}{}, fmt.Errorf("failed to get current schema version: %w", err)
		}

		for _, m := range files {
			if m.version <= current {
				continue
			}
			content, err := fs.ReadFile(fsys, m.name)
			if err != nil {
				return struct{}{}, fmt.Errorf("failed to read migration %s: %w", m.name, err)
			}
			if _, err := a.Tx.Exec(ctx, string(content)); err != nil {
				return struct{}{}, fmt.Errorf("failed to apply migration %s: %w", m.name, err)
			}
			if _, err := a.Tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
				return struct{}{}, fmt.Errorf("failed to record migration %s: %w", m.name, err)
			}
		}
		return struct{}{}, nil
	})
	return err
}

type migration struct {
	version int
	name    string
}

func migrationFiles(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			return nil, fmt.Errorf("invalid migration name %s: %w", name, err)
		}
		out = append(out, migration{version: version, name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
