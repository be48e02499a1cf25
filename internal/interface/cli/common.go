// Package cli はコマンドラインインターフェースを提供します
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/sanseviera/miage-projet-llm/internal/platform/config"
	"github.com/sanseviera/miage-projet-llm/internal/platform/container"
	"github.com/sanseviera/miage-projet-llm/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Container *container.Container
	close     func() error
}

// AppContextFactory は環境変数ファイルから AppContext を作成する
type AppContextFactory func(ctx context.Context, envFile string) (*AppContext, error)

// NewAppContext は設定を読み込み、ロガーとコンテナを初期化して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logCfg, err := logger.ParseConfig(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid log config: %w", err)
	}
	// 標準出力はコマンドの結果表示に使う
	logCfg.Output = os.Stderr
	appLogger := logger.New(logCfg)

	cont, err := container.New(ctx, cfg, container.WithLogger(appLogger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize container: %w", err)
	}

	return &AppContext{Container: cont, close: cont.Close}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.close == nil {
		return
	}
	if err := ac.close(); err != nil {
		ac.Logger().Warn("failed to release resources", "error", err)
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger()
	}
	return slog.Default()
}

// actions はコマンドのアクション群
type actions struct {
	newAppContext AppContextFactory
}

func (a *actions) open(ctx context.Context, cmd *cli.Command) (*AppContext, error) {
	return a.newAppContext(ctx, cmd.String("env"))
}

func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func stderr(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}
