package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/sanseviera/miage-projet-llm/internal/interface/httpapi"
)

// serverStart はHTTPサーバーとセッションの期限切れ掃除を起動する
func (a *actions) serverStart(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := a.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	c := appCtx.Container
	cfg := c.Config
	logger := appCtx.Logger()

	port := cfg.Server.Port
	if cmd.IsSet("port") {
		port = cmd.Int("port")
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go c.Sessions.RunJanitor(janitorCtx, cfg.Session.CleanupInterval)

	srv := httpapi.New(httpapi.Deps{
		Chat:    c.Chat,
		Index:   c.Index,
		Memory:  c.Sessions,
		Summary: c.Summary,
	},
		httpapi.WithLogger(logger),
		httpapi.WithMetrics(c.Metrics, c.Metrics.Handler()),
		httpapi.WithMaxRequestBytes(cfg.Server.MaxRequestBytes),
	)

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting server", "addr", addr, "indexBackend", cfg.Index.Backend, "conversationBackend", cfg.Database.Backend)

	if err := srv.ListenAndServe(ctx, addr, cfg.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
