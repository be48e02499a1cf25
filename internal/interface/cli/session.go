package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/sanseviera/miage-projet-llm/internal/core/conversation"
)

// sessionList は永続ストアとメモリ上のセッションをID順に表示する
func (a *actions) sessionList(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := a.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	ids, err := appCtx.Container.Chat.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintln(stdout(cmd), "no sessions")
		return nil
	}

	table := tablewriter.NewWriter(stdout(cmd))
	table.Header("Session ID")
	for _, id := range ids {
		table.Append(id)
	}
	table.Render()
	return nil
}

// sessionHistory はセッションの会話履歴を表示する
func (a *actions) sessionHistory(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := a.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	sessionID := cmd.String("session")
	rec, err := appCtx.Container.Chat.Conversation(ctx, sessionID)
	if errors.Is(err, conversation.ErrNotFound) {
		fmt.Fprintf(stdout(cmd), "no messages for session %s\n", sessionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	out := stdout(cmd)
	fmt.Fprintf(out, "session %s (created %s, updated %s)\n", rec.SessionID,
		rec.CreatedAt.UTC().Format(time.RFC3339), rec.UpdatedAt.UTC().Format(time.RFC3339))

	table := tablewriter.NewWriter(out)
	table.Header("Time", "Role", "Content")
	for _, m := range rec.Messages {
		table.Append(m.Timestamp.UTC().Format(time.RFC3339), string(m.Role), m.Content)
	}
	table.Render()
	return nil
}
