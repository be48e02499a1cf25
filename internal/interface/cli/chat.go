package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/sanseviera/miage-projet-llm/internal/core/chat"
)

// chat は1ターン分の応答を生成して表示する
func (a *actions) chat(ctx context.Context, cmd *cli.Command) error {
	message := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(message) == "" {
		return errors.New("message is required")
	}

	appCtx, err := a.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	result, err := appCtx.Container.Chat.Respond(ctx, chat.RespondParams{
		Message:   message,
		SessionID: cmd.String("session"),
		UseRAG:    cmd.Bool("rag"),
	})
	if err != nil {
		return fmt.Errorf("failed to generate response: %w", err)
	}

	out := stdout(cmd)
	fmt.Fprintln(out, result.Response)
	if len(result.Passages) > 0 {
		fmt.Fprintf(out, "\n参照パッセージ (%d件):\n", len(result.Passages))
		for i, p := range result.Passages {
			fmt.Fprintf(out, "  %d. [%.3f] %s\n", i+1, p.Score, preview(p.Passage.Content))
		}
	}
	if result.PersistErr != nil {
		fmt.Fprintf(stderr(cmd), "warning: conversation was not saved: %v\n", result.PersistErr)
	}
	return nil
}
