package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/sanseviera/miage-projet-llm/internal/core/index"
)

// previewRunes は一覧表示でのパッセージの最大文字数
const previewRunes = 80

// indexAdd はファイルを読み込んでインデックスに追加する
func (a *actions) indexAdd(ctx context.Context, cmd *cli.Command) error {
	files := cmd.StringSlice("file")
	if len(files) == 0 {
		return errors.New("at least one --file is required")
	}

	texts := make([]string, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		texts = append(texts, string(data))
	}

	appCtx, err := a.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	logger := appCtx.Logger()
	logger.Info("indexing files", "files", len(files), "clear", cmd.Bool("clear"))

	result, err := appCtx.Container.Index.Index(ctx, texts, cmd.Bool("clear"))
	if err != nil {
		return fmt.Errorf("failed to index files: %w", err)
	}

	table := tablewriter.NewWriter(stdout(cmd))
	table.Header("Documents", "Passages", "Skipped")
	table.Append(strconv.Itoa(result.Documents), strconv.Itoa(result.Passages), strconv.Itoa(result.Skipped))
	table.Render()
	return nil
}

// indexClear はインデックスを削除する
func (a *actions) indexClear(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := a.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.Index.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}
	fmt.Fprintln(stdout(cmd), "index cleared")
	return nil
}

// indexList は格納済みパッセージを挿入順に表示する
func (a *actions) indexList(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := a.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	passages, err := appCtx.Container.Index.AllPassages(ctx)
	if errors.Is(err, index.ErrNotInitialized) {
		fmt.Fprintln(stdout(cmd), "index is empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list passages: %w", err)
	}
	if len(passages) == 0 {
		fmt.Fprintln(stdout(cmd), "index is empty")
		return nil
	}

	table := tablewriter.NewWriter(stdout(cmd))
	table.Header("#", "Passage")
	for i, p := range passages {
		table.Append(strconv.Itoa(i+1), preview(p))
	}
	table.Render()
	return nil
}

// indexStats はインデックスの統計情報を表示する
func (a *actions) indexStats(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := a.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	stats, err := appCtx.Container.Index.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get index stats: %w", err)
	}

	model := stats.Model
	if model == "" {
		model = "-"
	}
	table := tablewriter.NewWriter(stdout(cmd))
	table.Header("Passages", "Model", "Dimension")
	table.Append(strconv.Itoa(stats.Passages), model, strconv.Itoa(stats.Dimension))
	table.Render()
	return nil
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewRunes {
		return s
	}
	return string(r[:previewRunes]) + "..."
}
