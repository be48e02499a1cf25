// Package summary はテキストを3段階で要約します
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sanseviera/miage-projet-llm/internal/core/llm"
)

// Result は要約結果
type Result struct {
	FullSummary  string   `json:"full_summary"`
	BulletPoints []string `json:"bullet_points"`
	OneLiner     string   `json:"one_liner"`
}

// Service は詳細要約、要点、1文要約の順にLLMを呼び出します
type Service struct {
	llm    llm.Client
	logger *slog.Logger
}

// Option は Service のオプション設定
type Option func(*Service)

// WithLogger はロガーを設定します
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService は新しい Service を作成します
func NewService(client llm.Client, opts ...Option) *Service {
	s := &Service{llm: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize はテキストを要約します
// 改行は空白に置き換え、maxLength が正の場合はその文字数で切り詰めてから要約します
func (s *Service) Summarize(ctx context.Context, text string, maxLength int) (*Result, error) {
	text = Sanitize(text, maxLength)
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	full, err := llm.Complete(ctx, s.llm, fullSummaryPrompt(text))
	if err != nil {
		return nil, fmt.Errorf("failed to generate full summary: %w", err)
	}

	points, err := llm.Complete(ctx, s.llm, bulletPointsPrompt(full))
	if err != nil {
		return nil, fmt.Errorf("failed to extract key points: %w", err)
	}

	oneLiner, err := llm.Complete(ctx, s.llm, oneLinerPrompt(points))
	if err != nil {
		return nil, fmt.Errorf("failed to generate one-liner: %w", err)
	}

	result := &Result{
		FullSummary:  strings.TrimSpace(full),
		BulletPoints: splitLines(points),
		OneLiner:     strings.TrimSpace(oneLiner),
	}
	s.logger.Info("summary generated",
		"inputLength", len([]rune(text)),
		"bulletPoints", len(result.BulletPoints),
	)
	return result, nil
}

// Sanitize は改行を空白に置き換え、前後の空白を除き、maxLength 文字に切り詰めます
func Sanitize(text string, maxLength int) string {
	text = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(text)
	text = strings.TrimSpace(text)
	if maxLength > 0 {
		if runes := []rune(text); len(runes) > maxLength {
			text = string(runes[:maxLength])
		}
	}
	return text
}

func fullSummaryPrompt(text string) string {
	return "Summarize the following text, keeping the important points:\n\n" + text + "\n\nDetailed summary:"
}

func bulletPointsPrompt(summary string) string {
	return "Extract the 3-5 key points of this summary, one per line:\n\n" + summary + "\n\nKey points:"
}

func oneLinerPrompt(points string) string {
	return "Summarize these key points in a single striking sentence:\n\n" + points + "\n\nOne-line synthesis:"
}

func splitLines(s string) []string {
	lines := []string{}
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
