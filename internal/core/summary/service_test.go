package summary

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanseviera/miage-projet-llm/internal/core/llm"
	"github.com/sanseviera/miage-projet-llm/internal/core/llm/llmtest"
)

func newTestService(client llm.Client) *Service {
	return NewService(client, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a b c", Sanitize("a\nb\r\nc", 0))
	assert.Equal(t, "日本", Sanitize("  日本語  ", 2))
	assert.Equal(t, "abc", Sanitize("abc", 10))
}

func TestService_Summarize(t *testing.T) {
	step := 0
	recorder := &llmtest.Recorder{Reply: func(ctx context.Context, messages []llm.Message) (string, error) {
		step++
		switch step {
		case 1:
			return "A detailed summary.", nil
		case 2:
			return "- point one\n\n- point two\n- point three\n", nil
		default:
			return "  Everything in one line.  ", nil
		}
	}}
	svc := newTestService(recorder)

	result, err := svc.Summarize(context.Background(), "Line one.\nLine two.", 0)
	require.NoError(t, err)
	assert.Equal(t, "A detailed summary.", result.FullSummary)
	assert.Equal(t, []string{"- point one", "- point two", "- point three"}, result.BulletPoints)
	assert.Equal(t, "Everything in one line.", result.OneLiner)

	calls := recorder.Calls()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[0][0].Content, "Line one. Line two.")
	assert.Contains(t, calls[1][0].Content, "A detailed summary.")
	assert.Contains(t, calls[2][0].Content, "- point two")
}

func TestService_SummarizeTruncatesInput(t *testing.T) {
	recorder := llmtest.NewRecorder("ok")
	svc := newTestService(recorder)

	_, err := svc.Summarize(context.Background(), strings.Repeat("x", 100), 10)
	require.NoError(t, err)

	first := recorder.Calls()[0][0].Content
	assert.Contains(t, first, strings.Repeat("x", 10))
	assert.NotContains(t, first, strings.Repeat("x", 11))
}

func TestService_SummarizeErrors(t *testing.T) {
	svc := newTestService(llmtest.NewRecorder("unused"))
	_, err := svc.Summarize(context.Background(), "   ", 0)
	assert.Error(t, err)

	cause := errors.New("rate limited")
	failing := newTestService(llmtest.Func(func(context.Context, []llm.Message) (string, error) {
		return "", cause
	}))
	_, err = failing.Summarize(context.Background(), "text", 0)
	assert.ErrorIs(t, err, cause)
}
