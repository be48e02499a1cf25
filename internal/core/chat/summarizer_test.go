package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanseviera/miage-projet-llm/internal/core/conversation"
	"github.com/sanseviera/miage-projet-llm/internal/core/llm"
	"github.com/sanseviera/miage-projet-llm/internal/core/llm/llmtest"
)

func TestConversationSummarizer(t *testing.T) {
	recorder := llmtest.NewRecorder("  The user greeted the assistant.  ")
	summarizer := NewConversationSummarizer(recorder)

	summary, err := summarizer.Summarize(context.Background(), []conversation.Message{
		conversation.UserMessage("Hello", time.Now()),
		conversation.AssistantMessage("Hi there", time.Now()),
	})
	require.NoError(t, err)
	assert.Equal(t, "The user greeted the assistant.", summary)

	calls := recorder.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 1)
	assert.Equal(t, llm.RoleUser, calls[0][0].Role)
	assert.Equal(t, "Summarize this conversation briefly:\nHello\nHi there", calls[0][0].Content)
}

func TestConversationSummarizer_Errors(t *testing.T) {
	cause := errors.New("llm down")
	summarizer := NewConversationSummarizer(llmtest.Func(func(context.Context, []llm.Message) (string, error) {
		return "", cause
	}))

	_, err := summarizer.Summarize(context.Background(), nil)
	assert.Error(t, err)

	_, err = summarizer.Summarize(context.Background(), []conversation.Message{conversation.UserMessage("x", time.Now())})
	assert.ErrorIs(t, err, cause)
}
