package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sanseviera/miage-projet-llm/internal/core/conversation"
	"github.com/sanseviera/miage-projet-llm/internal/core/llm"
)

func TestFormatContext(t *testing.T) {
	assert.Equal(t, "", FormatContext(nil))
	assert.Equal(t, "- one", FormatContext([]string{"one"}))
	assert.Equal(t, "- one\n\n- two", FormatContext([]string{"one", "two"}))
}

func TestBuildPrompt(t *testing.T) {
	ts := time.Now()
	history := []conversation.Message{
		conversation.UserMessage("q1", ts),
		conversation.AssistantMessage("a1", ts),
	}

	prompt := BuildPrompt("system", []string{"p1", "p2"}, history, "q2")

	assert.Equal(t, []llm.Message{
		{Role: llm.RoleSystem, Content: "system"},
		{Role: llm.RoleSystem, Content: "Context: - p1\n\n- p2"},
		{Role: llm.RoleUser, Content: "q1"},
		{Role: llm.RoleAssistant, Content: "a1"},
		{Role: llm.RoleUser, Content: "q2"},
	}, prompt)
}

func TestBuildPrompt_WithoutContext(t *testing.T) {
	prompt := BuildPrompt("system", nil, nil, "hello")

	assert.Equal(t, []llm.Message{
		{Role: llm.RoleSystem, Content: "system"},
		{Role: llm.RoleUser, Content: "hello"},
	}, prompt)
}
