package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanseviera/miage-projet-llm/internal/core/conversation"
)

type blockingSummarizer struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingSummarizer) Summarize(ctx context.Context, messages []conversation.Message) (string, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return "done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestSummaryQueue_DropsWhenFull(t *testing.T) {
	summarizer := &blockingSummarizer{started: make(chan struct{}, 3), release: make(chan struct{})}
	applied := make(chan string, 3)
	q := NewSummaryQueue(summarizer, func(job SummaryJob, summary string) {
		applied <- job.SessionID
	}, WithQueueSize(1), WithQueueLogger(discardLogger()))

	require.True(t, q.Enqueue(SummaryJob{SessionID: "a"}))
	select {
	case <-summarizer.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not start")
	}

	assert.True(t, q.Enqueue(SummaryJob{SessionID: "b"}))
	assert.False(t, q.Enqueue(SummaryJob{SessionID: "c"}))

	close(summarizer.release)
	q.Close()

	close(applied)
	var got []string
	for id := range applied {
		got = append(got, id)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestSummaryQueue_EnqueueAfterClose(t *testing.T) {
	q := NewSummaryQueue(&recordingSummarizer{}, func(SummaryJob, string) {}, WithQueueLogger(discardLogger()))
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(SummaryJob{SessionID: "a"}))
}

func TestSummaryQueue_Timeout(t *testing.T) {
	summarizer := &blockingSummarizer{started: make(chan struct{}, 1), release: make(chan struct{})}
	applied := false
	q := NewSummaryQueue(summarizer, func(SummaryJob, string) { applied = true },
		WithSummaryTimeout(10*time.Millisecond), WithQueueLogger(discardLogger()))

	require.True(t, q.Enqueue(SummaryJob{SessionID: "a"}))
	q.Close()

	assert.False(t, applied)
}
