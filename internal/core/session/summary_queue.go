package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sanseviera/miage-projet-llm/internal/core/conversation"
)

const (
	defaultQueueSize      = 64
	defaultSummaryTimeout = 30 * time.Second
)

// Summarizer は会話の要約を生成します
type Summarizer interface {
	Summarize(ctx context.Context, messages []conversation.Message) (string, error)
}

// SummaryJob は要約の再生成依頼
type SummaryJob struct {
	SessionID string
	Epoch     uint64
	Messages  []conversation.Message
}

// SummaryQueue は要約ジョブをバックグラウンドの単一ワーカーで処理します
//
// キューが満杯の場合、ジョブは破棄されます。要約の失敗はログに残すだけです。
type SummaryQueue struct {
	jobs       chan SummaryJob
	summarizer Summarizer
	apply      func(job SummaryJob, summary string)
	timeout    time.Duration
	logger     *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// QueueOption は SummaryQueue のオプション設定
type QueueOption func(*queueConfig)

type queueConfig struct {
	size    int
	timeout time.Duration
	logger  *slog.Logger
}

// WithQueueSize はキューの容量を設定します
func WithQueueSize(n int) QueueOption {
	return func(c *queueConfig) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithSummaryTimeout は1ジョブあたりのタイムアウトを設定します
func WithSummaryTimeout(d time.Duration) QueueOption {
	return func(c *queueConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithQueueLogger はロガーを設定します
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(c *queueConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewSummaryQueue はキューを作成し、ワーカーを起動します
func NewSummaryQueue(summarizer Summarizer, apply func(SummaryJob, string), opts ...QueueOption) *SummaryQueue {
	cfg := queueConfig{
		size:    defaultQueueSize,
		timeout: defaultSummaryTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	q := &SummaryQueue{
		jobs:       make(chan SummaryJob, cfg.size),
		summarizer: summarizer,
		apply:      apply,
		timeout:    cfg.timeout,
		logger:     cfg.logger,
		done:       make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue はジョブを追加します。キューが満杯か停止済みの場合は false
func (q *SummaryQueue) Enqueue(job SummaryJob) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}
	select {
	case q.jobs <- job:
		return true
	default:
		q.logger.Warn("summary queue full, job dropped", "sessionID", job.SessionID)
		return false
	}
}

// Close は新規ジョブの受付を止め、残りのジョブを処理し終えるまで待ちます
func (q *SummaryQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	<-q.done
}

func (q *SummaryQueue) run() {
	defer close(q.done)

	for job := range q.jobs {
		q.process(job)
	}
}

func (q *SummaryQueue) process(job SummaryJob) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	summary, err := q.summarizer.Summarize(ctx, job.Messages)
	if err != nil {
		q.logger.Warn("failed to update session summary", "sessionID", job.SessionID, "error", err)
		return
	}
	q.apply(job, summary)
	q.logger.Debug("session summary updated", "sessionID", job.SessionID)
}
