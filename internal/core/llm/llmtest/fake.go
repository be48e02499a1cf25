// Package llmtest はテスト用のLLMクライアント実装を提供する
package llmtest

import (
	"context"
	"sync"

	"github.com/sanseviera/miage-projet-llm/internal/core/llm"
)

// Func は関数を llm.Client として扱うアダプタ
type Func func(ctx context.Context, messages []llm.Message) (string, error)

// Chat は関数を呼び出す
func (f Func) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return f(ctx, messages)
}

// Recorder は呼び出し内容を記録するクライアント
type Recorder struct {
	mu    sync.Mutex
	calls [][]llm.Message
	Reply Func
}

// NewRecorder は固定応答を返す Recorder を作成する
func NewRecorder(reply string) *Recorder {
	return &Recorder{
		Reply: func(context.Context, []llm.Message) (string, error) {
			return reply, nil
		},
	}
}

// Chat は呼び出しを記録してから Reply を実行する
func (r *Recorder) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	r.mu.Lock()
	copied := make([]llm.Message, len(messages))
	copy(copied, messages)
	r.calls = append(r.calls, copied)
	r.mu.Unlock()

	return r.Reply(ctx, messages)
}

// Calls は記録済みの呼び出しを返す
func (r *Recorder) Calls() [][]llm.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]llm.Message, len(r.calls))
	copy(out, r.calls)
	return out
}

// LastCall は最後の呼び出しを返す。呼び出しがなければ nil
func (r *Recorder) LastCall() []llm.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}
