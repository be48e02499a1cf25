// Package session はプロセス内のセッションメモリを提供します
//
// 各セッションは直近のメッセージを上限付きで保持し、一定時間操作がなければ
// CleanupInactive で破棄されます。永続的な会話履歴は conversation パッケージが扱います。
package session

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/samber/mo"

	"github.com/sanseviera/miage-projet-llm/internal/core/conversation"
)

// Observer はセッションの破棄を受け取ります（メトリクス用）
type Observer interface {
	ObserveSessionsEvicted(n int)
}

type entry struct {
	mu       sync.Mutex
	messages []conversation.Message
	meta     Metadata
	epoch    uint64 // Clear と破棄のたびに進む。古い要約結果の適用を防ぐ
	evicted  bool
}

func newEntry(now time.Time) *entry {
	return &entry{
		meta: Metadata{CreatedAt: now, LastActivity: now, Tags: []string{}},
	}
}

// Store はセッションIDごとのメモリを管理します
//
// レジストリは RWMutex、各セッションは個別の Mutex で保護します。
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	cfg      Config
	clock    func() time.Time
	logger   *slog.Logger
	queue    *SummaryQueue
	observer Observer

	summarizer   Summarizer
	queueOptions []QueueOption
}

// Option は Store のオプション設定
type Option func(*Store)

// WithClock は現在時刻の取得関数を差し替えます
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger はロガーを設定します
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSummarizer は要約の再生成に使う Summarizer を設定します
func WithSummarizer(summarizer Summarizer, opts ...QueueOption) Option {
	return func(s *Store) {
		s.summarizer = summarizer
		s.queueOptions = opts
	}
}

// WithObserver はセッション破棄の通知先を設定します
func WithObserver(o Observer) Option {
	return func(s *Store) {
		s.observer = o
	}
}

// NewStore は新しい Store を作成します
func NewStore(cfg Config, opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		cfg:     cfg.withDefaults(),
		clock:   time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.summarizer != nil && s.cfg.SummaryEvery > 0 {
		qopts := append([]QueueOption{WithQueueLogger(s.logger)}, s.queueOptions...)
		s.queue = NewSummaryQueue(s.summarizer, s.applySummary, qopts...)
	}
	return s
}


// lock はセッションを探してロックした状態で返します
// create が false でセッションが存在しない場合は nil を返します
func (s *Store) lock(id string, create bool) *entry {
	for {
		s.mu.RLock()
		e := s.entries[id]
		s.mu.RUnlock()

		if e == nil {
			if !create {
				return nil
			}
			s.mu.Lock()
			e = s.entries[id]
			if e == nil {
				e = newEntry(s.clock())
				s.entries[id] = e
				s.logger.Debug("session created", "sessionID", id)
			}
			s.mu.Unlock()
		}

		e.mu.Lock()
		if !e.evicted {
			return e
		}
		// 取得からロックまでの間に破棄された
		e.mu.Unlock()
	}
}

func (e *entry) snapshot(id string) Snapshot {
	return Snapshot{
		SessionID: id,
		Messages:  slices.Clone(e.messages),
		Metadata:  e.meta.clone(),
	}
}

// GetOrCreate はセッションを返します。存在しなければ空のセッションを作成します
func (s *Store) GetOrCreate(id string) Snapshot {
	e := s.lock(id, true)
	defer e.mu.Unlock()
	return e.snapshot(id)
}

// Get はセッションを返します。存在しなければ false
func (s *Store) Get(id string) (Snapshot, bool) {
	e := s.lock(id, false)
	if e == nil {
		return Snapshot{}, false
	}
	defer e.mu.Unlock()
	return e.snapshot(id), true
}

// Append はメッセージを追加します
//
// 上限を超えた古いメッセージは捨てられます。MessageCount が SummaryEvery の倍数をまたいだ場合は
// 直近のメッセージから要約の再生成をキューに入れます。
func (s *Store) Append(id string, messages ...conversation.Message) {
	if len(messages) == 0 {
		return
	}

	e := s.lock(id, true)

	prev := e.meta.MessageCount
	e.messages = append(e.messages, messages...)
	if over := len(e.messages) - s.cfg.MaxMessages; over > 0 {
		e.messages = slices.Clone(e.messages[over:])
	}
	e.meta.MessageCount += len(messages)
	e.meta.LastActivity = s.clock()

	var job *SummaryJob
	if every := s.cfg.SummaryEvery; s.queue != nil && every > 0 && prev/every != e.meta.MessageCount/every {
		window := e.messages[max(0, len(e.messages)-s.cfg.SummaryWindow):]
		job = &SummaryJob{SessionID: id, Epoch: e.epoch, Messages: slices.Clone(window)}
	}
	e.mu.Unlock()

	if job != nil {
		s.queue.Enqueue(*job)
	}
}

// AddTag はタグを追加します。既に付いているタグは無視します
func (s *Store) AddTag(id, tag string) {
	e := s.lock(id, true)
	defer e.mu.Unlock()

	e.meta.LastActivity = s.clock()
	if !slices.Contains(e.meta.Tags, tag) {
		e.meta.Tags = append(e.meta.Tags, tag)
	}
}

// IsActive は最終アクティビティからタイムアウト未満であれば true を返します
// 存在しないセッションは false です
func (s *Store) IsActive(id string) bool {
	e := s.lock(id, false)
	if e == nil {
		return false
	}
	defer e.mu.Unlock()
	return s.clock().Sub(e.meta.LastActivity) < s.cfg.Timeout
}

// Clear はセッションの内容とメタデータを初期化します
func (s *Store) Clear(id string) {
	e := s.lock(id, true)
	defer e.mu.Unlock()

	now := s.clock()
	e.messages = nil
	e.meta = Metadata{CreatedAt: now, LastActivity: now, Tags: []string{}}
	e.epoch++
}

// Delete はセッションを破棄します。存在した場合 true
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.mu.Lock()
	e.evicted = true
	e.epoch++
	e.mu.Unlock()
	delete(s.entries, id)
	return true
}

// CleanupInactive は非アクティブなセッションを破棄し、そのIDを返します
// 判定には呼び出し時点の時刻を1回だけ取得して使います
func (s *Store) CleanupInactive() []string {
	now := s.clock()

	s.mu.Lock()
	var evicted []string
	for id, e := range s.entries {
		e.mu.Lock()
		if now.Sub(e.meta.LastActivity) >= s.cfg.Timeout {
			e.evicted = true
			e.epoch++
			delete(s.entries, id)
			evicted = append(evicted, id)
		}
		e.mu.Unlock()
	}
	s.mu.Unlock()

	sort.Strings(evicted)
	if len(evicted) > 0 {
		s.logger.Info("inactive sessions evicted", "count", len(evicted))
		if s.observer != nil {
			s.observer.ObserveSessionsEvicted(len(evicted))
		}
	}
	return evicted
}

// Metadata はセッションのメタデータを返します。存在しなければ false
func (s *Store) Metadata(id string) (Metadata, bool) {
	snap, ok := s.Get(id)
	if !ok {
		return Metadata{}, false
	}
	return snap.Metadata, true
}

// Sessions はメモリ上のセッションIDを昇順で返します
func (s *Store) Sessions() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// RunJanitor は interval ごとに CleanupInactive を呼び出します。ctx がキャンセルされるまで戻りません
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupInactive()
		}
	}
}

// Close は要約キューを停止し、処理中のジョブの完了を待ちます
func (s *Store) Close() {
	if s.queue != nil {
		s.queue.Close()
	}
}

func (s *Store) applySummary(job SummaryJob, summary string) {
	e := s.lock(job.SessionID, false)
	if e == nil {
		s.logger.Debug("summary discarded for evicted session", "sessionID", job.SessionID)
		return
	}
	defer e.mu.Unlock()

	if e.epoch != job.Epoch {
		s.logger.Debug("summary discarded for cleared session", "sessionID", job.SessionID)
		return
	}
	e.meta.Summary = mo.Some(summary)
}
