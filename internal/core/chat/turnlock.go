package chat

import (
	"context"
	"sync"
)

// turnLocks はセッションIDごとに同時に1ターンだけを通す
// 待機者がいなくなったエントリは削除する
type turnLocks struct {
	mu    sync.Mutex
	locks map[string]*turnLock
}

type turnLock struct {
	sem  chan struct{}
	refs int
}

func newTurnLocks() *turnLocks {
	return &turnLocks{locks: make(map[string]*turnLock)}
}

// acquire はロックを取得し、解放関数を返す。ctx が先に終了した場合はエラー
func (l *turnLocks) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	tl, ok := l.locks[key]
	if !ok {
		tl = &turnLock{sem: make(chan struct{}, 1)}
		l.locks[key] = tl
	}
	tl.refs++
	l.mu.Unlock()

	select {
	case tl.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-tl.sem
				l.unref(key, tl)
			})
		}, nil
	case <-ctx.Done():
		l.unref(key, tl)
		return nil, ctx.Err()
	}
}

func (l *turnLocks) unref(key string, tl *turnLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tl.refs--
	if tl.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *turnLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
