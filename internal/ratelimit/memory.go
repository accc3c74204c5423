package ratelimit

import (
	"context"
	"sync"
	"time"
)

// windowCounter はキーごとの固定ウィンドウの試行回数。
type windowCounter struct {
	count       int
	windowStart time.Time
}

// MemoryLimiter はプロセス内でキーごとの固定ウィンドウカウンタを管理する。
// RedisLimiterと同じく、ウィンドウ開始からwindowの間はmaxAttempts回までしか許可しない。
// 単一プロセス構成（REDIS_URL未設定）で使う。
type MemoryLimiter struct {
	maxAttempts int
	window      time.Duration
	now         func() time.Time

	mu       sync.Mutex
	counters map[string]*windowCounter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// compile-time interface check
var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter は新しいMemoryLimiterを生成する。
// バックグラウンドでウィンドウが終了したエントリのクリーンアップを開始する。
func NewMemoryLimiter(maxAttempts int, window time.Duration) *MemoryLimiter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &MemoryLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
		counters:    make(map[string]*windowCounter),
		stopCh:      make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (l *MemoryLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// CheckAndConsume はカウンタを1増やし、ウィンドウ内の上限以下であればtrueを返す。
// メモリ上で完結するためエラーは返さない。
func (l *MemoryLimiter) CheckAndConsume(_ context.Context, key string) (bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	c, exists := l.counters[key]
	if !exists || now.Sub(c.windowStart) >= l.window {
		c = &windowCounter{windowStart: now}
		l.counters[key] = c
	}
	c.count++

	return c.count <= l.maxAttempts, nil
}

// Reset はキーのエントリを削除する。
func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.counters, key)
	l.mu.Unlock()
	return nil
}

// Window はカウンタのウィンドウ長を返す。
func (l *MemoryLimiter) Window() time.Duration {
	return l.window
}

// Len は現在管理されているエントリ数を返す。
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}

func (l *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup(time.Now())
		case <-l.stopCh:
			return
		}
	}
}

// cleanup はウィンドウが終了したエントリを削除する。
// 次の試行で新しいウィンドウが始まるため削除しても判定は変わらない。
func (l *MemoryLimiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.counters {
		if now.Sub(c.windowStart) >= l.window {
			delete(l.counters, key)
		}
	}
}
