package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// keyBucket はキーごとのrate.Limiterと最終アクセス時刻を保持する。
type keyBucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// TokenBucketLimiter はプロセス内でキーごとのトークンバケットを管理する。
// バーストはmaxAttemptsで、windowごとにmaxAttempts個まで補充される。
// 試行を平滑化するだけなので、アカウント単位の試行回数制限には使わない。
// クライアントIP単位のスロットリング向け。
type TokenBucketLimiter struct {
	maxAttempts int
	window      time.Duration

	mu      sync.Mutex
	buckets map[string]*keyBucket

	stopCh   chan struct{}
	stopOnce sync.Once
}

// compile-time interface check
var _ Limiter = (*TokenBucketLimiter)(nil)

// NewTokenBucketLimiter は新しいTokenBucketLimiterを生成する。
func NewTokenBucketLimiter(maxAttempts int, window time.Duration) *TokenBucketLimiter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &TokenBucketLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		buckets:     make(map[string]*keyBucket),
		stopCh:      make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (l *TokenBucketLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// CheckAndConsume はトークンを1つ消費し、消費できた場合にtrueを返す。
func (l *TokenBucketLimiter) CheckAndConsume(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[key]
	if !exists {
		every := rate.Every(l.window / time.Duration(l.maxAttempts))
		b = &keyBucket{limiter: rate.NewLimiter(every, l.maxAttempts)}
		l.buckets[key] = b
	}
	b.lastAccess = time.Now()

	return b.limiter.Allow(), nil
}

// Reset はキーのバケットを削除する。
func (l *TokenBucketLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
	return nil
}

// Window はトークンが1つ補充されるまでの間隔を返す。
func (l *TokenBucketLimiter) Window() time.Duration {
	return l.window / time.Duration(l.maxAttempts)
}

// Len は現在管理されているバケット数を返す。
func (l *TokenBucketLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *TokenBucketLimiter) cleanupLoop() {
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

// cleanup は最終アクセスからウィンドウの2倍を超えたバケットを削除する。
// その時点でバケットは満タンに戻っているため削除しても判定は変わらない。
func (l *TokenBucketLimiter) cleanup(now time.Time) {
	ttl := l.window * 2

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if now.Sub(b.lastAccess) > ttl {
			delete(l.buckets, key)
		}
	}
}
