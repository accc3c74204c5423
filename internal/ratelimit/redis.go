package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter はRedisのINCRで固定ウィンドウカウンタを実装する。
// 複数プロセスから同じキーを更新してもカウントは失われない。
type RedisLimiter struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int
	window      time.Duration
}

// compile-time interface check
var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter は新しいRedisLimiterを生成する。
func NewRedisLimiter(client redis.UniversalClient, prefix string, maxAttempts int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		redis:       client,
		prefix:      prefix,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

// CheckAndConsume はカウンタを1増やし、上限以下であればtrueを返す。
// INCRとEXPIRE NXを同じトランザクションで送るため、TTLのないキーは次の試行で必ずTTLを得る。
func (l *RedisLimiter) CheckAndConsume(ctx context.Context, key string) (bool, error) {
	k := l.key(key)

	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return incr.Val() <= int64(l.maxAttempts), nil
}

// Reset はキーを削除する。
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Window はカウンタキーのTTLを返す。
func (l *RedisLimiter) Window() time.Duration {
	return l.window
}

func (l *RedisLimiter) key(key string) string {
	return l.prefix + ":" + key
}
