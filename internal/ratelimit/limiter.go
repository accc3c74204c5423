// Package ratelimit は認証試行のレート制限を提供する。
//
// カウンタはキー（アカウントやクライアント単位）ごとに固定ウィンドウで管理する。
// バックエンドはRedis（複数プロセスで共有）またはプロセス内メモリを選択できる。
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrBackendUnavailable はカウンタの保存先に到達できないことを表す。
var ErrBackendUnavailable = errors.New("rate limit backend unavailable")

// Limiter はキーごとの試行回数を数えるカウンタ。
type Limiter interface {
	// CheckAndConsume は試行を1回消費し、上限内であればtrueを返す。
	// 増分はバックエンド側でアトミックに行われる。
	CheckAndConsume(ctx context.Context, key string) (bool, error)
	// Reset はキーのカウンタを破棄する。成功したログイン後に呼ばれる。
	Reset(ctx context.Context, key string) error
}

// windowed はカウンタのウィンドウ長を公開するLimiter。
type windowed interface {
	Window() time.Duration
}

// FailurePolicy はバックエンド障害時にどちらへ倒すかを表す。
type FailurePolicy int

const (
	// FailClosed は障害時に試行を拒否する。悪用されやすい操作向け。
	FailClosed FailurePolicy = iota
	// FailOpen は障害時に試行を許可する。ログイン画面の可用性を優先する場合に使う。
	FailOpen
)

// String はログ出力用の名前を返す。
func (p FailurePolicy) String() string {
	if p == FailOpen {
		return "fail_open"
	}
	return "fail_closed"
}

// Recorder はレート制限の結果を記録する。metrics.Collectorが実装する。
type Recorder interface {
	RecordRateLimited(action string)
	RecordLimiterFailure(action string)
}

// Guard は1つの操作（action）に対するレート制限を表す。
// バックエンド障害時の挙動はPolicyで明示的に決める。
type Guard struct {
	action   string
	limiter  Limiter
	policy   FailurePolicy
	recorder Recorder
}

// NewGuard は新しいGuardを生成する。recorderはnilでもよい。
func NewGuard(action string, limiter Limiter, policy FailurePolicy, recorder Recorder) *Guard {
	return &Guard{
		action:   action,
		limiter:  limiter,
		policy:   policy,
		recorder: recorder,
	}
}

// Action は操作名を返す。
func (g *Guard) Action() string {
	return g.action
}

// Window は拒否された試行が次に受け付けられるまでの最大待ち時間を返す。
// Retry-Afterの値に使う。Limiterがウィンドウを公開しない場合は0。
func (g *Guard) Window() time.Duration {
	if w, ok := g.limiter.(windowed); ok {
		return w.Window()
	}
	return 0
}

// Allow はkeyに対する試行を1回消費し、続行してよいかを返す。
// バックエンド障害はエラーとして返さず、ポリシーに従って判定する。
func (g *Guard) Allow(ctx context.Context, key string) bool {
	ok, err := g.limiter.CheckAndConsume(ctx, g.scopedKey(key))
	if err != nil {
		if g.recorder != nil {
			g.recorder.RecordLimiterFailure(g.action)
		}
		slog.Error("rate limiter unavailable",
			slog.String("action", g.action),
			slog.String("policy", g.policy.String()),
			slog.String("error", err.Error()),
		)
		return g.policy == FailOpen
	}

	if !ok {
		if g.recorder != nil {
			g.recorder.RecordRateLimited(g.action)
		}
		slog.Warn("rate limit exceeded",
			slog.String("action", g.action),
		)
	}
	return ok
}

// Reset はkeyのカウンタを破棄する。失敗はログのみに記録する。
func (g *Guard) Reset(ctx context.Context, key string) {
	if err := g.limiter.Reset(ctx, g.scopedKey(key)); err != nil {
		slog.Warn("failed to reset rate limit counter",
			slog.String("action", g.action),
			slog.String("error", err.Error()),
		)
	}
}

func (g *Guard) scopedKey(key string) string {
	return g.action + ":" + key
}
