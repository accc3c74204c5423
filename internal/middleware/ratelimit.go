package middleware

import (
	"net"
	"net/http"
	"time"

	"github.com/hitoshi/authgate/internal/ratelimit"
)

// KeyFunc はリクエストからレート制限のキーを取り出す。
type KeyFunc func(r *http.Request) string

// ClientIP はリクエスト元のIPアドレスを返す。
// プロキシヘッダーは信頼せず、RemoteAddrのみを使う。
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewRateLimitMiddleware はguardで試行を消費し、拒否された場合に429を返すミドルウェアを返す。
// バックエンド障害時の挙動はguardのFailurePolicyに従う。
func NewRateLimitMiddleware(guard *ratelimit.Guard, key KeyFunc, retryAfter time.Duration) func(next http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !guard.Allow(r.Context(), key(r)) {
				WriteRateLimitResponse(w, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
