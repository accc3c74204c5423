// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/authgate/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userContextKey    = contextKey("user")
	sessionContextKey = contextKey("session")
)

// SessionValidator はセッションの読み取り専用の検証に必要なインターフェース。
// session.Managerが実装する。
type SessionValidator interface {
	SessionIDFromRequest(r *http.Request) string
	ValidateSession(ctx context.Context, sessionID string) (*model.User, *model.Session, bool)
}

// ContextWithUser はコンテキストに認証済みユーザーとセッションを注入する。
func ContextWithUser(ctx context.Context, user *model.User, s *model.Session) context.Context {
	ctx = context.WithValue(ctx, userContextKey, user)
	return context.WithValue(ctx, sessionContextKey, s)
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok && user != nil
}

// SessionFromContext はリクエストコンテキストから検証済みセッションを取得する。
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(*model.Session)
	return s, ok && s != nil
}

// NewRequireUserMiddleware は認証済みユーザーがいないリクエストに401を返すミドルウェアを返す。
// RouteGuardの後に配置する。
func NewRequireUserMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := UserFromContext(r.Context()); !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, errUnauthenticated)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

var errUnauthenticated = &model.APIError{
	Code:     "UNAUTHENTICATED",
	Message:  "ログインが必要です。",
	Category: "auth",
	Action:   "ログインしてから再度お試しください。",
}
