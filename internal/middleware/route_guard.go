package middleware

import (
	"net/http"
	"strings"
)

// RouteClass はパスによるルート分類。
type RouteClass int

const (
	// RouteOther は認証状態によらず通過させるルート。
	RouteOther RouteClass = iota
	// RouteAuth はログイン画面など未認証ユーザー向けのルート。
	RouteAuth
	// RouteProtected は認証済みユーザーのみ閲覧できるルート。
	RouteProtected
)

// String はRouteClassの名前を返す。
func (c RouteClass) String() string {
	switch c {
	case RouteAuth:
		return "auth"
	case RouteProtected:
		return "protected"
	default:
		return "other"
	}
}

// RouteGuardConfig はRouteGuardの設定。
type RouteGuardConfig struct {
	AuthPrefix        string
	ProtectedPrefixes []string
	LoginPath         string
	LandingPath       string
}

// Classify はパスをプレフィックスで分類する。
func (c RouteGuardConfig) Classify(path string) RouteClass {
	if hasPathPrefix(path, c.AuthPrefix) {
		return RouteAuth
	}
	for _, p := range c.ProtectedPrefixes {
		if hasPathPrefix(path, p) {
			return RouteProtected
		}
	}
	return RouteOther
}

// NewRouteGuard はセッションの有無とルート分類に応じてリダイレクトするミドルウェアを返す。
//
//	有効なセッション | 分類      | 動作
//	あり             | auth      | LandingPathへリダイレクト
//	なし             | protected | LoginPathへリダイレクト
//	あり             | protected | 通過
//	なし             | auth      | 通過
//	どちらでも       | other     | 通過
//
// セッションの検証は読み取りのみで、延長や削除は行わない。
// 有効なセッションがある場合はユーザーをコンテキストに注入する。
func NewRouteGuard(validator SessionValidator, config RouteGuardConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			valid := false

			if id := validator.SessionIDFromRequest(r); id != "" {
				if user, s, ok := validator.ValidateSession(ctx, id); ok {
					valid = true
					ctx = ContextWithUser(ctx, user, s)
					setLogUserID(ctx, user.ID)
				}
			}

			switch class := config.Classify(r.URL.Path); {
			case valid && class == RouteAuth:
				http.Redirect(w, r, config.LandingPath, http.StatusFound)
				return
			case !valid && class == RouteProtected:
				http.Redirect(w, r, config.LoginPath, http.StatusFound)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hasPathPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
