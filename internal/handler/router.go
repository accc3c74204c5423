package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/ratelimit"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	Sessions          SessionService
	SessionValidator  middleware.SessionValidator
	RouteGuard        middleware.RouteGuardConfig
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig

	// OAuthフロー開始のクライアント単位のレート制限（nilなら制限しない）
	OAuthStartGuard *ratelimit.Guard

	// 認証
	OAuthService     OAuthService
	FlowCookies      FlowCookieCodec
	CallbackRecorder CallbackRecorder
	AuthConfig       AuthHandlerConfig

	// ログイン
	LoginService    LoginService
	LoginRetryAfter LoginRetryAfter

	// 運用
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → RouteGuard
//
// /api 配下の操作にはさらにCSRFミドルウェアを適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewRouteGuard(deps.SessionValidator, deps.RouteGuard))

	authHandler := NewAuthHandler(deps.OAuthService, deps.Sessions, deps.FlowCookies, deps.CallbackRecorder, deps.AuthConfig)
	loginHandler := NewLoginHandler(deps.LoginService, deps.Sessions, deps.LoginRetryAfter)

	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// OAuthフロー
	r.Group(func(r chi.Router) {
		if deps.OAuthStartGuard != nil {
			r.With(middleware.NewRateLimitMiddleware(deps.OAuthStartGuard, middleware.ClientIP, deps.OAuthStartGuard.Window())).
				Get("/login/{provider}", authHandler.Login)
		} else {
			r.Get("/login/{provider}", authHandler.Login)
		}
		r.Get("/login/{provider}/callback", authHandler.Callback)
	})

	r.Route("/api", func(r chi.Router) {
		// トークン発行自体はCSRF検証の対象外
		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

			r.Post("/login", loginHandler.Login)
			r.Post("/login/magic-link", loginHandler.MagicLink)
			r.Post("/verify-email", loginHandler.VerifyEmail)
			r.Post("/logout", authHandler.Logout)

			r.With(middleware.NewRequireUserMiddleware()).Get("/me", authHandler.Me)
		})
	})

	return r
}
