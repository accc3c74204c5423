package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/config"
	"github.com/hitoshi/authgate/internal/credential"
	"github.com/hitoshi/authgate/internal/database"
	"github.com/hitoshi/authgate/internal/handler"
	"github.com/hitoshi/authgate/internal/logger"
	"github.com/hitoshi/authgate/internal/login"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/ratelimit"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
	"github.com/hitoshi/authgate/internal/session"
	"github.com/hitoshi/authgate/internal/verification"
	"github.com/hitoshi/authgate/internal/worker/cleanup"
)

const (
	rateLimitKeyPrefix = "authgate:ratelimit"

	// OAuthフロー開始のクライアントIP単位の上限
	oauthStartRateLimit  = 20
	oauthStartRateWindow = time.Minute
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	codeRepo := repository.NewPostgresVerificationCodeRepo(db)

	// 3. メトリクス
	registry := newRegistry()
	collector := metrics.NewCollector(registry)

	// 4. レート制限
	backend, err := newRateLimitBackend(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer backend.Close()

	guards := login.Guards{
		Login:       ratelimit.NewGuard("login", backend.limiter(cfg.LoginRateLimit, cfg.LoginRateWindow), ratelimit.FailOpen, collector),
		MagicLink:   ratelimit.NewGuard("magic_link", backend.limiter(cfg.MagicLinkRateLimit, cfg.MagicLinkRateWindow), ratelimit.FailClosed, collector),
		VerifyEmail: ratelimit.NewGuard("verify_email", backend.limiter(cfg.LoginRateLimit, cfg.LoginRateWindow), ratelimit.FailClosed, collector),
	}
	oauthStartGuard := ratelimit.NewGuard("oauth_start", backend.throttle(oauthStartRateLimit, oauthStartRateWindow), ratelimit.FailOpen, collector)

	// 5. ドメインサービスの初期化
	providers := buildProviders(cfg)
	if len(providers) == 0 {
		slog.Warn("no oauth provider configured")
	}
	authService := auth.NewService(providers, userRepo, identRepo, security.NewProfileSanitizer())

	sessionManager := session.NewManager(sessionRepo, userRepo, session.Config{
		MaxAge: cfg.SessionMaxAge,
		Cookie: session.CookiePolicy{
			Name:   cfg.SessionCookieName,
			Domain: cfg.CookieDomain,
			Secure: cfg.CookieSecure,
		},
	})

	verifier := credential.NewVerifier(credential.NewArgon2Hasher(credential.DefaultArgon2Params()))
	codeService := verification.NewService(codeRepo, verification.NewLogMailer(slog.Default()), cfg.VerificationCodeTTL)

	loginService := login.NewService(userRepo, verifier, sessionManager, codeService, guards, login.Paths{
		Landing: cfg.LandingPath,
	}, collector)

	// 6. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:           slog.Default(),
		Sessions:         sessionManager,
		SessionValidator: sessionManager,
		RouteGuard: middleware.RouteGuardConfig{
			AuthPrefix:        cfg.AuthRoutePrefix,
			ProtectedPrefixes: cfg.ProtectedRoutePrefixes,
			LoginPath:         cfg.LoginPath,
			LandingPath:       cfg.LandingPath,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		OAuthStartGuard: oauthStartGuard,

		OAuthService:     authService,
		FlowCookies:      auth.NewFlowCookieCodec(cfg.SessionSecret, cfg.OAuthStateTTL),
		CallbackRecorder: collector,
		AuthConfig: handler.AuthHandlerConfig{
			CookieSecure:    cfg.CookieSecure,
			SuccessRedirect: "/",
			ProviderTimeout: cfg.ProviderTimeout,
		},

		LoginService: loginService,
		LoginRetryAfter: handler.LoginRetryAfter{
			Password:    guards.Login.Window(),
			MagicLink:   guards.MagicLink.Window(),
			VerifyEmail: guards.VerifyEmail.Window(),
		},

		HealthChecker: db,
		Gatherer:      registry,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Int("providers", len(providers)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れのセッションと確認コードを定期的に削除し、メトリクスを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	registry := newRegistry()
	collector := metrics.NewCollector(registry)

	job := cleanup.NewCleanupJob([]cleanup.Target{
		{Kind: "sessions", Deleter: repository.NewPostgresSessionRepo(db)},
		{Kind: "verification_codes", Deleter: repository.NewPostgresVerificationCodeRepo(db)},
	}, slog.Default(), collector)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.SetupMetricsRoute(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.String("metrics_addr", metricsServer.Addr),
	)

	// メインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.CleanupInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// buildProviders は設定が揃っているOAuthプロバイダーを生成する。
func buildProviders(cfg *config.Config) []auth.Provider {
	client := &http.Client{Timeout: cfg.ProviderTimeout}

	var providers []auth.Provider
	if cfg.GitHubEnabled() {
		providers = append(providers, auth.NewGitHubProvider(auth.Endpoint{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.GitHubRedirectURL,
		}, "", client))
	}
	if cfg.GoogleEnabled() {
		providers = append(providers, auth.NewGoogleProvider(auth.Endpoint{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}, "", client))
	}
	return providers
}

// newRegistry はGoランタイムとプロセスのコレクターを登録したレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// rateLimitBackend はレート制限カウンタの保存先。
// REDIS_URLが設定されていればRedisを共有し、なければプロセス内で数える。
type rateLimitBackend struct {
	redis  *redis.Client
	memory []interface{ Stop() }
}

func newRateLimitBackend(redisURL string) (*rateLimitBackend, error) {
	if redisURL == "" {
		slog.Warn("REDIS_URL is not set; rate limits are kept in process memory")
		return &rateLimitBackend{}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return &rateLimitBackend{redis: redis.NewClient(opts)}, nil
}

func (b *rateLimitBackend) limiter(maxAttempts int, window time.Duration) ratelimit.Limiter {
	if b.redis != nil {
		return ratelimit.NewRedisLimiter(b.redis, rateLimitKeyPrefix, maxAttempts, window)
	}
	l := ratelimit.NewMemoryLimiter(maxAttempts, window)
	b.memory = append(b.memory, l)
	return l
}

// throttle はクライアント単位の流量制限に使うLimiterを返す。
// プロセス内ではトークンバケットで平滑化する。
func (b *rateLimitBackend) throttle(maxAttempts int, window time.Duration) ratelimit.Limiter {
	if b.redis != nil {
		return ratelimit.NewRedisLimiter(b.redis, rateLimitKeyPrefix, maxAttempts, window)
	}
	l := ratelimit.NewTokenBucketLimiter(maxAttempts, window)
	b.memory = append(b.memory, l)
	return l
}

// Close はバックエンドが保持するリソースを解放する。
func (b *rateLimitBackend) Close() error {
	for _, l := range b.memory {
		l.Stop()
	}
	if b.redis != nil {
		return b.redis.Close()
	}
	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
