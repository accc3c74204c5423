// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/authgate/internal/login"
	"github.com/hitoshi/authgate/internal/ratelimit"
)

const namespace = "authgate"

// Collector は認証まわりのPrometheusメトリクスを収集する。
type Collector struct {
	logins          *prometheus.CounterVec
	oauthCallbacks  *prometheus.CounterVec
	oauthLatency    *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
	limiterFailures *prometheus.CounterVec
	cleanupDeleted  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_total",
			Help:      "ログイン操作の結果別の件数",
		}, []string{"method", "result"}),
		oauthCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_callback_total",
			Help:      "OAuthコールバックのプロバイダー・結果別の件数",
		}, []string{"provider", "result"}),
		oauthLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oauth_callback_duration_seconds",
			Help:      "OAuthコールバック処理時間（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "レート制限で拒否された試行の件数",
		}, []string{"action"}),
		limiterFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limiter_failures_total",
			Help:      "レート制限バックエンドの障害件数",
		}, []string{"action"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deleted_total",
			Help:      "クリーンアップで削除した期限切れレコード数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.logins,
		c.oauthCallbacks,
		c.oauthLatency,
		c.rateLimited,
		c.limiterFailures,
		c.cleanupDeleted,
	)

	return c
}

// RecordLogin はログイン操作の結果を記録する。
func (c *Collector) RecordLogin(method, result string) {
	c.logins.WithLabelValues(method, result).Inc()
}

// RecordOAuthCallback はOAuthコールバックの結果と処理時間を記録する。
func (c *Collector) RecordOAuthCallback(provider, result string, d time.Duration) {
	c.oauthCallbacks.WithLabelValues(provider, result).Inc()
	c.oauthLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(action string) {
	c.rateLimited.WithLabelValues(action).Inc()
}

// RecordLimiterFailure はレート制限バックエンドの障害を記録する。
func (c *Collector) RecordLimiterFailure(action string) {
	c.limiterFailures.WithLabelValues(action).Inc()
}

// RecordCleanup はクリーンアップで削除した件数を記録する。
func (c *Collector) RecordCleanup(kind string, deleted int64) {
	c.cleanupDeleted.WithLabelValues(kind).Add(float64(deleted))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsのみを提供するハンドラーを返す。
// ワーカープロセスなどAPIルーターを持たないプロセスで使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var (
	_ ratelimit.Recorder = (*Collector)(nil)
	_ login.Recorder     = (*Collector)(nil)
)
