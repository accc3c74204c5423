// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

const (
	oauthStateCookie        = "oauth_state"
	oauthCodeVerifierCookie = "oauth_code_verifier"
)

// OAuthService はOAuthハンドラーが必要とするサービスインターフェース。
type OAuthService interface {
	BeginAuthorization(providerName string) (string, *model.OAuthFlowState, error)
	CompleteAuthorization(ctx context.Context, providerName, code, returnedState string, stored *model.OAuthFlowState) (*auth.LinkResult, error)
}

// SessionService はセッションの発行・破棄とCookieの生成を行う。session.Managerが実装する。
type SessionService interface {
	CreateSession(ctx context.Context, userID string) (*model.Session, error)
	InvalidateSession(ctx context.Context, sessionID string) error
	SessionIDFromRequest(r *http.Request) string
	Cookie(s *model.Session) *http.Cookie
	ClearCookie() *http.Cookie
}

// FlowCookieCodec はOAuthフロー状態のCookie値を署名・検証する。
type FlowCookieCodec interface {
	Encode(provider, value string) (string, error)
	Decode(provider, token string) (string, error)
	TTL() time.Duration
}

// CallbackRecorder はOAuthコールバックの結果を記録する。metrics.Collectorが実装する。
type CallbackRecorder interface {
	RecordOAuthCallback(provider, result string, d time.Duration)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure    bool
	SuccessRedirect string        // ログイン成功後のリダイレクト先
	ProviderTimeout time.Duration // コールバック処理全体のタイムアウト
}

// AuthHandler はOAuthログインとセッション関連のHTTPハンドラー。
type AuthHandler struct {
	oauth    OAuthService
	sessions SessionService
	codec    FlowCookieCodec
	recorder CallbackRecorder
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。recorderはnilでもよい。
func NewAuthHandler(oauth OAuthService, sessions SessionService, codec FlowCookieCodec, recorder CallbackRecorder, config AuthHandlerConfig) *AuthHandler {
	if config.SuccessRedirect == "" {
		config.SuccessRedirect = "/"
	}
	return &AuthHandler{
		oauth:    oauth,
		sessions: sessions,
		codec:    codec,
		recorder: recorder,
		config:   config,
	}
}

// Login はOAuthフローを開始する。
// GET /login/{provider}
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	authURL, flow, err := h.oauth.BeginAuthorization(provider)
	if err != nil {
		handleServiceError(w, r, err, "", 0)
		return
	}

	if err := h.setFlowCookie(w, oauthStateCookie, provider, flow.State); err != nil {
		slog.Error("failed to encode oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if flow.CodeVerifier != "" {
		if err := h.setFlowCookie(w, oauthCodeVerifierCookie, provider, flow.CodeVerifier); err != nil {
			slog.Error("failed to encode code verifier", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
			return
		}
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback はOAuthコールバックを処理する。
// GET /login/{provider}/callback?code=xxx&state=yyy
// フロー状態のCookieは成否にかかわらず破棄する。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	provider := chi.URLParam(r, "provider")
	query := r.URL.Query()

	stored := h.readFlowState(r, provider)
	h.clearFlowCookies(w)

	ctx := r.Context()
	if h.config.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.ProviderTimeout)
		defer cancel()
	}

	result, err := h.oauth.CompleteAuthorization(ctx, provider, query.Get("code"), query.Get("state"), stored)
	if err != nil {
		h.record(provider, errorLabel(err), start)
		slog.Warn("oauth callback failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		handleServiceError(w, r, err, "", 0)
		return
	}

	sess, err := h.sessions.CreateSession(r.Context(), result.UserID)
	if err != nil {
		h.record(provider, "error", start)
		handleServiceError(w, r, err, "", 0)
		return
	}
	h.record(provider, string(result.Branch), start)

	slog.Info("oauth login succeeded",
		slog.String("provider", provider),
		slog.String("branch", string(result.Branch)),
		slog.String("user_id", result.UserID),
	)

	http.SetCookie(w, h.sessions.Cookie(sess))
	http.Redirect(w, r, h.config.SuccessRedirect, http.StatusFound)
}

// Logout はセッションを破棄し、セッションCookieを削除する。
// POST /api/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if id := h.sessions.SessionIDFromRequest(r); id != "" {
		if err := h.sessions.InvalidateSession(r.Context(), id); err != nil {
			// 失敗してもCookieは削除する
			slog.Error("failed to invalidate session", slog.String("error", err.Error()))
		}
	}

	http.SetCookie(w, h.sessions.ClearCookie())
	w.WriteHeader(http.StatusNoContent)
}

// userResponse はログインユーザー情報のレスポンス。
type userResponse struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Name             string `json:"name"`
	Image            string `json:"image,omitempty"`
	Bio              string `json:"bio,omitempty"`
	GitHubLink       string `json:"githubLink,omitempty"`
	TwitterLink      string `json:"twitterLink,omitempty"`
	WebsiteLink      string `json:"websiteLink,omitempty"`
	EmailVerified    bool   `json:"emailVerified"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
}

// Me は現在のログインユーザー情報を返す。
// GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}

	writeJSON(w, http.StatusOK, userResponse{
		ID:               user.ID,
		Email:            user.Email,
		Name:             user.Name,
		Image:            user.Image,
		Bio:              user.Bio,
		GitHubLink:       user.GitHubLink,
		TwitterLink:      user.TwitterLink,
		WebsiteLink:      user.WebsiteLink,
		EmailVerified:    user.EmailVerified,
		TwoFactorEnabled: user.HasTwoFactor(),
	})
}

func (h *AuthHandler) setFlowCookie(w http.ResponseWriter, name, provider, value string) error {
	token, err := h.codec.Encode(provider, value)
	if err != nil {
		return err
	}
	http.SetCookie(w, h.flowCookie(name, token, int(h.codec.TTL().Seconds())))
	return nil
}

// readFlowState はCookieからフロー状態を復元する。stateが読めない場合はnilを返す。
func (h *AuthHandler) readFlowState(r *http.Request, provider string) *model.OAuthFlowState {
	c, err := r.Cookie(oauthStateCookie)
	if err != nil {
		return nil
	}
	state, err := h.codec.Decode(provider, c.Value)
	if err != nil {
		slog.Warn("invalid oauth state cookie",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		return nil
	}

	flow := &model.OAuthFlowState{State: state}
	if c, err := r.Cookie(oauthCodeVerifierCookie); err == nil {
		if verifier, err := h.codec.Decode(provider, c.Value); err == nil {
			flow.CodeVerifier = verifier
		}
	}
	return flow
}

func (h *AuthHandler) clearFlowCookies(w http.ResponseWriter) {
	http.SetCookie(w, h.flowCookie(oauthStateCookie, "", -1))
	http.SetCookie(w, h.flowCookie(oauthCodeVerifierCookie, "", -1))
}

func (h *AuthHandler) flowCookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *AuthHandler) record(provider, result string, start time.Time) {
	if h.recorder != nil {
		h.recorder.RecordOAuthCallback(provider, result, time.Since(start))
	}
}

// errorLabel はメトリクス用にエラー種別を返す。
func errorLabel(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return strings.ToLower(apiErr.Code)
	}
	return "error"
}
