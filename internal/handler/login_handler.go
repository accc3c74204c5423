package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/authgate/internal/login"
	"github.com/hitoshi/authgate/internal/model"
)

// 認証失敗時のメッセージ。失敗理由によらず操作ごとに同じ文言を返す。
const (
	passwordFailureMessage    = "メールアドレスまたはパスワードが正しくありません。"
	magicLinkFailureMessage   = "メールアドレスが正しくありません。"
	verifyEmailFailureMessage = "コードが正しくないか、有効期限が切れています。"
)

// LoginService はログインハンドラーが必要とするサービスインターフェース。
type LoginService interface {
	LoginWithPassword(ctx context.Context, req login.PasswordRequest) (*login.Result, error)
	LoginWithMagicLink(ctx context.Context, req login.MagicLinkRequest) (*login.Result, error)
	VerifyEmail(ctx context.Context, req login.VerifyEmailRequest) (*login.Result, error)
}

// SessionCookieIssuer はセッションCookieを生成する。
type SessionCookieIssuer interface {
	Cookie(s *model.Session) *http.Cookie
}

// LoginRetryAfter はレート制限時にRetry-Afterヘッダーで返す待ち時間。
// 操作ごとに対応するGuardのウィンドウを設定する。
type LoginRetryAfter struct {
	Password    time.Duration
	MagicLink   time.Duration
	VerifyEmail time.Duration
}

// LoginHandler はパスワード、マジックリンク、メール確認のHTTPハンドラー。
type LoginHandler struct {
	service    LoginService
	cookies    SessionCookieIssuer
	retryAfter LoginRetryAfter
}

// NewLoginHandler はLoginHandlerを生成する。
func NewLoginHandler(service LoginService, cookies SessionCookieIssuer, retryAfter LoginRetryAfter) *LoginHandler {
	return &LoginHandler{
		service:    service,
		cookies:    cookies,
		retryAfter: retryAfter,
	}
}

// loginResponse はログイン操作のレスポンス。
type loginResponse struct {
	Outcome     string `json:"outcome"`
	RedirectURL string `json:"redirectUrl,omitempty"`
	IsTwoFactor bool   `json:"isTwoFactor,omitempty"`
}

// Login はパスワードログインを処理する。
// POST /api/login
func (h *LoginHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req login.PasswordRequest
	if !h.decode(w, r, &req, &req.Email) {
		return
	}

	result, err := h.service.LoginWithPassword(r.Context(), req)
	h.respond(w, r, result, err, passwordFailureMessage, h.retryAfter.Password)
}

// MagicLink はマジックリンク（確認コード）の送信を処理する。
// POST /api/login/magic-link
func (h *LoginHandler) MagicLink(w http.ResponseWriter, r *http.Request) {
	var req login.MagicLinkRequest
	if !h.decode(w, r, &req, &req.Email) {
		return
	}

	result, err := h.service.LoginWithMagicLink(r.Context(), req)
	h.respond(w, r, result, err, magicLinkFailureMessage, h.retryAfter.MagicLink)
}

// VerifyEmail はメール確認コードによるログインを処理する。
// POST /api/verify-email
func (h *LoginHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req login.VerifyEmailRequest
	if !h.decode(w, r, &req, &req.Email) {
		return
	}

	result, err := h.service.VerifyEmail(r.Context(), req)
	h.respond(w, r, result, err, verifyEmailFailureMessage, h.retryAfter.VerifyEmail)
}

// decode はボディを読み込み、メールアドレスが空でないことを確認する。
// 失敗時は400を書き込みfalseを返す。
func (h *LoginHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}, email *string) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		handleServiceError(w, r, errInvalidRequest, "", 0)
		return false
	}
	*email = strings.TrimSpace(*email)
	if *email == "" {
		handleServiceError(w, r, &model.APIError{
			Code:     errCodeInvalidRequest,
			Message:  "メールアドレスを入力してください。",
			Category: "validation",
			Action:   "メールアドレスを入力して再度お試しください。",
		}, "", 0)
		return false
	}
	return true
}

func (h *LoginHandler) respond(w http.ResponseWriter, r *http.Request, result *login.Result, err error, failureMessage string, retryAfter time.Duration) {
	if err != nil {
		handleServiceError(w, r, err, failureMessage, retryAfter)
		return
	}

	if result.Session != nil {
		http.SetCookie(w, h.cookies.Cookie(result.Session))
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Outcome:     string(result.Outcome),
		RedirectURL: result.RedirectURL,
		IsTwoFactor: result.Outcome == login.OutcomeNeedsSecondFactor,
	})
}
