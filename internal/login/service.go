// Package login はパスワード、マジックリンク、メール確認によるログイン手順を提供する。
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/ratelimit"
	"github.com/hitoshi/authgate/internal/repository"
)

// Outcome はログイン操作の結果の種類を表す。
type Outcome string

const (
	// OutcomeAuthenticated はセッションが発行されたことを表す。
	OutcomeAuthenticated Outcome = "authenticated"
	// OutcomeNeedsEmailVerification はメール確認コードを送信したことを表す。
	OutcomeNeedsEmailVerification Outcome = "needs_email_verification"
	// OutcomeNeedsSecondFactor は二要素認証コードの入力が必要なことを表す。セッションは未発行。
	OutcomeNeedsSecondFactor Outcome = "needs_second_factor"
	// OutcomeCodeSent はマジックリンク用のコードを送信したことを表す。
	OutcomeCodeSent Outcome = "code_sent"
)

// 記録用のログイン方式名。
const (
	MethodPassword    = "password"
	MethodMagicLink   = "magic_link"
	MethodVerifyEmail = "verify_email"
)

// Result はログイン操作の結果。
// RedirectURLはwithoutRedirect指定時は空になる。
type Result struct {
	Outcome     Outcome
	RedirectURL string
	Session     *model.Session
}

// PasswordRequest はパスワードログインの入力値。
type PasswordRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	Code            Code   `json:"code"`
	WithoutRedirect bool   `json:"withoutRedirect"`
}

// MagicLinkRequest はマジックリンクログインの入力値。
type MagicLinkRequest struct {
	Email           string `json:"email"`
	WithoutRedirect bool   `json:"withoutRedirect"`
}

// VerifyEmailRequest はメール確認の入力値。
type VerifyEmailRequest struct {
	Email           string `json:"email"`
	Code            Code   `json:"code"`
	WithoutRedirect bool   `json:"withoutRedirect"`
}

// CredentialVerifier はパスワードとTOTPを検証する。
type CredentialVerifier interface {
	VerifyPassword(user *model.User, password string) (bool, error)
	VerifyTOTP(secretHex, code string) bool
}

// SessionIssuer はセッションを発行する。
type SessionIssuer interface {
	CreateSession(ctx context.Context, userID string) (*model.Session, error)
}

// CodeService はメール確認コードを送信し、照合する。
type CodeService interface {
	SendVerificationCode(ctx context.Context, email, userID string) error
	Verify(ctx context.Context, email, code string) (*model.VerificationCode, error)
}

// Recorder はログイン結果を記録する。metrics.Collectorが実装する。
type Recorder interface {
	RecordLogin(method, result string)
}

// Guards は操作ごとのレート制限。
type Guards struct {
	Login       *ratelimit.Guard
	MagicLink   *ratelimit.Guard
	VerifyEmail *ratelimit.Guard
}

// Paths はリダイレクト先のパス。
type Paths struct {
	Landing     string
	VerifyEmail string
}

// Service はログイン手順を実行する。
type Service struct {
	users    repository.UserRepository
	verifier CredentialVerifier
	sessions SessionIssuer
	codes    CodeService
	guards   Guards
	paths    Paths
	recorder Recorder
}

// NewService は新しいServiceを生成する。recorderはnilでもよい。
func NewService(
	users repository.UserRepository,
	verifier CredentialVerifier,
	sessions SessionIssuer,
	codes CodeService,
	guards Guards,
	paths Paths,
	recorder Recorder,
) *Service {
	if paths.Landing == "" {
		paths.Landing = "/protected"
	}
	if paths.VerifyEmail == "" {
		paths.VerifyEmail = "/auth/verify-email"
	}
	return &Service{
		users:    users,
		verifier: verifier,
		sessions: sessions,
		codes:    codes,
		guards:   guards,
		paths:    paths,
		recorder: recorder,
	}
}

// LoginWithPassword はメールアドレスとパスワード（と二要素認証コード）でログインする。
// 各チェックは以下の順で行い、失敗した時点で打ち切る。
//  1. ユーザー不在 → ErrInvalidCredentials
//  2. パスワード未設定 → ErrNoPasswordSet
//  3. パスワード不一致 → ErrInvalidCredentials
//  4. メール未確認 → 確認コードを送信し OutcomeNeedsEmailVerification
//  5. 二要素認証ありでコードなし → OutcomeNeedsSecondFactor
//  6. 二要素認証ありでコード不一致 → ErrInvalidCode
//  7. セッションを発行して OutcomeAuthenticated
func (s *Service) LoginWithPassword(ctx context.Context, req PasswordRequest) (result *Result, err error) {
	defer func() { s.record(MethodPassword, result, err) }()

	email := normalizeEmail(req.Email)
	if !s.guards.Login.Allow(ctx, email) {
		return nil, model.ErrRateLimited
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		slog.Info("password login rejected", slog.String("reason", "user_not_found"))
		return nil, model.ErrInvalidCredentials
	}
	if req.Password == "" {
		return nil, model.ErrPasswordRequired
	}

	ok, err := s.verifier.VerifyPassword(user, req.Password)
	if err != nil {
		if errors.Is(err, model.ErrNoPasswordSet) {
			slog.Info("password login rejected",
				slog.String("reason", "no_password_set"),
				slog.String("user_id", user.ID),
			)
			return nil, model.ErrNoPasswordSet
		}
		return nil, err
	}
	if !ok {
		slog.Info("password login rejected",
			slog.String("reason", "password_mismatch"),
			slog.String("user_id", user.ID),
		)
		return nil, model.ErrInvalidCredentials
	}

	if !user.EmailVerified {
		if err := s.codes.SendVerificationCode(ctx, user.Email, user.ID); err != nil {
			return nil, err
		}
		return &Result{
			Outcome:     OutcomeNeedsEmailVerification,
			RedirectURL: s.redirect(s.verifyEmailURL(user.Email), req.WithoutRedirect),
		}, nil
	}

	if user.HasTwoFactor() {
		if req.Code == "" {
			return &Result{Outcome: OutcomeNeedsSecondFactor}, nil
		}
		if !s.verifier.VerifyTOTP(user.TwoFactorSecret, string(req.Code)) {
			slog.Info("password login rejected",
				slog.String("reason", "invalid_totp"),
				slog.String("user_id", user.ID),
			)
			return nil, model.ErrInvalidCode
		}
	}

	sess, err := s.sessions.CreateSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	s.guards.Login.Reset(ctx, email)

	return &Result{
		Outcome:     OutcomeAuthenticated,
		RedirectURL: s.redirect(s.paths.Landing, req.WithoutRedirect),
		Session:     sess,
	}, nil
}

// LoginWithMagicLink は登録済みのメールアドレスにログイン用のコードを送信する。
// 未登録のメールアドレスにはErrInvalidCredentialsを返す。
func (s *Service) LoginWithMagicLink(ctx context.Context, req MagicLinkRequest) (result *Result, err error) {
	defer func() { s.record(MethodMagicLink, result, err) }()

	email := normalizeEmail(req.Email)
	if !s.guards.MagicLink.Allow(ctx, email) {
		return nil, model.ErrRateLimited
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		slog.Info("magic link rejected", slog.String("reason", "user_not_found"))
		return nil, model.ErrInvalidCredentials
	}

	if err := s.codes.SendVerificationCode(ctx, user.Email, user.ID); err != nil {
		return nil, err
	}
	return &Result{
		Outcome:     OutcomeCodeSent,
		RedirectURL: s.redirect(s.verifyEmailURL(user.Email), req.WithoutRedirect),
	}, nil
}

// VerifyEmail は確認コードを消費し、メールアドレスを確認済みにしてセッションを発行する。
func (s *Service) VerifyEmail(ctx context.Context, req VerifyEmailRequest) (result *Result, err error) {
	defer func() { s.record(MethodVerifyEmail, result, err) }()

	email := normalizeEmail(req.Email)
	if !s.guards.VerifyEmail.Allow(ctx, email) {
		return nil, model.ErrRateLimited
	}

	record, err := s.codes.Verify(ctx, email, string(req.Code))
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, record.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		slog.Warn("verification code for missing user", slog.String("user_id", record.UserID))
		return nil, model.ErrInvalidCode
	}

	if !user.EmailVerified {
		if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("failed to mark email verified: %w", err)
		}
	}

	sess, err := s.sessions.CreateSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	s.guards.VerifyEmail.Reset(ctx, email)

	return &Result{
		Outcome:     OutcomeAuthenticated,
		RedirectURL: s.redirect(s.paths.Landing, req.WithoutRedirect),
		Session:     sess,
	}, nil
}

func (s *Service) verifyEmailURL(email string) string {
	return s.paths.VerifyEmail + "?email=" + url.QueryEscape(email)
}

func (s *Service) redirect(target string, withoutRedirect bool) string {
	if withoutRedirect {
		return ""
	}
	return target
}

func (s *Service) record(method string, result *Result, err error) {
	if s.recorder == nil {
		return
	}
	switch {
	case err != nil:
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			s.recorder.RecordLogin(method, strings.ToLower(apiErr.Code))
			return
		}
		s.recorder.RecordLogin(method, "error")
	case result != nil:
		s.recorder.RecordLogin(method, string(result.Outcome))
	}
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}
