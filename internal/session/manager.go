// Package session はセッションの発行・検証・破棄とCookieポリシーを提供する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

// CookiePolicy はセッションCookieの属性を一箇所で定義する。
type CookiePolicy struct {
	Name   string
	Domain string
	Secure bool
}

// Config はセッションマネージャーの設定。
type Config struct {
	MaxAge time.Duration
	Cookie CookiePolicy
}

// Manager はセッションのライフサイクルを管理する。
type Manager struct {
	sessions repository.SessionRepository
	users    repository.UserRepository
	config   Config
	now      func() time.Time
}

// NewManager は新しいManagerを生成する。
func NewManager(sessions repository.SessionRepository, users repository.UserRepository, config Config) *Manager {
	if config.Cookie.Name == "" {
		config.Cookie.Name = "session_id"
	}
	return &Manager{
		sessions: sessions,
		users:    users,
		config:   config,
		now:      time.Now,
	}
}

// CreateSession はユーザーの新しいセッションを発行し永続化する。
func (m *Manager) CreateSession(ctx context.Context, userID string) (*model.Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := m.now()
	s := &model.Session{
		ID:        id,
		UserID:    userID,
		ExpiresAt: now.Add(m.config.MaxAge),
		CreatedAt: now,
	}

	if err := m.sessions.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	slog.Info("session created", slog.String("user_id", userID))
	return s, nil
}

// ValidateSession はセッションIDを検証し、ユーザーとセッションを返す。
// 見つからない、期限切れ、ストレージ障害のいずれも未認証として扱い、okはfalseになる。
func (m *Manager) ValidateSession(ctx context.Context, sessionID string) (user *model.User, s *model.Session, ok bool) {
	if sessionID == "" {
		return nil, nil, false
	}

	s, err := m.sessions.FindByID(ctx, sessionID)
	if err != nil {
		slog.Error("failed to find session", slog.String("error", err.Error()))
		return nil, nil, false
	}
	if s == nil || s.Expired(m.now()) {
		return nil, nil, false
	}

	user, err = m.users.FindByID(ctx, s.UserID)
	if err != nil {
		slog.Error("failed to find session user",
			slog.String("user_id", s.UserID),
			slog.String("error", err.Error()),
		)
		return nil, nil, false
	}
	if user == nil {
		return nil, nil, false
	}

	return user, s, true
}

// InvalidateSession はセッションを破棄する。存在しないIDでもエラーにしない。
func (m *Manager) InvalidateSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := m.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// SessionIDFromRequest はリクエストのCookieからセッションIDを取り出す。
func (m *Manager) SessionIDFromRequest(r *http.Request) string {
	c, err := r.Cookie(m.config.Cookie.Name)
	if err != nil {
		return ""
	}
	return c.Value
}

// Cookie はセッションを運ぶCookieを生成する。
func (m *Manager) Cookie(s *model.Session) *http.Cookie {
	maxAge := int(s.ExpiresAt.Sub(m.now()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	return m.baseCookie(s.ID, maxAge, s.ExpiresAt)
}

// ClearCookie はブラウザからセッションCookieを削除するためのCookieを生成する。
func (m *Manager) ClearCookie() *http.Cookie {
	return m.baseCookie("", -1, time.Unix(0, 0))
}

// baseCookie はセッションCookieの共通属性を設定する。
func (m *Manager) baseCookie(value string, maxAge int, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     m.config.Cookie.Name,
		Value:    value,
		Path:     "/",
		Domain:   m.config.Cookie.Domain,
		MaxAge:   maxAge,
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
