package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// --- モック定義 ---

type mockSessionValidator struct {
	validateFn func(ctx context.Context, id string) (*model.User, *model.Session, bool)
	calls      int
}

func (m *mockSessionValidator) SessionIDFromRequest(r *http.Request) string {
	c, err := r.Cookie("session_id")
	if err != nil {
		return ""
	}
	return c.Value
}

func (m *mockSessionValidator) ValidateSession(ctx context.Context, id string) (*model.User, *model.Session, bool) {
	m.calls++
	if m.validateFn != nil {
		return m.validateFn(ctx, id)
	}
	return nil, nil, false
}

// validatorFor は指定IDのセッションだけを有効とするバリデーターを返す。
func validatorFor(sessionID, userID string) *mockSessionValidator {
	return &mockSessionValidator{
		validateFn: func(ctx context.Context, id string) (*model.User, *model.Session, bool) {
			if id != sessionID {
				return nil, nil, false
			}
			return &model.User{ID: userID},
				&model.Session{ID: id, UserID: userID, ExpiresAt: time.Now().Add(time.Hour)},
				true
		},
	}
}

// --- テスト ---

func TestRequireUserMiddleware_NoUser_Returns401(t *testing.T) {
	handlerCalled := false
	handler := NewRequireUserMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	if handlerCalled {
		t.Error("handler should not be called")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestRequireUserMiddleware_WithUser_PassesThrough(t *testing.T) {
	var captured string
	handler := NewRequireUserMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		captured = user.ID
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req = req.WithContext(ContextWithUser(req.Context(), &model.User{ID: "user-1"}, &model.Session{ID: "s"}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured != "user-1" {
		t.Errorf("user = %q, want %q", captured, "user-1")
	}
}

func TestUserFromContext_Empty(t *testing.T) {
	if _, ok := UserFromContext(context.Background()); ok {
		t.Error("expected no user")
	}
	if _, ok := SessionFromContext(context.Background()); ok {
		t.Error("expected no session")
	}
}

func TestSessionFromContext(t *testing.T) {
	ctx := ContextWithUser(context.Background(), &model.User{ID: "u"}, &model.Session{ID: "sess-1"})
	s, ok := SessionFromContext(ctx)
	if !ok || s.ID != "sess-1" {
		t.Errorf("SessionFromContext = %+v, %v", s, ok)
	}
}
