package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// fakeGitHub はGitHubのトークン・API エンドポイントを模したテストサーバー。
type fakeGitHub struct {
	tokenStatus int
	tokenBody   string
	userBody    string
	emailsBody  string
	lastForm    url.Values
}

func (f *fakeGitHub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.lastForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		if f.tokenStatus != 0 {
			w.WriteHeader(f.tokenStatus)
		}
		w.Write([]byte(f.tokenBody))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(f.userBody))
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(f.emailsBody))
	})
	return mux
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		tokenBody: `{"access_token":"gh-token","token_type":"bearer"}`,
		userBody: `{"id":4242,"login":"octo","name":"Octo Cat","email":null,"avatar_url":"https://avatars.example.com/4242",
			"bio":"hello","html_url":"https://github.com/octo","twitter_username":"octo_tw","blog":"https://octo.dev"}`,
		emailsBody: `[{"email":"other@example.com","primary":false,"verified":true},
			{"email":"octo@example.com","primary":true,"verified":true}]`,
	}
}

func newTestGitHubProvider(serverURL string, timeout time.Duration) *GitHubProvider {
	return NewGitHubProvider(Endpoint{
		ClientID:     "gh-client",
		ClientSecret: "gh-secret",
		RedirectURL:  "http://localhost:8080/login/github/callback",
		AuthURL:      serverURL + "/login/oauth/authorize",
		TokenURL:     serverURL + "/login/oauth/access_token",
	}, serverURL, &http.Client{Timeout: timeout})
}

func TestGitHubProvider_AuthorizationURL(t *testing.T) {
	p := newTestGitHubProvider("https://gh.example.com", time.Second)

	u, err := url.Parse(p.AuthorizationURL("state-1", ""))
	if err != nil {
		t.Fatalf("invalid URL: %v", err)
	}
	q := u.Query()
	if q.Get("state") != "state-1" || q.Get("client_id") != "gh-client" || q.Get("scope") != "user:email" {
		t.Errorf("unexpected query: %v", q)
	}
	if q.Get("code_challenge") != "" {
		t.Error("GitHub flow should not include a PKCE challenge")
	}
}

func TestGitHubProvider_ExchangeAndFetchProfile(t *testing.T) {
	fake := newFakeGitHub()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()
	p := newTestGitHubProvider(srv.URL, time.Second)

	token, err := p.ExchangeCode(context.Background(), "code-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "gh-token" {
		t.Errorf("token = %q, want %q", token, "gh-token")
	}
	if fake.lastForm.Get("code") != "code-1" || fake.lastForm.Get("client_secret") != "gh-secret" {
		t.Errorf("unexpected token form: %v", fake.lastForm)
	}
	if fake.lastForm.Get("code_verifier") != "" {
		t.Error("code_verifier should not be sent to GitHub")
	}

	profile, err := p.FetchProfile(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.ProviderUserID != "4242" {
		t.Errorf("ProviderUserID = %q, want %q", profile.ProviderUserID, "4242")
	}
	if profile.Name != "Octo Cat" || profile.Bio != "hello" || profile.TwitterUsername != "octo_tw" || profile.Blog != "https://octo.dev" {
		t.Errorf("unexpected profile: %+v", profile)
	}
	email, err := profile.PrimaryEmail()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if email != "octo@example.com" {
		t.Errorf("primary email = %q, want %q", email, "octo@example.com")
	}
}

func TestGitHubProvider_ExchangeErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"rejected with 401", http.StatusUnauthorized, `{"error":"bad"}`, model.ErrInvalidAuthorizationCode},
		{"error field with 200", 0, `{"error":"bad_verification_code"}`, model.ErrInvalidAuthorizationCode},
		{"server error", http.StatusBadGateway, `oops`, model.ErrProviderUnavailable},
		{"malformed json", 0, `{not json`, model.ErrProviderUnavailable},
		{"empty token", 0, `{"access_token":""}`, model.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeGitHub()
			fake.tokenStatus = tt.status
			fake.tokenBody = tt.body
			srv := httptest.NewServer(fake.handler())
			defer srv.Close()

			_, err := newTestGitHubProvider(srv.URL, time.Second).ExchangeCode(context.Background(), "code", "")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGitHubProvider_Timeout_IsProviderUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := newTestGitHubProvider(srv.URL, 20*time.Millisecond).ExchangeCode(context.Background(), "code", "")
	if !errors.Is(err, model.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestGitHubProvider_EmailsEndpointFailure(t *testing.T) {
	fake := newFakeGitHub()
	fake.emailsBody = `not json`
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	_, err := newTestGitHubProvider(srv.URL, time.Second).FetchProfile(context.Background(), "gh-token")
	if !errors.Is(err, model.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestGoogleProvider_PKCE(t *testing.T) {
	var gotVerifier string
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotVerifier = r.PostForm.Get("code_verifier")
		json.NewEncoder(w).Encode(map[string]string{"access_token": "g-token"})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sub":"g-1","name":"G User","email":"g@example.com","email_verified":false,"picture":"https://img.example.com/g"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewGoogleProvider(Endpoint{
		ClientID:    "g-client",
		RedirectURL: "http://localhost:8080/login/google/callback",
		AuthURL:     srv.URL + "/auth",
		TokenURL:    srv.URL + "/token",
	}, srv.URL+"/userinfo", &http.Client{Timeout: time.Second})

	if !p.RequiresPKCE() {
		t.Fatal("Google should require PKCE")
	}

	authURL := p.AuthorizationURL("st", "verifier-123")
	if !strings.Contains(authURL, "code_challenge="+ComputeS256Challenge("verifier-123")) ||
		!strings.Contains(authURL, "code_challenge_method=S256") {
		t.Errorf("authorization URL missing PKCE params: %s", authURL)
	}

	token, err := p.ExchangeCode(context.Background(), "code", "verifier-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotVerifier != "verifier-123" {
		t.Errorf("code_verifier = %q, want %q", gotVerifier, "verifier-123")
	}

	profile, err := p.FetchProfile(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := profile.PrimaryEmail(); !errors.Is(err, model.ErrUnverifiedEmail) {
		t.Errorf("expected ErrUnverifiedEmail, got %v", err)
	}
}

func TestProviderProfile_PrimaryEmail(t *testing.T) {
	tests := []struct {
		name    string
		emails  []ProviderEmail
		want    string
		wantErr error
	}{
		{"no emails", nil, "", model.ErrNoPrimaryEmail},
		{"no primary", []ProviderEmail{{Email: "a@example.com", Verified: true}}, "", model.ErrNoPrimaryEmail},
		{"primary unverified", []ProviderEmail{{Email: "a@example.com", Primary: true}}, "", model.ErrUnverifiedEmail},
		{"primary verified", []ProviderEmail{
			{Email: "b@example.com", Verified: true},
			{Email: "a@example.com", Primary: true, Verified: true},
		}, "a@example.com", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &ProviderProfile{Emails: tt.emails}
			got, err := p.PrimaryEmail()
			if !errors.Is(err, tt.wantErr) && !(err == nil && tt.wantErr == nil) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("email = %q, want %q", got, tt.want)
			}
		})
	}
}
