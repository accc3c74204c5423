package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/authgate/internal/model"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	googleProviderName       = "google"
)

// GoogleProvider はGoogle OAuth 2.0（PKCE付き）による認証を提供する。
// userinfoにemail_verifiedが含まれるため、メール一覧の取得は行わない。
type GoogleProvider struct {
	client      *oauthClient
	userInfoURL string
}

// NewGoogleProvider はGoogleProviderを生成する。
func NewGoogleProvider(endpoint Endpoint, userInfoURL string, httpClient *http.Client) *GoogleProvider {
	if endpoint.AuthURL == "" {
		endpoint.AuthURL = defaultGoogleAuthURL
	}
	if endpoint.TokenURL == "" {
		endpoint.TokenURL = defaultGoogleTokenURL
	}
	if len(endpoint.Scopes) == 0 {
		endpoint.Scopes = []string{"openid", "email", "profile"}
	}
	if userInfoURL == "" {
		userInfoURL = defaultGoogleUserInfoURL
	}
	return &GoogleProvider{
		client:      &oauthClient{endpoint: endpoint, http: httpClient},
		userInfoURL: userInfoURL,
	}
}

// Name はプロバイダー識別子を返す。
func (p *GoogleProvider) Name() string { return googleProviderName }

// RequiresPKCE はtrueを返す。
func (p *GoogleProvider) RequiresPKCE() bool { return true }

// AuthorizationURL はS256のcode_challengeを含む認可URLを生成する。
func (p *GoogleProvider) AuthorizationURL(state, codeVerifier string) string {
	return p.client.authorizationURL(url.Values{
		"state":                 {state},
		"code_challenge":        {ComputeS256Challenge(codeVerifier)},
		"code_challenge_method": {"S256"},
	})
}

// ExchangeCode はcode_verifierを添えて認可コードをアクセストークンに交換する。
func (p *GoogleProvider) ExchangeCode(ctx context.Context, code, codeVerifier string) (string, error) {
	return p.client.exchange(ctx, code, codeVerifier)
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Picture       string `json:"picture"`
}

// FetchProfile はuserinfoエンドポイントからユーザー情報を取得する。
func (p *GoogleProvider) FetchProfile(ctx context.Context, accessToken string) (*ProviderProfile, error) {
	var info googleUserInfo
	if err := p.client.getJSON(ctx, p.userInfoURL, accessToken, &info); err != nil {
		return nil, err
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("%w: empty sub in user info response", model.ErrProviderUnavailable)
	}

	profile := &ProviderProfile{
		ProviderUserID: info.Sub,
		Name:           info.Name,
		Email:          info.Email,
		AvatarURL:      info.Picture,
	}
	if info.Email != "" {
		profile.Emails = []ProviderEmail{{Email: info.Email, Primary: true, Verified: info.EmailVerified}}
	}
	return profile, nil
}

// compile-time interface check
var _ Provider = (*GoogleProvider)(nil)
