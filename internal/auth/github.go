package auth

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

const (
	defaultGitHubAuthURL  = "https://github.com/login/oauth/authorize"
	defaultGitHubTokenURL = "https://github.com/login/oauth/access_token"
	defaultGitHubAPIURL   = "https://api.github.com"
	githubProviderName    = "github"
)

// GitHubProvider はGitHub OAuthによる認証を提供する。
// GitHubはPKCEを使わず、メールアドレスの確認状態は/user/emailsから取得する。
type GitHubProvider struct {
	client *oauthClient
	apiURL string
}

// NewGitHubProvider はGitHubProviderを生成する。apiURLが空の場合はapi.github.comを使う。
func NewGitHubProvider(endpoint Endpoint, apiURL string, httpClient *http.Client) *GitHubProvider {
	if endpoint.AuthURL == "" {
		endpoint.AuthURL = defaultGitHubAuthURL
	}
	if endpoint.TokenURL == "" {
		endpoint.TokenURL = defaultGitHubTokenURL
	}
	if len(endpoint.Scopes) == 0 {
		endpoint.Scopes = []string{"user:email"}
	}
	if apiURL == "" {
		apiURL = defaultGitHubAPIURL
	}
	return &GitHubProvider{
		client: &oauthClient{endpoint: endpoint, http: httpClient},
		apiURL: apiURL,
	}
}

// Name はプロバイダー識別子を返す。
func (p *GitHubProvider) Name() string { return githubProviderName }

// RequiresPKCE はfalseを返す。
func (p *GitHubProvider) RequiresPKCE() bool { return false }

// AuthorizationURL はGitHubの認可URLを生成する。
func (p *GitHubProvider) AuthorizationURL(state, _ string) string {
	return p.client.authorizationURL(url.Values{"state": {state}})
}

// ExchangeCode は認可コードをアクセストークンに交換する。
func (p *GitHubProvider) ExchangeCode(ctx context.Context, code, _ string) (string, error) {
	return p.client.exchange(ctx, code, "")
}

type githubUser struct {
	ID              int64   `json:"id"`
	Login           string  `json:"login"`
	Name            string  `json:"name"`
	Email           string  `json:"email"`
	AvatarURL       string  `json:"avatar_url"`
	Bio             *string `json:"bio"`
	HTMLURL         string  `json:"html_url"`
	TwitterUsername *string `json:"twitter_username"`
	Blog            string  `json:"blog"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// FetchProfile は/userと/user/emailsからユーザー情報を取得する。
func (p *GitHubProvider) FetchProfile(ctx context.Context, accessToken string) (*ProviderProfile, error) {
	var u githubUser
	if err := p.client.getJSON(ctx, p.apiURL+"/user", accessToken, &u); err != nil {
		return nil, err
	}

	var emails []githubEmail
	if err := p.client.getJSON(ctx, p.apiURL+"/user/emails", accessToken, &emails); err != nil {
		return nil, err
	}

	profile := &ProviderProfile{
		ProviderUserID: strconv.FormatInt(u.ID, 10),
		Name:           u.Name,
		Email:          u.Email,
		AvatarURL:      u.AvatarURL,
		HTMLURL:        u.HTMLURL,
		Blog:           u.Blog,
	}
	if profile.Name == "" {
		profile.Name = u.Login
	}
	if u.Bio != nil {
		profile.Bio = *u.Bio
	}
	if u.TwitterUsername != nil {
		profile.TwitterUsername = *u.TwitterUsername
	}
	for _, e := range emails {
		profile.Emails = append(profile.Emails, ProviderEmail{
			Email:    e.Email,
			Primary:  e.Primary,
			Verified: e.Verified,
		})
	}

	return profile, nil
}

// compile-time interface check
var _ Provider = (*GitHubProvider)(nil)
