package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/authgate/internal/model"
)

// maxProviderResponseSize はプロバイダーのレスポンスボディの上限（1MB）。
const maxProviderResponseSize = 1 << 20

// ProviderEmail はプロバイダーに登録されたメールアドレスを表す。
type ProviderEmail struct {
	Email    string
	Primary  bool
	Verified bool
}

// ProviderProfile はプロバイダーから取得したユーザー情報を表す。
// Emailsにはプライマリ判定に必要なメールアドレス一覧が入る。
type ProviderProfile struct {
	ProviderUserID  string
	Name            string
	Email           string // プロフィール上の公開メールアドレス。空の場合がある
	AvatarURL       string
	Bio             string
	HTMLURL         string
	TwitterUsername string
	Blog            string
	Emails          []ProviderEmail
}

// PrimaryEmail はプライマリかつ確認済みのメールアドレスを返す。
// プライマリがない場合はErrNoPrimaryEmail、未確認の場合はErrUnverifiedEmailを返す。
func (p *ProviderProfile) PrimaryEmail() (string, error) {
	for _, e := range p.Emails {
		if !e.Primary {
			continue
		}
		if !e.Verified {
			return "", model.ErrUnverifiedEmail
		}
		return e.Email, nil
	}
	return "", model.ErrNoPrimaryEmail
}

// Provider はOAuth 2.0認可コードフローのプロバイダー。
type Provider interface {
	// Name はプロバイダー識別子（"github", "google"）を返す。
	Name() string
	// RequiresPKCE はPKCEのcode_verifierが必要かを返す。
	RequiresPKCE() bool
	// AuthorizationURL はブラウザをリダイレクトする認可URLを生成する。
	AuthorizationURL(state, codeVerifier string) string
	// ExchangeCode は認可コードをアクセストークンに交換する。
	ExchangeCode(ctx context.Context, code, codeVerifier string) (string, error)
	// FetchProfile はアクセストークンでユーザー情報を取得する。
	FetchProfile(ctx context.Context, accessToken string) (*ProviderProfile, error)
}

// Endpoint はプロバイダーごとのOAuthクライアント設定。
// URLはテスト用にオーバーライド可能。
type Endpoint struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	AuthURL  string
	TokenURL string
}

// tokenResponse はトークンエンドポイントのレスポンス。
// GitHubはエラー時も200でerrorフィールドを返す。
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// oauthClient はプロバイダーとのHTTP通信を共通化する。
type oauthClient struct {
	endpoint Endpoint
	http     *http.Client
}

func (c *oauthClient) authorizationURL(params url.Values) string {
	params.Set("client_id", c.endpoint.ClientID)
	params.Set("redirect_uri", c.endpoint.RedirectURL)
	params.Set("response_type", "code")
	if len(c.endpoint.Scopes) > 0 {
		params.Set("scope", strings.Join(c.endpoint.Scopes, " "))
	}
	return c.endpoint.AuthURL + "?" + params.Encode()
}

// exchange は認可コードをアクセストークンに交換する。
// プロバイダーがコードを拒否した場合はErrInvalidAuthorizationCode、
// 通信や解析に失敗した場合はErrProviderUnavailableを返す。
func (c *oauthClient) exchange(ctx context.Context, code, codeVerifier string) (string, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {c.endpoint.ClientID},
		"client_secret": {c.endpoint.ClientSecret},
		"redirect_uri":  {c.endpoint.RedirectURL},
	}
	if codeVerifier != "" {
		data.Set("code_verifier", codeVerifier)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request failed: %v", model.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read token response: %v", model.ErrProviderUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("%w: token endpoint returned status %d", model.ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned status %d", model.ErrInvalidAuthorizationCode, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("%w: failed to parse token response: %v", model.ErrProviderUnavailable, err)
	}
	if tr.Error != "" {
		return "", fmt.Errorf("%w: %s", model.ErrInvalidAuthorizationCode, tr.Error)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token in response", model.ErrProviderUnavailable)
	}

	return tr.AccessToken, nil
}

// getJSON はアクセストークン付きでGETし、レスポンスをoutにデコードする。
// トークン発行後の失敗はすべてErrProviderUnavailableとして扱う。
func (c *oauthClient) getJSON(ctx context.Context, endpoint, accessToken string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "authgate")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request to %s failed: %v", model.ErrProviderUnavailable, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", model.ErrProviderUnavailable, endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProviderResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to parse response from %s: %v", model.ErrProviderUnavailable, endpoint, err)
	}
	return nil
}

// isProviderError はプロバイダー起因の定義済みエラーかを返す。
func isProviderError(err error) bool {
	return errors.Is(err, model.ErrInvalidAuthorizationCode) || errors.Is(err, model.ErrProviderUnavailable)
}
