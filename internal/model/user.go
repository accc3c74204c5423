// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// Emailは存在する場合、全ユーザー間で一意となる。
type User struct {
	ID              string
	Email           string
	Name            string
	PasswordHash    string // 未設定の場合は空文字（OAuthのみのアカウント）
	EmailVerified   bool
	TwoFactorSecret string // 16進エンコードされたTOTPシークレット。未設定の場合は空文字
	Image           string
	Bio             string
	GitHubLink      string
	TwitterLink     string
	WebsiteLink     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasPassword はパスワードが設定されているかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// HasTwoFactor は二要素認証が設定されているかを返す。
func (u *User) HasTwoFactor() bool {
	return u.TwoFactorSecret != ""
}

// Identity は外部IdPとの紐付け情報を表す。
// (Provider, ProviderUserID) は一意で、1ユーザーにつき1プロバイダー1件まで。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired はセッションが指定時刻の時点で期限切れかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// OAuthFlowState はOAuthフロー開始からコールバックまでを結び付ける短命な値。
// CodeVerifierはPKCEを要求するプロバイダーの場合のみ設定される。
type OAuthFlowState struct {
	State        string
	CodeVerifier string
}

// VerificationCode はメールアドレス確認用のワンタイムコードを表す。
// コード本体は保存せず、SHA-256ハッシュのみを保持する。
type VerificationCode struct {
	ID        string
	UserID    string
	Email     string
	CodeHash  string
	ExpiresAt time.Time
	CreatedAt time.Time
}
