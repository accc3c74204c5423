// Package credential はパスワードとTOTPの検証を提供する。
package credential

import (
	"fmt"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// Hasher はパスワードハッシュの生成と照合を行う。
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// Verifier はユーザーの資格情報を検証する。
type Verifier struct {
	hasher Hasher
	now    func() time.Time
}

// NewVerifier は新しいVerifierを生成する。
func NewVerifier(hasher Hasher) *Verifier {
	return &Verifier{
		hasher: hasher,
		now:    time.Now,
	}
}

// HashPassword はパスワードを保存用にハッシュ化する。
func (v *Verifier) HashPassword(password string) (string, error) {
	return v.hasher.Hash(password)
}

// VerifyPassword はパスワードがユーザーの保存済みハッシュと一致するかを返す。
// パスワード未設定（OAuthのみ）のアカウントにはErrNoPasswordSetを返す。
func (v *Verifier) VerifyPassword(user *model.User, password string) (bool, error) {
	if !user.HasPassword() {
		return false, model.ErrNoPasswordSet
	}

	ok, err := v.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return false, fmt.Errorf("failed to verify password: %w", err)
	}
	return ok, nil
}

// VerifyTOTP はcodeが現在時刻のTOTPコードとして有効かを返す。
// 不正な鍵やコードはエラーではなくfalseとして扱う。
func (v *Verifier) VerifyTOTP(secretHex, code string) bool {
	return validateTOTP(secretHex, code, v.now())
}
