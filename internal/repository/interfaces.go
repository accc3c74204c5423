// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
// 同一メールアドレスのユーザー、または同一(provider, provider_user_id)の
// identityが既に存在する場合に返される。
var ErrDuplicate = errors.New("duplicate record")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は指定メールアドレスのユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	// どちらかのINSERTが失敗した場合は両方ロールバックされる。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// MarkEmailVerified はユーザーのメールアドレスを確認済みにする。
	MarkEmailVerified(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// FindByUserAndProvider はユーザーに紐付いた指定プロバイダーのidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByUserAndProvider(ctx context.Context, userID, provider string) (*model.Identity, error)

	// Create はidentityを作成する。既に紐付けが存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は指定時刻の時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// VerificationCodeRepository はメール確認コードの永続化インターフェース。
type VerificationCodeRepository interface {
	// Replace はユーザーの既存コードを削除し、新しいコードを保存する。
	Replace(ctx context.Context, code *model.VerificationCode) error

	// Consume はメールアドレスとコードハッシュに一致する有効なコードを削除して返す。
	// 一致するコードがない、または期限切れの場合はnilを返す。
	Consume(ctx context.Context, email, codeHash string, now time.Time) (*model.VerificationCode, error)

	// DeleteExpired は指定時刻の時点で期限切れのコードを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
