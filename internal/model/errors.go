// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, oauth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is はエラーコードが一致する場合にtrueを返す。
// errors.Is で定義済みエラーとの比較に使用する。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// 定義済みエラーコード
const (
	ErrCodeInvalidState             = "INVALID_STATE"
	ErrCodeInvalidAuthorizationCode = "INVALID_AUTHORIZATION_CODE"
	ErrCodeProviderUnavailable      = "PROVIDER_UNAVAILABLE"
	ErrCodeUnknownProvider          = "UNKNOWN_PROVIDER"
	ErrCodeNoPrimaryEmail           = "NO_PRIMARY_EMAIL"
	ErrCodeUnverifiedEmail          = "UNVERIFIED_EMAIL"
	ErrCodeProviderAlreadyLinked    = "PROVIDER_ALREADY_LINKED"
	ErrCodeInvalidCredentials       = "INVALID_CREDENTIALS"
	ErrCodeNoPasswordSet            = "NO_PASSWORD_SET"
	ErrCodePasswordRequired         = "PASSWORD_REQUIRED"
	ErrCodeInvalidCode              = "INVALID_CODE"
	ErrCodeRateLimited              = "RATE_LIMITED"
	ErrCodeUserNotFound             = "USER_NOT_FOUND"
	ErrCodeInternal                 = "INTERNAL_ERROR"
)

// 認証フローの定義済みエラー。
// 呼び出し側は errors.Is で種別を判定する。
var (
	// ErrInvalidState はOAuthのstate不一致（CSRF）を表す。
	ErrInvalidState = &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "認証リクエストが無効です。",
		Category: "oauth",
		Action:   "もう一度ログインをやり直してください。",
	}

	// ErrInvalidAuthorizationCode はプロバイダーが認可コードを拒否したことを表す。
	ErrInvalidAuthorizationCode = &APIError{
		Code:     ErrCodeInvalidAuthorizationCode,
		Message:  "認可コードが無効です。",
		Category: "oauth",
		Action:   "もう一度ログインをやり直してください。",
	}

	// ErrProviderUnavailable はプロバイダーとの通信またはレスポンス解析の失敗を表す。
	ErrProviderUnavailable = &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  "外部認証サービスに接続できませんでした。",
		Category: "oauth",
		Action:   "しばらく待ってから再度お試しください。",
	}

	// ErrUnknownProvider は未設定のプロバイダーが指定されたことを表す。
	ErrUnknownProvider = &APIError{
		Code:     ErrCodeUnknownProvider,
		Message:  "指定された認証プロバイダーは利用できません。",
		Category: "oauth",
		Action:   "別のログイン方法をお試しください。",
	}

	// ErrNoPrimaryEmail はプロバイダー側にプライマリメールアドレスがないことを表す。
	ErrNoPrimaryEmail = &APIError{
		Code:     ErrCodeNoPrimaryEmail,
		Message:  "プライマリメールアドレスが見つかりません。",
		Category: "oauth",
		Action:   "プロバイダーの設定でプライマリメールアドレスを設定してください。",
	}

	// ErrUnverifiedEmail はプライマリメールアドレスが未確認であることを表す。
	ErrUnverifiedEmail = &APIError{
		Code:     ErrCodeUnverifiedEmail,
		Message:  "メールアドレスが確認されていません。",
		Category: "oauth",
		Action:   "プロバイダー側でメールアドレスを確認してから再度お試しください。",
	}

	// ErrProviderAlreadyLinked は同じメールアドレスのユーザーに、同じプロバイダーの
	// 別アカウントが既に紐付いていることを表す。1ユーザーにつき1プロバイダー1件まで。
	ErrProviderAlreadyLinked = &APIError{
		Code:     ErrCodeProviderAlreadyLinked,
		Message:  "このメールアドレスのアカウントには、同じプロバイダーの別アカウントが既に連携されています。",
		Category: "oauth",
		Action:   "以前連携したアカウントでログインしてください。",
	}

	// ErrInvalidCredentials はユーザー不在またはパスワード不一致を表す。
	// アカウント列挙を防ぐため、両者を呼び出し側に区別させない。
	ErrInvalidCredentials = &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}

	// ErrNoPasswordSet はパスワード未設定のアカウントであることを表す。
	ErrNoPasswordSet = &APIError{
		Code:     ErrCodeNoPasswordSet,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}

	// ErrPasswordRequired はパスワードが入力されていないことを表す。
	ErrPasswordRequired = &APIError{
		Code:     ErrCodePasswordRequired,
		Message:  "パスワードを入力してください。",
		Category: "validation",
		Action:   "パスワードを入力して再度お試しください。",
	}

	// ErrInvalidCode はワンタイムコードが無効であることを表す。
	ErrInvalidCode = &APIError{
		Code:     ErrCodeInvalidCode,
		Message:  "コードが正しくありません。",
		Category: "auth",
		Action:   "最新のコードを入力して再度お試しください。",
	}

	// ErrRateLimited は試行回数の上限超過を表す。
	ErrRateLimited = &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "試行回数が上限に達しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
)

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
