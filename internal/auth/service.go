// Package auth はOAuth認可コードフローと外部アカウントの紐付けを提供する。
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

// Branch は外部アカウントをどのように解決したかを表す。
type Branch string

const (
	// BranchLinked は既存の紐付けからユーザーを特定したことを表す。
	BranchLinked Branch = "linked"
	// BranchImplicitLink は同じメールアドレスの既存ユーザーに紐付けを追加したことを表す。
	BranchImplicitLink Branch = "implicit_link"
	// BranchNewUser はユーザーと紐付けを新規作成したことを表す。
	BranchNewUser Branch = "new_user"
)

// LinkResult はCompleteAuthorizationの結果。
type LinkResult struct {
	UserID string
	Branch Branch
}

// ProfileSanitizer はプロバイダー由来のプロフィール値を無害化する。
type ProfileSanitizer interface {
	Text(raw string) string
	URL(raw string) string
}

// Service はOAuthログインと紐付けの判定を行う。
type Service struct {
	providers  map[string]Provider
	users      repository.UserRepository
	identities repository.IdentityRepository
	sanitizer  ProfileSanitizer
	now        func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	providers []Provider,
	users repository.UserRepository,
	identities repository.IdentityRepository,
	sanitizer ProfileSanitizer,
) *Service {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Service{
		providers:  m,
		users:      users,
		identities: identities,
		sanitizer:  sanitizer,
		now:        time.Now,
	}
}

// Provider は名前に対応するプロバイダーを返す。
func (s *Service) Provider(name string) (Provider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, model.ErrUnknownProvider
	}
	return p, nil
}

// BeginAuthorization はstate（必要に応じてPKCEのcode_verifier）を生成し、
// リダイレクト先の認可URLとCookieに保存するフロー状態を返す。
func (s *Service) BeginAuthorization(providerName string) (string, *model.OAuthFlowState, error) {
	p, err := s.Provider(providerName)
	if err != nil {
		return "", nil, err
	}

	state, err := GenerateState()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate state: %w", err)
	}
	flow := &model.OAuthFlowState{State: state}

	if p.RequiresPKCE() {
		verifier, err := GenerateCodeVerifier()
		if err != nil {
			return "", nil, fmt.Errorf("failed to generate code verifier: %w", err)
		}
		flow.CodeVerifier = verifier
	}

	return p.AuthorizationURL(flow.State, flow.CodeVerifier), flow, nil
}

// CompleteAuthorization はコールバックを検証し、外部アカウントをユーザーに解決する。
// stateの検証はプロバイダーへの通信より前に行う。
func (s *Service) CompleteAuthorization(
	ctx context.Context,
	providerName, code, returnedState string,
	stored *model.OAuthFlowState,
) (*LinkResult, error) {
	// 1. state検証（CSRF対策）
	if returnedState == "" || stored == nil || stored.State == "" ||
		subtle.ConstantTimeCompare([]byte(returnedState), []byte(stored.State)) != 1 {
		return nil, model.ErrInvalidState
	}

	p, err := s.Provider(providerName)
	if err != nil {
		return nil, err
	}
	if p.RequiresPKCE() && stored.CodeVerifier == "" {
		return nil, model.ErrInvalidState
	}
	if code == "" {
		return nil, model.ErrInvalidAuthorizationCode
	}

	// 2. 認可コードをアクセストークンに交換
	accessToken, err := p.ExchangeCode(ctx, code, stored.CodeVerifier)
	if err != nil {
		return nil, s.providerError(providerName, "exchange code", err)
	}

	// 3. プロフィールとプライマリメールアドレスを取得
	profile, err := p.FetchProfile(ctx, accessToken)
	if err != nil {
		return nil, s.providerError(providerName, "fetch profile", err)
	}
	email, err := profile.PrimaryEmail()
	if err != nil {
		slog.Warn("oauth login rejected",
			slog.String("provider", providerName),
			slog.String("reason", err.Error()),
		)
		return nil, err
	}

	// 4-6. 紐付けの判定
	result, err := s.link(ctx, providerName, profile, email)
	if errors.Is(err, repository.ErrDuplicate) {
		// 同時ログインで先に紐付けが作られた場合は判定をやり直す
		slog.Info("concurrent oauth link detected, retrying",
			slog.String("provider", providerName),
		)
		result, err = s.link(ctx, providerName, profile, email)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("oauth login completed",
		slog.String("user_id", result.UserID),
		slog.String("provider", providerName),
		slog.String("branch", string(result.Branch)),
	)
	return result, nil
}

// link はLinked / ImplicitLink / NewUserのいずれかでユーザーを決定する。
func (s *Service) link(ctx context.Context, providerName string, profile *ProviderProfile, email string) (*LinkResult, error) {
	identity, err := s.identities.FindByProviderAndProviderUserID(ctx, providerName, profile.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity != nil {
		return &LinkResult{UserID: identity.UserID, Branch: BranchLinked}, nil
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	now := s.now()
	identity = &model.Identity{
		ID:             uuid.New().String(),
		Provider:       providerName,
		ProviderUserID: profile.ProviderUserID,
		CreatedAt:      now,
	}

	if user != nil {
		linked, err := s.identities.FindByUserAndProvider(ctx, user.ID, providerName)
		if err != nil {
			return nil, fmt.Errorf("failed to find existing link: %w", err)
		}
		if linked != nil {
			// 同じプロバイダーの別アカウントで上書きしない
			slog.Warn("oauth link rejected",
				slog.String("user_id", user.ID),
				slog.String("provider", providerName),
				slog.String("reason", "provider already linked"),
			)
			return nil, model.ErrProviderAlreadyLinked
		}

		identity.UserID = user.ID
		if err := s.identities.Create(ctx, identity); err != nil {
			return nil, fmt.Errorf("failed to link identity to existing user: %w", err)
		}
		return &LinkResult{UserID: user.ID, Branch: BranchImplicitLink}, nil
	}

	newUser := s.newUserFromProfile(profile, email, now)
	identity.UserID = newUser.ID
	if err := s.users.CreateWithIdentity(ctx, newUser, identity); err != nil {
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}
	return &LinkResult{UserID: newUser.ID, Branch: BranchNewUser}, nil
}

// newUserFromProfile はプロフィールから新規ユーザーを組み立てる。
// メールアドレスはプロバイダーが確認済みのため、確認済みとして作成する。
func (s *Service) newUserFromProfile(profile *ProviderProfile, email string, now time.Time) *model.User {
	u := &model.User{
		ID:            uuid.New().String(),
		Email:         email,
		Name:          s.sanitizer.Text(profile.Name),
		EmailVerified: true,
		Image:         s.sanitizer.URL(profile.AvatarURL),
		Bio:           s.sanitizer.Text(profile.Bio),
		GitHubLink:    s.sanitizer.URL(profile.HTMLURL),
		WebsiteLink:   s.sanitizer.URL(profile.Blog),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if handle := strings.TrimPrefix(strings.TrimSpace(profile.TwitterUsername), "@"); handle != "" {
		u.TwitterLink = s.sanitizer.URL("https://twitter.com/" + handle)
	}
	if u.Name == "" {
		u.Name = email
	}
	return u
}

// providerError はプロバイダー起因のエラーをログに記録し、定義済みエラーに正規化する。
// タイムアウトを含む想定外の失敗はErrProviderUnavailableとして扱う。
func (s *Service) providerError(providerName, op string, err error) error {
	slog.Warn("oauth provider call failed",
		slog.String("provider", providerName),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	if isProviderError(err) {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrProviderUnavailable, err)
}
