// Package verification はメールアドレス確認コードの発行と照合を提供する。
package verification

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

// codeDigits は確認コードの桁数。
const codeDigits = 8

var codeSpace = big.NewInt(100_000_000)

// Service は確認コードを発行し、照合する。
type Service struct {
	codes  repository.VerificationCodeRepository
	mailer Mailer
	ttl    time.Duration
	now    func() time.Time
}

// NewService は新しいServiceを生成する。
func NewService(codes repository.VerificationCodeRepository, mailer Mailer, ttl time.Duration) *Service {
	return &Service{
		codes:  codes,
		mailer: mailer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// SendVerificationCode は新しい確認コードを発行してメールで送る。
// ユーザーの以前のコードは無効になる。コード本体はハッシュのみ保存する。
func (s *Service) SendVerificationCode(ctx context.Context, email, userID string) error {
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("failed to generate verification code: %w", err)
	}

	now := s.now()
	record := &model.VerificationCode{
		ID:        uuid.New().String(),
		UserID:    userID,
		Email:     email,
		CodeHash:  hashCode(code),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.codes.Replace(ctx, record); err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}

	msg := Message{
		To:      email,
		Subject: "メールアドレスの確認",
		Body:    fmt.Sprintf("確認コード: %s（%d分間有効）", code, int(s.ttl.Minutes())),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send verification email: %w", err)
	}
	return nil
}

// Verify はコードを消費し、対応するレコードを返す。
// 一致しない、期限切れ、使用済みのいずれもErrInvalidCodeを返す。
func (s *Service) Verify(ctx context.Context, email, code string) (*model.VerificationCode, error) {
	code = strings.TrimSpace(code)
	if email == "" || len(code) != codeDigits {
		return nil, model.ErrInvalidCode
	}

	record, err := s.codes.Consume(ctx, email, hashCode(code), s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to consume verification code: %w", err)
	}
	if record == nil {
		return nil, model.ErrInvalidCode
	}
	return record, nil
}

// generateCode は0埋めした8桁の数字を生成する。
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
