package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// PostgresVerificationCodeRepo はPostgreSQLを使用したメール確認コードリポジトリ。
type PostgresVerificationCodeRepo struct {
	db *sql.DB
}

// NewPostgresVerificationCodeRepo はPostgresVerificationCodeRepoを生成する。
func NewPostgresVerificationCodeRepo(db *sql.DB) *PostgresVerificationCodeRepo {
	return &PostgresVerificationCodeRepo{db: db}
}

// Replace はユーザーの既存コードを削除し、新しいコードを同一トランザクションで保存する。
func (r *PostgresVerificationCodeRepo) Replace(ctx context.Context, code *model.VerificationCode) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM email_verification_codes WHERE user_id = $1`,
		code.UserID,
	); err != nil {
		return fmt.Errorf("failed to delete previous verification codes: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO email_verification_codes (id, user_id, email, code_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		code.ID, code.UserID, code.Email, code.CodeHash, code.ExpiresAt, code.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert verification code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Consume は一致する有効なコードを削除して返す。
// DELETE ... RETURNING により、同一コードの並行使用でも成功するのは1回のみ。
func (r *PostgresVerificationCodeRepo) Consume(ctx context.Context, email, codeHash string, now time.Time) (*model.VerificationCode, error) {
	code := &model.VerificationCode{}
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM email_verification_codes
		 WHERE email = $1 AND code_hash = $2 AND expires_at > $3
		 RETURNING id, user_id, email, code_hash, expires_at, created_at`,
		email, codeHash, now,
	).Scan(&code.ID, &code.UserID, &code.Email, &code.CodeHash, &code.ExpiresAt, &code.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume verification code: %w", err)
	}
	return code, nil
}

// DeleteExpired は期限切れのコードを削除し、削除件数を返す。
func (r *PostgresVerificationCodeRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM email_verification_codes WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired verification codes: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ VerificationCodeRepository = (*PostgresVerificationCodeRepo)(nil)
