package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Krajiyah/firebase-admin-util/internal/auth"
)

// Compile-time check that Store can back the auth service.
var _ auth.Backend = (*Store)(nil)

const accountColumns = `uid, email, password_hash, email_verified, disabled, display_name, created_at, updated_at`

func scanAccount(row scannable) (*auth.Account, error) {
	var a auth.Account
	err := row.Scan(&a.UID, &a.Email, &a.PasswordHash, &a.EmailVerified, &a.Disabled, &a.DisplayName, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *auth.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.UID, a.Email, a.PasswordHash, a.EmailVerified, a.Disabled, a.DisplayName, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, uid string) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE uid = $1`, uid)
	return scanAccount(row)
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`, email)
	return scanAccount(row)
}

func (s *Store) UpdateAccount(ctx context.Context, a *auth.Account) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET email = $2, password_hash = $3, email_verified = $4,
			disabled = $5, display_name = $6, updated_at = $7
		WHERE uid = $1`,
		a.UID, a.Email, a.PasswordHash, a.EmailVerified, a.Disabled, a.DisplayName, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return requireRow(res)
}

func (s *Store) DeleteAccount(ctx context.Context, uid string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return auth.ErrAccountNotFound
	}
	return nil
}
