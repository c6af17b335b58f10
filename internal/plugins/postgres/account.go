package postgres

import (
	"context"
	"database/sql"
	"errors"

	"weconnect/internal/core/domain"
)

/*
	accounts (id, email, photo_url, password_hash, created_at)
*/

type AccountRepo struct {
	db *sql.DB
}

func NewAccountRepo(db *sql.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

func (r *AccountRepo) CreateAccount(ctx context.Context, a *domain.Account, passwordHash []byte) error {
	if a == nil || a.ID == "" {
		return domain.ErrInvalidUserID
	}
	exec := GetExecutor(ctx, r.db)
	_, err := exec.ExecContext(ctx,
		`INSERT INTO accounts (id, email, photo_url, password_hash) VALUES ($1, $2, $3, $4)`,
		a.ID, a.Email, a.PhotoURL, passwordHash)
	if pgCode(err) == codeUniqueViolation {
		return domain.ErrAccountExists
	}
	return err
}

func (r *AccountRepo) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, []byte, error) {
	var (
		a    domain.Account
		hash []byte
	)
	exec := GetExecutor(ctx, r.db)
	err := exec.QueryRowContext(ctx,
		`SELECT id, email, photo_url, password_hash FROM accounts WHERE lower(email) = lower($1)`, email,
	).Scan(&a.ID, &a.Email, &a.PhotoURL, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return &a, hash, nil
}

func (r *AccountRepo) GetAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	var a domain.Account
	exec := GetExecutor(ctx, r.db)
	err := exec.QueryRowContext(ctx,
		`SELECT id, email, photo_url FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Email, &a.PhotoURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
