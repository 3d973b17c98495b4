// Package stockpool manages the pooled stock accounts whose robux balance
// pays for scheduled deliveries.
package stockpool

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
)

// ErrAccountUnavailable means the conditional claim lost: the account is no
// longer active or its balance no longer covers the requirement.
var ErrAccountUnavailable = errors.New("stock account unavailable")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func scanAccount(row interface{ Scan(...any) error }) (*domain.StockAccount, error) {
	var acc domain.StockAccount
	if err := row.Scan(&acc.ID, &acc.Username, &acc.Balance, &acc.Status, &acc.CheckedAt); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (r *Repository) List(ctx context.Context) ([]domain.StockAccount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, username, balance, status, checked_at
		FROM stock_accounts
		ORDER BY balance, id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	accounts := []domain.StockAccount{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return accounts, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.StockAccount, error) {
	acc, err := scanAccount(r.db.QueryRowContext(ctx, `
		SELECT id, username, balance, status, checked_at
		FROM stock_accounts
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return acc, nil
}

// FindSmallestSufficient returns the active account with the lowest balance
// that still covers required, or nil when none does.
func (r *Repository) FindSmallestSufficient(ctx context.Context, required int64) (*domain.StockAccount, error) {
	acc, err := scanAccount(r.db.QueryRowContext(ctx, `
		SELECT id, username, balance, status, checked_at
		FROM stock_accounts
		WHERE status = 'active' AND balance >= $1
		ORDER BY balance, id
		LIMIT 1
	`, required))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return acc, nil
}

func (r *Repository) UpdateBalance(ctx context.Context, id string, balance int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE stock_accounts
		SET balance = $2, checked_at = NOW()
		WHERE id = $1
	`, id, balance)
	return err
}

// Claim moves the account from active to in_use only if it is still active
// and still covers required. The conditional write is the lock.
func (r *Repository) Claim(ctx context.Context, id string, required int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE stock_accounts
		SET status = 'in_use'
		WHERE id = $1 AND status = 'active' AND balance >= $2
	`, id, required)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrAccountUnavailable
	}

	return nil
}

// Release returns a claimed account to the pool with its refreshed balance.
func (r *Repository) Release(ctx context.Context, id string, balance int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE stock_accounts
		SET status = 'active', balance = $2, checked_at = NOW()
		WHERE id = $1 AND status = 'in_use'
	`, id, balance)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return errors.New("stock account is not claimed")
	}

	return nil
}
