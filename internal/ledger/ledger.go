// Package ledger keeps each customer's lifetime spend and membership tier.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
)

type Ledger struct {
	db *sql.DB
}

func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Credit adds amount to the customer's lifetime spend once per correlation id.
// A second call for the same correlation id returns domain.ErrAlreadyCredited
// and changes nothing.
func (l *Ledger) Credit(ctx context.Context, customerID string, amount int64, correlationID string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrLedgerUpdate, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO customers (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, customerID); err != nil {
		return fmt.Errorf("%w: ensure customer: %v", domain.ErrLedgerUpdate, err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_credits (correlation_id, customer_id, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (correlation_id) DO NOTHING
	`, correlationID, customerID, amount)
	if err != nil {
		return fmt.Errorf("%w: record credit: %v", domain.ErrLedgerUpdate, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrLedgerUpdate, err)
	}
	if rowsAffected == 0 {
		return domain.ErrAlreadyCredited
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE customers
		SET total_spent = total_spent + $2, last_credited_correlation_id = $3, updated_at = NOW()
		WHERE id = $1
	`, customerID, amount, correlationID); err != nil {
		return fmt.Errorf("%w: increment total: %v", domain.ErrLedgerUpdate, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrLedgerUpdate, err)
	}
	return nil
}

// Get returns nil, nil for a customer that has never been credited.
func (l *Ledger) Get(ctx context.Context, customerID string) (*domain.Customer, error) {
	var (
		c         domain.Customer
		expiresAt sql.NullTime
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT id, total_spent, tier, tier_expires_at, last_credited_correlation_id
		FROM customers
		WHERE id = $1
	`, customerID).Scan(&c.ID, &c.TotalSpent, &c.Tier, &expiresAt, &c.LastCreditedCorrelationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if expiresAt.Valid {
		c.TierExpiresAt = &expiresAt.Time
	}
	return &c, nil
}

// SetTier records an activated membership tier for the customer.
func (l *Ledger) SetTier(ctx context.Context, customerID, tier string, expiresAt time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO customers (id, tier, tier_expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET tier = EXCLUDED.tier, tier_expires_at = EXCLUDED.tier_expires_at, updated_at = NOW()
	`, customerID, tier, expiresAt)
	return err
}
