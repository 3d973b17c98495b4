package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `
	id, invoice_id, correlation_id, service_type, service_category, service_name,
	quantity, unit_price, total_amount, discount_percentage, discount_amount, final_amount,
	payment_fee, payment_status, order_status, status_history,
	gateway_provider, session_ref, redirect_url, provider_transaction_id, payment_type, payment_method_id,
	customer_name, customer_email, customer_phone, customer_user_id,
	payload, version, created_at, updated_at`

func (r *OrderRepository) CreateMany(ctx context.Context, orders []*domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, order := range orders {
		if order.ID == "" {
			order.ID = uuid.New().String()
		}

		history, err := json.Marshal(nonNilHistory(order.StatusHistory))
		if err != nil {
			return fmt.Errorf("marshal status history: %w", err)
		}
		payload, err := json.Marshal(order.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
				$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)
		`,
			order.ID, order.InvoiceID, order.CorrelationID, order.ServiceType, order.ServiceCategory, order.ServiceName,
			order.Quantity, order.UnitPrice, order.TotalAmount, order.DiscountPercentage, order.DiscountAmount, order.FinalAmount,
			order.PaymentFee, order.PaymentStatus, order.OrderStatus, history,
			order.Gateway.Provider, order.Gateway.SessionRef, order.Gateway.RedirectURL, order.Gateway.ProviderTransactionID,
			order.Gateway.PaymentType, order.Gateway.PaymentMethodID,
			order.Customer.Name, order.Customer.Email, order.Customer.Phone, order.Customer.UserID,
			payload, order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert order %s: %w", order.InvoiceID, err)
		}
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order   domain.Order
		history []byte
		payload []byte
	)
	err := row.Scan(
		&order.ID, &order.InvoiceID, &order.CorrelationID, &order.ServiceType, &order.ServiceCategory, &order.ServiceName,
		&order.Quantity, &order.UnitPrice, &order.TotalAmount, &order.DiscountPercentage, &order.DiscountAmount, &order.FinalAmount,
		&order.PaymentFee, &order.PaymentStatus, &order.OrderStatus, &history,
		&order.Gateway.Provider, &order.Gateway.SessionRef, &order.Gateway.RedirectURL, &order.Gateway.ProviderTransactionID,
		&order.Gateway.PaymentType, &order.Gateway.PaymentMethodID,
		&order.Customer.Name, &order.Customer.Email, &order.Customer.Phone, &order.Customer.UserID,
		&payload, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(history, &order.StatusHistory); err != nil {
		return nil, fmt.Errorf("unmarshal status history: %w", err)
	}
	if err := json.Unmarshal(payload, &order.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &order, nil
}

func (r *OrderRepository) FindByCorrelationID(ctx context.Context, correlationID string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE correlation_id = $1
		ORDER BY invoice_id
	`, correlationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *OrderRepository) FindByInvoiceID(ctx context.Context, invoiceID string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE invoice_id = $1
	`, invoiceID)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) SetGatewayRef(ctx context.Context, correlationID string, ref domain.GatewayRef) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET gateway_provider = $2, session_ref = $3, redirect_url = $4, payment_method_id = $5,
			version = version + 1, updated_at = NOW()
		WHERE correlation_id = $1
	`, correlationID, ref.Provider, ref.SessionRef, ref.RedirectURL, ref.PaymentMethodID)
	return err
}

func (r *OrderRepository) DeleteByCorrelationID(ctx context.Context, correlationID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE correlation_id = $1`, correlationID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *OrderRepository) ApplyUpdate(ctx context.Context, id string, expectedVersion int64, upd domain.OrderUpdate) error {
	history, err := json.Marshal(nonNilHistory(upd.History))
	if err != nil {
		return fmt.Errorf("marshal status history: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = COALESCE($3, payment_status),
			order_status = COALESCE($4, order_status),
			provider_transaction_id = COALESCE($5, provider_transaction_id),
			payment_type = COALESCE($6, payment_type),
			status_history = status_history || $7::jsonb,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
	`, id, expectedVersion,
		nullString(upd.PaymentStatus), nullString(upd.OrderStatus),
		nullString(upd.ProviderTransactionID), nullString(upd.PaymentType),
		history,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrConcurrentUpdate
	}

	return nil
}

func nullString[T ~string](v *T) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*v), Valid: true}
}

func nonNilHistory(h []domain.StatusHistoryEntry) []domain.StatusHistoryEntry {
	if h == nil {
		return []domain.StatusHistoryEntry{}
	}
	return h
}
