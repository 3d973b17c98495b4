// Package payment defines the capability interface every payment provider
// implements and the helpers shared by checkout and reconciliation.
package payment

import (
	"context"
	"errors"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
)

// ErrTransactionNotFound is returned by GetStatus when the provider has no
// record of the reference.
var ErrTransactionNotFound = errors.New("transaction not found at provider")

type LineItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity uint32 `json:"quantity"`
}

type Callbacks struct {
	FinishURL       string
	NotificationURL string
}

type CreatePaymentRequest struct {
	CorrelationID string
	GrossAmount   int64
	Items         []LineItem
	Customer      domain.CustomerInfo
	Callbacks     Callbacks
	PaymentMethod string
	ExpiryMinutes int
}

type Session struct {
	SessionRef  string
	RedirectURL string
	Metadata    map[string]string
}

// Notification is a provider callback or status poll normalized to the
// fields the reconciler needs.
type Notification struct {
	OrderID               string `json:"order_id"`
	ProviderStatus        string `json:"provider_status"`
	StatusCode            string `json:"status_code"`
	GrossAmount           string `json:"gross_amount"`
	PaymentType           string `json:"payment_type"`
	ProviderTransactionID string `json:"provider_transaction_id"`
	Signature             string `json:"-"`
}

type StatusMapping struct {
	PaymentStatus domain.PaymentStatus
	// OrderStatusHint is empty when the provider status implies no order move.
	OrderStatusHint domain.OrderStatus
	// Known is false when the provider status was not in the mapping table.
	Known bool
}

type Gateway interface {
	Name() string
	// CreatePayment returns an error wrapping domain.ErrGatewayUnavailable on
	// network, auth or provider-side failures.
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Session, error)
	MapStatus(providerStatus, paymentType string) StatusMapping
	VerifySignature(n Notification, signature string) bool
	GetStatus(ctx context.Context, ref string) (*Notification, error)
	ParseNotification(body []byte) (*Notification, error)
}
