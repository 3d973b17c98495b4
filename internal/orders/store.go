package orders

import (
	"context"
	"sort"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
)

// Store is the order aggregate persistence boundary. Every mutation after
// creation goes through ApplyUpdate, a single-document write conditional on
// the version the caller last read.
type Store interface {
	// CreateMany persists every order of one checkout. Either all of them are
	// written or none are.
	CreateMany(ctx context.Context, orders []*domain.Order) error

	// FindByCorrelationID returns the group sorted by invoice id. An unknown
	// correlation id yields an empty slice.
	FindByCorrelationID(ctx context.Context, correlationID string) ([]domain.Order, error)

	// FindByInvoiceID returns nil, nil when no order has the invoice id.
	FindByInvoiceID(ctx context.Context, invoiceID string) (*domain.Order, error)

	// SetGatewayRef records the payment session on every order of the group.
	SetGatewayRef(ctx context.Context, correlationID string, ref domain.GatewayRef) error

	// DeleteByCorrelationID removes the group and reports how many orders
	// were deleted. Used only to roll back a checkout.
	DeleteByCorrelationID(ctx context.Context, correlationID string) (int64, error)

	// ApplyUpdate writes upd to the order only if its version still equals
	// expectedVersion. A lost race returns domain.ErrConcurrentUpdate and a
	// missing order domain.ErrOrderNotFound.
	ApplyUpdate(ctx context.Context, id string, expectedVersion int64, upd domain.OrderUpdate) error
}

func sortByInvoice(orders []domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].InvoiceID < orders[j].InvoiceID
	})
}

var (
	_ Store = (*OrderRepository)(nil)
	_ Store = (*MongoRepository)(nil)
	_ Store = (*MemoryStore)(nil)
)
