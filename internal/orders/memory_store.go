package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
)

// MemoryStore implements Store in process. It backs STORE_DRIVER=memory and
// the service tests.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order // id -> order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*domain.Order)}
}

func clone(o *domain.Order) domain.Order {
	c := *o
	c.StatusHistory = append([]domain.StatusHistoryEntry(nil), o.StatusHistory...)
	return c
}

func (s *MemoryStore) CreateMany(_ context.Context, orders []*domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(s.orders))
	for _, o := range s.orders {
		seen[o.InvoiceID] = true
	}
	for _, o := range orders {
		if seen[o.InvoiceID] {
			return fmt.Errorf("duplicate invoice id %s", o.InvoiceID)
		}
		seen[o.InvoiceID] = true
	}

	for _, o := range orders {
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		c := clone(o)
		s.orders[o.ID] = &c
	}
	return nil
}

func (s *MemoryStore) FindByCorrelationID(_ context.Context, correlationID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.Order{}
	for _, o := range s.orders {
		if o.CorrelationID == correlationID {
			result = append(result, clone(o))
		}
	}
	sortByInvoice(result)
	return result, nil
}

func (s *MemoryStore) FindByInvoiceID(_ context.Context, invoiceID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders {
		if o.InvoiceID == invoiceID {
			c := clone(o)
			return &c, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) SetGatewayRef(_ context.Context, correlationID string, ref domain.GatewayRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, o := range s.orders {
		if o.CorrelationID != correlationID {
			continue
		}
		o.Gateway.Provider = ref.Provider
		o.Gateway.SessionRef = ref.SessionRef
		o.Gateway.RedirectURL = ref.RedirectURL
		o.Gateway.PaymentMethodID = ref.PaymentMethodID
		o.Version++
		o.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) DeleteByCorrelationID(_ context.Context, correlationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, o := range s.orders {
		if o.CorrelationID == correlationID {
			delete(s.orders, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ApplyUpdate(_ context.Context, id string, expectedVersion int64, upd domain.OrderUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if o.Version != expectedVersion {
		return domain.ErrConcurrentUpdate
	}
	upd.Apply(o, time.Now().UTC())
	return nil
}
