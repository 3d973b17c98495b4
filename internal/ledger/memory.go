package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
)

// Memory is the in-process ledger used with STORE_DRIVER=memory.
type Memory struct {
	mu        sync.Mutex
	customers map[string]*domain.Customer
	credited  map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		customers: make(map[string]*domain.Customer),
		credited:  make(map[string]bool),
	}
}

func (m *Memory) customer(id string) *domain.Customer {
	c, ok := m.customers[id]
	if !ok {
		c = &domain.Customer{ID: id}
		m.customers[id] = c
	}
	return c
}

func (m *Memory) Credit(_ context.Context, customerID string, amount int64, correlationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.credited[correlationID] {
		return domain.ErrAlreadyCredited
	}
	m.credited[correlationID] = true

	c := m.customer(customerID)
	c.TotalSpent += amount
	c.LastCreditedCorrelationID = correlationID
	return nil
}

func (m *Memory) Get(_ context.Context, customerID string) (*domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.customers[customerID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) SetTier(_ context.Context, customerID, tier string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.customer(customerID)
	c.Tier = tier
	c.TierExpiresAt = &expiresAt
	return nil
}
