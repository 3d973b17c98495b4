package stockpool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
)

// Memory is the in-process pool used with STORE_DRIVER=memory. It follows
// the same claim rules as the postgres repository.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]*domain.StockAccount
}

func NewMemory(accounts ...domain.StockAccount) *Memory {
	m := &Memory{accounts: make(map[string]*domain.StockAccount, len(accounts))}
	for _, acc := range accounts {
		acc := acc
		m.accounts[acc.ID] = &acc
	}
	return m
}

func (m *Memory) sorted() []domain.StockAccount {
	out := make([]domain.StockAccount, 0, len(m.accounts))
	for _, acc := range m.accounts {
		out = append(out, *acc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Balance != out[j].Balance {
			return out[i].Balance < out[j].Balance
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) List(_ context.Context) ([]domain.StockAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(), nil
}

func (m *Memory) Get(_ context.Context, id string) (*domain.StockAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *acc
	return &cp, nil
}

func (m *Memory) FindSmallestSufficient(_ context.Context, required int64) (*domain.StockAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.sorted() {
		if acc.Status == domain.StockAccountActive && acc.Balance >= required {
			return &acc, nil
		}
	}
	return nil, nil
}

func (m *Memory) UpdateBalance(_ context.Context, id string, balance int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acc, ok := m.accounts[id]; ok {
		acc.Balance = balance
		acc.CheckedAt = time.Now().UTC()
	}
	return nil
}

func (m *Memory) Claim(_ context.Context, id string, required int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[id]
	if !ok || acc.Status != domain.StockAccountActive || acc.Balance < required {
		return ErrAccountUnavailable
	}
	acc.Status = domain.StockAccountInUse
	return nil
}

func (m *Memory) Release(_ context.Context, id string, balance int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[id]
	if !ok || acc.Status != domain.StockAccountInUse {
		return errors.New("stock account is not claimed")
	}
	acc.Status = domain.StockAccountActive
	acc.Balance = balance
	acc.CheckedAt = time.Now().UTC()
	return nil
}
