package storage

import (
	"context"
	"sync"

	"github.com/rl1809/vouch-desk/internal/core/domain"
	"github.com/rl1809/vouch-desk/internal/port"
)

// MemoryLog is a TransactionRepository for runs without MySQL.
type MemoryLog struct {
	mu           sync.Mutex
	transactions map[string]domain.Transaction
	tickets      map[string]domain.Ticket
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		transactions: make(map[string]domain.Transaction),
		tickets:      make(map[string]domain.Ticket),
	}
}

func (m *MemoryLog) SaveTransaction(ctx context.Context, txn domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[txn.ReferenceCode] = txn.Clone()
	return nil
}

func (m *MemoryLog) FindTransaction(ctx context.Context, referenceCode string) (domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactions[referenceCode]
	if !ok {
		return domain.Transaction{}, port.ErrRecordNotFound
	}
	return txn.Clone(), nil
}

func (m *MemoryLog) SaveTicket(ctx context.Context, ticket domain.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[ticket.ID] = ticket
	return nil
}

// Ticket returns a recorded ticket.
func (m *MemoryLog) Ticket(id string) (domain.Ticket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	return t, ok
}
