package port

import (
	"context"
	"errors"

	"github.com/rl1809/vouch-desk/internal/core/domain"
)

var ErrRecordNotFound = errors.New("record not found")

type TransactionRepository interface {
	// SaveTransaction inserts or updates the record of a warranty transaction
	SaveTransaction(ctx context.Context, txn domain.Transaction) error

	// FindTransaction loads a transaction by reference code
	FindTransaction(ctx context.Context, referenceCode string) (domain.Transaction, error)

	// SaveTicket inserts or updates the record of a ticket
	SaveTicket(ctx context.Context, ticket domain.Ticket) error
}
