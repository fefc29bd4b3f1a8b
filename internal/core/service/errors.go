package service

import (
	"errors"
	"fmt"

	"github.com/rl1809/vouch-desk/internal/port"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrNotStalled          = errors.New("transaction is not stalled")
	ErrOutOfStock          = errors.New("item is out of stock")

	// ErrDeliveryRejected matches every *port.RejectedError.
	ErrDeliveryRejected = port.ErrDeliveryRejected
)

func validationError(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, reason)
}
