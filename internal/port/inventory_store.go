package port

import (
	"context"
	"errors"

	"github.com/rl1809/vouch-desk/internal/core/domain"
)

var (
	ErrItemNotFound      = errors.New("item not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNameCollision     = errors.New("item name already exists")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrPersistence       = errors.New("inventory persistence failed")
)

type InventoryStore interface {
	// Reserve atomically checks that name has at least quantity units and
	// decrements it. Returns ErrInsufficientStock or ErrItemNotFound
	// without changing anything otherwise.
	Reserve(ctx context.Context, name string, quantity int) error

	// Rename moves an item to a new name, keeping its quantity
	Rename(ctx context.Context, oldName, newName string) error

	// Upsert creates an item or overwrites its quantity
	Upsert(ctx context.Context, name string, quantity int) error

	// Remove deletes an item
	Remove(ctx context.Context, name string) error

	// Get returns a single item
	Get(ctx context.Context, name string) (domain.Item, error)

	// List returns all items in snapshot order
	List(ctx context.Context) ([]domain.Item, error)
}
