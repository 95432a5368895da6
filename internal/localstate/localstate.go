// Package localstate persists terminal-local session state: the active cart
// snapshot, the held-cart list, and the favorites usage counters. All records
// are forward-compatible JSON; a missing field loads as its default.
package localstate

import (
	"context"
	"errors"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Store is single-writer: only the active terminal session writes it.
type Store interface {
	SaveCartSnapshot(ctx context.Context, cart domain.CartState) error
	LoadCartSnapshot(ctx context.Context) (domain.CartState, error)
	SaveHeldCarts(ctx context.Context, carts []domain.HeldCart) error
	LoadHeldCarts(ctx context.Context) ([]domain.HeldCart, error)
	IncrementFavorite(ctx context.Context, productID string, by int64) error
	TopFavorites(ctx context.Context, limit int) ([]domain.Favorite, error)
}
