package cart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/localstate"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/xid"
)

var (
	ErrEmptyCart    = errors.New("cart is empty")
	ErrHeldNotFound = errors.New("held cart not found")
)

const DefaultHeldCapacity = 10

// HeldManager shelves carts so a terminal can serve walk-ups mid-sale. The
// shelf is bounded: holding at capacity evicts the oldest entry.
type HeldManager struct {
	store    localstate.Store
	manager  *Manager
	totalsFn func(domain.CartState) domain.Totals
	capacity int

	held []domain.HeldCart
}

// NewHeldManager recovers the shelf from local state. totalsFn freezes the
// displayed totals at hold time; they are never recomputed for a held cart.
func NewHeldManager(ctx context.Context, store localstate.Store, manager *Manager, totalsFn func(domain.CartState) domain.Totals, capacity int) (*HeldManager, error) {
	if capacity < 1 {
		capacity = DefaultHeldCapacity
	}

	held, err := store.LoadHeldCarts(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover held carts: %w", err)
	}
	return &HeldManager{
		store:    store,
		manager:  manager,
		totalsFn: totalsFn,
		capacity: capacity,
		held:     held,
	}, nil
}

// List returns the shelf newest-first, as deep copies.
func (h *HeldManager) List() []domain.HeldCart {
	h.manager.mu.RLock()
	defer h.manager.mu.RUnlock()

	out := make([]domain.HeldCart, len(h.held))
	for i, held := range h.held {
		out[i] = held
		out[i].Cart = held.Cart.Clone()
	}
	return out
}

// Hold freezes the active cart onto the shelf and clears it. An empty cart
// cannot be held.
func (h *HeldManager) Hold(ctx context.Context, label string) (domain.HeldCart, error) {
	active := h.manager.Current()
	if active.Empty() {
		return domain.HeldCart{}, ErrEmptyCart
	}

	held := h.freeze(active, label)

	h.manager.mu.Lock()
	h.insert(held)
	h.manager.mu.Unlock()

	if err := h.manager.ClearCart(); err != nil {
		return domain.HeldCart{}, err
	}
	h.persist(ctx)
	return held, nil
}

// Recall swaps a held cart back in. A non-empty active cart is auto-held
// first so nothing is silently discarded.
func (h *HeldManager) Recall(ctx context.Context, heldID string) (domain.CartState, error) {
	active := h.manager.Current()

	h.manager.mu.Lock()
	idx := -1
	for i, held := range h.held {
		if held.ID == heldID {
			idx = i
			break
		}
	}
	if idx == -1 {
		h.manager.mu.Unlock()
		return domain.CartState{}, fmt.Errorf("%w: %s", ErrHeldNotFound, heldID)
	}

	recalled := h.held[idx]
	h.held = append(h.held[:idx], h.held[idx+1:]...)
	if !active.Empty() {
		h.insert(h.freeze(active, fmt.Sprintf("Auto-held %s", time.Now().Format("15:04"))))
	}
	h.manager.mu.Unlock()

	if err := h.manager.replace(recalled.Cart); err != nil {
		return domain.CartState{}, err
	}
	h.persist(ctx)
	return recalled.Cart.Clone(), nil
}

func (h *HeldManager) Delete(ctx context.Context, heldID string) error {
	h.manager.mu.Lock()
	idx := -1
	for i, held := range h.held {
		if held.ID == heldID {
			idx = i
			break
		}
	}
	if idx == -1 {
		h.manager.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrHeldNotFound, heldID)
	}
	h.held = append(h.held[:idx], h.held[idx+1:]...)
	h.manager.mu.Unlock()

	h.persist(ctx)
	return nil
}

func (h *HeldManager) ClearAll(ctx context.Context) error {
	h.manager.mu.Lock()
	h.held = nil
	h.manager.mu.Unlock()

	h.persist(ctx)
	return nil
}

func (h *HeldManager) freeze(cart domain.CartState, label string) domain.HeldCart {
	if label == "" {
		label = describeCart(cart)
	}
	return domain.HeldCart{
		ID:     xid.New("held"),
		Label:  label,
		HeldAt: time.Now().UTC(),
		Cart:   cart,
		Totals: h.totalsFn(cart),
	}
}

// insert adds newest-first and evicts the oldest entries past capacity.
// Caller holds the lock.
func (h *HeldManager) insert(held domain.HeldCart) {
	h.held = append([]domain.HeldCart{held}, h.held...)
	if len(h.held) > h.capacity {
		sort.SliceStable(h.held, func(i, j int) bool {
			return h.held[i].HeldAt.After(h.held[j].HeldAt)
		})
		h.held = h.held[:h.capacity]
	}
}

func (h *HeldManager) persist(ctx context.Context) {
	h.manager.mu.RLock()
	snapshot := make([]domain.HeldCart, len(h.held))
	copy(snapshot, h.held)
	h.manager.mu.RUnlock()

	if err := h.store.SaveHeldCarts(ctx, snapshot); err != nil {
		log.Printf("[cart] WARN: held-cart save failed: %v", err)
	}
}

func describeCart(cart domain.CartState) string {
	if cart.Customer != nil && cart.Customer.Name != "" {
		return cart.Customer.Name
	}
	if len(cart.Items) > 0 {
		return cart.Items[0].ProductName
	}
	return "Held cart"
}
