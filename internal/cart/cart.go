// Package cart owns the active cart and the held-cart shelf. Every mutation
// goes through the Manager, which snapshots state after each change so a
// crashed terminal recovers mid-sale.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/backend"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/localstate"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/tax"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/xid"
)

var (
	ErrItemNotFound     = errors.New("line item not found")
	ErrDuplicateTradeIn = errors.New("trade-in already attached")
	ErrInvalidInput     = errors.New("invalid input")
)

const snapshotTimeout = 5 * time.Second

// Manager serializes all cart mutations. Reads return deep copies so callers
// can never alias internal state.
type Manager struct {
	store    localstate.Store
	tradeIns backend.TradeInClient

	mu    sync.RWMutex
	state domain.CartState
	seq   uint64

	// persistMu serializes snapshot writes; persistedSeq is the sequence of
	// the newest snapshot made durable, so a stale write never lands after a
	// newer one.
	persistMu    sync.Mutex
	persistedSeq uint64
}

// NewManager recovers the last snapshot if one exists; otherwise it starts an
// empty cart in the terminal's default jurisdiction.
func NewManager(ctx context.Context, store localstate.Store, tradeIns backend.TradeInClient, defaultJurisdiction string) (*Manager, error) {
	m := &Manager{store: store, tradeIns: tradeIns}

	state, err := store.LoadCartSnapshot(ctx)
	switch {
	case err == nil:
		m.state = state
		if m.state.Jurisdiction == "" {
			m.state.Jurisdiction = defaultJurisdiction
		}
	case errors.Is(err, localstate.ErrNotFound):
		m.state = domain.CartState{Jurisdiction: defaultJurisdiction}
	default:
		return nil, fmt.Errorf("recover cart snapshot: %w", err)
	}
	return m, nil
}

// Current returns a deep copy of the active cart.
func (m *Manager) Current() domain.CartState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// mutate applies fn under the write lock and snapshots the result in the
// background. Each snapshot carries the mutation's sequence number and a
// snapshot older than the newest durable one is skipped, so the stored state
// only ever moves forward. Persistence failure is logged, never fatal: the
// sale continues on in-memory state.
func (m *Manager) mutate(fn func(*domain.CartState) error) error {
	m.mu.Lock()
	if err := fn(&m.state); err != nil {
		m.mu.Unlock()
		return err
	}
	m.seq++
	seq := m.seq
	snapshot := m.state.Clone()
	m.mu.Unlock()

	go m.persist(seq, snapshot)
	return nil
}

func (m *Manager) persist(seq uint64, snapshot domain.CartState) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	if seq <= m.persistedSeq {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	if err := m.store.SaveCartSnapshot(ctx, snapshot); err != nil {
		log.Printf("[cart] WARN: snapshot save failed: %v", err)
		return
	}
	m.persistedSeq = seq
}

// replace swaps the whole cart state atomically.
func (m *Manager) replace(next domain.CartState) error {
	return m.mutate(func(state *domain.CartState) error {
		*state = next
		return nil
	})
}

// AddItem appends or merges a line. Fungible lines for the same product merge
// into one row; serialized units always get their own row.
func (m *Manager) AddItem(item domain.LineItem) (domain.LineItem, error) {
	if item.ProductID == "" {
		return domain.LineItem{}, fmt.Errorf("%w: product id required", ErrInvalidInput)
	}
	if item.Quantity < 1 {
		item.Quantity = 1
	}
	if item.Serialized() {
		item.Quantity = 1
	}

	var added domain.LineItem
	err := m.mutate(func(state *domain.CartState) error {
		if !item.Serialized() {
			for i := range state.Items {
				existing := &state.Items[i]
				if existing.ProductID == item.ProductID && !existing.Serialized() {
					existing.Quantity += item.Quantity
					added = *existing
					return nil
				}
			}
		}
		item.ID = xid.New("line")
		state.Items = append(state.Items, item)
		added = item
		return nil
	})
	return added, err
}

func (m *Manager) RemoveItem(lineItemID string) error {
	return m.mutate(func(state *domain.CartState) error {
		for i, item := range state.Items {
			if item.ID == lineItemID {
				state.Items = append(state.Items[:i], state.Items[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrItemNotFound, lineItemID)
	})
}

// UpdateQuantity sets a line's quantity; anything below one removes the line.
func (m *Manager) UpdateQuantity(lineItemID string, qty int) error {
	if qty < 1 {
		return m.RemoveItem(lineItemID)
	}
	return m.mutate(func(state *domain.CartState) error {
		item := findItem(state, lineItemID)
		if item == nil {
			return fmt.Errorf("%w: %s", ErrItemNotFound, lineItemID)
		}
		if item.Serialized() && qty != 1 {
			return fmt.Errorf("%w: serialized items are single-unit", ErrInvalidInput)
		}
		item.Quantity = qty
		return nil
	})
}

// ApplyItemDiscount writes an already-authorized percentage onto a line,
// clamped to [0,100]. Authorization is the caller's job.
func (m *Manager) ApplyItemDiscount(lineItemID string, pct decimal.Decimal, sourceEscalationID string) error {
	if pct.IsNegative() {
		pct = decimal.Zero
	}
	if pct.GreaterThan(decimal.NewFromInt(100)) {
		pct = decimal.NewFromInt(100)
	}
	return m.mutate(func(state *domain.CartState) error {
		item := findItem(state, lineItemID)
		if item == nil {
			return fmt.Errorf("%w: %s", ErrItemNotFound, lineItemID)
		}
		item.DiscountPercent = pct
		item.SourceEscalationID = sourceEscalationID
		return nil
	})
}

// SetItemPrice records a manual unit-price override. An override replaces any
// percentage discount on the line.
func (m *Manager) SetItemPrice(lineItemID string, price decimal.Decimal, reason string) error {
	if price.IsNegative() {
		return fmt.Errorf("%w: price cannot be negative", ErrInvalidInput)
	}
	return m.mutate(func(state *domain.CartState) error {
		item := findItem(state, lineItemID)
		if item == nil {
			return fmt.Errorf("%w: %s", ErrItemNotFound, lineItemID)
		}
		item.UnitPrice = price
		item.PriceOverride = true
		item.PriceOverrideReason = reason
		item.DiscountPercent = decimal.Zero
		item.SourceEscalationID = ""
		return nil
	})
}

func (m *Manager) SetItemSerial(lineItemID, serial string) error {
	return m.mutate(func(state *domain.CartState) error {
		item := findItem(state, lineItemID)
		if item == nil {
			return fmt.Errorf("%w: %s", ErrItemNotFound, lineItemID)
		}
		if item.Quantity > 1 {
			return fmt.Errorf("%w: split the line before serializing", ErrInvalidInput)
		}
		item.SerialNumber = serial
		return nil
	})
}

func (m *Manager) SetCustomer(customer domain.Customer) error {
	return m.mutate(func(state *domain.CartState) error {
		state.Customer = &customer
		return nil
	})
}

func (m *Manager) ClearCustomer() error {
	return m.mutate(func(state *domain.CartState) error {
		state.Customer = nil
		return nil
	})
}

func (m *Manager) SetSalesperson(salespersonID string) error {
	return m.mutate(func(state *domain.CartState) error {
		state.SalespersonID = salespersonID
		return nil
	})
}

func (m *Manager) SetCommissionSplit(split *domain.CommissionSplit) error {
	if split != nil {
		if split.SplitPercent.IsNegative() || split.SplitPercent.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("%w: split percent out of range", ErrInvalidInput)
		}
	}
	return m.mutate(func(state *domain.CartState) error {
		state.CommissionSplit = split
		return nil
	})
}

// SetCartDiscount writes a whole-cart dollar discount. Totals cap it at the
// post-item-discount subtotal, so an oversized amount is legal here.
func (m *Manager) SetCartDiscount(amount decimal.Decimal, reason string) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: discount cannot be negative", ErrInvalidInput)
	}
	return m.mutate(func(state *domain.CartState) error {
		state.Discount = domain.CartDiscount{Amount: amount, Reason: reason}
		return nil
	})
}

func (m *Manager) ClearCartDiscount() error {
	return m.mutate(func(state *domain.CartState) error {
		state.Discount = domain.CartDiscount{}
		return nil
	})
}

func (m *Manager) ApplyPromotion(promo domain.Promotion) error {
	return m.mutate(func(state *domain.CartState) error {
		state.Promotion = &promo
		return nil
	})
}

func (m *Manager) ClearPromotion() error {
	return m.mutate(func(state *domain.CartState) error {
		state.Promotion = nil
		return nil
	})
}

func (m *Manager) SetFulfillment(f domain.Fulfillment) error {
	if f.Type != domain.FulfillmentPickup && f.Type != domain.FulfillmentDelivery {
		return fmt.Errorf("%w: unknown fulfillment type %q", ErrInvalidInput, f.Type)
	}
	if f.Fee.IsNegative() {
		return fmt.Errorf("%w: fee cannot be negative", ErrInvalidInput)
	}
	return m.mutate(func(state *domain.CartState) error {
		state.Fulfillment = &f
		return nil
	})
}

func (m *Manager) ClearFulfillment() error {
	return m.mutate(func(state *domain.CartState) error {
		state.Fulfillment = nil
		return nil
	})
}

func (m *Manager) AddTradeIn(tradeIn domain.TradeIn) error {
	if tradeIn.ID == "" {
		return fmt.Errorf("%w: assessment id required", ErrInvalidInput)
	}
	return m.mutate(func(state *domain.CartState) error {
		for _, existing := range state.TradeIns {
			if existing.ID == tradeIn.ID {
				return fmt.Errorf("%w: %s", ErrDuplicateTradeIn, tradeIn.ID)
			}
		}
		state.TradeIns = append(state.TradeIns, tradeIn)
		return nil
	})
}

// RemoveTradeIn detaches a trade-in and voids its assessment server-side. The
// void is best-effort: the local removal stands even if the backend is down.
func (m *Manager) RemoveTradeIn(ctx context.Context, assessmentID, reason string) error {
	err := m.mutate(func(state *domain.CartState) error {
		for i, tradeIn := range state.TradeIns {
			if tradeIn.ID == assessmentID {
				state.TradeIns = append(state.TradeIns[:i], state.TradeIns[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: trade-in %s", ErrItemNotFound, assessmentID)
	})
	if err != nil {
		return err
	}

	if voidErr := m.tradeIns.Void(ctx, assessmentID, reason); voidErr != nil {
		log.Printf("[cart] WARN: trade-in %s removed locally but void failed: %v", assessmentID, voidErr)
	}
	return nil
}

func (m *Manager) ClearTradeIns(ctx context.Context, reason string) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.state.TradeIns))
	for _, tradeIn := range m.state.TradeIns {
		ids = append(ids, tradeIn.ID)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.RemoveTradeIn(ctx, id, reason); err != nil && !errors.Is(err, ErrItemNotFound) {
			return err
		}
	}
	return nil
}

func (m *Manager) SetJurisdiction(code string) error {
	if !tax.Known(code) {
		return fmt.Errorf("%w: unknown jurisdiction %q", ErrInvalidInput, code)
	}
	return m.mutate(func(state *domain.CartState) error {
		state.Jurisdiction = code
		return nil
	})
}

// LoadFromQuote replaces the whole cart with the quote's content in one step.
// The previous cart is discarded, not merged.
func (m *Manager) LoadFromQuote(quote domain.Quote) error {
	if len(quote.Items) == 0 {
		return fmt.Errorf("%w: quote has no items", ErrInvalidInput)
	}

	m.mu.RLock()
	jurisdiction := m.state.Jurisdiction
	salesperson := m.state.SalespersonID
	m.mu.RUnlock()
	if quote.SalespersonID != "" {
		salesperson = quote.SalespersonID
	}

	next := domain.CartState{
		QuoteID:       quote.ID,
		Customer:      quote.Customer,
		SalespersonID: salesperson,
		Discount:      quote.Discount,
		Jurisdiction:  jurisdiction,
		Items:         make([]domain.LineItem, len(quote.Items)),
	}
	for i, item := range quote.Items {
		item.ID = xid.New("line")
		if item.Quantity < 1 {
			item.Quantity = 1
		}
		next.Items[i] = item
	}
	return m.replace(next)
}

// ClearCart resets to an empty cart. Jurisdiction and salesperson belong to
// the session, not the sale, and survive the reset.
func (m *Manager) ClearCart() error {
	m.mu.RLock()
	jurisdiction := m.state.Jurisdiction
	salesperson := m.state.SalespersonID
	m.mu.RUnlock()
	return m.replace(domain.CartState{Jurisdiction: jurisdiction, SalespersonID: salesperson})
}

func findItem(state *domain.CartState, lineItemID string) *domain.LineItem {
	for i := range state.Items {
		if state.Items[i].ID == lineItemID {
			return &state.Items[i]
		}
	}
	return nil
}
