// Package pricing resolves volume (quantity-break) prices for cart items.
// Everything here is advisory: a fetch failure prices the item at base and is
// never surfaced as a cart error.
package pricing

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
)

// Client is the slice of the volume-pricing backend the adjuster needs.
type Client interface {
	VolumePrice(ctx context.Context, productID string, customerID string, qty int) (domain.VolumePrice, error)
	VolumeTiers(ctx context.Context, productID string) ([]domain.VolumeTier, error)
}

// Adjuster caches per-product effective prices for the current customer and
// serves tier tables through a TTL cache. Price refreshes run asynchronously
// and never block cart mutation; late responses for products no longer in the
// cart are discarded.
type Adjuster struct {
	client Client
	cache  TierCache
	ttl    time.Duration

	mu         sync.RWMutex
	customerID string
	wanted     map[string]int // productID -> qty currently in the cart
	prices     map[string]domain.VolumePrice
	closed     bool
}

func NewAdjuster(client Client, cache TierCache, ttl time.Duration) *Adjuster {
	if cache == nil {
		cache = NoopTierCache{}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Adjuster{
		client: client,
		cache:  cache,
		ttl:    ttl,
		wanted: make(map[string]int),
		prices: make(map[string]domain.VolumePrice),
	}
}

// Refresh records the cart's current product set and kicks off asynchronous
// price fetches. A customer change or an empty cart clears the price cache.
func (a *Adjuster) Refresh(ctx context.Context, cart domain.CartState) {
	customerID := ""
	if cart.Customer != nil {
		customerID = cart.Customer.ID
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	if customerID != a.customerID || len(cart.Items) == 0 {
		a.prices = make(map[string]domain.VolumePrice)
	}
	a.customerID = customerID
	a.wanted = make(map[string]int, len(cart.Items))
	for _, item := range cart.Items {
		if item.PriceOverride {
			continue
		}
		a.wanted[item.ProductID] += item.Quantity
	}
	fetch := make(map[string]int, len(a.wanted))
	for productID, qty := range a.wanted {
		fetch[productID] = qty
	}
	a.mu.Unlock()

	if a.client == nil || len(fetch) == 0 {
		return
	}

	go func() {
		for productID, qty := range fetch {
			price, err := a.client.VolumePrice(ctx, productID, customerID, qty)
			if err != nil {
				log.Printf("[pricing] WARN: volume price fetch failed product=%s: %v", productID, err)
				continue
			}
			a.store(customerID, productID, qty, price)
		}
	}()
}

// store applies a fetched price only if the adjuster is still live, the
// customer has not changed, and the product is still wanted at the quantity
// the fetch was issued for. A late response for a superseded quantity is
// discarded, so it can never overwrite the price for the current quantity.
func (a *Adjuster) store(customerID string, productID string, qty int, price domain.VolumePrice) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.customerID != customerID {
		return
	}
	if wantQty, stillWanted := a.wanted[productID]; !stillWanted || wantQty != qty {
		return
	}
	a.prices[productID] = price
}

// VolumePriceFor implements totals.PriceSource.
func (a *Adjuster) VolumePriceFor(productID string, _ int) (decimal.Decimal, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	price, ok := a.prices[productID]
	if !ok || !price.Applies {
		return decimal.Zero, false
	}
	return price.UnitPrice, true
}

// TierTable returns the product's volume tiers ordered by ascending MinQty,
// served from the cache when fresh.
func (a *Adjuster) TierTable(ctx context.Context, productID string) ([]domain.VolumeTier, error) {
	if tiers, ok, err := a.cache.Get(ctx, productID); err == nil && ok {
		return tiers, nil
	}

	tiers, err := a.client.VolumeTiers(ctx, productID)
	if err != nil {
		return nil, err
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinQty < tiers[j].MinQty })

	if err := a.cache.Set(ctx, productID, tiers, a.ttl); err != nil {
		log.Printf("[pricing] WARN: tier cache write failed product=%s: %v", productID, err)
	}
	return tiers, nil
}

// CurrentTier picks the tier containing qty. Ties resolve to the tier with
// the larger MinQty, which the ascending scan produces naturally.
func CurrentTier(tiers []domain.VolumeTier, qty int) (domain.VolumeTier, bool) {
	var current domain.VolumeTier
	found := false
	for _, tier := range tiers {
		if tier.Contains(qty) {
			current = tier
			found = true
		}
	}
	return current, found
}

// NextTier computes the advisory next-tier hint: how many more units reach
// the next quantity break and what it would earn. Never auto-applied.
func (a *Adjuster) NextTier(ctx context.Context, productID string, qty int) (*domain.NextTierHint, error) {
	tiers, err := a.TierTable(ctx, productID)
	if err != nil {
		return nil, err
	}
	for _, tier := range tiers {
		if tier.MinQty > qty {
			return &domain.NextTierHint{
				UnitsNeeded: tier.MinQty - qty,
				MinQty:      tier.MinQty,
				UnitPrice:   tier.UnitPrice,
				DiscountPct: tier.DiscountPct,
			}, nil
		}
	}
	return nil, nil
}

// Close stops the adjuster from applying any further async updates.
func (a *Adjuster) Close() {
	a.mu.Lock()
	a.closed = true
	a.prices = make(map[string]domain.VolumePrice)
	a.wanted = make(map[string]int)
	a.mu.Unlock()
}
