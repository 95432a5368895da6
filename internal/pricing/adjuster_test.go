package pricing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// stubClient serves canned prices and counts tier-table fetches.
type stubClient struct {
	mu         sync.Mutex
	prices     map[string]domain.VolumePrice
	tiers      map[string][]domain.VolumeTier
	tierCalls  int
	priceCalls int
}

func (c *stubClient) VolumePrice(_ context.Context, productID string, _ string, _ int) (domain.VolumePrice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.priceCalls++
	return c.prices[productID], nil
}

func (c *stubClient) VolumeTiers(_ context.Context, productID string) ([]domain.VolumeTier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tierCalls++
	return c.tiers[productID], nil
}

func (c *stubClient) calls() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.priceCalls, c.tierCalls
}

// countingCache wraps the in-process map cache used by TierTable tests.
type countingCache struct {
	mu      sync.Mutex
	entries map[string][]domain.VolumeTier
	sets    int
}

func newCountingCache() *countingCache {
	return &countingCache{entries: make(map[string][]domain.VolumeTier)}
}

func (c *countingCache) Get(_ context.Context, productID string) ([]domain.VolumeTier, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tiers, ok := c.entries[productID]
	return tiers, ok, nil
}

func (c *countingCache) Set(_ context.Context, productID string, tiers []domain.VolumeTier, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[productID] = tiers
	c.sets++
	return nil
}

func cartWith(items ...domain.LineItem) domain.CartState {
	return domain.CartState{Jurisdiction: "ON", Items: items}
}

func widgetLine(qty int) domain.LineItem {
	return domain.LineItem{
		ID:        "line-1",
		ProductID: "prod-widget",
		UnitPrice: dec("10.00"),
		Quantity:  qty,
		Taxable:   true,
	}
}

func TestStoreDiscardsAfterCustomerChange(t *testing.T) {
	adjuster := NewAdjuster(nil, nil, time.Minute)
	adjuster.wanted["prod-widget"] = 10
	adjuster.customerID = "cust-1"

	// A fetch issued for the old customer lands after the switch.
	adjuster.customerID = "cust-2"
	adjuster.store("cust-1", "prod-widget", 10, domain.VolumePrice{UnitPrice: dec("9.00"), Applies: true})

	if _, ok := adjuster.VolumePriceFor("prod-widget", 10); ok {
		t.Fatalf("stale price for the previous customer was stored")
	}
}

func TestStoreDiscardsProductNoLongerWanted(t *testing.T) {
	adjuster := NewAdjuster(nil, nil, time.Minute)
	adjuster.store("", "prod-widget", 10, domain.VolumePrice{UnitPrice: dec("9.00"), Applies: true})

	if _, ok := adjuster.VolumePriceFor("prod-widget", 10); ok {
		t.Fatalf("price stored for a product not in the cart")
	}
}

func TestStoreDiscardsAfterClose(t *testing.T) {
	adjuster := NewAdjuster(nil, nil, time.Minute)
	adjuster.wanted["prod-widget"] = 10
	adjuster.Close()

	adjuster.store("", "prod-widget", 10, domain.VolumePrice{UnitPrice: dec("9.00"), Applies: true})
	if _, ok := adjuster.VolumePriceFor("prod-widget", 10); ok {
		t.Fatalf("closed adjuster accepted a price")
	}
}

func TestStoreDiscardsSupersededQuantity(t *testing.T) {
	client := &stubClient{prices: map[string]domain.VolumePrice{
		"prod-widget": {ProductID: "prod-widget", UnitPrice: dec("8.50"), Applies: true},
	}}
	adjuster := NewAdjuster(client, nil, time.Minute)

	adjuster.Refresh(context.Background(), cartWith(widgetLine(25)))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := adjuster.VolumePriceFor("prod-widget", 25); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A fetch issued back when the line held qty 5 arrives late. It must not
	// replace the price fetched for the current quantity.
	adjuster.store("", "prod-widget", 5, domain.VolumePrice{UnitPrice: dec("9.50"), Applies: true})

	price, ok := adjuster.VolumePriceFor("prod-widget", 25)
	if !ok || !price.Equal(dec("8.50")) {
		t.Fatalf("stale quantity response overwrote the current price: %s ok=%v", price.String(), ok)
	}
}

func TestVolumePriceForIgnoresNonApplying(t *testing.T) {
	adjuster := NewAdjuster(nil, nil, time.Minute)
	adjuster.wanted["prod-widget"] = 2
	adjuster.store("", "prod-widget", 2, domain.VolumePrice{UnitPrice: dec("10.00"), Applies: false})

	if _, ok := adjuster.VolumePriceFor("prod-widget", 2); ok {
		t.Fatalf("non-applying price must read as no volume price")
	}
}

func TestRefreshFetchesAndServesPrice(t *testing.T) {
	client := &stubClient{prices: map[string]domain.VolumePrice{
		"prod-widget": {ProductID: "prod-widget", UnitPrice: dec("9.00"), Applies: true},
	}}
	adjuster := NewAdjuster(client, nil, time.Minute)

	adjuster.Refresh(context.Background(), cartWith(widgetLine(10)))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if price, ok := adjuster.VolumePriceFor("prod-widget", 10); ok {
			if !price.Equal(dec("9.00")) {
				t.Fatalf("wrong volume price: %s", price.String())
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("volume price never arrived")
}

func TestRefreshSkipsOverriddenLines(t *testing.T) {
	client := &stubClient{prices: map[string]domain.VolumePrice{}}
	adjuster := NewAdjuster(client, nil, time.Minute)

	line := widgetLine(10)
	line.PriceOverride = true
	adjuster.Refresh(context.Background(), cartWith(line))

	adjuster.mu.RLock()
	_, wanted := adjuster.wanted["prod-widget"]
	adjuster.mu.RUnlock()
	if wanted {
		t.Fatalf("overridden line should not be volume priced")
	}
}

func TestRefreshEmptyCartClearsPrices(t *testing.T) {
	adjuster := NewAdjuster(nil, nil, time.Minute)
	adjuster.wanted["prod-widget"] = 10
	adjuster.store("", "prod-widget", 10, domain.VolumePrice{UnitPrice: dec("9.00"), Applies: true})

	adjuster.Refresh(context.Background(), cartWith())

	if _, ok := adjuster.VolumePriceFor("prod-widget", 10); ok {
		t.Fatalf("empty cart should drop cached prices")
	}
}

func TestTierTableSortsAndCaches(t *testing.T) {
	client := &stubClient{tiers: map[string][]domain.VolumeTier{
		"prod-widget": {
			{MinQty: 25, UnitPrice: dec("8.50")},
			{MinQty: 5, MaxQty: 9, UnitPrice: dec("9.50")},
			{MinQty: 10, MaxQty: 24, UnitPrice: dec("9.00")},
		},
	}}
	cache := newCountingCache()
	adjuster := NewAdjuster(client, cache, time.Minute)

	tiers, err := adjuster.TierTable(context.Background(), "prod-widget")
	if err != nil {
		t.Fatalf("tier table: %v", err)
	}
	if len(tiers) != 3 || tiers[0].MinQty != 5 || tiers[2].MinQty != 25 {
		t.Fatalf("tiers not sorted ascending: %+v", tiers)
	}

	// Second read comes from the cache.
	if _, err := adjuster.TierTable(context.Background(), "prod-widget"); err != nil {
		t.Fatalf("tier table (cached): %v", err)
	}
	if _, tierCalls := client.calls(); tierCalls != 1 {
		t.Fatalf("expected 1 backend fetch, got %d", tierCalls)
	}
	if cache.sets != 1 {
		t.Fatalf("expected 1 cache write, got %d", cache.sets)
	}
}

func TestCurrentTierTieResolvesToLargerMinQty(t *testing.T) {
	tiers := []domain.VolumeTier{
		{MinQty: 1, MaxQty: 10, UnitPrice: dec("9.50")},
		{MinQty: 10, MaxQty: 24, UnitPrice: dec("9.00")},
	}

	tier, ok := CurrentTier(tiers, 10)
	if !ok || tier.MinQty != 10 {
		t.Fatalf("boundary qty should land in the larger-MinQty tier, got %+v", tier)
	}

	tier, ok = CurrentTier(tiers, 30)
	if ok {
		t.Fatalf("qty outside every band matched %+v", tier)
	}
}

func TestCurrentTierOpenEndedBand(t *testing.T) {
	tiers := []domain.VolumeTier{
		{MinQty: 25, MaxQty: 0, UnitPrice: dec("8.50")},
	}
	if _, ok := CurrentTier(tiers, 24); ok {
		t.Fatalf("qty below MinQty matched")
	}
	if tier, ok := CurrentTier(tiers, 500); !ok || !tier.UnitPrice.Equal(dec("8.50")) {
		t.Fatalf("open-ended band should contain any qty above MinQty")
	}
}

func TestNextTierHint(t *testing.T) {
	client := &stubClient{tiers: map[string][]domain.VolumeTier{
		"prod-widget": {
			{MinQty: 5, MaxQty: 9, UnitPrice: dec("9.50"), DiscountPct: dec("5")},
			{MinQty: 10, MaxQty: 24, UnitPrice: dec("9.00"), DiscountPct: dec("10")},
		},
	}}
	adjuster := NewAdjuster(client, nil, time.Minute)

	hint, err := adjuster.NextTier(context.Background(), "prod-widget", 7)
	if err != nil {
		t.Fatalf("next tier: %v", err)
	}
	if hint == nil || hint.UnitsNeeded != 3 || hint.MinQty != 10 || !hint.UnitPrice.Equal(dec("9.00")) {
		t.Fatalf("unexpected hint: %+v", hint)
	}

	// At the top tier there is nothing left to suggest.
	hint, err = adjuster.NextTier(context.Background(), "prod-widget", 30)
	if err != nil || hint != nil {
		t.Fatalf("expected no hint at top tier, got %+v %v", hint, err)
	}
}
