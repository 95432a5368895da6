package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	backendmemory "github.com/millerdave152-droid/quotation-app-sub010/internal/backend/memory"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/localstate"
	statememory "github.com/millerdave152-droid/quotation-app-sub010/internal/localstate/memory"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestManager(t *testing.T) (*Manager, localstate.Store, *backendmemory.Service) {
	t.Helper()
	store := statememory.New()
	svc := backendmemory.NewSeeded()
	manager, err := NewManager(context.Background(), store, svc, "ON")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager, store, svc
}

// waitForSnapshot polls the store until the saved snapshot satisfies check.
// Snapshots are written asynchronously after each mutation.
func waitForSnapshot(t *testing.T, store localstate.Store, check func(domain.CartState) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snapshot, err := store.LoadCartSnapshot(context.Background())
		if err == nil && check(snapshot) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("snapshot never reached expected state")
}

func widget() domain.LineItem {
	return domain.LineItem{
		ProductID:   "prod-widget",
		ProductName: "Widget",
		UnitPrice:   dec("10.00"),
		UnitCost:    dec("6.00"),
		Quantity:    1,
		Taxable:     true,
	}
}

func TestAddItemMergesFungibleLines(t *testing.T) {
	manager, _, _ := newTestManager(t)

	first, err := manager.AddItem(widget())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	second, err := manager.AddItem(widget())
	if err != nil {
		t.Fatalf("add again: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("fungible add should merge into the same line")
	}
	state := manager.Current()
	if len(state.Items) != 1 || state.Items[0].Quantity != 2 {
		t.Fatalf("expected one merged line with qty 2, got %+v", state.Items)
	}
}

func TestAddItemSerializedNeverMerges(t *testing.T) {
	manager, _, _ := newTestManager(t)

	serialized := widget()
	serialized.SerialNumber = "SN-001"
	if _, err := manager.AddItem(serialized); err != nil {
		t.Fatalf("add serialized: %v", err)
	}
	serialized.SerialNumber = "SN-002"
	if _, err := manager.AddItem(serialized); err != nil {
		t.Fatalf("add second serialized: %v", err)
	}
	if _, err := manager.AddItem(widget()); err != nil {
		t.Fatalf("add fungible: %v", err)
	}

	state := manager.Current()
	if len(state.Items) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(state.Items))
	}
}

func TestUpdateQuantityBelowOneRemoves(t *testing.T) {
	manager, _, _ := newTestManager(t)

	added, _ := manager.AddItem(widget())
	if err := manager.UpdateQuantity(added.ID, 0); err != nil {
		t.Fatalf("update to zero: %v", err)
	}
	if !manager.Current().Empty() {
		t.Fatalf("cart should be empty after zero-quantity update")
	}
}

func TestApplyItemDiscountClamped(t *testing.T) {
	manager, _, _ := newTestManager(t)
	added, _ := manager.AddItem(widget())

	if err := manager.ApplyItemDiscount(added.ID, dec("150"), ""); err != nil {
		t.Fatalf("apply discount: %v", err)
	}
	if got := manager.Current().Items[0].DiscountPercent; !got.Equal(dec("100")) {
		t.Fatalf("discount should clamp to 100, got %s", got.String())
	}

	if err := manager.ApplyItemDiscount(added.ID, dec("-5"), ""); err != nil {
		t.Fatalf("apply negative discount: %v", err)
	}
	if got := manager.Current().Items[0].DiscountPercent; !got.Equal(decimal.Zero) {
		t.Fatalf("discount should clamp to 0, got %s", got.String())
	}
}

func TestSetItemPriceClearsDiscount(t *testing.T) {
	manager, _, _ := newTestManager(t)
	added, _ := manager.AddItem(widget())

	if err := manager.ApplyItemDiscount(added.ID, dec("10"), "esc-1"); err != nil {
		t.Fatalf("apply discount: %v", err)
	}
	if err := manager.SetItemPrice(added.ID, dec("8.50"), "damaged box"); err != nil {
		t.Fatalf("set price: %v", err)
	}

	item := manager.Current().Items[0]
	if !item.PriceOverride || item.PriceOverrideReason != "damaged box" {
		t.Fatalf("override flag/reason not recorded: %+v", item)
	}
	if !item.UnitPrice.Equal(dec("8.50")) {
		t.Fatalf("price not overridden: %s", item.UnitPrice.String())
	}
	if !item.DiscountPercent.Equal(decimal.Zero) || item.SourceEscalationID != "" {
		t.Fatalf("override must clear percentage discount and its source")
	}
}

func TestRemoveItemUnknownID(t *testing.T) {
	manager, _, _ := newTestManager(t)
	if err := manager.RemoveItem("line-missing"); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestTradeInDuplicateRejected(t *testing.T) {
	manager, _, _ := newTestManager(t)

	tradeIn := domain.TradeIn{ID: "assess-1", Brand: "Acme", FinalValue: dec("50.00"), Status: domain.TradeInApproved}
	if err := manager.AddTradeIn(tradeIn); err != nil {
		t.Fatalf("add trade-in: %v", err)
	}
	if err := manager.AddTradeIn(tradeIn); !errors.Is(err, ErrDuplicateTradeIn) {
		t.Fatalf("expected ErrDuplicateTradeIn, got %v", err)
	}
}

func TestRemoveTradeInVoidsServerSide(t *testing.T) {
	manager, _, svc := newTestManager(t)

	tradeIn := domain.TradeIn{ID: "assess-1", FinalValue: dec("50.00"), Status: domain.TradeInApproved}
	if err := manager.AddTradeIn(tradeIn); err != nil {
		t.Fatalf("add trade-in: %v", err)
	}
	if err := manager.RemoveTradeIn(context.Background(), "assess-1", "customer changed mind"); err != nil {
		t.Fatalf("remove trade-in: %v", err)
	}

	if len(manager.Current().TradeIns) != 0 {
		t.Fatalf("trade-in not removed locally")
	}
	if !svc.Voided("assess-1") {
		t.Fatalf("assessment not voided server-side")
	}
}

func TestRemoveTradeInSurvivesVoidFailure(t *testing.T) {
	manager, _, svc := newTestManager(t)
	svc.FailVoid = true

	tradeIn := domain.TradeIn{ID: "assess-1", FinalValue: dec("50.00"), Status: domain.TradeInApproved}
	if err := manager.AddTradeIn(tradeIn); err != nil {
		t.Fatalf("add trade-in: %v", err)
	}

	// The local removal stands even when the backend void fails.
	if err := manager.RemoveTradeIn(context.Background(), "assess-1", "oops"); err != nil {
		t.Fatalf("remove trade-in: %v", err)
	}
	if len(manager.Current().TradeIns) != 0 {
		t.Fatalf("trade-in not removed locally")
	}
}

func TestClearTradeInsVoidsEach(t *testing.T) {
	manager, _, svc := newTestManager(t)

	for _, id := range []string{"assess-1", "assess-2"} {
		tradeIn := domain.TradeIn{ID: id, FinalValue: dec("25.00"), Status: domain.TradeInApproved}
		if err := manager.AddTradeIn(tradeIn); err != nil {
			t.Fatalf("add trade-in %s: %v", id, err)
		}
	}

	if err := manager.ClearTradeIns(context.Background(), "removed at terminal"); err != nil {
		t.Fatalf("clear trade-ins: %v", err)
	}
	if len(manager.Current().TradeIns) != 0 {
		t.Fatalf("trade-ins not cleared")
	}
	if !svc.Voided("assess-1") || !svc.Voided("assess-2") {
		t.Fatalf("assessments not voided server-side")
	}
}

func TestSetJurisdictionValidation(t *testing.T) {
	manager, _, _ := newTestManager(t)

	if err := manager.SetJurisdiction("QC"); err != nil {
		t.Fatalf("set known jurisdiction: %v", err)
	}
	if err := manager.SetJurisdiction("ZZ"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown jurisdiction, got %v", err)
	}
	if got := manager.Current().Jurisdiction; got != "QC" {
		t.Fatalf("jurisdiction changed on invalid input: %s", got)
	}
}

func TestLoadFromQuoteReplacesCart(t *testing.T) {
	manager, _, _ := newTestManager(t)

	if _, err := manager.AddItem(widget()); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := manager.SetCustomer(domain.Customer{ID: "cust-old", Name: "Old"}); err != nil {
		t.Fatalf("set customer: %v", err)
	}

	quote := domain.Quote{
		ID:            "quote-1",
		Customer:      &domain.Customer{ID: "cust-new", Name: "New"},
		SalespersonID: "sp-2",
		Items: []domain.LineItem{
			{ProductID: "prod-sofa", ProductName: "Sofa", UnitPrice: dec("899.00"), Quantity: 1, Taxable: true},
		},
		Discount: domain.CartDiscount{Amount: dec("25.00"), Reason: "quote discount"},
	}
	if err := manager.LoadFromQuote(quote); err != nil {
		t.Fatalf("load from quote: %v", err)
	}

	state := manager.Current()
	if state.QuoteID != "quote-1" || state.Customer == nil || state.Customer.ID != "cust-new" {
		t.Fatalf("quote provenance not applied: %+v", state)
	}
	if len(state.Items) != 1 || state.Items[0].ProductID != "prod-sofa" {
		t.Fatalf("quote items did not replace cart: %+v", state.Items)
	}
	if state.Jurisdiction != "ON" {
		t.Fatalf("jurisdiction should survive quote load, got %s", state.Jurisdiction)
	}
	if state.Items[0].ID == "" {
		t.Fatalf("quote lines must receive fresh line ids")
	}
}

func TestSnapshotPersistedAfterMutation(t *testing.T) {
	manager, store, _ := newTestManager(t)

	added, err := manager.AddItem(widget())
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	waitForSnapshot(t, store, func(snapshot domain.CartState) bool {
		return len(snapshot.Items) == 1 && snapshot.Items[0].ID == added.ID
	})
}

// stallingStore delays saves of snapshots matching stall until released,
// modelling a slow persistence write racing a faster later one.
type stallingStore struct {
	localstate.Store
	stall   func(domain.CartState) bool
	release chan struct{}
}

func (s *stallingStore) SaveCartSnapshot(ctx context.Context, cart domain.CartState) error {
	if s.stall(cart) {
		<-s.release
	}
	return s.Store.SaveCartSnapshot(ctx, cart)
}

func TestSnapshotsNeverRegress(t *testing.T) {
	inner := statememory.New()
	store := &stallingStore{
		Store:   inner,
		stall:   func(cart domain.CartState) bool { return len(cart.Items) == 1 },
		release: make(chan struct{}),
	}
	manager, err := NewManager(context.Background(), store, backendmemory.NewSeeded(), "ON")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	// The first mutation's snapshot write stalls while the second completes.
	if _, err := manager.AddItem(widget()); err != nil {
		t.Fatalf("add first: %v", err)
	}
	second := widget()
	second.SerialNumber = "SN-1"
	if _, err := manager.AddItem(second); err != nil {
		t.Fatalf("add second: %v", err)
	}
	close(store.release)

	waitForSnapshot(t, inner, func(snapshot domain.CartState) bool {
		return len(snapshot.Items) == 2
	})

	// The stalled single-item snapshot must not land after the newer one.
	time.Sleep(50 * time.Millisecond)
	snapshot, err := inner.LoadCartSnapshot(context.Background())
	if err != nil || len(snapshot.Items) != 2 {
		t.Fatalf("durable snapshot regressed: %+v %v", snapshot.Items, err)
	}
}

func TestRecoveryFromSnapshot(t *testing.T) {
	store := statememory.New()
	svc := backendmemory.NewSeeded()

	saved := domain.CartState{
		Jurisdiction: "QC",
		Items: []domain.LineItem{
			{ID: "line-1", ProductID: "prod-widget", UnitPrice: dec("10.00"), Quantity: 3, Taxable: true},
		},
	}
	if err := store.SaveCartSnapshot(context.Background(), saved); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	manager, err := NewManager(context.Background(), store, svc, "ON")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	state := manager.Current()
	if state.Jurisdiction != "QC" || len(state.Items) != 1 || state.Items[0].Quantity != 3 {
		t.Fatalf("recovered state mismatch: %+v", state)
	}
}

func TestCurrentReturnsIsolatedCopy(t *testing.T) {
	manager, _, _ := newTestManager(t)
	if _, err := manager.AddItem(widget()); err != nil {
		t.Fatalf("add: %v", err)
	}

	leak := manager.Current()
	leak.Items[0].Quantity = 99

	if manager.Current().Items[0].Quantity == 99 {
		t.Fatalf("Current leaked internal state")
	}
}
