package authority

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/backend"
	backendmemory "github.com/millerdave152-droid/quotation-app-sub010/internal/backend/memory"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func standardTier() domain.DiscountTier {
	return domain.DiscountTier{
		HighMarginThreshold:      dec("40"),
		MaxDiscountPctHighMargin: dec("15"),
		MaxDiscountPctStandard:   dec("10"),
		MinMarginFloorPct:        dec("5"),
	}
}

func TestCeilingUnrestricted(t *testing.T) {
	tier := domain.DiscountTier{IsUnrestricted: true}
	got := Ceiling(dec("100"), dec("99"), tier)
	if !got.Equal(dec("50")) {
		t.Fatalf("unrestricted ceiling: got %s, want 50", got.String())
	}
}

func TestCeilingTierByMargin(t *testing.T) {
	tier := standardTier()

	// 30% margin is below the 40% threshold: standard ceiling applies.
	got := Ceiling(dec("100"), dec("70"), tier)
	if !got.Equal(dec("10")) {
		t.Fatalf("standard ceiling: got %s, want 10", got.String())
	}

	// 50% margin clears the threshold: high-margin ceiling applies.
	got = Ceiling(dec("100"), dec("50"), tier)
	if !got.Equal(dec("15")) {
		t.Fatalf("high-margin ceiling: got %s, want 15", got.String())
	}
}

func TestCeilingCostFloorWins(t *testing.T) {
	tier := standardTier()

	// Price 100, cost 95: the cost floor leaves almost no room.
	// (100 - 95*1.05)/100*100 = 0.25
	got := Ceiling(dec("100"), dec("95"), tier)
	if !got.Equal(dec("0.25")) {
		t.Fatalf("cost-floor ceiling: got %s, want 0.25", got.String())
	}
}

func TestCeilingNeverNegative(t *testing.T) {
	tier := standardTier()
	got := Ceiling(dec("100"), dec("100"), tier)
	if !got.Equal(decimal.Zero) {
		t.Fatalf("ceiling below cost: got %s, want 0", got.String())
	}
	got = Ceiling(decimal.Zero, dec("10"), tier)
	if !got.Equal(decimal.Zero) {
		t.Fatalf("zero price ceiling: got %s, want 0", got.String())
	}
}

func TestCeilingMonotonicInMarginFloor(t *testing.T) {
	price, cost := dec("100"), dec("80")
	previous := dec("100")
	for floor := 0; floor <= 25; floor += 5 {
		tier := standardTier()
		tier.MinMarginFloorPct = decimal.NewFromInt(int64(floor))
		ceiling := Ceiling(price, cost, tier)
		if ceiling.GreaterThan(previous) {
			t.Fatalf("ceiling rose from %s to %s as floor tightened to %d", previous.String(), ceiling.String(), floor)
		}
		previous = ceiling
	}
}

func TestMarginAfterDiscount(t *testing.T) {
	got := MarginAfterDiscount(dec("100"), dec("60"), dec("10"))
	// Discounted price 90, margin 30/90 = 33.33%.
	if !got.Equal(dec("33.33")) {
		t.Fatalf("margin after discount: got %s, want 33.33", got.String())
	}
}

func TestCommissionImpact(t *testing.T) {
	engine := NewEngine(nil, dec("5"))
	got := engine.CommissionImpact(dec("100"), dec("10"))
	// 5% of 100 minus 5% of 90.
	if !got.Equal(dec("0.50")) {
		t.Fatalf("commission impact: got %s, want 0.50", got.String())
	}
}

func TestValidateProposalRequiresLoadedTier(t *testing.T) {
	engine := NewEngine(backendmemory.NewSeeded(), dec("5"))
	item := domain.LineItem{ProductID: "prod-1", UnitPrice: dec("100"), UnitCost: dec("70")}
	err := engine.ValidateProposal(context.Background(), item, dec("5"))
	if !errors.Is(err, ErrNoTier) {
		t.Fatalf("expected ErrNoTier, got %v", err)
	}
}

func TestValidateProposalCeilingAndServer(t *testing.T) {
	svc := backendmemory.NewSeeded()
	engine := NewEngine(svc, dec("5"))
	if err := engine.LoadProfile(context.Background()); err != nil {
		t.Fatalf("load profile: %v", err)
	}

	item := domain.LineItem{ProductID: "prod-1", UnitPrice: dec("100"), UnitCost: dec("70")}

	if err := engine.ValidateProposal(context.Background(), item, dec("8")); err != nil {
		t.Fatalf("in-ceiling proposal rejected: %v", err)
	}

	err := engine.ValidateProposal(context.Background(), item, dec("12"))
	if !errors.Is(err, ErrExceedsCeiling) {
		t.Fatalf("expected ErrExceedsCeiling, got %v", err)
	}
}

func TestRecordAppliedRefreshesBudget(t *testing.T) {
	svc := backendmemory.NewSeeded()
	engine := NewEngine(svc, dec("5"))
	if err := engine.LoadProfile(context.Background()); err != nil {
		t.Fatalf("load profile: %v", err)
	}

	before, _ := engine.Profile()
	record := domain.AppliedDiscountRecord{
		ProductID:      "prod-1",
		LineItemID:     "line-1",
		DiscountPct:    dec("8"),
		DiscountAmount: dec("8.00"),
		SalespersonID:  "sp-1",
	}
	if err := engine.RecordApplied(context.Background(), record); err != nil {
		t.Fatalf("record applied: %v", err)
	}

	after, _ := engine.Profile()
	wantRemaining := before.Budget.Remaining().Sub(dec("8.00"))
	if !after.Budget.Remaining().Equal(wantRemaining) {
		t.Fatalf("budget remaining: got %s, want %s", after.Budget.Remaining().String(), wantRemaining.String())
	}
}

func TestBuildEscalationRequiresReasonAndOverCeiling(t *testing.T) {
	svc := backendmemory.NewSeeded()
	engine := NewEngine(svc, dec("5"))
	if err := engine.LoadProfile(context.Background()); err != nil {
		t.Fatalf("load profile: %v", err)
	}

	item := domain.LineItem{ProductID: "prod-1", UnitPrice: dec("100"), UnitCost: dec("70")}

	if _, err := engine.BuildEscalation(item, dec("15"), ""); !errors.Is(err, ErrJustificationRequired) {
		t.Fatalf("expected ErrJustificationRequired, got %v", err)
	}
	if _, err := engine.BuildEscalation(item, dec("8"), "price match"); !errors.Is(err, ErrNotApplicable) {
		t.Fatalf("expected ErrNotApplicable for in-ceiling request, got %v", err)
	}

	req, err := engine.BuildEscalation(item, dec("15"), "price match")
	if err != nil {
		t.Fatalf("build escalation: %v", err)
	}
	if !req.DiscountPct.Equal(dec("15")) || req.Reason != "price match" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestCheckApplicableLifecycle(t *testing.T) {
	esc := domain.Escalation{ID: "esc-1", Status: domain.EscalationPending}
	if err := CheckApplicable(esc); !errors.Is(err, ErrNotApplicable) {
		t.Fatalf("pending must not be applicable")
	}

	esc.Status = domain.EscalationApproved
	if err := CheckApplicable(esc); err != nil {
		t.Fatalf("approved unused must be applicable: %v", err)
	}

	esc.UsedInTransactionID = "tx-1"
	if err := CheckApplicable(esc); !errors.Is(err, ErrNotApplicable) {
		t.Fatalf("consumed escalation must not be applicable")
	}

	for _, status := range []string{domain.EscalationDenied, domain.EscalationExpired} {
		esc := domain.Escalation{ID: "esc-2", Status: status}
		if err := CheckApplicable(esc); !errors.Is(err, ErrNotApplicable) {
			t.Fatalf("%s escalation must not be applicable", status)
		}
	}
}

func TestEscalationConsumptionServerSide(t *testing.T) {
	svc := backendmemory.NewSeeded()
	engine := NewEngine(svc, dec("5"))
	if err := engine.LoadProfile(context.Background()); err != nil {
		t.Fatalf("load profile: %v", err)
	}

	item := domain.LineItem{ProductID: "prod-1", UnitPrice: dec("100"), UnitCost: dec("70")}
	req, err := engine.BuildEscalation(item, dec("15"), "price match")
	if err != nil {
		t.Fatalf("build escalation: %v", err)
	}
	esc, err := engine.SubmitEscalation(context.Background(), req)
	if err != nil {
		t.Fatalf("submit escalation: %v", err)
	}

	// Consuming before approval is rejected.
	err = svc.MarkEscalationUsed(context.Background(), esc.ID, "tx-1")
	if !errors.Is(err, backend.ErrRejected) {
		t.Fatalf("expected rejection for pending consumption, got %v", err)
	}

	if err := svc.ApproveEscalation(context.Background(), esc.ID, "ok"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := svc.MarkEscalationUsed(context.Background(), esc.ID, "tx-1"); err != nil {
		t.Fatalf("consume approved: %v", err)
	}

	// Re-consuming under a different transaction is rejected.
	err = svc.MarkEscalationUsed(context.Background(), esc.ID, "tx-2")
	if !errors.Is(err, backend.ErrRejected) {
		t.Fatalf("expected rejection for double consumption, got %v", err)
	}
}
