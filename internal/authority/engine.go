// Package authority enforces who may discount how much. The engine computes
// the local ceiling for a line item, previews margin and commission impact,
// and fronts the server-side validation that every discount must pass before
// it touches the cart. The local ceiling is advisory UX; the server is the
// gate.
package authority

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/backend"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
)

var (
	ErrNoTier                = errors.New("discount tier not loaded")
	ErrExceedsCeiling        = errors.New("discount exceeds authorized ceiling")
	ErrJustificationRequired = errors.New("escalation justification required")
	ErrNotApplicable         = errors.New("escalation is not applicable")
)

// UnrestrictedCeilingPct is the fixed ceiling for unrestricted tiers.
var UnrestrictedCeilingPct = decimal.NewFromInt(50)

var hundred = decimal.NewFromInt(100)

type Engine struct {
	client         backend.AuthorityClient
	commissionRate decimal.Decimal // fraction, e.g. 0.05

	mu      sync.RWMutex
	profile *domain.TierProfile
}

// NewEngine builds an engine with the advisory commission rate given in
// percent (5 means 5%).
func NewEngine(client backend.AuthorityClient, commissionRatePct decimal.Decimal) *Engine {
	if commissionRatePct.LessThanOrEqual(decimal.Zero) {
		commissionRatePct = decimal.NewFromInt(5)
	}
	return &Engine{
		client:         client,
		commissionRate: commissionRatePct.Div(hundred),
	}
}

// LoadProfile fetches the caller's tier and budget and ensures the budget
// record exists server-side. Called once at session start.
func (e *Engine) LoadProfile(ctx context.Context) error {
	if err := e.client.InitializeBudget(ctx); err != nil {
		return err
	}
	return e.RefreshProfile(ctx)
}

// RefreshProfile re-reads tier and budget. Budget is server-authoritative, so
// this runs after every accepted discount instead of decrementing locally.
func (e *Engine) RefreshProfile(ctx context.Context) error {
	profile, err := e.client.GetMyTier(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.profile = &profile
	e.mu.Unlock()
	return nil
}

func (e *Engine) Profile() (domain.TierProfile, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.profile == nil {
		return domain.TierProfile{}, false
	}
	return *e.profile, true
}

// Ceiling computes the legal discount ceiling for a price/cost pair under a
// tier. The result is a percentage floored at zero.
func Ceiling(price, cost decimal.Decimal, tier domain.DiscountTier) decimal.Decimal {
	if tier.IsUnrestricted {
		return UnrestrictedCeilingPct
	}
	if !price.IsPositive() {
		return decimal.Zero
	}

	marginBeforePct := price.Sub(cost).Div(price).Mul(hundred)

	tierCeiling := tier.MaxDiscountPctStandard
	if marginBeforePct.GreaterThanOrEqual(tier.HighMarginThreshold) {
		tierCeiling = tier.MaxDiscountPctHighMargin
	}

	// The cost floor keeps the sale price above cost*(1+floor%). With no cost
	// on file the floor ceiling is 100% and the tier ceiling wins.
	floorMultiplier := decimal.NewFromInt(1).Add(tier.MinMarginFloorPct.Div(hundred))
	costFloorCeiling := price.Sub(cost.Mul(floorMultiplier)).Div(price).Mul(hundred)

	ceiling := tierCeiling
	if costFloorCeiling.LessThan(ceiling) {
		ceiling = costFloorCeiling
	}
	if ceiling.IsNegative() {
		return decimal.Zero
	}
	return ceiling
}

// CeilingFor evaluates the loaded tier against a line item.
func (e *Engine) CeilingFor(item domain.LineItem) (decimal.Decimal, error) {
	profile, ok := e.Profile()
	if !ok {
		return decimal.Zero, ErrNoTier
	}
	return Ceiling(item.UnitPrice, item.UnitCost, profile.Tier), nil
}

// MarginAfterDiscount is the per-unit margin percentage once pct is applied.
func MarginAfterDiscount(price, cost, pct decimal.Decimal) decimal.Decimal {
	discounted := price.Mul(hundred.Sub(pct)).Div(hundred)
	if !discounted.IsPositive() {
		return decimal.Zero
	}
	return discounted.Sub(cost).Div(discounted).Mul(hundred).Round(2)
}

// CommissionImpact previews what the discount costs the salesperson in
// commission, at the configured default rate. Advisory only; payroll owns
// the real number.
func (e *Engine) CommissionImpact(price, pct decimal.Decimal) decimal.Decimal {
	discounted := price.Mul(hundred.Sub(pct)).Div(hundred)
	return price.Mul(e.commissionRate).Sub(discounted.Mul(e.commissionRate)).Round(2)
}

// ValidateProposal gates a proposed discount: local ceiling first, then the
// mandatory server-side validation. Any rejection returns ErrRejected (or
// ErrExceedsCeiling) and the caller must not mutate the cart.
func (e *Engine) ValidateProposal(ctx context.Context, item domain.LineItem, pct decimal.Decimal) error {
	ceiling, err := e.CeilingFor(item)
	if err != nil {
		return err
	}
	if pct.GreaterThan(ceiling) {
		return fmt.Errorf("%w: %s%% > %s%%", ErrExceedsCeiling, pct.String(), ceiling.String())
	}

	validation, err := e.client.ValidateDiscount(ctx, item.ProductID, pct)
	if err != nil {
		return err
	}
	if !validation.Allowed {
		reason := validation.Reason
		if reason == "" {
			reason = "discount not authorized"
		}
		return fmt.Errorf("%w: %s", backend.ErrRejected, reason)
	}
	return nil
}

// RecordApplied reports a committed discount so the server consumes budget,
// then refreshes the authoritative budget copy.
func (e *Engine) RecordApplied(ctx context.Context, record domain.AppliedDiscountRecord) error {
	if err := e.client.ApplyDiscount(ctx, record); err != nil {
		return err
	}
	return e.RefreshProfile(ctx)
}

// BuildEscalation assembles the escalation request for an over-ceiling
// proposal, including the margin and commission previews the reviewer sees.
func (e *Engine) BuildEscalation(item domain.LineItem, pct decimal.Decimal, reason string) (domain.EscalationRequest, error) {
	if reason == "" {
		return domain.EscalationRequest{}, ErrJustificationRequired
	}
	ceiling, err := e.CeilingFor(item)
	if err != nil {
		return domain.EscalationRequest{}, err
	}
	if pct.LessThanOrEqual(ceiling) {
		return domain.EscalationRequest{}, fmt.Errorf("%w: %s%% is within the %s%% ceiling, apply it directly",
			ErrNotApplicable, pct.String(), ceiling.String())
	}

	return domain.EscalationRequest{
		ProductID:        item.ProductID,
		DiscountPct:      pct,
		Reason:           reason,
		MarginAfter:      MarginAfterDiscount(item.UnitPrice, item.UnitCost, pct),
		CommissionImpact: e.CommissionImpact(item.UnitPrice, pct),
	}, nil
}

// SubmitEscalation creates the pending request server-side. The cart is not
// touched: approval arrives later through polling.
func (e *Engine) SubmitEscalation(ctx context.Context, req domain.EscalationRequest) (domain.Escalation, error) {
	return e.client.SubmitEscalation(ctx, req)
}

// CheckApplicable verifies an escalation may back a discount right now:
// approved and not yet consumed.
func CheckApplicable(esc domain.Escalation) error {
	switch {
	case esc.ApprovedUnused():
		return nil
	case esc.Status == domain.EscalationPending:
		return fmt.Errorf("%w: still pending review", ErrNotApplicable)
	case esc.UsedInTransactionID != "":
		return fmt.Errorf("%w: already consumed in transaction %s", ErrNotApplicable, esc.UsedInTransactionID)
	default:
		return fmt.Errorf("%w: escalation is %s", ErrNotApplicable, esc.Status)
	}
}
