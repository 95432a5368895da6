// Package register orchestrates a terminal session: one active cart, the
// held-cart shelf, volume pricing, discount authority, escalation polling and
// checkout. It is the only package the HTTP layer talks to.
package register

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/assemble"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/authority"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/backend"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/cart"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/localstate"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/pricing"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/totals"
)

var ErrInvalidOperation = errors.New("invalid operation")

// oneCent is the tender reconciliation tolerance.
var oneCent = decimal.New(1, -2)

const notificationBuffer = 50

// View is what the register screen renders: the cart plus its derived totals.
type View struct {
	Cart   domain.CartState `json:"cart"`
	Totals domain.Totals    `json:"totals"`
}

type Service struct {
	carts      *cart.Manager
	held       *cart.HeldManager
	adjuster   *pricing.Adjuster
	engine     *authority.Engine
	poller     *authority.Poller
	authority  backend.AuthorityClient
	settle     backend.SettlementClient
	state      localstate.Store
	terminalID string
	storeID    string

	mu            sync.Mutex
	notifications []authority.Event
}

func New(
	carts *cart.Manager,
	held *cart.HeldManager,
	adjuster *pricing.Adjuster,
	engine *authority.Engine,
	authorityClient backend.AuthorityClient,
	settle backend.SettlementClient,
	state localstate.Store,
	terminalID string,
	storeID string,
	pollInterval time.Duration,
) *Service {
	s := &Service{
		carts:      carts,
		held:       held,
		adjuster:   adjuster,
		engine:     engine,
		authority:  authorityClient,
		settle:     settle,
		state:      state,
		terminalID: terminalID,
		storeID:    storeID,
	}
	s.poller = authority.NewPoller(authorityClient, pollInterval, s.onEscalationEvent, s.onEscalationDead)
	return s
}

// StartSession loads the salesperson's authority profile and begins
// escalation polling. Managers also watch the pending review queue.
func (s *Service) StartSession(ctx context.Context, actor domain.Actor) error {
	if err := s.engine.LoadProfile(ctx); err != nil {
		return fmt.Errorf("load authority profile: %w", err)
	}
	if err := s.carts.SetSalesperson(actor.SalespersonID); err != nil {
		return err
	}
	// The poll loop outlives the sign-on request that started it.
	s.poller.Start(context.WithoutCancel(ctx), actor.Manager())
	s.refreshPricing(ctx)
	return nil
}

func (s *Service) StopSession() {
	s.poller.Stop()
	s.adjuster.Close()
}

// CurrentView computes totals for the active cart.
func (s *Service) CurrentView() View {
	state := s.carts.Current()
	return View{Cart: state, Totals: totals.Compute(state, s.adjuster)}
}

func (s *Service) Profile() (domain.TierProfile, bool) {
	return s.engine.Profile()
}

func (s *Service) refreshPricing(ctx context.Context) {
	s.adjuster.Refresh(ctx, s.carts.Current())
}

// --- cart mutations ------------------------------------------------------

func (s *Service) AddItem(ctx context.Context, item domain.LineItem) (domain.LineItem, error) {
	added, err := s.carts.AddItem(item)
	if err != nil {
		return domain.LineItem{}, err
	}
	s.refreshPricing(ctx)
	return added, nil
}

func (s *Service) RemoveItem(ctx context.Context, lineItemID string) error {
	if err := s.carts.RemoveItem(lineItemID); err != nil {
		return err
	}
	s.refreshPricing(ctx)
	return nil
}

func (s *Service) UpdateQuantity(ctx context.Context, lineItemID string, qty int) error {
	if err := s.carts.UpdateQuantity(lineItemID, qty); err != nil {
		return err
	}
	s.refreshPricing(ctx)
	return nil
}

func (s *Service) SetItemPrice(ctx context.Context, lineItemID string, price decimal.Decimal, reason string) error {
	if err := s.carts.SetItemPrice(lineItemID, price, reason); err != nil {
		return err
	}
	s.refreshPricing(ctx)
	return nil
}

func (s *Service) SetItemSerial(lineItemID, serial string) error {
	return s.carts.SetItemSerial(lineItemID, serial)
}

func (s *Service) SetCustomer(ctx context.Context, customer domain.Customer) error {
	if err := s.carts.SetCustomer(customer); err != nil {
		return err
	}
	s.refreshPricing(ctx)
	return nil
}

func (s *Service) ClearCustomer(ctx context.Context) error {
	if err := s.carts.ClearCustomer(); err != nil {
		return err
	}
	s.refreshPricing(ctx)
	return nil
}

func (s *Service) SetCartDiscount(amount decimal.Decimal, reason string) error {
	return s.carts.SetCartDiscount(amount, reason)
}

func (s *Service) ClearCartDiscount() error { return s.carts.ClearCartDiscount() }

func (s *Service) ApplyPromotion(promo domain.Promotion) error { return s.carts.ApplyPromotion(promo) }

func (s *Service) ClearPromotion() error { return s.carts.ClearPromotion() }

func (s *Service) SetFulfillment(f domain.Fulfillment) error { return s.carts.SetFulfillment(f) }

func (s *Service) ClearFulfillment() error { return s.carts.ClearFulfillment() }

func (s *Service) SetCommissionSplit(split *domain.CommissionSplit) error {
	return s.carts.SetCommissionSplit(split)
}

func (s *Service) AddTradeIn(tradeIn domain.TradeIn) error { return s.carts.AddTradeIn(tradeIn) }

func (s *Service) RemoveTradeIn(ctx context.Context, assessmentID, reason string) error {
	return s.carts.RemoveTradeIn(ctx, assessmentID, reason)
}

func (s *Service) ClearTradeIns(ctx context.Context) error {
	return s.carts.ClearTradeIns(ctx, "removed at terminal")
}

func (s *Service) SetJurisdiction(code string) error { return s.carts.SetJurisdiction(code) }

func (s *Service) LoadFromQuote(ctx context.Context, quote domain.Quote) error {
	if err := s.carts.LoadFromQuote(quote); err != nil {
		return err
	}
	s.refreshPricing(ctx)
	return nil
}

func (s *Service) ClearCart(ctx context.Context) error {
	if err := s.carts.ClearCart(); err != nil {
		return err
	}
	s.refreshPricing(ctx)
	return nil
}

// --- held carts ----------------------------------------------------------

func (s *Service) HoldCart(ctx context.Context, label string) (domain.HeldCart, error) {
	held, err := s.held.Hold(ctx, label)
	if err != nil {
		return domain.HeldCart{}, err
	}
	s.refreshPricing(ctx)
	return held, nil
}

func (s *Service) RecallCart(ctx context.Context, heldID string) (domain.CartState, error) {
	recalled, err := s.held.Recall(ctx, heldID)
	if err != nil {
		return domain.CartState{}, err
	}
	s.refreshPricing(ctx)
	return recalled, nil
}

func (s *Service) HeldCarts() []domain.HeldCart { return s.held.List() }

func (s *Service) DeleteHeldCart(ctx context.Context, heldID string) error {
	return s.held.Delete(ctx, heldID)
}

func (s *Service) ClearHeldCarts(ctx context.Context) error {
	return s.held.ClearAll(ctx)
}

// --- pricing -------------------------------------------------------------

func (s *Service) VolumeTiers(ctx context.Context, productID string) ([]domain.VolumeTier, error) {
	return s.adjuster.TierTable(ctx, productID)
}

func (s *Service) NextTierHint(ctx context.Context, productID string, qty int) (*domain.NextTierHint, error) {
	return s.adjuster.NextTier(ctx, productID, qty)
}

// --- discount authority --------------------------------------------------

// DiscountPreview is what the salesperson sees before committing a discount.
type DiscountPreview struct {
	Ceiling          decimal.Decimal `json:"ceiling_pct"`
	LineTotal        decimal.Decimal `json:"line_total"`
	MarginAfter      decimal.Decimal `json:"margin_after_pct"`
	CommissionImpact decimal.Decimal `json:"commission_impact"`
	BudgetRemaining  decimal.Decimal `json:"budget_remaining"`
}

func (s *Service) PreviewDiscount(lineItemID string, pct decimal.Decimal) (DiscountPreview, error) {
	item, err := s.findItem(lineItemID)
	if err != nil {
		return DiscountPreview{}, err
	}
	ceiling, err := s.engine.CeilingFor(item)
	if err != nil {
		return DiscountPreview{}, err
	}

	proposed := item
	proposed.DiscountPercent = pct
	preview := DiscountPreview{
		Ceiling:          ceiling,
		LineTotal:        totals.LineTotal(proposed, s.adjuster),
		MarginAfter:      authority.MarginAfterDiscount(item.UnitPrice, item.UnitCost, pct),
		CommissionImpact: s.engine.CommissionImpact(item.UnitPrice, pct),
	}
	if profile, ok := s.engine.Profile(); ok {
		preview.BudgetRemaining = profile.Budget.Remaining()
	}
	return preview, nil
}

// ApplyDiscount runs the full authorization path: local ceiling, server
// validation, commit, budget consumption. The cart is untouched unless the
// server allowed the discount.
func (s *Service) ApplyDiscount(ctx context.Context, lineItemID string, pct decimal.Decimal) error {
	item, err := s.findItem(lineItemID)
	if err != nil {
		return err
	}
	if err := s.engine.ValidateProposal(ctx, item, pct); err != nil {
		return err
	}
	if err := s.carts.ApplyItemDiscount(lineItemID, pct, ""); err != nil {
		return err
	}

	state := s.carts.Current()
	amount := item.UnitPrice.Mul(pct).Div(decimal.NewFromInt(100)).
		Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)
	record := domain.AppliedDiscountRecord{
		ProductID:      item.ProductID,
		LineItemID:     lineItemID,
		DiscountPct:    pct,
		DiscountAmount: amount,
		SalespersonID:  state.SalespersonID,
	}
	if err := s.engine.RecordApplied(ctx, record); err != nil {
		// The discount stands; budget reconciles on the next refresh.
		log.Printf("[register] WARN: discount applied but budget record failed: %v", err)
	}
	return nil
}

func (s *Service) ClearDiscount(lineItemID string) error {
	return s.carts.ApplyItemDiscount(lineItemID, decimal.Zero, "")
}

// RequestEscalation submits an over-ceiling discount for review. The cart is
// not modified; approval arrives through polling.
func (s *Service) RequestEscalation(ctx context.Context, lineItemID string, pct decimal.Decimal, reason string) (domain.Escalation, error) {
	item, err := s.findItem(lineItemID)
	if err != nil {
		return domain.Escalation{}, err
	}
	req, err := s.engine.BuildEscalation(item, pct, reason)
	if err != nil {
		return domain.Escalation{}, err
	}
	return s.engine.SubmitEscalation(ctx, req)
}

// ApplyEscalation writes an approved escalation's discount onto a line. Only
// approved-and-unused escalations qualify.
func (s *Service) ApplyEscalation(ctx context.Context, lineItemID, escalationID string) error {
	esc, err := s.findEscalation(ctx, escalationID)
	if err != nil {
		return err
	}
	if err := authority.CheckApplicable(esc); err != nil {
		return err
	}
	item, err := s.findItem(lineItemID)
	if err != nil {
		return err
	}
	if esc.ProductID != "" && esc.ProductID != item.ProductID {
		return fmt.Errorf("%w: escalation was approved for a different product", ErrInvalidOperation)
	}
	// One escalation backs at most one line at a time.
	for _, line := range s.carts.Current().Items {
		if line.SourceEscalationID == esc.ID && line.ID != lineItemID {
			return fmt.Errorf("%w: escalation already backs another line", ErrInvalidOperation)
		}
	}

	if err := s.carts.ApplyItemDiscount(lineItemID, esc.RequestedDiscountPct, esc.ID); err != nil {
		return err
	}
	s.poller.Dismiss(esc.ID)
	return nil
}

func (s *Service) MyEscalations(ctx context.Context) ([]domain.Escalation, error) {
	return s.authority.GetMyEscalations(ctx)
}

// --- manager review ------------------------------------------------------

func (s *Service) PendingEscalations(ctx context.Context, actor domain.Actor) ([]domain.Escalation, error) {
	if !actor.Manager() {
		return nil, fmt.Errorf("%w: manager role required", ErrInvalidOperation)
	}
	return s.authority.GetPendingEscalations(ctx)
}

func (s *Service) ApproveEscalation(ctx context.Context, actor domain.Actor, id, notes string) error {
	if !actor.Manager() {
		return fmt.Errorf("%w: manager role required", ErrInvalidOperation)
	}
	return s.authority.ApproveEscalation(ctx, id, notes)
}

func (s *Service) DenyEscalation(ctx context.Context, actor domain.Actor, id, reason string) error {
	if !actor.Manager() {
		return fmt.Errorf("%w: manager role required", ErrInvalidOperation)
	}
	return s.authority.DenyEscalation(ctx, id, reason)
}

// --- notifications -------------------------------------------------------

// onEscalationEvent is the poller's notification callback; it only feeds the
// UI queue. Revocation runs through onEscalationDead.
func (s *Service) onEscalationEvent(event authority.Event) {
	s.mu.Lock()
	s.notifications = append(s.notifications, event)
	if len(s.notifications) > notificationBuffer {
		s.notifications = s.notifications[len(s.notifications)-notificationBuffer:]
	}
	s.mu.Unlock()
}

// onEscalationDead fires on every poll tick for each denied or expired
// escalation, whatever the notification policy decided. A recovered cart
// carrying a discount from a long-dead escalation sheds it on the first tick
// after sign-on.
func (s *Service) onEscalationDead(esc domain.Escalation) {
	s.revokeEscalatedDiscount(esc.ID)
}

// revokeEscalatedDiscount zeroes any line discount sourced from a now
// denied or expired escalation.
func (s *Service) revokeEscalatedDiscount(escalationID string) {
	state := s.carts.Current()
	for _, item := range state.Items {
		if item.SourceEscalationID == escalationID && item.DiscountPercent.IsPositive() {
			if err := s.carts.ApplyItemDiscount(item.ID, decimal.Zero, ""); err != nil {
				log.Printf("[register] WARN: revoke discount on line %s failed: %v", item.ID, err)
			}
		}
	}
}

// Notifications drains the queued escalation events, oldest first.
func (s *Service) Notifications() []authority.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.notifications
	s.notifications = nil
	return out
}

func (s *Service) DismissNotification(escalationID string) {
	s.poller.Dismiss(escalationID)
}

// --- checkout ------------------------------------------------------------

// Checkout settles the sale. Totals are recomputed from fresh state at the
// moment of settlement; tendered payments must reconcile to the amount to pay
// within a cent.
func (s *Service) Checkout(ctx context.Context, payments []domain.Payment) (domain.SettlementResult, error) {
	state := s.carts.Current()
	if state.Empty() {
		return domain.SettlementResult{}, fmt.Errorf("%w: cart is empty", ErrInvalidOperation)
	}
	if state.SalespersonID == "" {
		return domain.SettlementResult{}, fmt.Errorf("%w: no salesperson on the sale", ErrInvalidOperation)
	}
	if _, ok := s.engine.Profile(); !ok {
		return domain.SettlementResult{}, fmt.Errorf("%w: discount tier not loaded", ErrInvalidOperation)
	}

	tot := totals.Compute(state, s.adjuster)
	tendered := decimal.Zero
	for _, payment := range payments {
		if payment.Amount.IsNegative() {
			return domain.SettlementResult{}, fmt.Errorf("%w: negative payment amount", ErrInvalidOperation)
		}
		tendered = tendered.Add(payment.Amount)
	}
	if tendered.Sub(tot.AmountToPay).Abs().GreaterThan(oneCent) {
		return domain.SettlementResult{}, fmt.Errorf("%w: payments total %s, amount to pay is %s",
			ErrInvalidOperation, tendered.Round(2).String(), tot.AmountToPay.String())
	}

	payload := assemble.Transaction(state, tot, payments, s.adjuster)
	payload.TerminalID = s.terminalID
	payload.StoreID = s.storeID
	result, err := s.settle.CreateTransaction(ctx, payload)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	if result.Totals.OrderTotal.IsZero() {
		result.Totals = tot
	}

	// Post-settlement bookkeeping is best-effort: the sale is already final.
	for _, escalationID := range assemble.UsedEscalationIDs(state) {
		if err := s.authority.MarkEscalationUsed(ctx, escalationID, result.TransactionID); err != nil {
			log.Printf("[register] WARN: mark escalation %s used failed: %v", escalationID, err)
		}
	}
	for _, item := range state.Items {
		if err := s.state.IncrementFavorite(ctx, item.ProductID, int64(item.Quantity)); err != nil {
			log.Printf("[register] WARN: favorite counter update failed: %v", err)
		}
	}

	if err := s.carts.ClearCart(); err != nil {
		log.Printf("[register] WARN: cart clear after settlement failed: %v", err)
	}
	s.refreshPricing(ctx)
	return result, nil
}

func (s *Service) Favorites(ctx context.Context, limit int) ([]domain.Favorite, error) {
	return s.state.TopFavorites(ctx, limit)
}

// --- helpers -------------------------------------------------------------

func (s *Service) findItem(lineItemID string) (domain.LineItem, error) {
	state := s.carts.Current()
	for _, item := range state.Items {
		if item.ID == lineItemID {
			return item, nil
		}
	}
	return domain.LineItem{}, fmt.Errorf("%w: %s", cart.ErrItemNotFound, lineItemID)
}

func (s *Service) findEscalation(ctx context.Context, escalationID string) (domain.Escalation, error) {
	escalations, err := s.authority.GetMyEscalations(ctx)
	if err != nil {
		return domain.Escalation{}, err
	}
	for _, esc := range escalations {
		if esc.ID == escalationID {
			return esc, nil
		}
	}
	return domain.Escalation{}, fmt.Errorf("%w: escalation %s", backend.ErrNotFound, escalationID)
}
