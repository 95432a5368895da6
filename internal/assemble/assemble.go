// Package assemble projects a cart into the settlement contract. The
// projection is pure and lossy on purpose: terminal-internal fields (ceiling
// math, cached tier tables, override audit text) never cross the wire.
package assemble

import (
	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/totals"
)

// Transaction builds the settlement payload from a cart, its computed totals,
// and the tendered payments. Item prices are the effective charged prices,
// volume-adjusted where an adjustment applied. It never mutates the cart.
func Transaction(cart domain.CartState, tot domain.Totals, payments []domain.Payment, volume totals.PriceSource) domain.TransactionPayload {
	payload := domain.TransactionPayload{
		QuoteID:       cart.QuoteID,
		SalespersonID: cart.SalespersonID,
		Jurisdiction:  cart.Jurisdiction,
		Items:         make([]domain.PayloadItem, len(cart.Items)),
		Payments:      append([]domain.Payment(nil), payments...),
		TradeInTotal:  tot.TradeInTotal,
		AmountToPay:   tot.AmountToPay,
	}

	if cart.Customer != nil {
		payload.CustomerID = cart.Customer.ID
	}
	if cart.Discount.Amount.IsPositive() {
		discount := cart.Discount
		payload.Discount = &discount
	}
	if cart.Promotion != nil {
		promo := *cart.Promotion
		payload.Promotion = &promo
	}
	if cart.Fulfillment != nil {
		fulfillment := *cart.Fulfillment
		if cart.Fulfillment.ScheduledAt != nil {
			at := *cart.Fulfillment.ScheduledAt
			fulfillment.ScheduledAt = &at
		}
		payload.Fulfillment = &fulfillment
	}
	if cart.CommissionSplit != nil {
		split := *cart.CommissionSplit
		payload.CommissionSplit = &split
	}

	for i, item := range cart.Items {
		payload.Items[i] = domain.PayloadItem{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			UnitPrice:       totals.EffectiveUnitPrice(item, volume),
			UnitCost:        item.UnitCost,
			DiscountPercent: item.DiscountPercent,
			SerialNumber:    item.SerialNumber,
			Taxable:         item.Taxable,
		}
	}

	for _, tradeIn := range cart.TradeIns {
		// Matches the totals calculation: dead assessments carry no credit.
		if tradeIn.Status == domain.TradeInRejected || tradeIn.Status == domain.TradeInVoided {
			continue
		}
		payload.TradeInCredits = append(payload.TradeInCredits, domain.TradeInCredit{
			AssessmentID: tradeIn.ID,
			CreditAmount: tradeIn.FinalValue,
		})
	}
	return payload
}

// UsedEscalationIDs lists the distinct escalations backing line discounts,
// for the post-settlement consumption pass.
func UsedEscalationIDs(cart domain.CartState) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, item := range cart.Items {
		id := item.SourceEscalationID
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
