// Package totals turns a cart state into a totals record. Pure and
// deterministic: identical inputs always produce identical output, and no
// function here returns an error. Inputs are clamped at the mutation
// boundary before they ever reach this package.
package totals

import (
	"github.com/shopspring/decimal"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/tax"
)

// PriceSource resolves a volume-adjusted unit price for a product at a given
// quantity. Implemented by the pricing adjuster; a nil source prices
// everything at base.
type PriceSource interface {
	VolumePriceFor(productID string, qty int) (decimal.Decimal, bool)
}

var (
	hundred = decimal.NewFromInt(100)
)

// EffectiveUnitPrice is the price a line item actually sells at: the
// volume-adjusted price when one applies, else the base price. Manual price
// overrides always suppress volume adjustment.
func EffectiveUnitPrice(item domain.LineItem, volume PriceSource) decimal.Decimal {
	if item.PriceOverride || volume == nil {
		return item.UnitPrice
	}
	if adjusted, ok := volume.VolumePriceFor(item.ProductID, item.Quantity); ok {
		return adjusted
	}
	return item.UnitPrice
}

// LineTotal is the item's amount after its own discount, rounded to cents.
func LineTotal(item domain.LineItem, volume PriceSource) decimal.Decimal {
	amount := EffectiveUnitPrice(item, volume).Mul(decimal.NewFromInt(int64(item.Quantity)))
	discount := amount.Mul(item.DiscountPercent).Div(hundred).Round(2)
	return amount.Round(2).Sub(discount)
}

// Compute derives the full totals record from a cart. Every publishable total
// is rounded to 2 decimal places as it is produced, matching cent-level
// register behavior rather than rounding once at the end.
func Compute(cart domain.CartState, volume PriceSource) domain.Totals {
	var t domain.Totals

	subtotal := decimal.Zero
	taxableSubtotal := decimal.Zero
	itemDiscountTotal := decimal.Zero
	totalCost := decimal.Zero

	for _, item := range cart.Items {
		qty := decimal.NewFromInt(int64(item.Quantity))
		amount := EffectiveUnitPrice(item, volume).Mul(qty).Round(2)
		discount := amount.Mul(item.DiscountPercent).Div(hundred).Round(2)
		lineTotal := amount.Sub(discount)

		t.ItemCount += item.Quantity
		subtotal = subtotal.Add(lineTotal)
		itemDiscountTotal = itemDiscountTotal.Add(discount)
		if item.Taxable {
			taxableSubtotal = taxableSubtotal.Add(lineTotal)
		}
		if item.UnitCost.IsPositive() {
			totalCost = totalCost.Add(item.UnitCost.Mul(qty))
		}
	}

	t.Subtotal = subtotal.Round(2)
	t.ItemDiscountTotal = itemDiscountTotal.Round(2)
	t.TotalCost = totalCost.Round(2)

	// Cart and promo discounts subtract from the subtotal, floored at zero
	// before tax. The promo is capped by whatever the cart discount left.
	t.CartDiscount = capDiscount(cart.Discount.Amount, t.Subtotal)
	remaining := t.Subtotal.Sub(t.CartDiscount)
	if cart.Promotion != nil {
		t.PromoDiscount = capDiscount(cart.Promotion.DiscountAmount, remaining)
	} else {
		t.PromoDiscount = decimal.Zero.Round(2)
	}
	t.DiscountTotal = t.ItemDiscountTotal.Add(t.CartDiscount).Add(t.PromoDiscount).Round(2)
	t.SubtotalAfterDiscount = t.Subtotal.Sub(t.CartDiscount).Sub(t.PromoDiscount).Round(2)

	// Cart-level discounts reduce the taxable base pro rata to the taxable
	// share of the subtotal, so non-taxable lines never shelter taxable ones.
	taxBase := taxableSubtotal
	if t.Subtotal.IsPositive() && taxableSubtotal.IsPositive() {
		cartLevel := t.CartDiscount.Add(t.PromoDiscount)
		share := cartLevel.Mul(taxableSubtotal).Div(t.Subtotal).Round(2)
		taxBase = taxableSubtotal.Sub(share)
	}
	if taxBase.IsNegative() {
		taxBase = decimal.Zero
	}

	t.Hst, t.Gst, t.Pst = computeTax(cart.Jurisdiction, taxBase)
	t.TotalTax = t.Hst.Add(t.Gst).Add(t.Pst).Round(2)

	if cart.Fulfillment != nil {
		t.DeliveryFee = cart.Fulfillment.Fee.Round(2)
	} else {
		t.DeliveryFee = decimal.Zero.Round(2)
	}

	t.OrderTotal = t.SubtotalAfterDiscount.Add(t.TotalTax).Add(t.DeliveryFee).Round(2)

	tradeInSum := decimal.Zero
	for _, trade := range cart.TradeIns {
		if trade.Status == domain.TradeInRejected || trade.Status == domain.TradeInVoided {
			continue
		}
		tradeInSum = tradeInSum.Add(trade.FinalValue)
	}
	tradeInSum = tradeInSum.Round(2)

	// Credit is capped at the order total; excess is reported separately and
	// never rolled over. The amount to pay can never go negative.
	if tradeInSum.GreaterThan(t.OrderTotal) {
		t.TradeInTotal = t.OrderTotal
		t.TradeInExcess = tradeInSum.Sub(t.OrderTotal).Round(2)
	} else {
		t.TradeInTotal = tradeInSum
		t.TradeInExcess = decimal.Zero.Round(2)
	}
	t.AmountToPay = t.OrderTotal.Sub(t.TradeInTotal).Round(2)

	t.Margin = t.SubtotalAfterDiscount.Sub(t.TotalCost).Round(2)
	if t.SubtotalAfterDiscount.IsPositive() {
		t.MarginPercent = t.Margin.Mul(hundred).Div(t.SubtotalAfterDiscount).Round(2)
	} else {
		t.MarginPercent = decimal.Zero.Round(2)
	}

	return t
}

func capDiscount(amount, limit decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero.Round(2)
	}
	if amount.GreaterThan(limit) {
		return limit.Round(2)
	}
	return amount.Round(2)
}

// computeTax evaluates the jurisdiction's components against the taxable
// base. Components are evaluated in table order so a compounding provincial
// component sees the federal amount already computed.
func computeTax(jurisdiction string, taxBase decimal.Decimal) (hst, gst, pst decimal.Decimal) {
	hst, gst, pst = decimal.Zero.Round(2), decimal.Zero.Round(2), decimal.Zero.Round(2)

	comp := tax.Lookup(jurisdiction)
	for _, component := range comp.Components {
		base := taxBase
		if component.CompoundOnFederal {
			base = taxBase.Add(gst)
		}
		amount := base.Mul(component.Rate).Round(2)
		switch component.Name {
		case tax.ComponentHST:
			hst = amount
		case tax.ComponentGST:
			gst = amount
		case tax.ComponentPST:
			pst = amount
		}
	}
	return hst, gst, pst
}
