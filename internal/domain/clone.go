package domain

// Clone returns a deep copy of the cart. Mutating the copy never affects the
// original; hold/recall and the read-latest accessor depend on this.
func (c CartState) Clone() CartState {
	out := c
	if len(c.Items) > 0 {
		out.Items = make([]LineItem, len(c.Items))
		copy(out.Items, c.Items)
	}
	if len(c.TradeIns) > 0 {
		out.TradeIns = make([]TradeIn, len(c.TradeIns))
		copy(out.TradeIns, c.TradeIns)
	}
	if c.Customer != nil {
		cust := *c.Customer
		out.Customer = &cust
	}
	if c.Promotion != nil {
		promo := *c.Promotion
		out.Promotion = &promo
	}
	if c.CommissionSplit != nil {
		split := *c.CommissionSplit
		out.CommissionSplit = &split
	}
	if c.Fulfillment != nil {
		ful := *c.Fulfillment
		if c.Fulfillment.ScheduledAt != nil {
			at := *c.Fulfillment.ScheduledAt
			ful.ScheduledAt = &at
		}
		out.Fulfillment = &ful
	}
	return out
}
