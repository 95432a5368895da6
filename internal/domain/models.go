package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is a single sellable row in the active cart. Serialized items are
// never merged; fungible items merge by product id on add.
type LineItem struct {
	ID                  string          `json:"id"`
	ProductID           string          `json:"product_id"`
	ProductName         string          `json:"product_name"`
	SKU                 string          `json:"sku"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	UnitCost            decimal.Decimal `json:"unit_cost"`
	Quantity            int             `json:"quantity"`
	DiscountPercent     decimal.Decimal `json:"discount_percent"`
	Taxable             bool            `json:"taxable"`
	SerialNumber        string          `json:"serial_number,omitempty"`
	PriceOverride       bool            `json:"price_override,omitempty"`
	PriceOverrideReason string          `json:"price_override_reason,omitempty"`
	SourceEscalationID  string          `json:"source_escalation_id,omitempty"`
}

func (i LineItem) Serialized() bool {
	return i.SerialNumber != ""
}

type Customer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type CartDiscount struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason,omitempty"`
}

type Promotion struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

type CommissionSplit struct {
	SecondSalespersonID string          `json:"second_salesperson_id"`
	SplitPercent        decimal.Decimal `json:"split_percent"`
}

type Fulfillment struct {
	Type        string          `json:"type"`
	Fee         decimal.Decimal `json:"fee"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	Address     string          `json:"address,omitempty"`
}

type TradeIn struct {
	ID               string          `json:"id"`
	Brand            string          `json:"brand"`
	Model            string          `json:"model"`
	Condition        string          `json:"condition"`
	FinalValue       decimal.Decimal `json:"final_value"`
	RequiresApproval bool            `json:"requires_approval"`
	Status           string          `json:"status"`
}

// CartState is the unit of persistence and of hold/recall. Exactly one is
// active per session. Items and TradeIns keep insertion order.
type CartState struct {
	Items           []LineItem       `json:"items"`
	Customer        *Customer        `json:"customer,omitempty"`
	QuoteID         string           `json:"quote_id,omitempty"`
	Discount        CartDiscount     `json:"discount"`
	Promotion       *Promotion       `json:"promotion,omitempty"`
	Jurisdiction    string           `json:"jurisdiction"`
	SalespersonID   string           `json:"salesperson_id"`
	CommissionSplit *CommissionSplit `json:"commission_split,omitempty"`
	Fulfillment     *Fulfillment     `json:"fulfillment,omitempty"`
	TradeIns        []TradeIn        `json:"trade_ins"`
}

// Empty reports whether the cart has neither items nor trade-ins.
func (c CartState) Empty() bool {
	return len(c.Items) == 0 && len(c.TradeIns) == 0
}

// DiscountTier is a salesperson's discount-authority profile. Immutable per
// session; refreshed from the backend after escalation outcomes.
type DiscountTier struct {
	IsUnrestricted           bool            `json:"is_unrestricted"`
	HighMarginThreshold      decimal.Decimal `json:"high_margin_threshold"`
	MaxDiscountPctHighMargin decimal.Decimal `json:"max_discount_pct_high_margin"`
	MaxDiscountPctStandard   decimal.Decimal `json:"max_discount_pct_standard"`
	MinMarginFloorPct        decimal.Decimal `json:"min_margin_floor_pct"`
}

// Budget is the salesperson's rolling discount budget. Server-authoritative:
// the client re-fetches rather than decrementing a local copy.
type Budget struct {
	TotalBudget decimal.Decimal `json:"total_budget_dollars"`
	Used        decimal.Decimal `json:"used_dollars"`
}

func (b Budget) Remaining() decimal.Decimal {
	return b.TotalBudget.Sub(b.Used)
}

// TierProfile is what the discount-authority service returns for the caller.
type TierProfile struct {
	Tier   DiscountTier `json:"tier"`
	Budget Budget       `json:"budget"`
}

type Escalation struct {
	ID                   string          `json:"id"`
	ProductID            string          `json:"product_id"`
	RequestedDiscountPct decimal.Decimal `json:"requested_discount_pct"`
	Reason               string          `json:"reason"`
	MarginAfterDiscount  decimal.Decimal `json:"margin_after_discount"`
	CommissionImpact     decimal.Decimal `json:"commission_impact"`
	Status               string          `json:"status"`
	ReviewerName         string          `json:"reviewer_name,omitempty"`
	ReviewedAt           *time.Time      `json:"reviewed_at,omitempty"`
	UsedInTransactionID  string          `json:"used_in_transaction_id,omitempty"`
}

// ApprovedUnused reports whether the escalation is directly applicable.
func (e Escalation) ApprovedUnused() bool {
	return e.Status == EscalationApproved && e.UsedInTransactionID == ""
}

type EscalationRequest struct {
	ProductID        string          `json:"product_id"`
	DiscountPct      decimal.Decimal `json:"discount_pct"`
	Reason           string          `json:"reason"`
	MarginAfter      decimal.Decimal `json:"margin_after"`
	CommissionImpact decimal.Decimal `json:"commission_impact"`
}

type DiscountValidation struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// AppliedDiscountRecord is reported to the backend after a discount commits,
// so the server can consume budget and keep its audit trail.
type AppliedDiscountRecord struct {
	ProductID      string          `json:"product_id"`
	LineItemID     string          `json:"line_item_id"`
	DiscountPct    decimal.Decimal `json:"discount_pct"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	EscalationID   string          `json:"escalation_id,omitempty"`
	SalespersonID  string          `json:"salesperson_id"`
}

// VolumeTier is a quantity-break pricing rule for a product. MaxQty of zero
// means the tier is unbounded above.
type VolumeTier struct {
	MinQty      int             `json:"min_qty"`
	MaxQty      int             `json:"max_qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
}

// Contains reports whether qty falls inside the tier's quantity band.
func (t VolumeTier) Contains(qty int) bool {
	if qty < t.MinQty {
		return false
	}
	return t.MaxQty == 0 || qty <= t.MaxQty
}

type VolumePrice struct {
	ProductID string          `json:"product_id"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Applies   bool            `json:"applies"`
}

// NextTierHint is advisory only: shown to the salesperson, never auto-applied.
type NextTierHint struct {
	UnitsNeeded int             `json:"units_needed"`
	MinQty      int             `json:"min_qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
}

// Totals is derived from CartState on every read and never stored.
type Totals struct {
	ItemCount             int             `json:"item_count"`
	Subtotal              decimal.Decimal `json:"subtotal"`
	ItemDiscountTotal     decimal.Decimal `json:"item_discount_total"`
	CartDiscount          decimal.Decimal `json:"cart_discount"`
	PromoDiscount         decimal.Decimal `json:"promo_discount"`
	DiscountTotal         decimal.Decimal `json:"discount_total"`
	SubtotalAfterDiscount decimal.Decimal `json:"subtotal_after_discount"`
	Hst                   decimal.Decimal `json:"hst"`
	Gst                   decimal.Decimal `json:"gst"`
	Pst                   decimal.Decimal `json:"pst"`
	TotalTax              decimal.Decimal `json:"total_tax"`
	DeliveryFee           decimal.Decimal `json:"delivery_fee"`
	OrderTotal            decimal.Decimal `json:"order_total"`
	TradeInTotal          decimal.Decimal `json:"trade_in_total"`
	TradeInExcess         decimal.Decimal `json:"trade_in_excess"`
	AmountToPay           decimal.Decimal `json:"amount_to_pay"`
	TotalCost             decimal.Decimal `json:"total_cost"`
	Margin                decimal.Decimal `json:"margin"`
	MarginPercent         decimal.Decimal `json:"margin_percent"`
}

// HeldCart is a frozen copy of a CartState plus its totals at hold time.
type HeldCart struct {
	ID     string    `json:"id"`
	Label  string    `json:"label"`
	HeldAt time.Time `json:"held_at"`
	Cart   CartState `json:"cart"`
	Totals Totals    `json:"totals"`
}

type Payment struct {
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

type TradeInCredit struct {
	AssessmentID string          `json:"assessment_id"`
	CreditAmount decimal.Decimal `json:"credit_amount"`
}

type PayloadItem struct {
	ProductID       string          `json:"product_id"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	SerialNumber    string          `json:"serial_number,omitempty"`
	Taxable         bool            `json:"taxable"`
}

// TransactionPayload is the sole contract with the settlement backend.
// Internal-only fields (tier ceilings, cached tier tables) never appear here.
type TransactionPayload struct {
	TerminalID      string           `json:"terminal_id,omitempty"`
	StoreID         string           `json:"store_id,omitempty"`
	CustomerID      string           `json:"customer_id,omitempty"`
	QuoteID         string           `json:"quote_id,omitempty"`
	SalespersonID   string           `json:"salesperson_id"`
	Jurisdiction    string           `json:"jurisdiction"`
	Items           []PayloadItem    `json:"items"`
	Payments        []Payment        `json:"payments"`
	Discount        *CartDiscount    `json:"discount,omitempty"`
	Promotion       *Promotion       `json:"promotion,omitempty"`
	Fulfillment     *Fulfillment     `json:"fulfillment,omitempty"`
	TradeInCredits  []TradeInCredit  `json:"trade_in_credits,omitempty"`
	CommissionSplit *CommissionSplit `json:"commission_split,omitempty"`
	TradeInTotal    decimal.Decimal  `json:"trade_in_total"`
	AmountToPay     decimal.Decimal  `json:"amount_to_pay"`
}

type SettlementResult struct {
	TransactionID string `json:"transaction_id"`
	Totals        Totals `json:"totals"`
}

// Quote is the provenance a cart can be loaded from, replacing it atomically.
type Quote struct {
	ID            string       `json:"id"`
	Customer      *Customer    `json:"customer,omitempty"`
	SalespersonID string       `json:"salesperson_id"`
	Items         []LineItem   `json:"items"`
	Discount      CartDiscount `json:"discount"`
}

type Favorite struct {
	ProductID string `json:"product_id"`
	Count     int64  `json:"count"`
}

type Actor struct {
	SalespersonID string
	Role          string
}

func (a Actor) Manager() bool {
	return a.Role == RoleManager
}

const (
	RoleSales   = "sales"
	RoleManager = "manager"
)

const (
	EscalationPending  = "pending"
	EscalationApproved = "approved"
	EscalationDenied   = "denied"
	EscalationExpired  = "expired"
)

const (
	TradeInPending  = "pending"
	TradeInApproved = "approved"
	TradeInApplied  = "applied"
	TradeInRejected = "rejected"
	TradeInVoided   = "voided"
)

const (
	FulfillmentPickup   = "pickup"
	FulfillmentDelivery = "delivery"
)
