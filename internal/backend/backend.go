// Package backend defines the contracts with the remote collaborator
// services. Shape only: transport lives in the http and memory
// implementations underneath.
package backend

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrRejected marks an authoritative refusal (validation failed, action
	// not allowed). The wrapped message carries the server's reason.
	ErrRejected    = errors.New("rejected by backend")
	ErrUnavailable = errors.New("backend unavailable")
)

// AuthorityClient is the discount-authority service: tier and budget reads,
// discount validation, and the escalation lifecycle.
type AuthorityClient interface {
	GetMyTier(ctx context.Context) (domain.TierProfile, error)
	InitializeBudget(ctx context.Context) error
	ValidateDiscount(ctx context.Context, productID string, pct decimal.Decimal) (domain.DiscountValidation, error)
	ApplyDiscount(ctx context.Context, record domain.AppliedDiscountRecord) error
	SubmitEscalation(ctx context.Context, req domain.EscalationRequest) (domain.Escalation, error)
	GetMyEscalations(ctx context.Context) ([]domain.Escalation, error)
	GetPendingEscalations(ctx context.Context) ([]domain.Escalation, error)
	ApproveEscalation(ctx context.Context, id string, notes string) error
	DenyEscalation(ctx context.Context, id string, reason string) error
	MarkEscalationUsed(ctx context.Context, id string, transactionID string) error
}

// PricingClient is the volume-pricing service.
type PricingClient interface {
	VolumePrice(ctx context.Context, productID string, customerID string, qty int) (domain.VolumePrice, error)
	VolumeTiers(ctx context.Context, productID string) ([]domain.VolumeTier, error)
}

// TradeInClient voids assessments server-side. Best-effort: local removal
// proceeds even when the void fails.
type TradeInClient interface {
	Void(ctx context.Context, assessmentID string, reason string) error
}

// SettlementClient finalizes a transaction payload.
type SettlementClient interface {
	CreateTransaction(ctx context.Context, payload domain.TransactionPayload) (domain.SettlementResult, error)
}
