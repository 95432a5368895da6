// Package memory is an in-process stand-in for the backend collaborators,
// used by tests and by dev mode when no backend URL is configured.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/backend"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/xid"
)

// Service implements every backend client interface against in-memory state.
type Service struct {
	mu              sync.RWMutex
	profile         domain.TierProfile
	budgetReady     bool
	escalationsByID map[string]*domain.Escalation
	escalationOrder []string
	tiersByProduct  map[string][]domain.VolumeTier
	voided          map[string]string
	transactions    map[string]domain.TransactionPayload

	// Failure toggles for degradation tests.
	FailVolume bool
	FailVoid   bool
	FailSettle bool
}

func NewSeeded() *Service {
	return &Service{
		profile: domain.TierProfile{
			Tier: domain.DiscountTier{
				HighMarginThreshold:      decimal.NewFromInt(40),
				MaxDiscountPctHighMargin: decimal.NewFromInt(15),
				MaxDiscountPctStandard:   decimal.NewFromInt(10),
				MinMarginFloorPct:        decimal.NewFromInt(5),
			},
			Budget: domain.Budget{
				TotalBudget: decimal.NewFromInt(500),
				Used:        decimal.Zero,
			},
		},
		escalationsByID: make(map[string]*domain.Escalation),
		tiersByProduct: map[string][]domain.VolumeTier{
			"prod-widget": {
				{MinQty: 5, MaxQty: 9, UnitPrice: decimal.NewFromFloat(9.50), DiscountPct: decimal.NewFromInt(5)},
				{MinQty: 10, MaxQty: 24, UnitPrice: decimal.NewFromFloat(9.00), DiscountPct: decimal.NewFromInt(10)},
				{MinQty: 25, MaxQty: 0, UnitPrice: decimal.NewFromFloat(8.50), DiscountPct: decimal.NewFromInt(15)},
			},
		},
		voided:       make(map[string]string),
		transactions: make(map[string]domain.TransactionPayload),
	}
}

// SetProfile replaces the caller's tier profile (test hook).
func (s *Service) SetProfile(profile domain.TierProfile) {
	s.mu.Lock()
	s.profile = profile
	s.mu.Unlock()
}

// SetVolumeTiers replaces a product's tier table (test hook).
func (s *Service) SetVolumeTiers(productID string, tiers []domain.VolumeTier) {
	s.mu.Lock()
	s.tiersByProduct[productID] = tiers
	s.mu.Unlock()
}

func (s *Service) GetMyTier(_ context.Context) (domain.TierProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile, nil
}

func (s *Service) InitializeBudget(_ context.Context) error {
	s.mu.Lock()
	s.budgetReady = true
	s.mu.Unlock()
	return nil
}

func (s *Service) ValidateDiscount(_ context.Context, productID string, pct decimal.Decimal) (domain.DiscountValidation, error) {
	if productID == "" {
		return domain.DiscountValidation{}, fmt.Errorf("%w: product id required", backend.ErrRejected)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ceiling := s.profile.Tier.MaxDiscountPctStandard
	if s.profile.Tier.IsUnrestricted {
		ceiling = decimal.NewFromInt(50)
	}
	if pct.GreaterThan(ceiling) {
		return domain.DiscountValidation{
			Allowed: false,
			Reason:  fmt.Sprintf("discount %s%% exceeds authorized ceiling %s%%", pct.String(), ceiling.String()),
		}, nil
	}
	if s.profile.Budget.Remaining().LessThanOrEqual(decimal.Zero) {
		return domain.DiscountValidation{Allowed: false, Reason: "weekly discount budget exhausted"}, nil
	}
	return domain.DiscountValidation{Allowed: true}, nil
}

func (s *Service) ApplyDiscount(_ context.Context, record domain.AppliedDiscountRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profile.Budget.Used = s.profile.Budget.Used.Add(record.DiscountAmount)
	return nil
}

func (s *Service) SubmitEscalation(_ context.Context, req domain.EscalationRequest) (domain.Escalation, error) {
	if req.Reason == "" {
		return domain.Escalation{}, fmt.Errorf("%w: justification required", backend.ErrRejected)
	}

	esc := domain.Escalation{
		ID:                   xid.New("esc"),
		ProductID:            req.ProductID,
		RequestedDiscountPct: req.DiscountPct,
		Reason:               req.Reason,
		MarginAfterDiscount:  req.MarginAfter,
		CommissionImpact:     req.CommissionImpact,
		Status:               domain.EscalationPending,
	}

	s.mu.Lock()
	s.escalationsByID[esc.ID] = &esc
	s.escalationOrder = append(s.escalationOrder, esc.ID)
	s.mu.Unlock()

	created := esc
	return created, nil
}

func (s *Service) GetMyEscalations(_ context.Context) ([]domain.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Escalation, 0, len(s.escalationOrder))
	for _, id := range s.escalationOrder {
		out = append(out, *s.escalationsByID[id])
	}
	return out, nil
}

func (s *Service) GetPendingEscalations(_ context.Context) ([]domain.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Escalation, 0, len(s.escalationOrder))
	for _, id := range s.escalationOrder {
		if esc := s.escalationsByID[id]; esc.Status == domain.EscalationPending {
			out = append(out, *esc)
		}
	}
	return out, nil
}

func (s *Service) ApproveEscalation(_ context.Context, id string, notes string) error {
	return s.review(id, domain.EscalationApproved, notes)
}

func (s *Service) DenyEscalation(_ context.Context, id string, reason string) error {
	return s.review(id, domain.EscalationDenied, reason)
}

// ExpireEscalation forces an escalation to expired (test hook for the
// time-based transition the real backend performs). Pending and
// approved-but-unused escalations both expire; consumed ones never do.
func (s *Service) ExpireEscalation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	esc, ok := s.escalationsByID[id]
	if !ok {
		return fmt.Errorf("%w: escalation %s", backend.ErrNotFound, id)
	}
	if esc.UsedInTransactionID != "" {
		return fmt.Errorf("%w: escalation already consumed", backend.ErrRejected)
	}

	now := time.Now().UTC()
	esc.Status = domain.EscalationExpired
	esc.ReviewedAt = &now
	return nil
}

func (s *Service) review(id string, status string, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	esc, ok := s.escalationsByID[id]
	if !ok {
		return fmt.Errorf("%w: escalation %s", backend.ErrNotFound, id)
	}
	if esc.Status != domain.EscalationPending {
		return fmt.Errorf("%w: escalation already %s", backend.ErrRejected, esc.Status)
	}

	now := time.Now().UTC()
	esc.Status = status
	esc.ReviewedAt = &now
	esc.ReviewerName = "manager"
	_ = note
	return nil
}

func (s *Service) MarkEscalationUsed(_ context.Context, id string, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	esc, ok := s.escalationsByID[id]
	if !ok {
		return fmt.Errorf("%w: escalation %s", backend.ErrNotFound, id)
	}
	if esc.Status != domain.EscalationApproved {
		return fmt.Errorf("%w: only approved escalations can be consumed", backend.ErrRejected)
	}
	if esc.UsedInTransactionID != "" && esc.UsedInTransactionID != transactionID {
		return fmt.Errorf("%w: escalation already consumed", backend.ErrRejected)
	}
	esc.UsedInTransactionID = transactionID
	return nil
}

func (s *Service) VolumePrice(_ context.Context, productID string, _ string, qty int) (domain.VolumePrice, error) {
	if s.FailVolume {
		return domain.VolumePrice{}, backend.ErrUnavailable
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var current *domain.VolumeTier
	for i, tier := range s.tiersByProduct[productID] {
		if tier.Contains(qty) {
			current = &s.tiersByProduct[productID][i]
		}
	}
	if current == nil {
		return domain.VolumePrice{ProductID: productID}, nil
	}
	return domain.VolumePrice{
		ProductID: productID,
		UnitPrice: current.UnitPrice,
		Applies:   true,
	}, nil
}

func (s *Service) VolumeTiers(_ context.Context, productID string) ([]domain.VolumeTier, error) {
	if s.FailVolume {
		return nil, backend.ErrUnavailable
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tiers := s.tiersByProduct[productID]
	out := make([]domain.VolumeTier, len(tiers))
	copy(out, tiers)
	return out, nil
}

func (s *Service) Void(_ context.Context, assessmentID string, reason string) error {
	if s.FailVoid {
		return backend.ErrUnavailable
	}

	s.mu.Lock()
	s.voided[assessmentID] = reason
	s.mu.Unlock()
	return nil
}

// Voided reports whether an assessment was voided server-side (test hook).
func (s *Service) Voided(assessmentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.voided[assessmentID]
	return ok
}

func (s *Service) CreateTransaction(_ context.Context, payload domain.TransactionPayload) (domain.SettlementResult, error) {
	if s.FailSettle {
		return domain.SettlementResult{}, backend.ErrUnavailable
	}
	if len(payload.Items) == 0 {
		return domain.SettlementResult{}, fmt.Errorf("%w: transaction has no items", backend.ErrRejected)
	}

	id := xid.New("tx")
	s.mu.Lock()
	s.transactions[id] = payload
	s.mu.Unlock()

	return domain.SettlementResult{TransactionID: id}, nil
}

// Transaction returns a stored settlement payload (test hook).
func (s *Service) Transaction(id string) (domain.TransactionPayload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.transactions[id]
	return payload, ok
}
