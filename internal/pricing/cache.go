package pricing

import (
	"context"
	"time"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
)

// TierCache holds per-product volume tier tables for a bounded time so the
// register does not refetch them on every advisory prompt.
type TierCache interface {
	Get(ctx context.Context, productID string) ([]domain.VolumeTier, bool, error)
	Set(ctx context.Context, productID string, tiers []domain.VolumeTier, ttl time.Duration) error
}

type NoopTierCache struct{}

func (NoopTierCache) Get(_ context.Context, _ string) ([]domain.VolumeTier, bool, error) {
	return nil, false, nil
}

func (NoopTierCache) Set(_ context.Context, _ string, _ []domain.VolumeTier, _ time.Duration) error {
	return nil
}
