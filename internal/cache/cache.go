package cache

import (
	"context"
	"time"

	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/domain"
)

// ReceiptCache fronts receipt lookups. Receipts are immutable once written, so
// entries never need invalidation, only expiry.
type ReceiptCache interface {
	Get(ctx context.Context, saleID string) (*domain.Receipt, bool, error)
	Set(ctx context.Context, saleID string, receipt *domain.Receipt, ttl time.Duration) error
}

type NoopReceiptCache struct{}

func (NoopReceiptCache) Get(_ context.Context, _ string) (*domain.Receipt, bool, error) {
	return nil, false, nil
}

func (NoopReceiptCache) Set(_ context.Context, _ string, _ *domain.Receipt, _ time.Duration) error {
	return nil
}
