package cache

import (
	"context"
	"time"

	"github.com/tohirbeka1997-ops/poos/internal/domain"
)

type RestockCache interface {
	Get(ctx context.Context, key string) (*domain.RestockResponse, bool, error)
	Set(ctx context.Context, key string, value *domain.RestockResponse, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopRestockCache struct{}

func (NoopRestockCache) Get(_ context.Context, _ string) (*domain.RestockResponse, bool, error) {
	return nil, false, nil
}

func (NoopRestockCache) Set(_ context.Context, _ string, _ *domain.RestockResponse, _ time.Duration) error {
	return nil
}

func (NoopRestockCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
