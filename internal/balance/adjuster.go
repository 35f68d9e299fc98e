package balance

import (
	"context"
	"errors"

	"github.com/tohirbeka1997-ops/poos/internal/store"
)

var (
	ErrMissingCustomer = errors.New("customer id required")
	ErrZeroAmount      = errors.New("balance delta must be non-zero")
)

// Adjuster applies atomic increments to a customer's balance. Negative
// balances are debt owed by the customer.
type Adjuster struct {
	store store.BalanceStore
}

func NewAdjuster(s store.BalanceStore) *Adjuster {
	return &Adjuster{store: s}
}

func (a *Adjuster) Apply(ctx context.Context, customerID string, delta int64) (int64, error) {
	if customerID == "" {
		return 0, ErrMissingCustomer
	}
	if delta == 0 {
		return 0, ErrZeroAmount
	}
	return a.store.ApplyBalanceDelta(ctx, customerID, delta)
}
