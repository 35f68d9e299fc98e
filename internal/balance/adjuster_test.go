package balance

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tohirbeka1997-ops/poos/internal/store"
	"github.com/tohirbeka1997-ops/poos/internal/store/memory"
)

func TestApplyIsAtomicUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	s := memory.NewSeeded()
	a := NewAdjuster(s)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.Apply(ctx, "cus-walkin-01", -100)
		}()
	}
	wg.Wait()

	customer, err := s.GetCustomer(ctx, "cus-walkin-01")
	require.NoError(t, err)
	assert.Equal(t, int64(-5000), customer.Balance)
}

func TestApplyUnknownCustomer(t *testing.T) {
	a := NewAdjuster(memory.NewSeeded())

	_, err := a.Apply(context.Background(), "cus-nope", 10)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = a.Apply(context.Background(), "", 10)
	require.ErrorIs(t, err, ErrMissingCustomer)

	_, err = a.Apply(context.Background(), "cus-walkin-01", 0)
	require.ErrorIs(t, err, ErrZeroAmount)
}
