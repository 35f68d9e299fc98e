package shift

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tohirbeka1997-ops/poos/internal/cache"
	"github.com/tohirbeka1997-ops/poos/internal/store"
	"github.com/tohirbeka1997-ops/poos/internal/store/memory"
)

func newTestLedger() (*Ledger, *cache.LocalLocker) {
	locker := cache.NewLocalLocker()
	return NewLedger(memory.New(), locker), locker
}

func TestOpenRejectsSecondOpenShift(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	_, err := l.Open(ctx, "kassir1", 100000)
	require.NoError(t, err)

	_, err = l.Open(ctx, "kassir1", 0)
	require.ErrorIs(t, err, ErrAlreadyOpen)

	_, err = l.Open(ctx, "kassir2", 0)
	require.NoError(t, err)

	_, err = l.Open(ctx, "kassir3", -1)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestCloseComputesDifferenceAndIsTerminal(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	opened, err := l.Open(ctx, "kassir1", 100000)
	require.NoError(t, err)
	_, err = l.AddCollection(ctx, opened.ID, 30000, "admin", "midday pickup")
	require.NoError(t, err)

	closed, err := l.Close(ctx, opened.ID, 95000, " short ")
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, int64(100000), *closed.ExpectedCash)
	assert.Equal(t, int64(-5000), *closed.Difference)
	assert.Equal(t, "short", closed.Notes)

	_, err = l.Close(ctx, opened.ID, 95000, "")
	require.ErrorIs(t, err, ErrAlreadyClosed)

	_, err = l.Current(ctx, "kassir1")
	require.ErrorIs(t, err, ErrNoOpenShift)

	_, err = l.AddCollection(ctx, opened.ID, 1000, "admin", "")
	require.ErrorIs(t, err, ErrAlreadyClosed)

	reopened, err := l.Open(ctx, "kassir1", 50000)
	require.NoError(t, err)
	assert.NotEqual(t, opened.ID, reopened.ID)
}

func TestCloseWaitsForCashierLock(t *testing.T) {
	l, locker := newTestLedger()
	ctx := context.Background()

	opened, err := l.Open(ctx, "kassir1", 1000)
	require.NoError(t, err)

	_, unlock, err := locker.Lock(ctx, LockKey("kassir1"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := l.Close(ctx, opened.ID, 1000, "")
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("close finished while a sale held the cashier lock")
	case <-time.After(30 * time.Millisecond):
	}

	current, err := l.Current(ctx, "kassir1")
	require.NoError(t, err)
	assert.Equal(t, opened.ID, current.ID)

	unlock()
	require.NoError(t, <-done)
}

func TestCollectionsUnknownShift(t *testing.T) {
	l, _ := newTestLedger()
	_, err := l.Collections(context.Background(), "shift-missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}
