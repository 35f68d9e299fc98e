package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tohirbeka1997-ops/poos/internal/domain"
	"github.com/tohirbeka1997-ops/poos/internal/store"
)

func TestApplyStockDeltaNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	stock, err := s.ApplyStockDelta(ctx, domain.StockMove{ProductID: "prd-non-01", Type: domain.MoveOut, Qty: 100, Delta: -100})
	require.NoError(t, err)
	assert.Equal(t, 0, stock)

	stock, err = s.ApplyStockDelta(ctx, domain.StockMove{ProductID: "prd-non-01", Type: domain.MoveOut, Qty: 1, Delta: -1})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 0, stock)

	sum, count, err := s.SumStockMoves(ctx, "prd-non-01")
	require.NoError(t, err)
	assert.Equal(t, 0, sum)
	assert.Equal(t, 2, count, "rejected delta must not leave a move behind")
}

func TestApplyStockDeltaConcurrentLastUnit(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	_, err := s.ApplyStockDelta(ctx, domain.StockMove{ProductID: "prd-sut-01", Type: domain.MoveOut, Qty: 99, Delta: -99})
	require.NoError(t, err)

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyStockDelta(ctx, domain.StockMove{ProductID: "prd-sut-01", Type: domain.MoveOut, Qty: 1, Delta: -1})
			if err == nil {
				ok.Add(1)
			} else if errors.Is(err, store.ErrInsufficientStock) {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 15, rejected.Load())
}

func TestNextValueIsMonotonicPerCounter(t *testing.T) {
	ctx := context.Background()
	s := New()

	for want := int64(1); want <= 3; want++ {
		got, err := s.NextValue(ctx, "receipt")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := s.NextValue(ctx, "return")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestInsertSaleRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.InsertSale(ctx, domain.Sale{ID: "sale-1", ReceiptNo: "RCP-2026-000001", IdempotencyKey: "k1", Status: domain.SaleStatusCompleted})
	require.NoError(t, err)

	_, err = s.InsertSale(ctx, domain.Sale{ID: "sale-2", ReceiptNo: "RCP-2026-000001"})
	require.ErrorIs(t, err, store.ErrDuplicate)

	_, err = s.InsertSale(ctx, domain.Sale{ID: "sale-3", ReceiptNo: "RCP-2026-000002", IdempotencyKey: "k1"})
	require.ErrorIs(t, err, store.ErrDuplicate)

	found, err := s.FindSaleByIdempotency(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "sale-1", found.ID)

	require.NoError(t, s.SetSaleStatus(ctx, "sale-1", domain.SaleStatusCompleted, domain.SaleStatusCancelled))
	require.ErrorIs(t, s.SetSaleStatus(ctx, "sale-1", domain.SaleStatusCompleted, domain.SaleStatusRefunded), store.ErrConflict)
}

func TestReturnedQtySkipsRejectedReturns(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.InsertReturn(ctx, domain.Return{ID: "ret-1", ReturnNo: "RET-2026-000001", SaleID: "sale-1", Status: domain.ReturnStatusPartial, DebtReversed: 300})
	require.NoError(t, err)
	_, err = s.InsertReturnItems(ctx, "ret-1", []domain.ReturnItem{{SaleItemID: "si-1", Qty: 1}})
	require.NoError(t, err)

	_, err = s.InsertReturn(ctx, domain.Return{ID: "ret-2", ReturnNo: "RET-2026-000002", SaleID: "sale-1", Status: domain.ReturnStatusPartial, DebtReversed: 500})
	require.NoError(t, err)
	_, err = s.InsertReturnItems(ctx, "ret-2", []domain.ReturnItem{{SaleItemID: "si-1", Qty: 1}})
	require.NoError(t, err)
	require.NoError(t, s.SetReturnStatus(ctx, "ret-2", domain.ReturnStatusPartial, domain.ReturnStatusRejected))

	returned, err := s.ReturnedQtyBySaleItem(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"si-1": 1}, returned)

	reversed, err := s.DebtReversedForSale(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), reversed)
}

func TestShiftLifecycleOnePerCashier(t *testing.T) {
	ctx := context.Background()
	s := New()

	opened, err := s.CreateShift(ctx, domain.CashShift{CashierID: "kassir1", OpeningCash: 50000})
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusOpen, opened.Status)

	_, err = s.CreateShift(ctx, domain.CashShift{CashierID: "kassir1"})
	require.ErrorIs(t, err, store.ErrDuplicate)

	now := time.Now().UTC()
	closing, expected, diff := int64(49000), int64(50000), int64(-1000)
	closed, err := s.CloseShift(ctx, domain.CashShift{ID: opened.ID, ClosedAt: &now, ClosingCash: &closing, ExpectedCash: &expected, Difference: &diff})
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusClosed, closed.Status)

	_, err = s.CloseShift(ctx, domain.CashShift{ID: opened.ID, ClosedAt: &now, ClosingCash: &closing})
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.FindOpenShift(ctx, "kassir1")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.CreateShift(ctx, domain.CashShift{CashierID: "kassir1"})
	require.NoError(t, err)
}

func TestReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	product, err := s.GetProduct(ctx, "prd-non-01")
	require.NoError(t, err)
	product.Stock = -5

	again, err := s.GetProduct(ctx, "prd-non-01")
	require.NoError(t, err)
	assert.Equal(t, 100, again.Stock)
}

func TestGetStockMoveFindsOldMoves(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	_, err := s.ApplyStockDelta(ctx, domain.StockMove{ID: "mv-first", ProductID: "prd-non-01", Type: domain.MoveOut, Qty: 1, Delta: -1})
	require.NoError(t, err)
	for range 300 {
		_, err := s.ApplyStockDelta(ctx, domain.StockMove{ProductID: "prd-non-01", Type: domain.MoveIn, Qty: 1, Delta: 1})
		require.NoError(t, err)
	}

	move, err := s.GetStockMove(ctx, "mv-first")
	require.NoError(t, err)
	assert.Equal(t, -1, move.Delta)

	_, err = s.GetStockMove(ctx, "mv-never")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRestoreProductCostOnlyOverOwnWrite(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	written := int64(700000)
	previous, err := s.SetProductCost(ctx, "prd-choy-01", &written)
	require.NoError(t, err)

	newer := int64(720000)
	_, err = s.SetProductCost(ctx, "prd-choy-01", &newer)
	require.NoError(t, err)

	err = s.RestoreProductCost(ctx, "prd-choy-01", &written, previous)
	require.ErrorIs(t, err, store.ErrConflict)
	product, err := s.GetProduct(ctx, "prd-choy-01")
	require.NoError(t, err)
	assert.Equal(t, newer, *product.CostPrice)

	require.NoError(t, s.RestoreProductCost(ctx, "prd-choy-01", &newer, previous))
	product, err = s.GetProduct(ctx, "prd-choy-01")
	require.NoError(t, err)
	assert.Equal(t, *previous, *product.CostPrice)

	assert.ErrorIs(t, s.RestoreProductCost(ctx, "prd-x", nil, nil), store.ErrNotFound)
}
