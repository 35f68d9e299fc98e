package service

import (
	"errors"
	"testing"
	"time"

	"github.com/tohirbeka1997-ops/poos/internal/domain"
)

func TestShiftCloseComputesDifference(t *testing.T) {
	svc, _ := newTestService()
	opened := openShift(t, svc, "kassir1")

	if _, err := svc.AddCashCollection(adminCtx(), opened.ID, domain.CashCollectionRequest{Amount: 200000, Notes: "midday pickup"}); err != nil {
		t.Fatalf("collection failed: %v", err)
	}

	closed, err := svc.CloseShift(cashierCtx("kassir1"), opened.ID, domain.ShiftCloseRequest{ClosingCash: 480000})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed.Status != domain.ShiftStatusClosed {
		t.Fatalf("expected closed, got %s", closed.Status)
	}
	if *closed.ExpectedCash != 500000 || *closed.Difference != -20000 {
		t.Fatalf("expected 500000/-20000, got %d/%d", *closed.ExpectedCash, *closed.Difference)
	}

	collections, err := svc.ListCashCollections(adminCtx(), opened.ID)
	if err != nil || len(collections) != 1 || collections[0].CollectedBy != "admin" {
		t.Fatalf("unexpected collections %+v (%v)", collections, err)
	}
}

func TestShiftCannotCloseTwiceOrSellAfterClose(t *testing.T) {
	svc, _ := newTestService()
	opened := openShift(t, svc, "kassir1")
	ctx := cashierCtx("kassir1")

	if _, err := svc.CloseShift(ctx, opened.ID, domain.ShiftCloseRequest{ClosingCash: 500000}); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	_, err := svc.CloseShift(ctx, opened.ID, domain.ShiftCloseRequest{ClosingCash: 500000})
	var shiftErr *ShiftClosedError
	if !errors.As(err, &shiftErr) {
		t.Fatalf("expected ShiftClosedError on second close, got %v", err)
	}

	_, err = svc.CompleteSale(ctx, cashSale("", "prd-non-01", 1, 500000))
	if !errors.As(err, &shiftErr) {
		t.Fatalf("expected ShiftClosedError on sale after close, got %v", err)
	}

	_, err = svc.AddCashCollection(adminCtx(), opened.ID, domain.CashCollectionRequest{Amount: 1000})
	if Kind(err) != "shift_closed" {
		t.Fatalf("expected shift_closed for collection on closed shift, got %v", err)
	}
}

func TestShiftOnlyOneOpenPerCashier(t *testing.T) {
	svc, _ := newTestService()
	openShift(t, svc, "kassir1")

	_, err := svc.OpenShift(cashierCtx("kassir1"), domain.ShiftOpenRequest{OpeningCash: 1})
	if Kind(err) != "validation" {
		t.Fatalf("expected validation error for second open shift, got %v", err)
	}

	current, err := svc.CurrentShift(cashierCtx("kassir1"), "")
	if err != nil || current.CashierID != "kassir1" {
		t.Fatalf("unexpected current shift %+v (%v)", current, err)
	}

	_, err = svc.CurrentShift(cashierCtx("kassir2"), "")
	if Kind(err) != "shift_closed" {
		t.Fatalf("expected shift_closed for cashier without shift, got %v", err)
	}
}

func TestShiftOwnership(t *testing.T) {
	svc, _ := newTestService()
	opened := openShift(t, svc, "kassir1")

	if _, err := svc.CloseShift(cashierCtx("kassir2"), opened.ID, domain.ShiftCloseRequest{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden close by another cashier, got %v", err)
	}
	if _, err := svc.OpenShift(cashierCtx("kassir2"), domain.ShiftOpenRequest{CashierID: "kassir3"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden open for another cashier, got %v", err)
	}
	if _, err := svc.OpenShift(adminCtx(), domain.ShiftOpenRequest{CashierID: "kassir3", OpeningCash: 100}); err != nil {
		t.Fatalf("admin should open for any cashier: %v", err)
	}
	if _, err := svc.AddCashCollection(cashierCtx("kassir1"), opened.ID, domain.CashCollectionRequest{Amount: 1}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden collection by cashier, got %v", err)
	}
}

func TestShiftCloseWaitsForInFlightSale(t *testing.T) {
	svc, _ := newTestService()
	opened := openShift(t, svc, "kassir1")

	// Hold the cashier lock as an in-flight sale would.
	_, unlock, err := svc.locker.Lock(cashierCtx("kassir1"), "cashier:kassir1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.CloseShift(cashierCtx("kassir1"), opened.ID, domain.ShiftCloseRequest{ClosingCash: 500000})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("close finished while a sale held the lock: %v", err)
	default:
	}

	unlock()
	if err := <-done; err != nil {
		t.Fatalf("close failed after lock release: %v", err)
	}
}

func TestShiftAndMoveTimestampsFollowServiceClock(t *testing.T) {
	svc, _ := newTestService()
	opened := openShift(t, svc, "kassir1")
	if !opened.OpenedAt.Equal(testNow) {
		t.Fatalf("expected opened_at %v, got %v", testNow, opened.OpenedAt)
	}

	collection, err := svc.AddCashCollection(adminCtx(), opened.ID, domain.CashCollectionRequest{Amount: 1000})
	if err != nil {
		t.Fatalf("collection failed: %v", err)
	}
	if !collection.CreatedAt.Equal(testNow) {
		t.Fatalf("expected collection at %v, got %v", testNow, collection.CreatedAt)
	}

	if _, err := svc.AdjustStock(adminCtx(), domain.StockAdjustRequest{ProductID: "prd-non-01", Direction: domain.MoveIn, Qty: 1, Reason: "recount"}); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	moves, err := svc.ListStockMoves(adminCtx(), "prd-non-01", 1)
	if err != nil || len(moves) != 1 || !moves[0].CreatedAt.Equal(testNow) {
		t.Fatalf("expected move stamped %v, got %+v (%v)", testNow, moves, err)
	}

	closed, err := svc.CloseShift(cashierCtx("kassir1"), opened.ID, domain.ShiftCloseRequest{ClosingCash: 500000})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed.ClosedAt == nil || !closed.ClosedAt.Equal(testNow) {
		t.Fatalf("expected closed_at %v, got %v", testNow, closed.ClosedAt)
	}
}
