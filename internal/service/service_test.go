package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tohirbeka1997-ops/poos/internal/domain"
	"github.com/tohirbeka1997-ops/poos/internal/store"
	"github.com/tohirbeka1997-ops/poos/internal/store/memory"
)

var testNow = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func newTestService(opts ...Option) (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	return New(repo, opts...), repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func cashierCtx(username string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: username, Role: domain.RoleCashier})
}

func openShift(t *testing.T, svc *Service, cashier string) domain.CashShift {
	t.Helper()
	opened, err := svc.OpenShift(cashierCtx(cashier), domain.ShiftOpenRequest{OpeningCash: 500000})
	if err != nil {
		t.Fatalf("open shift for %s failed: %v", cashier, err)
	}
	return opened
}

func stockOf(t *testing.T, repo store.Repository, productID string) int {
	t.Helper()
	product, err := repo.GetProduct(context.Background(), productID)
	if err != nil {
		t.Fatalf("get product %s: %v", productID, err)
	}
	return product.Stock
}

func assertConsistent(t *testing.T, svc *Service, productIDs ...string) {
	t.Helper()
	for _, id := range productIDs {
		rec, err := svc.ReconcileStock(context.Background(), id)
		if err != nil {
			t.Fatalf("reconcile %s: %v", id, err)
		}
		if !rec.Consistent {
			t.Fatalf("product %s drifted: cached=%d moves=%d", id, rec.CachedStock, rec.MovementSum)
		}
	}
}

func cashSale(key string, productID string, qty int, received int64) domain.SaleRequest {
	return domain.SaleRequest{
		IdempotencyKey: key,
		Lines:          []domain.SaleLine{{ProductID: productID, Qty: qty}},
		Payment:        domain.Payment{Type: domain.PaymentCash, ReceivedAmount: received},
	}
}

func TestCompleteSaleCashGivesChange(t *testing.T) {
	svc, repo := newTestService()
	openShift(t, svc, "kassir1")

	// 2 x 400000 at 12% tax = 800000 + 96000
	resp, err := svc.CompleteSale(cashierCtx("kassir1"), cashSale("idem-cash-1", "prd-non-01", 2, 900000))
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	sale := resp.Sale
	if sale.ReceiptNo != "RCP-2026-000001" {
		t.Fatalf("unexpected receipt number %s", sale.ReceiptNo)
	}
	if sale.Subtotal != 800000 || sale.Tax != 96000 || sale.Total != 896000 {
		t.Fatalf("unexpected totals %d/%d/%d", sale.Subtotal, sale.Tax, sale.Total)
	}
	if sale.ChangeAmount != 4000 || sale.DebtAmount != 0 {
		t.Fatalf("expected change 4000 and no debt, got %d/%d", sale.ChangeAmount, sale.DebtAmount)
	}
	if sale.Status != domain.SaleStatusCompleted || sale.CashierID != "kassir1" || sale.ShiftID == "" {
		t.Fatalf("unexpected header %+v", sale)
	}
	if got := stockOf(t, repo, "prd-non-01"); got != 98 {
		t.Fatalf("expected stock 98, got %d", got)
	}

	moves, err := svc.ListStockMoves(adminCtx(), "prd-non-01", 10)
	if err != nil {
		t.Fatalf("list moves: %v", err)
	}
	if moves[0].Type != domain.MoveOut || moves[0].Delta != -2 || moves[0].RefID != sale.ID {
		t.Fatalf("unexpected latest move %+v", moves[0])
	}
	assertConsistent(t, svc, "prd-non-01")
}

func TestCompleteSaleDebtChargesCustomer(t *testing.T) {
	svc, repo := newTestService()
	openShift(t, svc, "kassir1")

	resp, err := svc.CompleteSale(cashierCtx("kassir1"), domain.SaleRequest{
		CustomerID: "cus-walkin-01",
		Lines:      []domain.SaleLine{{ProductID: "prd-suv-01", Qty: 3}},
		Payment:    domain.Payment{Type: domain.PaymentDebt},
	})
	if err != nil {
		t.Fatalf("debt sale failed: %v", err)
	}
	if resp.Sale.DebtAmount != 1500000 || resp.Sale.ReceivedAmount != 0 {
		t.Fatalf("expected full debt 1500000, got %+v", resp.Sale)
	}

	customer, _ := repo.GetCustomer(context.Background(), "cus-walkin-01")
	if customer.Balance != -1500000 {
		t.Fatalf("expected balance -1500000, got %d", customer.Balance)
	}
}

func TestCompleteSalePartialPaymentSplitsDebt(t *testing.T) {
	svc, repo := newTestService()
	openShift(t, svc, "kassir1")

	resp, err := svc.CompleteSale(cashierCtx("kassir1"), domain.SaleRequest{
		CustomerID: "cus-walkin-01",
		Lines:      []domain.SaleLine{{ProductID: "prd-suv-01", Qty: 3}},
		Payment:    domain.Payment{Type: domain.PaymentPartial, ReceivedAmount: 500000},
	})
	if err != nil {
		t.Fatalf("partial sale failed: %v", err)
	}
	if resp.Sale.ReceivedAmount != 500000 || resp.Sale.DebtAmount != 1000000 {
		t.Fatalf("unexpected settlement %+v", resp.Sale)
	}
	customer, _ := repo.GetCustomer(context.Background(), "cus-walkin-01")
	if customer.Balance != -1000000 {
		t.Fatalf("expected balance -1000000, got %d", customer.Balance)
	}
}

func TestCompleteSaleRequiresOpenShift(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.CompleteSale(cashierCtx("kassir1"), cashSale("", "prd-non-01", 1, 500000))
	var shiftErr *ShiftClosedError
	if !errors.As(err, &shiftErr) {
		t.Fatalf("expected ShiftClosedError, got %v", err)
	}
	if got := stockOf(t, repo, "prd-non-01"); got != 100 {
		t.Fatalf("stock changed without a sale: %d", got)
	}
}

func TestCompleteSaleValidationWritesNothing(t *testing.T) {
	svc, repo := newTestService()
	openShift(t, svc, "kassir1")
	ctx := cashierCtx("kassir1")

	cases := map[string]domain.SaleRequest{
		"underpaid":        cashSale("", "prd-non-01", 1, 100),
		"empty lines":      {Payment: domain.Payment{Type: domain.PaymentCash, ReceivedAmount: 1}},
		"zero qty":         cashSale("", "prd-non-01", 0, 500000),
		"unknown payment":  {Lines: []domain.SaleLine{{ProductID: "prd-non-01", Qty: 1}}, Payment: domain.Payment{Type: "barter"}},
		"debt no customer": {Lines: []domain.SaleLine{{ProductID: "prd-non-01", Qty: 1}}, Payment: domain.Payment{Type: domain.PaymentDebt}},
		"discount too big": {Lines: []domain.SaleLine{{ProductID: "prd-non-01", Qty: 1, Discount: 200000}}, Payment: domain.Payment{Type: domain.PaymentCash, ReceivedAmount: 1000000}},
	}
	for name, req := range cases {
		_, err := svc.CompleteSale(ctx, req)
		var validation *ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("%s: expected ValidationError, got %v", name, err)
		}
	}

	if got := stockOf(t, repo, "prd-non-01"); got != 100 {
		t.Fatalf("stock changed by rejected sales: %d", got)
	}
	next, _ := repo.NextValue(context.Background(), "receipt")
	if next != 1 {
		t.Fatalf("rejected sales consumed receipt numbers, next=%d", next)
	}
}

func TestCompleteSaleUnknownProduct(t *testing.T) {
	svc, _ := newTestService()
	openShift(t, svc, "kassir1")

	_, err := svc.CompleteSale(cashierCtx("kassir1"), cashSale("", "prd-missing", 1, 500000))
	var notFound *NotFoundError
	if !errors.As(err, &notFound) || notFound.ID != "prd-missing" {
		t.Fatalf("expected NotFoundError for prd-missing, got %v", err)
	}
}

func TestCompleteSaleAdminBypassesDiscountLimit(t *testing.T) {
	svc, _ := newTestService()
	openShift(t, svc, "admin")

	resp, err := svc.CompleteSale(adminCtx(), domain.SaleRequest{
		Lines:   []domain.SaleLine{{ProductID: "prd-non-01", Qty: 1, Discount: 200000}},
		Payment: domain.Payment{Type: domain.PaymentCard, ReceivedAmount: 248000},
	})
	if err != nil {
		t.Fatalf("admin discounted sale failed: %v", err)
	}
	if resp.Sale.Total != 400000+48000-200000 {
		t.Fatalf("unexpected total %d", resp.Sale.Total)
	}
}

func TestCompleteSaleCashierCannotSellForOthers(t *testing.T) {
	svc, _ := newTestService()
	openShift(t, svc, "kassir2")

	req := cashSale("", "prd-non-01", 1, 500000)
	req.CashierID = "kassir2"
	_, err := svc.CompleteSale(cashierCtx("kassir1"), req)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCompleteSaleIdempotentReplay(t *testing.T) {
	svc, repo := newTestService()
	openShift(t, svc, "kassir1")
	ctx := cashierCtx("kassir1")

	first, err := svc.CompleteSale(ctx, cashSale("idem-replay", "prd-non-01", 1, 500000))
	if err != nil {
		t.Fatalf("first sale failed: %v", err)
	}
	second, err := svc.CompleteSale(ctx, cashSale("idem-replay", "prd-non-01", 1, 500000))
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !second.Duplicate || second.Sale.ID != first.Sale.ID || second.Sale.ReceiptNo != first.Sale.ReceiptNo {
		t.Fatalf("expected replay of %s, got %+v", first.Sale.ReceiptNo, second)
	}
	if got := stockOf(t, repo, "prd-non-01"); got != 99 {
		t.Fatalf("replay moved stock again: %d", got)
	}
}

func TestConcurrentSalesOfLastUnit(t *testing.T) {
	svc, repo := newTestService()
	if _, err := svc.AdjustStock(adminCtx(), domain.StockAdjustRequest{ProductID: "prd-sut-01", Direction: domain.MoveOut, Qty: 99, Reason: "count"}); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}

	const cashiers = 8
	for i := range cashiers {
		openShift(t, svc, fmt.Sprintf("kassir%d", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, cashiers)
	for i := range cashiers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CompleteSale(cashierCtx(fmt.Sprintf("kassir%d", i)), cashSale("", "prd-sut-01", 1, 2000000))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		var stockErr *InsufficientStockError
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, &stockErr):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one sale of the last unit, got %d", succeeded)
	}
	if got := stockOf(t, repo, "prd-sut-01"); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
	assertConsistent(t, svc, "prd-sut-01")
}

func TestReceiptNumbersAreUniqueUnderConcurrency(t *testing.T) {
	svc, _ := newTestService()
	const cashiers = 6
	for i := range cashiers {
		openShift(t, svc, fmt.Sprintf("kassir%d", i))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for i := range cashiers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for range 5 {
				resp, err := svc.CompleteSale(cashierCtx(fmt.Sprintf("kassir%d", i)), cashSale("", "prd-guruch-01", 1, 3000000))
				if err != nil {
					t.Errorf("sale failed: %v", err)
					return
				}
				mu.Lock()
				if seen[resp.Sale.ReceiptNo] {
					t.Errorf("receipt %s issued twice", resp.Sale.ReceiptNo)
				}
				seen[resp.Sale.ReceiptNo] = true
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(seen) != cashiers*5 {
		t.Fatalf("expected %d receipts, got %d", cashiers*5, len(seen))
	}
}

func TestGetSaleByReceiptNo(t *testing.T) {
	svc, _ := newTestService()
	openShift(t, svc, "kassir1")

	resp, err := svc.CompleteSale(cashierCtx("kassir1"), cashSale("", "prd-choy-01", 1, 2000000))
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	found, err := svc.GetSaleByReceiptNo(adminCtx(), " rcp-2026-000001 ")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if found.ID != resp.Sale.ID || len(found.Items) != 1 {
		t.Fatalf("unexpected sale %+v", found)
	}

	_, err = svc.GetSale(adminCtx(), "sale-missing")
	if Kind(err) != "not_found" {
		t.Fatalf("expected not_found, got %v", err)
	}
}
