package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tohirbeka1997-ops/poos/internal/domain"
	"github.com/tohirbeka1997-ops/poos/internal/store"
)

func TestReceivePurchaseRaisesStockAndCost(t *testing.T) {
	svc, repo := newTestService()

	resp, err := svc.ReceivePurchase(adminCtx(), domain.PurchaseRequest{
		IdempotencyKey: "pur-idem-1",
		SupplierID:     "sup-main-01",
		Lines: []domain.PurchaseLine{
			{ProductID: "prd-choy-01", Qty: 10, CostPrice: 700000},
			{ProductID: "prd-suv-01", Qty: 24, CostPrice: 350000},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "PUR-2026-000001", resp.Purchase.PurchaseNo)
	assert.Equal(t, int64(10*700000+24*350000), resp.Purchase.Total)
	assert.Equal(t, domain.PurchaseStatusReceived, resp.Purchase.Status)
	assert.Equal(t, "admin", resp.Purchase.ReceivedBy)

	assert.Equal(t, 110, stockOf(t, repo, "prd-choy-01"))
	assert.Equal(t, 124, stockOf(t, repo, "prd-suv-01"))

	product, err := repo.GetProduct(context.Background(), "prd-choy-01")
	require.NoError(t, err)
	require.NotNil(t, product.CostPrice)
	assert.Equal(t, int64(700000), *product.CostPrice)

	again, err := svc.ReceivePurchase(adminCtx(), domain.PurchaseRequest{
		IdempotencyKey: "pur-idem-1",
		SupplierID:     "sup-main-01",
		Lines:          []domain.PurchaseLine{{ProductID: "prd-choy-01", Qty: 10, CostPrice: 700000}},
	})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, 110, stockOf(t, repo, "prd-choy-01"))

	assertConsistent(t, svc, "prd-choy-01", "prd-suv-01")
}

func TestReceivePurchaseRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.ReceivePurchase(cashierCtx("kassir1"), domain.PurchaseRequest{
		SupplierID: "sup-main-01",
		Lines:      []domain.PurchaseLine{{ProductID: "prd-choy-01", Qty: 1, CostPrice: 1}},
	})
	assert.True(t, errors.Is(err, ErrForbidden))
}

func TestReceivePurchaseValidation(t *testing.T) {
	svc, _ := newTestService()

	tests := []struct {
		name string
		req  domain.PurchaseRequest
		kind string
	}{
		{"no supplier", domain.PurchaseRequest{Lines: []domain.PurchaseLine{{ProductID: "prd-choy-01", Qty: 1, CostPrice: 1}}}, "validation"},
		{"unknown supplier", domain.PurchaseRequest{SupplierID: "sup-x", Lines: []domain.PurchaseLine{{ProductID: "prd-choy-01", Qty: 1, CostPrice: 1}}}, "not_found"},
		{"zero cost", domain.PurchaseRequest{SupplierID: "sup-main-01", Lines: []domain.PurchaseLine{{ProductID: "prd-choy-01", Qty: 1}}}, "validation"},
		{"unknown product", domain.PurchaseRequest{SupplierID: "sup-main-01", Lines: []domain.PurchaseLine{{ProductID: "prd-x", Qty: 1, CostPrice: 1}}}, "not_found"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ReceivePurchase(adminCtx(), tc.req)
			assert.Equal(t, tc.kind, Kind(err), "err: %v", err)
		})
	}
}

func TestPurchaseCostFailureRestoresEverything(t *testing.T) {
	tests := []struct {
		name    string
		costErr error
		kind    string
	}{
		{"definite failure", store.ErrNotFound, "partial_write"},
		// A cost write that timed out may have landed; nobody can vouch for it.
		{"ambiguous failure", errConnReset, "integrity_alert"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo := newFaultyService(t)
			repo.failCostFor["prd-suv-01"] = tc.costErr

			_, err := svc.ReceivePurchase(adminCtx(), domain.PurchaseRequest{
				SupplierID: "sup-main-01",
				Lines: []domain.PurchaseLine{
					{ProductID: "prd-choy-01", Qty: 10, CostPrice: 700000},
					{ProductID: "prd-suv-01", Qty: 24, CostPrice: 350000},
				},
			})
			assert.Equal(t, tc.kind, Kind(err), "err: %v", err)

			assert.Equal(t, 100, stockOf(t, repo, "prd-choy-01"))
			assert.Equal(t, 100, stockOf(t, repo, "prd-suv-01"))
			product, err := repo.GetProduct(context.Background(), "prd-choy-01")
			require.NoError(t, err)
			assert.Equal(t, int64(950000*8/10), *product.CostPrice, "cost of the first line is restored")
		})
	}
}

func TestPurchaseStockFailureIsRolledBack(t *testing.T) {
	svc, repo := newFaultyService(t)
	repo.failStockFor["prd-suv-01"] = errConnReset

	_, err := svc.ReceivePurchase(adminCtx(), domain.PurchaseRequest{
		SupplierID: "sup-main-01",
		Lines: []domain.PurchaseLine{
			{ProductID: "prd-choy-01", Qty: 10, CostPrice: 700000},
			{ProductID: "prd-suv-01", Qty: 24, CostPrice: 350000},
		},
	})
	var partial *PartialWriteError
	require.ErrorAs(t, err, &partial)

	purchase, err := repo.GetPurchase(context.Background(), partial.RefID)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseStatusCancelled, purchase.Status)
	assert.Equal(t, 100, stockOf(t, repo, "prd-choy-01"))

	product, err := repo.GetProduct(context.Background(), "prd-choy-01")
	require.NoError(t, err)
	assert.Equal(t, int64(950000*8/10), *product.CostPrice)
}

func TestPurchaseCompensationKeepsNewerCost(t *testing.T) {
	svc, repo := newFaultyService(t)
	repo.costOverwrite["prd-choy-01"] = 720000
	repo.failCostFor["prd-suv-01"] = store.ErrNotFound

	_, err := svc.ReceivePurchase(adminCtx(), domain.PurchaseRequest{
		SupplierID: "sup-main-01",
		Lines: []domain.PurchaseLine{
			{ProductID: "prd-choy-01", Qty: 10, CostPrice: 700000},
			{ProductID: "prd-suv-01", Qty: 24, CostPrice: 350000},
		},
	})

	var alertErr *IntegrityAlertError
	require.ErrorAs(t, err, &alertErr)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, 100, stockOf(t, repo, "prd-choy-01"))

	product, err := repo.GetProduct(context.Background(), "prd-choy-01")
	require.NoError(t, err)
	assert.Equal(t, int64(720000), *product.CostPrice, "the later cost is not overwritten")
}
