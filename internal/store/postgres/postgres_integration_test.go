package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tohirbeka1997-ops/poos/internal/domain"
	"github.com/tohirbeka1997-ops/poos/internal/store"
)

// openTestStore connects to POOS_TEST_DATABASE_URL, or starts a throwaway
// postgres container when POOS_TESTCONTAINERS=1.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	databaseURL := os.Getenv("POOS_TEST_DATABASE_URL")
	if databaseURL == "" && os.Getenv("POOS_TESTCONTAINERS") == "1" {
		databaseURL = startPostgresContainer(t)
	}
	if databaseURL == "" {
		t.Skip("set POOS_TEST_DATABASE_URL or POOS_TESTCONTAINERS=1 to run postgres integration tests")
	}

	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func startPostgresContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "poos",
				"POSTGRES_PASSWORD": "poos",
				"POSTGRES_DB":       "poos_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://poos:poos@%s:%s/poos_test?sslmode=disable", host, port.Port())
}

func seedProduct(t *testing.T, s *Store, stock int) domain.Product {
	t.Helper()
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	product, err := s.CreateProduct(ctx, domain.Product{
		SKU:       fmt.Sprintf("SKU-IT-%d", stamp),
		Name:      "Integration item",
		Unit:      "dona",
		SalePrice: 5000,
		TaxRate:   10,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_moves WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	if stock > 0 {
		_, err := s.ApplyStockDelta(ctx, domain.StockMove{
			ProductID: product.ID, Type: domain.MoveIn, Qty: stock, Delta: stock,
			RefType: domain.RefCorrection, CreatedBy: "it",
		})
		require.NoError(t, err)
	}
	return *product
}

func TestApplyStockDeltaConservesMoves(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, 10)

	stock, err := s.ApplyStockDelta(ctx, domain.StockMove{ProductID: product.ID, Type: domain.MoveOut, Qty: 4, Delta: -4, RefType: domain.RefSale, CreatedBy: "it"})
	require.NoError(t, err)
	assert.Equal(t, 6, stock)

	_, err = s.ApplyStockDelta(ctx, domain.StockMove{ProductID: product.ID, Type: domain.MoveOut, Qty: 7, Delta: -7, RefType: domain.RefSale, CreatedBy: "it"})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	sum, count, err := s.SumStockMoves(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, sum)
	assert.Equal(t, 2, count)

	reloaded, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, sum, reloaded.Stock)
}

func TestApplyStockDeltaLastUnitUnderContention(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, 1)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyStockDelta(ctx, domain.StockMove{ProductID: product.ID, Type: domain.MoveOut, Qty: 1, Delta: -1, RefType: domain.RefSale, CreatedBy: "it"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded, rejected := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientStock):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, rejected)
}

func TestNextValueUpsertsCounter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	counter := fmt.Sprintf("it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sequences WHERE counter = $1`, counter)
	})

	first, err := s.NextValue(ctx, counter)
	require.NoError(t, err)
	second, err := s.NextValue(ctx, counter)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
}

func TestCreateShiftOneOpenPerCashier(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	cashier := fmt.Sprintf("it-cashier-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cash_shifts WHERE cashier_id = $1`, cashier)
	})

	opened, err := s.CreateShift(ctx, domain.CashShift{CashierID: cashier, OpeningCash: 1000})
	require.NoError(t, err)

	_, err = s.CreateShift(ctx, domain.CashShift{CashierID: cashier})
	require.ErrorIs(t, err, store.ErrDuplicate)

	now := time.Now().UTC()
	closing, expected, diff := int64(1000), int64(1000), int64(0)
	closed, err := s.CloseShift(ctx, domain.CashShift{ID: opened.ID, ClosedAt: &now, ClosingCash: &closing, ExpectedCash: &expected, Difference: &diff})
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusClosed, closed.Status)

	_, err = s.CloseShift(ctx, domain.CashShift{ID: opened.ID, ClosedAt: &now, ClosingCash: &closing})
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestGetStockMoveAndRestoreCost(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, 5)

	moveID := fmt.Sprintf("mv-it-%d", time.Now().UnixNano())
	_, err := s.ApplyStockDelta(ctx, domain.StockMove{ID: moveID, ProductID: product.ID, Type: domain.MoveOut, Qty: 2, Delta: -2, RefType: domain.RefSale, CreatedBy: "it"})
	require.NoError(t, err)

	move, err := s.GetStockMove(ctx, moveID)
	require.NoError(t, err)
	assert.Equal(t, -2, move.Delta)
	assert.Equal(t, domain.RefSale, move.RefType)

	_, err = s.GetStockMove(ctx, "mv-it-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	written, newer := int64(4000), int64(4200)
	previous, err := s.SetProductCost(ctx, product.ID, &written)
	require.NoError(t, err)
	assert.Nil(t, previous)
	_, err = s.SetProductCost(ctx, product.ID, &newer)
	require.NoError(t, err)

	assert.ErrorIs(t, s.RestoreProductCost(ctx, product.ID, &written, previous), store.ErrConflict)
	require.NoError(t, s.RestoreProductCost(ctx, product.ID, &newer, previous))

	reloaded, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.CostPrice)
}
