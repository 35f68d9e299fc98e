package store

import (
	"context"
	"errors"
	"time"

	"github.com/tohirbeka1997-ops/poos/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrDuplicate is returned when a unique key (document number,
	// idempotency key, open shift per cashier) is already taken.
	ErrDuplicate = errors.New("duplicate key")
	// ErrConflict is returned when a conditional status transition finds the
	// row in a different state than expected.
	ErrConflict = errors.New("state conflict")
)

// Sequencer hands out the next value of a named counter. Values for one
// counter are unique and strictly increasing.
type Sequencer interface {
	NextValue(ctx context.Context, counter string) (int64, error)
}

// StockStore applies a signed stock delta and appends the matching move in one
// atomic step. It fails with ErrInsufficientStock instead of going negative.
type StockStore interface {
	ApplyStockDelta(ctx context.Context, move domain.StockMove) (int, error)
	// GetStockMove finds one move by ID, ErrNotFound if it was never written.
	GetStockMove(ctx context.Context, id string) (*domain.StockMove, error)
	ListStockMoves(ctx context.Context, productID string, limit int) ([]domain.StockMove, error)
	SumStockMoves(ctx context.Context, productID string) (sum int, count int, err error)
}

type BalanceStore interface {
	ApplyBalanceDelta(ctx context.Context, customerID string, delta int64) (int64, error)
}

type CatalogStore interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	// SetProductCost overwrites cost_price and returns the previous value.
	SetProductCost(ctx context.Context, productID string, cost *int64) (*int64, error)
	// RestoreProductCost puts previous back only while cost_price still holds
	// written, and fails with ErrConflict once someone else changed it.
	RestoreProductCost(ctx context.Context, productID string, written *int64, previous *int64) error
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
}

type LedgerStore interface {
	InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	InsertSaleItems(ctx context.Context, saleID string, items []domain.SaleItem) ([]domain.SaleItem, error)
	SetSaleStatus(ctx context.Context, saleID string, from string, to string) error
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	GetSaleByReceiptNo(ctx context.Context, receiptNo string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)

	InsertReturn(ctx context.Context, ret domain.Return) (*domain.Return, error)
	InsertReturnItems(ctx context.Context, returnID string, items []domain.ReturnItem) ([]domain.ReturnItem, error)
	SetReturnStatus(ctx context.Context, returnID string, from string, to string) error
	FindReturnByIdempotency(ctx context.Context, key string) (*domain.Return, error)
	// ReturnedQtyBySaleItem sums returned qty per sale item over returns that
	// were not rejected.
	ReturnedQtyBySaleItem(ctx context.Context, saleID string) (map[string]int, error)
	DebtReversedForSale(ctx context.Context, saleID string) (int64, error)

	InsertPurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)
	InsertPurchaseItems(ctx context.Context, purchaseID string, items []domain.PurchaseItem) ([]domain.PurchaseItem, error)
	SetPurchaseStatus(ctx context.Context, purchaseID string, from string, to string) error
	GetPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	FindPurchaseByIdempotency(ctx context.Context, key string) (*domain.Purchase, error)
}

type ShiftStore interface {
	// CreateShift fails with ErrDuplicate while the cashier has an open shift.
	CreateShift(ctx context.Context, shift domain.CashShift) (*domain.CashShift, error)
	GetShift(ctx context.Context, id string) (*domain.CashShift, error)
	FindOpenShift(ctx context.Context, cashierID string) (*domain.CashShift, error)
	// CloseShift moves an open shift to closed, ErrConflict otherwise.
	CloseShift(ctx context.Context, closed domain.CashShift) (*domain.CashShift, error)
	CreateCashCollection(ctx context.Context, collection domain.CashCollection) (*domain.CashCollection, error)
	ListCashCollections(ctx context.Context, shiftID string) ([]domain.CashCollection, error)
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateIntegrityAlert(ctx context.Context, alert domain.IntegrityAlert) error
	ListIntegrityAlerts(ctx context.Context, limit int) ([]domain.IntegrityAlert, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	Sequencer
	StockStore
	BalanceStore
	CatalogStore
	LedgerStore
	ShiftStore
	AuditStore
	UserStore
}
