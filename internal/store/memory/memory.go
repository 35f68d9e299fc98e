package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/tohirbeka1997-ops/poos/internal/domain"
	"github.com/tohirbeka1997-ops/poos/internal/store"
	"github.com/tohirbeka1997-ops/poos/internal/xid"
)

type Store struct {
	mu                 sync.RWMutex
	sequences          map[string]int64
	products           map[string]domain.Product
	productIDBySKU     map[string]string
	customers          map[string]domain.Customer
	suppliers          map[string]domain.Supplier
	moves              []domain.StockMove
	salesByID          map[string]*domain.Sale
	saleIDByReceipt    map[string]string
	saleIDByIdem       map[string]string
	returnsByID        map[string]*domain.Return
	returnIDByNo       map[string]string
	returnIDByIdem     map[string]string
	returnIDsBySale    map[string][]string
	purchasesByID      map[string]*domain.Purchase
	purchaseIDByNo     map[string]string
	purchaseIDByIdem   map[string]string
	shiftsByID         map[string]domain.CashShift
	openShiftByCashier map[string]string
	collectionsByShift map[string][]domain.CashCollection
	auditLogs          []domain.AuditLog
	alerts             []domain.IntegrityAlert
	usersByUsername    map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD, with
// dev defaults when unset. PostgreSQL deployments never use these.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		sequences:          make(map[string]int64),
		products:           make(map[string]domain.Product),
		productIDBySKU:     make(map[string]string),
		customers:          make(map[string]domain.Customer),
		suppliers:          make(map[string]domain.Supplier),
		moves:              make([]domain.StockMove, 0, 256),
		salesByID:          make(map[string]*domain.Sale),
		saleIDByReceipt:    make(map[string]string),
		saleIDByIdem:       make(map[string]string),
		returnsByID:        make(map[string]*domain.Return),
		returnIDByNo:       make(map[string]string),
		returnIDByIdem:     make(map[string]string),
		returnIDsBySale:    make(map[string][]string),
		purchasesByID:      make(map[string]*domain.Purchase),
		purchaseIDByNo:     make(map[string]string),
		purchaseIDByIdem:   make(map[string]string),
		shiftsByID:         make(map[string]domain.CashShift),
		openShiftByCashier: make(map[string]string),
		collectionsByShift: make(map[string][]domain.CashCollection),
		auditLogs:          make([]domain.AuditLog, 0, 128),
		alerts:             make([]domain.IntegrityAlert, 0, 8),
		usersByUsername:    make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with a small demo catalog. Opening stock is
// recorded as correction moves so the move log still explains every unit.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prd-non-01", SKU: "NON-01", Name: "Non (bugdoy)", Unit: "dona", SalePrice: 400000, TaxRate: 12, MinStock: 20},
		{ID: "prd-sut-01", SKU: "SUT-01", Name: "Sut 1L", Unit: "dona", SalePrice: 1200000, TaxRate: 12, MinStock: 15},
		{ID: "prd-guruch-01", SKU: "GURUCH-01", Name: "Guruch 1kg", Unit: "kg", SalePrice: 1800000, TaxRate: 12, MinStock: 30},
		{ID: "prd-choy-01", SKU: "CHOY-01", Name: "Ko'k choy", Unit: "quti", SalePrice: 950000, TaxRate: 12, MinStock: 10},
		{ID: "prd-shakar-01", SKU: "SHAKAR-01", Name: "Shakar 1kg", Unit: "kg", SalePrice: 1400000, TaxRate: 12, MinStock: 25},
		{ID: "prd-suv-01", SKU: "SUV-01", Name: "Suv 1.5L", Unit: "dona", SalePrice: 500000, TaxRate: 0, MinStock: 40},
	}
	for _, p := range products {
		cost := p.SalePrice * 8 / 10
		p.CostPrice = &cost
		p.Active = true
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
		s.productIDBySKU[p.SKU] = p.ID
		s.applyStockLocked(domain.StockMove{
			ID:        xid.New("mv"),
			ProductID: p.ID,
			Type:      domain.MoveIn,
			Qty:       100,
			Delta:     100,
			RefType:   domain.RefCorrection,
			Notes:     "opening stock",
			CreatedBy: "system",
			CreatedAt: now,
		})
	}

	s.customers["cus-walkin-01"] = domain.Customer{ID: "cus-walkin-01", Code: "C0001", Name: "Doimiy mijoz", CreatedAt: now}
	s.suppliers["sup-main-01"] = domain.Supplier{ID: "sup-main-01", Name: "Asosiy ta'minotchi", Active: true, CreatedAt: now}

	return s
}

func (s *Store) NextValue(_ context.Context, counter string) (int64, error) {
	if strings.TrimSpace(counter) == "" {
		return 0, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[counter]++
	return s.sequences[counter], nil
}

func (s *Store) ApplyStockDelta(_ context.Context, move domain.StockMove) (int, error) {
	if move.ProductID == "" || move.Delta == 0 {
		return 0, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[move.ProductID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if product.Stock+move.Delta < 0 {
		return product.Stock, store.ErrInsufficientStock
	}
	return s.applyStockLocked(move), nil
}

func (s *Store) applyStockLocked(move domain.StockMove) int {
	product := s.products[move.ProductID]
	product.Stock += move.Delta
	product.UpdatedAt = move.CreatedAt
	s.products[move.ProductID] = product
	s.moves = append(s.moves, move)
	return product.Stock
}

func (s *Store) GetStockMove(_ context.Context, id string) (*domain.StockMove, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.moves) - 1; i >= 0; i-- {
		if s.moves[i].ID == id {
			move := s.moves[i]
			return &move, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListStockMoves(_ context.Context, productID string, limit int) ([]domain.StockMove, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMove, 0, limit)
	for i := len(s.moves) - 1; i >= 0 && len(result) < limit; i-- {
		if productID != "" && s.moves[i].ProductID != productID {
			continue
		}
		result = append(result, s.moves[i])
	}
	return result, nil
}

func (s *Store) SumStockMoves(_ context.Context, productID string) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.products[productID]; !ok {
		return 0, 0, store.ErrNotFound
	}
	sum, count := 0, 0
	for _, move := range s.moves {
		if move.ProductID == productID {
			sum += move.Delta
			count++
		}
	}
	return sum, count, nil
}

func (s *Store) ApplyBalanceDelta(_ context.Context, customerID string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, ok := s.customers[customerID]
	if !ok {
		return 0, store.ErrNotFound
	}
	customer.Balance += delta
	s.customers[customerID] = customer
	return customer.Balance, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.SalePrice < 1 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.productIDBySKU[product.SKU]; exists {
		return nil, store.ErrDuplicate
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	now := time.Now().UTC()
	product.Stock = 0
	product.Active = true
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product
	s.productIDBySKU[product.SKU] = product.ID

	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := s.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		result = append(result, product)
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) SetProductCost(_ context.Context, productID string, cost *int64) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	previous := cloneInt64(product.CostPrice)
	product.CostPrice = cloneInt64(cost)
	product.UpdatedAt = time.Now().UTC()
	s.products[productID] = product
	return previous, nil
}

func (s *Store) RestoreProductCost(_ context.Context, productID string, written *int64, previous *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	if !sameInt64(product.CostPrice, written) {
		return store.ErrConflict
	}
	product.CostPrice = cloneInt64(previous)
	product.UpdatedAt = time.Now().UTC()
	s.products[productID] = product
	return nil
}

func sameInt64(a *int64, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.customers {
		if customer.Code != "" && existing.Code == customer.Code {
			return nil, store.ErrDuplicate
		}
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	customer.Balance = 0
	customer.CreatedAt = time.Now().UTC()
	s.customers[customer.ID] = customer

	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, len(s.customers))
	for _, customer := range s.customers {
		result = append(result, customer)
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if strings.TrimSpace(supplier.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	supplier.Active = true
	supplier.CreatedAt = time.Now().UTC()
	s.suppliers[supplier.ID] = supplier

	created := supplier
	return &created, nil
}

func (s *Store) GetSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, ok := s.suppliers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Supplier, 0, len(s.suppliers))
	for _, supplier := range s.suppliers {
		result = append(result, supplier)
	}
	slices.SortFunc(result, func(a, b domain.Supplier) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) InsertSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || sale.ReceiptNo == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.saleIDByReceipt[sale.ReceiptNo]; exists {
		return nil, store.ErrDuplicate
	}
	if sale.IdempotencyKey != "" {
		if _, exists := s.saleIDByIdem[sale.IdempotencyKey]; exists {
			return nil, store.ErrDuplicate
		}
		s.saleIDByIdem[sale.IdempotencyKey] = sale.ID
	}
	sale.Items = nil
	s.salesByID[sale.ID] = &sale
	s.saleIDByReceipt[sale.ReceiptNo] = sale.ID

	return cloneSale(&sale), nil
}

func (s *Store) InsertSaleItems(_ context.Context, saleID string, items []domain.SaleItem) ([]domain.SaleItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	saved := make([]domain.SaleItem, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			item.ID = xid.New("si")
		}
		item.SaleID = saleID
		saved = append(saved, item)
	}
	sale.Items = append(sale.Items, saved...)
	return slices.Clone(saved), nil
}

func (s *Store) SetSaleStatus(_ context.Context, saleID string, from string, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return store.ErrNotFound
	}
	if sale.Status != from {
		return store.ErrConflict
	}
	sale.Status = to
	return nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) GetSaleByReceiptNo(ctx context.Context, receiptNo string) (*domain.Sale, error) {
	s.mu.RLock()
	id, ok := s.saleIDByReceipt[receiptNo]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.GetSale(ctx, id)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	id, ok := s.saleIDByIdem[key]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.GetSale(ctx, id)
}

func (s *Store) InsertReturn(_ context.Context, ret domain.Return) (*domain.Return, error) {
	if ret.ID == "" || ret.ReturnNo == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.returnIDByNo[ret.ReturnNo]; exists {
		return nil, store.ErrDuplicate
	}
	if ret.IdempotencyKey != "" {
		if _, exists := s.returnIDByIdem[ret.IdempotencyKey]; exists {
			return nil, store.ErrDuplicate
		}
		s.returnIDByIdem[ret.IdempotencyKey] = ret.ID
	}
	ret.Items = nil
	s.returnsByID[ret.ID] = &ret
	s.returnIDByNo[ret.ReturnNo] = ret.ID
	if ret.SaleID != "" {
		s.returnIDsBySale[ret.SaleID] = append(s.returnIDsBySale[ret.SaleID], ret.ID)
	}

	return cloneReturn(&ret), nil
}

func (s *Store) InsertReturnItems(_ context.Context, returnID string, items []domain.ReturnItem) ([]domain.ReturnItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret, ok := s.returnsByID[returnID]
	if !ok {
		return nil, store.ErrNotFound
	}
	saved := make([]domain.ReturnItem, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			item.ID = xid.New("ri")
		}
		item.ReturnID = returnID
		saved = append(saved, item)
	}
	ret.Items = append(ret.Items, saved...)
	return slices.Clone(saved), nil
}

func (s *Store) SetReturnStatus(_ context.Context, returnID string, from string, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret, ok := s.returnsByID[returnID]
	if !ok {
		return store.ErrNotFound
	}
	if ret.Status != from {
		return store.ErrConflict
	}
	ret.Status = to
	return nil
}

func (s *Store) FindReturnByIdempotency(_ context.Context, key string) (*domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.returnIDByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneReturn(s.returnsByID[id]), nil
}

func (s *Store) ReturnedQtyBySaleItem(_ context.Context, saleID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]int)
	for _, id := range s.returnIDsBySale[saleID] {
		ret := s.returnsByID[id]
		if ret.Status == domain.ReturnStatusRejected {
			continue
		}
		for _, item := range ret.Items {
			result[item.SaleItemID] += item.Qty
		}
	}
	return result, nil
}

func (s *Store) DebtReversedForSale(_ context.Context, saleID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := int64(0)
	for _, id := range s.returnIDsBySale[saleID] {
		ret := s.returnsByID[id]
		if ret.Status == domain.ReturnStatusRejected {
			continue
		}
		total += ret.DebtReversed
	}
	return total, nil
}

func (s *Store) InsertPurchase(_ context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if purchase.ID == "" || purchase.PurchaseNo == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.purchaseIDByNo[purchase.PurchaseNo]; exists {
		return nil, store.ErrDuplicate
	}
	if purchase.IdempotencyKey != "" {
		if _, exists := s.purchaseIDByIdem[purchase.IdempotencyKey]; exists {
			return nil, store.ErrDuplicate
		}
		s.purchaseIDByIdem[purchase.IdempotencyKey] = purchase.ID
	}
	purchase.Items = nil
	s.purchasesByID[purchase.ID] = &purchase
	s.purchaseIDByNo[purchase.PurchaseNo] = purchase.ID

	return clonePurchase(&purchase), nil
}

func (s *Store) InsertPurchaseItems(_ context.Context, purchaseID string, items []domain.PurchaseItem) ([]domain.PurchaseItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purchase, ok := s.purchasesByID[purchaseID]
	if !ok {
		return nil, store.ErrNotFound
	}
	saved := make([]domain.PurchaseItem, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			item.ID = xid.New("pi")
		}
		item.PurchaseID = purchaseID
		saved = append(saved, item)
	}
	purchase.Items = append(purchase.Items, saved...)
	return slices.Clone(saved), nil
}

func (s *Store) SetPurchaseStatus(_ context.Context, purchaseID string, from string, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	purchase, ok := s.purchasesByID[purchaseID]
	if !ok {
		return store.ErrNotFound
	}
	if purchase.Status != from {
		return store.ErrConflict
	}
	purchase.Status = to
	return nil
}

func (s *Store) GetPurchase(_ context.Context, id string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchase, ok := s.purchasesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePurchase(purchase), nil
}

func (s *Store) FindPurchaseByIdempotency(ctx context.Context, key string) (*domain.Purchase, error) {
	s.mu.RLock()
	id, ok := s.purchaseIDByIdem[key]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.GetPurchase(ctx, id)
}

func (s *Store) CreateShift(_ context.Context, shift domain.CashShift) (*domain.CashShift, error) {
	if strings.TrimSpace(shift.CashierID) == "" || shift.OpeningCash < 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.openShiftByCashier[shift.CashierID]; exists {
		return nil, store.ErrDuplicate
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil
	shift.ClosingCash = nil
	shift.ExpectedCash = nil
	shift.Difference = nil

	s.shiftsByID[shift.ID] = shift
	s.openShiftByCashier[shift.CashierID] = shift.ID

	saved := shift
	return &saved, nil
}

func (s *Store) GetShift(_ context.Context, id string) (*domain.CashShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, ok := s.shiftsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &shift, nil
}

func (s *Store) FindOpenShift(_ context.Context, cashierID string) (*domain.CashShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.openShiftByCashier[cashierID]
	if !ok {
		return nil, store.ErrNotFound
	}
	shift := s.shiftsByID[id]
	return &shift, nil
}

func (s *Store) CloseShift(_ context.Context, closed domain.CashShift) (*domain.CashShift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, ok := s.shiftsByID[closed.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrConflict
	}

	shift.Status = domain.ShiftStatusClosed
	shift.ClosedAt = closed.ClosedAt
	shift.ClosingCash = closed.ClosingCash
	shift.ExpectedCash = closed.ExpectedCash
	shift.Difference = closed.Difference
	shift.Notes = closed.Notes
	s.shiftsByID[shift.ID] = shift
	delete(s.openShiftByCashier, shift.CashierID)

	saved := shift
	return &saved, nil
}

func (s *Store) CreateCashCollection(_ context.Context, collection domain.CashCollection) (*domain.CashCollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.shiftsByID[collection.ShiftID]; !ok {
		return nil, store.ErrNotFound
	}
	if collection.ID == "" {
		collection.ID = xid.New("cc")
	}
	if collection.CreatedAt.IsZero() {
		collection.CreatedAt = time.Now().UTC()
	}
	s.collectionsByShift[collection.ShiftID] = append(s.collectionsByShift[collection.ShiftID], collection)

	saved := collection
	return &saved, nil
}

func (s *Store) ListCashCollections(_ context.Context, shiftID string) ([]domain.CashCollection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.collectionsByShift[shiftID]), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *Store) CreateIntegrityAlert(_ context.Context, alert domain.IntegrityAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alert.ID == "" {
		alert.ID = xid.New("alert")
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *Store) ListIntegrityAlerts(_ context.Context, limit int) ([]domain.IntegrityAlert, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.IntegrityAlert, 0, min(limit, len(s.alerts)))
	for i := len(s.alerts) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.alerts[i])
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Items = slices.Clone(src.Items)
	return &dst
}

func cloneReturn(src *domain.Return) *domain.Return {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Items = slices.Clone(src.Items)
	return &dst
}

func clonePurchase(src *domain.Purchase) *domain.Purchase {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Items = slices.Clone(src.Items)
	return &dst
}
