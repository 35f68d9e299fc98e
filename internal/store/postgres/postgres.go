package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tohirbeka1997-ops/poos/internal/domain"
	"github.com/tohirbeka1997-ops/poos/internal/store"
	"github.com/tohirbeka1997-ops/poos/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate applies the idempotent schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) NextValue(ctx context.Context, counter string) (int64, error) {
	if strings.TrimSpace(counter) == "" {
		return 0, store.ErrInvalidTransaction
	}
	var next int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sequences (counter, last_number)
		VALUES ($1, 1)
		ON CONFLICT (counter)
		DO UPDATE SET last_number = sequences.last_number + 1
		RETURNING last_number
	`, counter).Scan(&next)
	return next, err
}

func (s *Store) ApplyStockDelta(ctx context.Context, move domain.StockMove) (int, error) {
	if move.ProductID == "" || move.Delta == 0 || move.Qty < 1 {
		return 0, store.ErrInvalidTransaction
	}
	if move.ID == "" {
		move.ID = xid.New("mv")
	}
	if move.CreatedAt.IsZero() {
		move.CreatedAt = time.Now().UTC()
	}

	var stock int
	err := s.withRetry(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE products
			SET stock = stock + $2, updated_at = now()
			WHERE id = $1 AND stock + $2 >= 0
			RETURNING stock
		`, move.ProductID, move.Delta).Scan(&stock)
		if errors.Is(err, sql.ErrNoRows) {
			if err := tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, move.ProductID).Scan(&stock); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return store.ErrNotFound
				}
				return err
			}
			return store.ErrInsufficientStock
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_moves (id, product_id, move_type, qty, delta, ref_type, ref_id, notes, created_by, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, move.ID, move.ProductID, move.Type, move.Qty, move.Delta, nullIfEmpty(move.RefType), nullIfEmpty(move.RefID), move.Notes, move.CreatedBy, move.CreatedAt)
		return err
	})
	return stock, err
}

func (s *Store) GetStockMove(ctx context.Context, id string) (*domain.StockMove, error) {
	var m domain.StockMove
	var refType, refID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, product_id, move_type, qty, delta, ref_type, ref_id, notes, created_by, created_at
		FROM stock_moves
		WHERE id = $1
	`, id).Scan(&m.ID, &m.ProductID, &m.Type, &m.Qty, &m.Delta, &refType, &refID, &m.Notes, &m.CreatedBy, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.RefType = refType.String
	m.RefID = refID.String
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

func (s *Store) ListStockMoves(ctx context.Context, productID string, limit int) ([]domain.StockMove, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, move_type, qty, delta, ref_type, ref_id, notes, created_by, created_at
		FROM stock_moves
		WHERE ($1 = '' OR product_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	moves := make([]domain.StockMove, 0, limit)
	for rows.Next() {
		var m domain.StockMove
		var refType, refID sql.NullString
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Qty, &m.Delta, &refType, &refID, &m.Notes, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.RefType = refType.String
		m.RefID = refID.String
		m.CreatedAt = m.CreatedAt.UTC()
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

func (s *Store) SumStockMoves(ctx context.Context, productID string) (int, int, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return 0, 0, err
	}
	if !exists {
		return 0, 0, store.ErrNotFound
	}

	var sum, count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(delta), 0), COUNT(*)
		FROM stock_moves
		WHERE product_id = $1
	`, productID).Scan(&sum, &count)
	return sum, count, err
}

func (s *Store) ApplyBalanceDelta(ctx context.Context, customerID string, delta int64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE customers SET balance = balance + $2
		WHERE id = $1
		RETURNING balance
	`, customerID, delta).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	return balance, err
}

const productColumns = `id, sku, name, unit, sale_price, cost_price, tax_rate, stock, min_stock, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var cost sql.NullInt64
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Unit, &p.SalePrice, &cost, &p.TaxRate, &p.Stock, &p.MinStock, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	if cost.Valid {
		p.CostPrice = &cost.Int64
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.SalePrice < 1 {
		return nil, store.ErrInvalidTransaction
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	now := time.Now().UTC()
	product.Stock = 0
	product.Active = true
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, product.ID, product.SKU, product.Name, product.Unit, product.SalePrice, nullInt64(product.CostPrice), product.TaxRate, product.Stock, product.MinStock, product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) SetProductCost(ctx context.Context, productID string, cost *int64) (*int64, error) {
	var previous sql.NullInt64
	err := s.runTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT cost_price FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&previous)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE products SET cost_price = $2, updated_at = now() WHERE id = $1
		`, productID, nullInt64(cost))
		return err
	})
	if err != nil {
		return nil, err
	}
	if !previous.Valid {
		return nil, nil
	}
	return &previous.Int64, nil
}

func (s *Store) RestoreProductCost(ctx context.Context, productID string, written *int64, previous *int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET cost_price = $3, updated_at = now()
		WHERE id = $1 AND cost_price IS NOT DISTINCT FROM $2
	`, productID, nullInt64(written), nullInt64(previous))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	customer.Balance = 0
	customer.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, code, name, phone, balance, points, created_at)
		VALUES ($1,$2,$3,$4,0,$5,$6)
	`, customer.ID, nullIfEmpty(customer.Code), customer.Name, customer.Phone, customer.Points, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	created := customer
	return &created, nil
}

const customerColumns = `id, COALESCE(code, ''), name, phone, balance, points, created_at`

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Phone, &c.Balance, &c.Points, &c.CreatedAt)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, err
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if strings.TrimSpace(supplier.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	supplier.Active = true
	supplier.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, supplier.ID, supplier.Name, supplier.Phone, supplier.Active, supplier.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := supplier
	return &created, nil
}

func (s *Store) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	var sup domain.Supplier
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, active, created_at FROM suppliers WHERE id = $1
	`, id).Scan(&sup.ID, &sup.Name, &sup.Phone, &sup.Active, &sup.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sup.CreatedAt = sup.CreatedAt.UTC()
	return &sup, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, phone, active, created_at FROM suppliers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 16)
	for rows.Next() {
		var sup domain.Supplier
		if err := rows.Scan(&sup.ID, &sup.Name, &sup.Phone, &sup.Active, &sup.CreatedAt); err != nil {
			return nil, err
		}
		sup.CreatedAt = sup.CreatedAt.UTC()
		suppliers = append(suppliers, sup)
	}
	return suppliers, rows.Err()
}

const saleColumns = `id, receipt_no, customer_id, cashier_id, shift_id, subtotal, discount, tax, total,
	payment_type, received_amount, debt_amount, change_amount, status, notes, idempotency_key, created_at`

func (s *Store) InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || sale.ReceiptNo == "" {
		return nil, store.ErrInvalidTransaction
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, sale.ID, sale.ReceiptNo, nullIfEmpty(sale.CustomerID), sale.CashierID, sale.ShiftID,
		sale.Subtotal, sale.Discount, sale.Tax, sale.Total,
		sale.PaymentType, sale.ReceivedAmount, sale.DebtAmount, sale.ChangeAmount,
		sale.Status, sale.Notes, nullIfEmpty(sale.IdempotencyKey), sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	sale.Items = nil
	return &sale, nil
}

func (s *Store) InsertSaleItems(ctx context.Context, saleID string, items []domain.SaleItem) ([]domain.SaleItem, error) {
	saved := make([]domain.SaleItem, 0, len(items))
	err := s.runTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		for _, item := range items {
			if item.ID == "" {
				item.ID = xid.New("si")
			}
			item.SaleID = saleID
			_, err := tx.ExecContext(ctx, `
				INSERT INTO sale_items (id, sale_id, product_id, product_name, qty, price, discount, tax, total)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`, item.ID, item.SaleID, item.ProductID, item.ProductName, item.Qty, item.Price, item.Discount, item.Tax, item.Total)
			if err != nil {
				return mapWriteError(err)
			}
			saved = append(saved, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Store) SetSaleStatus(ctx context.Context, saleID string, from string, to string) error {
	return s.transitionStatus(ctx, "sales", saleID, from, to)
}

func (s *Store) transitionStatus(ctx context.Context, table string, id string, from string, to string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE `+table+` SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.loadSale(ctx, `WHERE id = $1`, id)
}

func (s *Store) GetSaleByReceiptNo(ctx context.Context, receiptNo string) (*domain.Sale, error) {
	return s.loadSale(ctx, `WHERE receipt_no = $1`, receiptNo)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return s.loadSale(ctx, `WHERE idempotency_key = $1`, key)
}

func (s *Store) loadSale(ctx context.Context, where string, arg string) (*domain.Sale, error) {
	var sale domain.Sale
	var customerID, idemKey sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales `+where, arg).Scan(
		&sale.ID, &sale.ReceiptNo, &customerID, &sale.CashierID, &sale.ShiftID,
		&sale.Subtotal, &sale.Discount, &sale.Tax, &sale.Total,
		&sale.PaymentType, &sale.ReceivedAmount, &sale.DebtAmount, &sale.ChangeAmount,
		&sale.Status, &sale.Notes, &idemKey, &sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CustomerID = customerID.String
	sale.IdempotencyKey = idemKey.String
	sale.CreatedAt = sale.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, product_name, qty, price, discount, tax, total
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sale.Items = make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.Qty, &item.Price, &item.Discount, &item.Tax, &item.Total); err != nil {
			return nil, err
		}
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) InsertReturn(ctx context.Context, ret domain.Return) (*domain.Return, error) {
	if ret.ID == "" || ret.ReturnNo == "" {
		return nil, store.ErrInvalidTransaction
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO returns (id, return_no, sale_id, cashier_id, shift_id, total_amount, debt_reversed, reason, status, idempotency_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, ret.ID, ret.ReturnNo, nullIfEmpty(ret.SaleID), ret.CashierID, nullIfEmpty(ret.ShiftID), ret.TotalAmount, ret.DebtReversed, ret.Reason, ret.Status, nullIfEmpty(ret.IdempotencyKey), ret.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	ret.Items = nil
	return &ret, nil
}

func (s *Store) InsertReturnItems(ctx context.Context, returnID string, items []domain.ReturnItem) ([]domain.ReturnItem, error) {
	saved := make([]domain.ReturnItem, 0, len(items))
	err := s.runTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		for _, item := range items {
			if item.ID == "" {
				item.ID = xid.New("ri")
			}
			item.ReturnID = returnID
			_, err := tx.ExecContext(ctx, `
				INSERT INTO return_items (id, return_id, sale_item_id, product_id, qty, price, total)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, item.ID, item.ReturnID, item.SaleItemID, item.ProductID, item.Qty, item.Price, item.Total)
			if err != nil {
				return mapWriteError(err)
			}
			saved = append(saved, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Store) SetReturnStatus(ctx context.Context, returnID string, from string, to string) error {
	return s.transitionStatus(ctx, "returns", returnID, from, to)
}

func (s *Store) FindReturnByIdempotency(ctx context.Context, key string) (*domain.Return, error) {
	var ret domain.Return
	var saleID, shiftID, idemKey sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, return_no, sale_id, cashier_id, shift_id, total_amount, debt_reversed, reason, status, idempotency_key, created_at
		FROM returns
		WHERE idempotency_key = $1
	`, key).Scan(&ret.ID, &ret.ReturnNo, &saleID, &ret.CashierID, &shiftID, &ret.TotalAmount, &ret.DebtReversed, &ret.Reason, &ret.Status, &idemKey, &ret.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	ret.SaleID = saleID.String
	ret.ShiftID = shiftID.String
	ret.IdempotencyKey = idemKey.String
	ret.CreatedAt = ret.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, return_id, sale_item_id, product_id, qty, price, total
		FROM return_items
		WHERE return_id = $1
		ORDER BY id
	`, ret.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret.Items = make([]domain.ReturnItem, 0, 4)
	for rows.Next() {
		var item domain.ReturnItem
		if err := rows.Scan(&item.ID, &item.ReturnID, &item.SaleItemID, &item.ProductID, &item.Qty, &item.Price, &item.Total); err != nil {
			return nil, err
		}
		ret.Items = append(ret.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (s *Store) ReturnedQtyBySaleItem(ctx context.Context, saleID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ri.sale_item_id, SUM(ri.qty)
		FROM return_items ri
		JOIN returns r ON r.id = ri.return_id
		WHERE r.sale_id = $1 AND r.status <> $2
		GROUP BY ri.sale_item_id
	`, saleID, domain.ReturnStatusRejected)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var itemID string
		var qty int
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		result[itemID] = qty
	}
	return result, rows.Err()
}

func (s *Store) DebtReversedForSale(ctx context.Context, saleID string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(debt_reversed), 0)
		FROM returns
		WHERE sale_id = $1 AND status <> $2
	`, saleID, domain.ReturnStatusRejected).Scan(&total)
	return total, err
}

func (s *Store) InsertPurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if purchase.ID == "" || purchase.PurchaseNo == "" {
		return nil, store.ErrInvalidTransaction
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO purchases (id, purchase_no, supplier_id, total, status, received_by, notes, idempotency_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, purchase.ID, purchase.PurchaseNo, purchase.SupplierID, purchase.Total, purchase.Status, purchase.ReceivedBy, purchase.Notes, nullIfEmpty(purchase.IdempotencyKey), purchase.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	purchase.Items = nil
	return &purchase, nil
}

func (s *Store) InsertPurchaseItems(ctx context.Context, purchaseID string, items []domain.PurchaseItem) ([]domain.PurchaseItem, error) {
	saved := make([]domain.PurchaseItem, 0, len(items))
	err := s.runTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		for _, item := range items {
			if item.ID == "" {
				item.ID = xid.New("pi")
			}
			item.PurchaseID = purchaseID
			_, err := tx.ExecContext(ctx, `
				INSERT INTO purchase_items (id, purchase_id, product_id, product_name, qty, cost_price, total)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, item.ID, item.PurchaseID, item.ProductID, item.ProductName, item.Qty, item.CostPrice, item.Total)
			if err != nil {
				return mapWriteError(err)
			}
			saved = append(saved, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Store) SetPurchaseStatus(ctx context.Context, purchaseID string, from string, to string) error {
	return s.transitionStatus(ctx, "purchases", purchaseID, from, to)
}

func (s *Store) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return s.loadPurchase(ctx, `WHERE id = $1`, id)
}

func (s *Store) FindPurchaseByIdempotency(ctx context.Context, key string) (*domain.Purchase, error) {
	return s.loadPurchase(ctx, `WHERE idempotency_key = $1`, key)
}

func (s *Store) loadPurchase(ctx context.Context, where string, arg string) (*domain.Purchase, error) {
	var p domain.Purchase
	var idemKey sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, purchase_no, supplier_id, total, status, received_by, notes, idempotency_key, created_at
		FROM purchases `+where, arg).Scan(&p.ID, &p.PurchaseNo, &p.SupplierID, &p.Total, &p.Status, &p.ReceivedBy, &p.Notes, &idemKey, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.IdempotencyKey = idemKey.String
	p.CreatedAt = p.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, purchase_id, product_id, product_name, qty, cost_price, total
		FROM purchase_items
		WHERE purchase_id = $1
		ORDER BY id
	`, p.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	p.Items = make([]domain.PurchaseItem, 0, 8)
	for rows.Next() {
		var item domain.PurchaseItem
		if err := rows.Scan(&item.ID, &item.PurchaseID, &item.ProductID, &item.ProductName, &item.Qty, &item.CostPrice, &item.Total); err != nil {
			return nil, err
		}
		p.Items = append(p.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &p, nil
}

const shiftColumns = `id, cashier_id, status, opened_at, opening_cash, closed_at, closing_cash, expected_cash, difference, notes`

func scanShift(row rowScanner) (domain.CashShift, error) {
	var sh domain.CashShift
	var closedAt sql.NullTime
	var closing, expected, diff sql.NullInt64
	if err := row.Scan(&sh.ID, &sh.CashierID, &sh.Status, &sh.OpenedAt, &sh.OpeningCash, &closedAt, &closing, &expected, &diff, &sh.Notes); err != nil {
		return sh, err
	}
	sh.OpenedAt = sh.OpenedAt.UTC()
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		sh.ClosedAt = &t
	}
	if closing.Valid {
		sh.ClosingCash = &closing.Int64
	}
	if expected.Valid {
		sh.ExpectedCash = &expected.Int64
	}
	if diff.Valid {
		sh.Difference = &diff.Int64
	}
	return sh, nil
}

func (s *Store) CreateShift(ctx context.Context, shift domain.CashShift) (*domain.CashShift, error) {
	if strings.TrimSpace(shift.CashierID) == "" || shift.OpeningCash < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_shifts (id, cashier_id, status, opened_at, opening_cash, notes)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, shift.ID, shift.CashierID, shift.Status, shift.OpenedAt, shift.OpeningCash, shift.Notes)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	saved := shift
	return &saved, nil
}

func (s *Store) GetShift(ctx context.Context, id string) (*domain.CashShift, error) {
	sh, err := scanShift(s.db.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM cash_shifts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sh, nil
}

func (s *Store) FindOpenShift(ctx context.Context, cashierID string) (*domain.CashShift, error) {
	sh, err := scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM cash_shifts WHERE cashier_id = $1 AND status = $2
	`, cashierID, domain.ShiftStatusOpen))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sh, nil
}

func (s *Store) CloseShift(ctx context.Context, closed domain.CashShift) (*domain.CashShift, error) {
	sh, err := scanShift(s.db.QueryRowContext(ctx, `
		UPDATE cash_shifts
		SET status = $2, closed_at = $3, closing_cash = $4, expected_cash = $5, difference = $6, notes = $7
		WHERE id = $1 AND status = $8
		RETURNING `+shiftColumns,
		closed.ID, domain.ShiftStatusClosed, nullTime(closed.ClosedAt), nullInt64(closed.ClosingCash),
		nullInt64(closed.ExpectedCash), nullInt64(closed.Difference), closed.Notes, domain.ShiftStatusOpen))
	if err == nil {
		return &sh, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if _, getErr := s.GetShift(ctx, closed.ID); getErr != nil {
		return nil, getErr
	}
	return nil, store.ErrConflict
}

func (s *Store) CreateCashCollection(ctx context.Context, collection domain.CashCollection) (*domain.CashCollection, error) {
	if collection.ID == "" {
		collection.ID = xid.New("cc")
	}
	if collection.CreatedAt.IsZero() {
		collection.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_collections (id, shift_id, amount, collected_by, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, collection.ID, collection.ShiftID, collection.Amount, collection.CollectedBy, collection.Notes, collection.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	saved := collection
	return &saved, nil
}

func (s *Store) ListCashCollections(ctx context.Context, shiftID string) ([]domain.CashCollection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shift_id, amount, collected_by, notes, created_at
		FROM cash_collections
		WHERE shift_id = $1
		ORDER BY created_at
	`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	collections := make([]domain.CashCollection, 0, 4)
	for rows.Next() {
		var c domain.CashCollection
		if err := rows.Scan(&c.ID, &c.ShiftID, &c.Amount, &c.CollectedBy, &c.Notes, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		collections = append(collections, c)
	}
	return collections, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateIntegrityAlert(ctx context.Context, alert domain.IntegrityAlert) error {
	if alert.ID == "" {
		alert.ID = xid.New("alert")
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integrity_alerts (id, workflow, ref_id, step, detail, resolved, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, alert.ID, alert.Workflow, alert.RefID, alert.Step, alert.Detail, alert.Resolved, alert.CreatedAt)
	return err
}

func (s *Store) ListIntegrityAlerts(ctx context.Context, limit int) ([]domain.IntegrityAlert, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow, ref_id, step, detail, resolved, created_at
		FROM integrity_alerts
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := make([]domain.IntegrityAlert, 0, 8)
	for rows.Next() {
		var a domain.IntegrityAlert
		if err := rows.Scan(&a.ID, &a.Workflow, &a.RefID, &a.Step, &a.Detail, &a.Resolved, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidTransaction
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2 WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username)), password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func mapWriteError(err error) error {
	switch {
	case isUniqueViolation(err):
		return store.ErrDuplicate
	case isForeignKeyViolation(err):
		return store.ErrNotFound
	default:
		return err
	}
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
