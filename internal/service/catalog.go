package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tohirbeka1997-ops/poos/internal/domain"
	"github.com/tohirbeka1997-ops/poos/internal/inventory"
	"github.com/tohirbeka1997-ops/poos/internal/store"
	"github.com/tohirbeka1997-ops/poos/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, &StoreError{Op: "list products", Err: err}
	}
	return products, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, classify("get product", "product", id, err)
	}
	return *product, nil
}

// CreateProduct adds a catalog item. Opening stock is booked as a movement so
// the product's stock always equals the sum of its moves.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Unit = strings.TrimSpace(req.Unit)
	if req.Unit == "" {
		req.Unit = "dona"
	}

	switch {
	case req.SKU == "":
		return domain.Product{}, invalid("sku", "sku is required")
	case req.Name == "":
		return domain.Product{}, invalid("name", "name is required")
	case req.SalePrice < 1:
		return domain.Product{}, invalid("sale_price", "sale price must be positive")
	case req.CostPrice != nil && *req.CostPrice < 0:
		return domain.Product{}, invalid("cost_price", "cost price cannot be negative")
	case req.MinStock < 0:
		return domain.Product{}, invalid("min_stock", "min stock cannot be negative")
	case req.InitialStock < 0:
		return domain.Product{}, invalid("initial_stock", "initial stock cannot be negative")
	}

	taxRate := s.settings.TaxRate
	if req.TaxRate != nil {
		if *req.TaxRate < 0 || *req.TaxRate > 100 {
			return domain.Product{}, invalid("tax_rate", "tax rate must be between 0 and 100")
		}
		taxRate = *req.TaxRate
	}

	now := s.now().UTC()
	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:        xid.New("prd"),
		SKU:       req.SKU,
		Name:      req.Name,
		Unit:      req.Unit,
		SalePrice: req.SalePrice,
		CostPrice: req.CostPrice,
		TaxRate:   taxRate,
		MinStock:  req.MinStock,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return domain.Product{}, invalid("sku", "sku already exists")
	}
	if err != nil {
		return domain.Product{}, &StoreError{Op: "create product", Err: err}
	}

	if req.InitialStock > 0 {
		_, stock, err := s.stock.Apply(ctx, created.ID, req.InitialStock, inventory.Move{
			Type:      domain.MoveIn,
			RefType:   domain.RefCorrection,
			Notes:     "opening stock",
			CreatedBy: actor.Username,
		})
		if err != nil {
			return domain.Product{}, &PartialWriteError{Workflow: "product", RefID: created.ID, Step: "opening_stock", Err: err}
		}
		created.Stock = stock
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,name=%s,price=%d,stock=%d", created.SKU, created.Name, created.SalePrice, req.InitialStock))
	return *created, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, &StoreError{Op: "list customers", Err: err}
	}
	return customers, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	id = strings.TrimSpace(id)
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, classify("get customer", "customer", id, err)
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		return domain.Customer{}, invalid("name", "name is required")
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:        xid.New("cus"),
		Code:      req.Code,
		Name:      req.Name,
		Phone:     req.Phone,
		CreatedAt: s.now().UTC(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return domain.Customer{}, invalid("code", "customer code already exists")
	}
	if err != nil {
		return domain.Customer{}, &StoreError{Op: "create customer", Err: err}
	}

	s.logAudit(ctx, "customer_create", "customer", created.ID, fmt.Sprintf("code=%s,name=%s", created.Code, created.Name))
	return *created, nil
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Supplier{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		return domain.Supplier{}, invalid("name", "name is required")
	}

	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:        xid.New("sup"),
		Name:      req.Name,
		Phone:     req.Phone,
		Active:    true,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.Supplier{}, &StoreError{Op: "create supplier", Err: err}
	}

	s.logAudit(ctx, "supplier_create", "supplier", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	suppliers, err := s.repo.ListSuppliers(ctx)
	if err != nil {
		return nil, &StoreError{Op: "list suppliers", Err: err}
	}
	return suppliers, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, invalid("date", "date must be YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	logs, err := s.repo.ListAuditLogs(ctx, from, to, limit)
	if err != nil {
		return nil, &StoreError{Op: "list audit logs", Err: err}
	}
	return logs, nil
}

func (s *Service) ListIntegrityAlerts(ctx context.Context, limit int) ([]domain.IntegrityAlert, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	alerts, err := s.repo.ListIntegrityAlerts(ctx, limit)
	if err != nil {
		return nil, &StoreError{Op: "list integrity alerts", Err: err}
	}
	return alerts, nil
}
