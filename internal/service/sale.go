package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tohirbeka1997-ops/poos/internal/domain"
	"github.com/tohirbeka1997-ops/poos/internal/inventory"
	"github.com/tohirbeka1997-ops/poos/internal/numbering"
	"github.com/tohirbeka1997-ops/poos/internal/shift"
	"github.com/tohirbeka1997-ops/poos/internal/store"
	"github.com/tohirbeka1997-ops/poos/internal/xid"
)

// CompleteSale records a checkout. The sale either lands with its receipt
// number, items, stock moves and customer debt, or leaves no net effect.
func (s *Service) CompleteSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	actor := actorOrSystem(ctx)
	req, err := s.normalizeSale(actor, req)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	if resp, found, err := s.replaySale(ctx, req.IdempotencyKey); found || err != nil {
		return resp, err
	}

	ctx, unlock, err := s.locker.Lock(ctx, shift.LockKey(req.CashierID))
	if err != nil {
		return domain.SaleResponse{}, &StoreError{Op: "lock cashier " + req.CashierID, Err: err}
	}
	defer unlock()

	// A retry may have finished while this one waited for the lock.
	if resp, found, err := s.replaySale(ctx, req.IdempotencyKey); found || err != nil {
		return resp, err
	}

	open, err := s.repo.FindOpenShift(ctx, req.CashierID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.SaleResponse{}, &ShiftClosedError{CashierID: req.CashierID, Reason: "no open shift"}
	}
	if err != nil {
		return domain.SaleResponse{}, &StoreError{Op: "find open shift", Err: err}
	}

	items, err := s.priceLines(ctx, actor, req.Lines)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	if req.CustomerID != "" {
		if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
			return domain.SaleResponse{}, classify("get customer", "customer", req.CustomerID, err)
		}
	}

	totals := domain.SumItems(items)
	settlement, err := domain.Settle(req.Payment.Type, totals.Total, req.Payment.ReceivedAmount)
	switch {
	case errors.Is(err, domain.ErrUnderpaid):
		return domain.SaleResponse{}, invalid("payment.received_amount", fmt.Sprintf("received %d is less than total %d", req.Payment.ReceivedAmount, totals.Total))
	case err != nil:
		return domain.SaleResponse{}, invalid("payment.type", err.Error())
	}

	saleID := xid.New("sale")
	header := domain.Sale{
		ID:             saleID,
		CustomerID:     req.CustomerID,
		CashierID:      req.CashierID,
		ShiftID:        open.ID,
		Subtotal:       totals.Subtotal,
		Discount:       totals.Discount,
		Tax:            totals.Tax,
		Total:          totals.Total,
		PaymentType:    req.Payment.Type,
		ReceivedAmount: settlement.ReceivedAmount,
		DebtAmount:     settlement.DebtAmount,
		ChangeAmount:   settlement.ChangeAmount,
		Status:         domain.SaleStatusCompleted,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      s.now().UTC(),
	}

	sg := s.newSaga("sale", saleID, actor.Username)
	cancelSale := func(c context.Context) error {
		return s.repo.SetSaleStatus(c, saleID, domain.SaleStatusCompleted, domain.SaleStatusCancelled)
	}

	var replayed *domain.Sale
	_, err = s.withNumber(ctx, numbering.Receipt, func(number string) error {
		header.ReceiptNo = number
		_, insertErr := s.repo.InsertSale(ctx, header)
		if errors.Is(insertErr, store.ErrDuplicate) && header.IdempotencyKey != "" {
			if prior, findErr := s.repo.FindSaleByIdempotency(ctx, header.IdempotencyKey); findErr == nil {
				replayed = prior
				return errReplayed
			}
		}
		return insertErr
	})
	switch {
	case errors.Is(err, errReplayed):
		return s.saleReplay(replayed)
	case err != nil:
		var dup *DuplicateNumberError
		var storeErr *StoreError
		if errors.As(err, &dup) || errors.As(err, &storeErr) {
			return domain.SaleResponse{}, err
		}
		// The insert may have committed before failing.
		return domain.SaleResponse{}, s.fail(ctx, sg, "header", err, &StoreError{Op: "insert sale", Err: err}, ignoreMissing(cancelSale))
	}

	for i := range items {
		items[i].ID = xid.New("si")
		items[i].SaleID = saleID
	}
	savedItems, err := s.repo.InsertSaleItems(ctx, saleID, items)
	if err != nil {
		return domain.SaleResponse{}, s.fail(ctx, sg, "items", err, &PartialWriteError{Workflow: "sale", RefID: saleID, Step: "items", Err: err}, cancelSale)
	}

	for _, item := range savedItems {
		move, available, err := s.stock.Apply(ctx, item.ProductID, -item.Qty, inventory.Move{
			Type:      domain.MoveOut,
			RefType:   domain.RefSale,
			RefID:     saleID,
			Notes:     header.ReceiptNo,
			CreatedBy: actor.Username,
		})
		if err != nil {
			s.noteFailedMove(ctx, sg, move, err)
			step := "stock:" + item.ProductID
			var public error = &PartialWriteError{Workflow: "sale", RefID: saleID, Step: step, Err: err}
			if errors.Is(err, store.ErrInsufficientStock) {
				public = &InsufficientStockError{ProductID: item.ProductID, ProductName: item.ProductName, Requested: item.Qty, Available: available}
			}
			return domain.SaleResponse{}, s.fail(ctx, sg, step, err, public, cancelSale)
		}
		sg.moves = append(sg.moves, move)
	}

	if header.DebtAmount > 0 {
		if _, err := s.balances.Apply(ctx, header.CustomerID, -header.DebtAmount); err != nil {
			s.noteFailedBalance(sg, header.CustomerID, -header.DebtAmount, err)
			return domain.SaleResponse{}, s.fail(ctx, sg, "balance", err, &PartialWriteError{Workflow: "sale", RefID: saleID, Step: "balance", Err: err}, cancelSale)
		}
		sg.balances = append(sg.balances, balanceEffect{customerID: header.CustomerID, delta: -header.DebtAmount})
	}

	header.Items = savedItems
	s.logAudit(ctx, "sale_complete", "sale", saleID, fmt.Sprintf("receipt=%s,total=%d,payment=%s,debt=%d", header.ReceiptNo, header.Total, header.PaymentType, header.DebtAmount))
	log.Info().
		Str("sale_id", saleID).
		Str("receipt_no", header.ReceiptNo).
		Str("cashier_id", header.CashierID).
		Int64("total", header.Total).
		Msg("sale completed")

	return domain.SaleResponse{Sale: header, ReceiptFooter: s.settings.ReceiptFooter}, nil
}

func (s *Service) normalizeSale(actor domain.Actor, req domain.SaleRequest) (domain.SaleRequest, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.CashierID = strings.TrimSpace(req.CashierID)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.Notes = strings.TrimSpace(req.Notes)
	req.Payment.Type = strings.ToLower(strings.TrimSpace(req.Payment.Type))

	if req.CashierID == "" && actor != systemActor {
		req.CashierID = actor.Username
	}
	if req.CashierID == "" {
		return req, invalid("cashier_id", "cashier is required")
	}
	if actor != systemActor && actor.Role != domain.RoleAdmin && req.CashierID != actor.Username {
		return req, fmt.Errorf("%w: cashiers may only sell on their own shift", ErrForbidden)
	}

	if len(req.Lines) == 0 {
		return req, invalid("lines", "at least one line is required")
	}
	req.Lines = append([]domain.SaleLine(nil), req.Lines...)
	for i, line := range req.Lines {
		req.Lines[i].ProductID = strings.TrimSpace(line.ProductID)
		if req.Lines[i].ProductID == "" {
			return req, invalid(fmt.Sprintf("lines[%d].product_id", i), "product is required")
		}
		if line.Qty < 1 {
			return req, invalid(fmt.Sprintf("lines[%d].qty", i), "qty must be at least 1")
		}
		if line.Discount < 0 {
			return req, invalid(fmt.Sprintf("lines[%d].discount", i), "discount cannot be negative")
		}
	}

	switch req.Payment.Type {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentMobile, domain.PaymentPartial, domain.PaymentDebt:
	default:
		return req, invalid("payment.type", fmt.Sprintf("unsupported payment type %q", req.Payment.Type))
	}
	if req.Payment.ReceivedAmount < 0 {
		return req, invalid("payment.received_amount", "cannot be negative")
	}
	if domain.RequiresCustomer(req.Payment.Type) && req.CustomerID == "" {
		return req, invalid("customer_id", "customer is required for debt and partial payments")
	}
	return req, nil
}

// priceLines resolves products, applies the discount policy and checks
// stock up front. The authoritative stock check is the conditional update.
func (s *Service) priceLines(ctx context.Context, actor domain.Actor, lines []domain.SaleLine) ([]domain.SaleItem, error) {
	ids := make([]string, 0, len(lines))
	wanted := make(map[string]int, len(lines))
	for _, line := range lines {
		if _, seen := wanted[line.ProductID]; !seen {
			ids = append(ids, line.ProductID)
		}
		wanted[line.ProductID] += line.Qty
	}

	products, err := s.repo.GetProducts(ctx, ids)
	if err != nil {
		return nil, classify("get products", "product", strings.Join(ids, ","), err)
	}

	privileged := actor.Role == domain.RoleAdmin
	items := make([]domain.SaleItem, 0, len(lines))
	for i, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, &NotFoundError{Entity: "product", ID: line.ProductID}
		}
		if !product.Active {
			return nil, invalid(fmt.Sprintf("lines[%d].product_id", i), "product is inactive")
		}

		gross, tax, total := domain.LineAmounts(product.SalePrice, line.Qty, product.TaxRate, line.Discount)
		if line.Discount > gross {
			return nil, invalid(fmt.Sprintf("lines[%d].discount", i), "discount exceeds line amount")
		}
		if line.Discount > 0 && !privileged {
			if s.settings.DiscountAdminOnly {
				return nil, fmt.Errorf("%w: discounts require an admin", ErrForbidden)
			}
			if limit := domain.MaxLineDiscount(gross, s.settings.MaxDiscountPercent); line.Discount > limit {
				return nil, invalid(fmt.Sprintf("lines[%d].discount", i), fmt.Sprintf("discount %d exceeds allowed %d", line.Discount, limit))
			}
		}

		items = append(items, domain.SaleItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Qty:         line.Qty,
			Price:       product.SalePrice,
			Discount:    line.Discount,
			Tax:         tax,
			Total:       total,
		})
	}

	for _, id := range ids {
		product := products[id]
		if wanted[id] > product.Stock {
			return nil, &InsufficientStockError{ProductID: id, ProductName: product.Name, Requested: wanted[id], Available: product.Stock}
		}
	}
	return items, nil
}

func (s *Service) replaySale(ctx context.Context, key string) (domain.SaleResponse, bool, error) {
	if key == "" {
		return domain.SaleResponse{}, false, nil
	}
	prior, err := s.repo.FindSaleByIdempotency(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return domain.SaleResponse{}, false, nil
	}
	if err != nil {
		return domain.SaleResponse{}, false, &StoreError{Op: "find sale by idempotency key", Err: err}
	}
	resp, err := s.saleReplay(prior)
	return resp, true, err
}

// saleReplay answers a repeated request. A key whose sale was rolled back
// cannot be reused.
func (s *Service) saleReplay(prior *domain.Sale) (domain.SaleResponse, error) {
	if prior.Status == domain.SaleStatusCancelled {
		return domain.SaleResponse{}, invalid("idempotency_key", "key belongs to a cancelled sale, retry with a new key")
	}
	return domain.SaleResponse{Sale: *prior, Duplicate: true, ReceiptFooter: s.settings.ReceiptFooter}, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, classify("get sale", "sale", id, err)
	}
	return *sale, nil
}

func (s *Service) GetSaleByReceiptNo(ctx context.Context, receiptNo string) (domain.Sale, error) {
	receiptNo = strings.ToUpper(strings.TrimSpace(receiptNo))
	sale, err := s.repo.GetSaleByReceiptNo(ctx, receiptNo)
	if err != nil {
		return domain.Sale{}, classify("get sale", "receipt", receiptNo, err)
	}
	return *sale, nil
}
