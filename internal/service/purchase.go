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
	"github.com/tohirbeka1997-ops/poos/internal/store"
	"github.com/tohirbeka1997-ops/poos/internal/xid"
)

// ReceivePurchase books goods from a supplier: stock goes up and each
// product's cost price becomes the latest purchase cost.
func (s *Service) ReceivePurchase(ctx context.Context, req domain.PurchaseRequest) (domain.PurchaseResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}
	req, err = normalizePurchase(req)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	if resp, found, err := s.replayPurchase(ctx, req.IdempotencyKey); found || err != nil {
		return resp, err
	}

	if _, err := s.repo.GetSupplier(ctx, req.SupplierID); err != nil {
		return domain.PurchaseResponse{}, classify("get supplier", "supplier", req.SupplierID, err)
	}

	ids := make([]string, 0, len(req.Lines))
	for _, line := range req.Lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProducts(ctx, ids)
	if err != nil {
		return domain.PurchaseResponse{}, classify("get products", "product", strings.Join(ids, ","), err)
	}

	purchaseID := xid.New("pur")
	items := make([]domain.PurchaseItem, 0, len(req.Lines))
	var total int64
	for _, line := range req.Lines {
		product, ok := products[line.ProductID]
		if !ok {
			return domain.PurchaseResponse{}, &NotFoundError{Entity: "product", ID: line.ProductID}
		}
		lineTotal := line.CostPrice * int64(line.Qty)
		items = append(items, domain.PurchaseItem{
			ID:          xid.New("pi"),
			PurchaseID:  purchaseID,
			ProductID:   product.ID,
			ProductName: product.Name,
			Qty:         line.Qty,
			CostPrice:   line.CostPrice,
			Total:       lineTotal,
		})
		total += lineTotal
	}

	header := domain.Purchase{
		ID:             purchaseID,
		SupplierID:     req.SupplierID,
		Total:          total,
		Status:         domain.PurchaseStatusReceived,
		ReceivedBy:     actor.Username,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      s.now().UTC(),
	}

	sg := s.newSaga("purchase", purchaseID, actor.Username)
	cancelPurchase := func(c context.Context) error {
		return s.repo.SetPurchaseStatus(c, purchaseID, domain.PurchaseStatusReceived, domain.PurchaseStatusCancelled)
	}

	var replayed *domain.Purchase
	_, err = s.withNumber(ctx, numbering.Purchase, func(number string) error {
		header.PurchaseNo = number
		_, insertErr := s.repo.InsertPurchase(ctx, header)
		if errors.Is(insertErr, store.ErrDuplicate) && header.IdempotencyKey != "" {
			if prior, findErr := s.repo.FindPurchaseByIdempotency(ctx, header.IdempotencyKey); findErr == nil {
				replayed = prior
				return errReplayed
			}
		}
		return insertErr
	})
	switch {
	case errors.Is(err, errReplayed):
		return purchaseReplay(replayed)
	case err != nil:
		var dup *DuplicateNumberError
		var storeErr *StoreError
		if errors.As(err, &dup) || errors.As(err, &storeErr) {
			return domain.PurchaseResponse{}, err
		}
		return domain.PurchaseResponse{}, s.fail(ctx, sg, "header", err, &StoreError{Op: "insert purchase", Err: err}, ignoreMissing(cancelPurchase))
	}

	savedItems, err := s.repo.InsertPurchaseItems(ctx, purchaseID, items)
	if err != nil {
		return domain.PurchaseResponse{}, s.fail(ctx, sg, "items", err, &PartialWriteError{Workflow: "purchase", RefID: purchaseID, Step: "items", Err: err}, cancelPurchase)
	}

	for _, item := range savedItems {
		step := "stock:" + item.ProductID
		move, _, err := s.stock.Apply(ctx, item.ProductID, item.Qty, inventory.Move{
			Type:      domain.MoveIn,
			RefType:   domain.RefPurchase,
			RefID:     purchaseID,
			Notes:     header.PurchaseNo,
			CreatedBy: actor.Username,
		})
		if err != nil {
			s.noteFailedMove(ctx, sg, move, err)
			return domain.PurchaseResponse{}, s.fail(ctx, sg, step, err, &PartialWriteError{Workflow: "purchase", RefID: purchaseID, Step: step, Err: err}, cancelPurchase)
		}
		sg.moves = append(sg.moves, move)

		step = "cost:" + item.ProductID
		cost := item.CostPrice
		previous, err := s.repo.SetProductCost(ctx, item.ProductID, &cost)
		if err != nil {
			if !definiteFailure(err) {
				sg.uncertain = append(sg.uncertain, fmt.Errorf("cost of %s outcome unknown: %w", item.ProductID, err))
			}
			return domain.PurchaseResponse{}, s.fail(ctx, sg, step, err, &PartialWriteError{Workflow: "purchase", RefID: purchaseID, Step: step, Err: err}, cancelPurchase)
		}
		sg.costs = append(sg.costs, costEffect{productID: item.ProductID, written: &cost, previous: previous})
	}

	header.Items = savedItems
	s.logAudit(ctx, "purchase_receive", "purchase", purchaseID, fmt.Sprintf("purchase=%s,supplier=%s,total=%d,lines=%d", header.PurchaseNo, header.SupplierID, total, len(savedItems)))
	log.Info().
		Str("purchase_id", purchaseID).
		Str("purchase_no", header.PurchaseNo).
		Str("supplier_id", header.SupplierID).
		Int64("total", total).
		Msg("purchase received")

	return domain.PurchaseResponse{Purchase: header}, nil
}

func (s *Service) GetPurchase(ctx context.Context, id string) (domain.Purchase, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Purchase{}, err
	}
	purchase, err := s.repo.GetPurchase(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Purchase{}, classify("get purchase", "purchase", id, err)
	}
	return *purchase, nil
}

func normalizePurchase(req domain.PurchaseRequest) (domain.PurchaseRequest, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.SupplierID = strings.TrimSpace(req.SupplierID)
	req.Notes = strings.TrimSpace(req.Notes)

	if req.SupplierID == "" {
		return req, invalid("supplier_id", "supplier is required")
	}
	if len(req.Lines) == 0 {
		return req, invalid("lines", "at least one line is required")
	}

	req.Lines = append([]domain.PurchaseLine(nil), req.Lines...)
	seen := make(map[string]bool, len(req.Lines))
	for i, line := range req.Lines {
		id := strings.TrimSpace(line.ProductID)
		req.Lines[i].ProductID = id
		if id == "" {
			return req, invalid(fmt.Sprintf("lines[%d].product_id", i), "product is required")
		}
		if seen[id] {
			return req, invalid(fmt.Sprintf("lines[%d].product_id", i), "product listed twice")
		}
		seen[id] = true
		if line.Qty < 1 {
			return req, invalid(fmt.Sprintf("lines[%d].qty", i), "qty must be at least 1")
		}
		if line.CostPrice < 1 {
			return req, invalid(fmt.Sprintf("lines[%d].cost_price", i), "cost price must be positive")
		}
	}
	return req, nil
}

func (s *Service) replayPurchase(ctx context.Context, key string) (domain.PurchaseResponse, bool, error) {
	if key == "" {
		return domain.PurchaseResponse{}, false, nil
	}
	prior, err := s.repo.FindPurchaseByIdempotency(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return domain.PurchaseResponse{}, false, nil
	}
	if err != nil {
		return domain.PurchaseResponse{}, false, &StoreError{Op: "find purchase by idempotency key", Err: err}
	}
	resp, err := purchaseReplay(prior)
	return resp, true, err
}

func purchaseReplay(prior *domain.Purchase) (domain.PurchaseResponse, error) {
	if prior.Status == domain.PurchaseStatusCancelled {
		return domain.PurchaseResponse{}, invalid("idempotency_key", "key belongs to a cancelled purchase, retry with a new key")
	}
	return domain.PurchaseResponse{Purchase: *prior, Duplicate: true}, nil
}
