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

func saleLockKey(saleID string) string {
	return "sale:" + saleID
}

// CreateReturn takes goods back against a completed sale. Returns for one
// sale are serialized so the returned quantity of a line never exceeds what
// was sold.
func (s *Service) CreateReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	actor := actorOrSystem(ctx)
	req, err := normalizeReturn(actor, req)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	if resp, found, err := s.replayReturn(ctx, req.IdempotencyKey); found || err != nil {
		return resp, err
	}

	found, err := s.repo.GetSaleByReceiptNo(ctx, req.ReceiptNo)
	if err != nil {
		return domain.ReturnResponse{}, classify("get sale", "receipt", req.ReceiptNo, err)
	}
	saleID := found.ID

	ctx, unlock, err := s.locker.Lock(ctx, saleLockKey(saleID))
	if err != nil {
		return domain.ReturnResponse{}, &StoreError{Op: "lock sale " + saleID, Err: err}
	}
	defer unlock()

	if resp, found, err := s.replayReturn(ctx, req.IdempotencyKey); found || err != nil {
		return resp, err
	}

	// Re-read under the lock; an earlier return may have refunded it.
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.ReturnResponse{}, classify("get sale", "sale", saleID, err)
	}
	switch sale.Status {
	case domain.SaleStatusCompleted:
	case domain.SaleStatusRefunded:
		return domain.ReturnResponse{}, invalid("receipt_no", "sale is already fully refunded")
	default:
		return domain.ReturnResponse{}, invalid("receipt_no", "sale is "+sale.Status)
	}

	returned, err := s.repo.ReturnedQtyBySaleItem(ctx, sale.ID)
	if err != nil {
		return domain.ReturnResponse{}, &StoreError{Op: "load returned quantities", Err: err}
	}

	soldItems := make(map[string]domain.SaleItem, len(sale.Items))
	for _, item := range sale.Items {
		soldItems[item.ID] = item
	}

	returnID := xid.New("ret")
	items := make([]domain.ReturnItem, 0, len(req.Lines))
	var total int64
	after := make(map[string]int, len(returned))
	for id, qty := range returned {
		after[id] = qty
	}
	for i, line := range req.Lines {
		sold, ok := soldItems[line.SaleItemID]
		if !ok {
			return domain.ReturnResponse{}, &NotFoundError{Entity: "sale item", ID: line.SaleItemID}
		}
		remaining := sold.Qty - returned[sold.ID]
		if line.Qty > remaining {
			return domain.ReturnResponse{}, invalid(fmt.Sprintf("lines[%d].qty", i),
				fmt.Sprintf("only %d of %d units of %s can still be returned", remaining, sold.Qty, sold.ProductName))
		}

		amount := domain.ReturnShare(sold, returned[sold.ID], line.Qty)
		items = append(items, domain.ReturnItem{
			ID:         xid.New("ri"),
			ReturnID:   returnID,
			SaleItemID: sold.ID,
			ProductID:  sold.ProductID,
			Qty:        line.Qty,
			Price:      sold.Price,
			Total:      amount,
		})
		total += amount
		after[sold.ID] += line.Qty
	}

	fullyRefunded := true
	for _, item := range sale.Items {
		if after[item.ID] < item.Qty {
			fullyRefunded = false
			break
		}
	}

	debtReversal, err := s.debtReversal(ctx, sale, total)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	status := domain.ReturnStatusPartial
	if fullyRefunded {
		status = domain.ReturnStatusCompleted
	}

	header := domain.Return{
		ID:             returnID,
		SaleID:         sale.ID,
		CashierID:      req.CashierID,
		TotalAmount:    total,
		DebtReversed:   debtReversal,
		Reason:         req.Reason,
		Status:         status,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      s.now().UTC(),
	}
	if open, err := s.repo.FindOpenShift(ctx, req.CashierID); err == nil {
		header.ShiftID = open.ID
	}

	sg := s.newSaga("return", returnID, actor.Username)
	rejectReturn := func(c context.Context) error {
		return s.repo.SetReturnStatus(c, returnID, status, domain.ReturnStatusRejected)
	}

	var replayed *domain.Return
	_, err = s.withNumber(ctx, numbering.Return, func(number string) error {
		header.ReturnNo = number
		_, insertErr := s.repo.InsertReturn(ctx, header)
		if errors.Is(insertErr, store.ErrDuplicate) && header.IdempotencyKey != "" {
			if prior, findErr := s.repo.FindReturnByIdempotency(ctx, header.IdempotencyKey); findErr == nil {
				replayed = prior
				return errReplayed
			}
		}
		return insertErr
	})
	switch {
	case errors.Is(err, errReplayed):
		resp, err := returnReplay(replayed)
		if err == nil {
			resp.SaleStatus = sale.Status
		}
		return resp, err
	case err != nil:
		var dup *DuplicateNumberError
		var storeErr *StoreError
		if errors.As(err, &dup) || errors.As(err, &storeErr) {
			return domain.ReturnResponse{}, err
		}
		return domain.ReturnResponse{}, s.fail(ctx, sg, "header", err, &StoreError{Op: "insert return", Err: err}, ignoreMissing(rejectReturn))
	}

	savedItems, err := s.repo.InsertReturnItems(ctx, returnID, items)
	if err != nil {
		return domain.ReturnResponse{}, s.fail(ctx, sg, "items", err, &PartialWriteError{Workflow: "return", RefID: returnID, Step: "items", Err: err}, rejectReturn)
	}

	for _, item := range savedItems {
		move, _, err := s.stock.Apply(ctx, item.ProductID, item.Qty, inventory.Move{
			Type:      domain.MoveIn,
			RefType:   domain.RefReturn,
			RefID:     returnID,
			Notes:     header.ReturnNo,
			CreatedBy: actor.Username,
		})
		if err != nil {
			s.noteFailedMove(ctx, sg, move, err)
			step := "stock:" + item.ProductID
			return domain.ReturnResponse{}, s.fail(ctx, sg, step, err, &PartialWriteError{Workflow: "return", RefID: returnID, Step: step, Err: err}, rejectReturn)
		}
		sg.moves = append(sg.moves, move)
	}

	if debtReversal > 0 {
		if _, err := s.balances.Apply(ctx, sale.CustomerID, debtReversal); err != nil {
			s.noteFailedBalance(sg, sale.CustomerID, debtReversal, err)
			return domain.ReturnResponse{}, s.fail(ctx, sg, "balance", err, &PartialWriteError{Workflow: "return", RefID: returnID, Step: "balance", Err: err}, rejectReturn)
		}
		sg.balances = append(sg.balances, balanceEffect{customerID: sale.CustomerID, delta: debtReversal})
	}

	saleStatus := sale.Status
	if fullyRefunded {
		if err := s.repo.SetSaleStatus(ctx, sale.ID, domain.SaleStatusCompleted, domain.SaleStatusRefunded); err != nil {
			return domain.ReturnResponse{}, s.fail(ctx, sg, "sale_status", err, &PartialWriteError{Workflow: "return", RefID: returnID, Step: "sale_status", Err: err}, rejectReturn)
		}
		saleStatus = domain.SaleStatusRefunded
	}

	header.Items = savedItems
	s.logAudit(ctx, "return_create", "return", returnID, fmt.Sprintf("return=%s,receipt=%s,total=%d,debt_reversed=%d,reason=%s", header.ReturnNo, sale.ReceiptNo, total, debtReversal, req.Reason))
	log.Info().
		Str("return_id", returnID).
		Str("return_no", header.ReturnNo).
		Str("sale_id", sale.ID).
		Str("status", status).
		Int64("total", total).
		Msg("return recorded")

	return domain.ReturnResponse{Return: header, SaleStatus: saleStatus}, nil
}

// debtReversal is the part of a refund that settles outstanding debt of the
// original sale instead of being paid out. It never exceeds what the sale
// put on the customer's account.
func (s *Service) debtReversal(ctx context.Context, sale *domain.Sale, refund int64) (int64, error) {
	if !s.settings.ReturnReversesDebt || sale.DebtAmount <= 0 || sale.CustomerID == "" {
		return 0, nil
	}
	already, err := s.repo.DebtReversedForSale(ctx, sale.ID)
	if err != nil {
		return 0, &StoreError{Op: "load reversed debt", Err: err}
	}
	left := sale.DebtAmount - already
	if left <= 0 {
		return 0, nil
	}
	return min(left, refund), nil
}

func normalizeReturn(actor domain.Actor, req domain.ReturnRequest) (domain.ReturnRequest, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.ReceiptNo = strings.ToUpper(strings.TrimSpace(req.ReceiptNo))
	req.CashierID = strings.TrimSpace(req.CashierID)
	req.Reason = strings.TrimSpace(req.Reason)

	if req.CashierID == "" && actor != systemActor {
		req.CashierID = actor.Username
	}
	if req.CashierID == "" {
		return req, invalid("cashier_id", "cashier is required")
	}
	if actor != systemActor && actor.Role != domain.RoleAdmin && req.CashierID != actor.Username {
		return req, fmt.Errorf("%w: cashiers may only record returns under their own name", ErrForbidden)
	}
	if req.ReceiptNo == "" {
		return req, invalid("receipt_no", "receipt number is required")
	}
	if req.Reason == "" {
		return req, invalid("reason", "reason is required")
	}
	if len(req.Lines) == 0 {
		return req, invalid("lines", "at least one line is required")
	}

	req.Lines = append([]domain.ReturnLine(nil), req.Lines...)
	seen := make(map[string]bool, len(req.Lines))
	for i, line := range req.Lines {
		id := strings.TrimSpace(line.SaleItemID)
		req.Lines[i].SaleItemID = id
		if id == "" {
			return req, invalid(fmt.Sprintf("lines[%d].sale_item_id", i), "sale item is required")
		}
		if seen[id] {
			return req, invalid(fmt.Sprintf("lines[%d].sale_item_id", i), "sale item listed twice")
		}
		seen[id] = true
		if line.Qty < 1 {
			return req, invalid(fmt.Sprintf("lines[%d].qty", i), "qty must be at least 1")
		}
	}
	return req, nil
}

func (s *Service) replayReturn(ctx context.Context, key string) (domain.ReturnResponse, bool, error) {
	if key == "" {
		return domain.ReturnResponse{}, false, nil
	}
	prior, err := s.repo.FindReturnByIdempotency(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return domain.ReturnResponse{}, false, nil
	}
	if err != nil {
		return domain.ReturnResponse{}, false, &StoreError{Op: "find return by idempotency key", Err: err}
	}
	resp, err := returnReplay(prior)
	if err != nil {
		return resp, true, err
	}
	if sale, err := s.repo.GetSale(ctx, prior.SaleID); err == nil {
		resp.SaleStatus = sale.Status
	}
	return resp, true, nil
}

func returnReplay(prior *domain.Return) (domain.ReturnResponse, error) {
	if prior.Status == domain.ReturnStatusRejected {
		return domain.ReturnResponse{}, invalid("idempotency_key", "key belongs to a rejected return, retry with a new key")
	}
	return domain.ReturnResponse{Return: *prior, Duplicate: true}, nil
}
