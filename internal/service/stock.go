package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tohirbeka1997-ops/poos/internal/domain"
	"github.com/tohirbeka1997-ops/poos/internal/inventory"
	"github.com/tohirbeka1997-ops/poos/internal/store"
)

const (
	defaultMovesLimit = 100
	maxMovesLimit     = 1000
	restockMovesLimit = 500
)

// AdjustStock records a manual count correction, write-off or found stock.
func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustRequest) (domain.StockAdjustResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}

	req.ProductID = strings.TrimSpace(req.ProductID)
	req.Direction = strings.ToLower(strings.TrimSpace(req.Direction))
	req.Reason = strings.TrimSpace(req.Reason)
	if req.ProductID == "" {
		return domain.StockAdjustResponse{}, invalid("product_id", "product is required")
	}
	if req.Qty < 1 {
		return domain.StockAdjustResponse{}, invalid("qty", "qty must be at least 1")
	}
	if req.Reason == "" {
		return domain.StockAdjustResponse{}, invalid("reason", "reason is required")
	}

	delta := req.Qty
	switch req.Direction {
	case domain.MoveIn:
	case domain.MoveOut:
		delta = -req.Qty
	default:
		return domain.StockAdjustResponse{}, invalid("direction", "direction must be in or out")
	}

	move, stock, err := s.stock.Apply(ctx, req.ProductID, delta, inventory.Move{
		Type:      req.Direction,
		RefType:   domain.RefManual,
		Notes:     req.Reason,
		CreatedBy: actor.Username,
	})
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		return domain.StockAdjustResponse{}, &InsufficientStockError{ProductID: req.ProductID, Requested: req.Qty, Available: stock}
	case err != nil:
		return domain.StockAdjustResponse{}, classify("adjust stock", "product", req.ProductID, err)
	}

	s.logAudit(ctx, "stock_adjust", "product", req.ProductID, fmt.Sprintf("direction=%s,qty=%d,stock=%d,reason=%s", req.Direction, req.Qty, stock, req.Reason))
	return domain.StockAdjustResponse{ProductID: req.ProductID, NewStock: stock, Move: move}, nil
}

func (s *Service) ListStockMoves(ctx context.Context, productID string, limit int) ([]domain.StockMove, error) {
	productID = strings.TrimSpace(productID)
	if limit < 1 {
		limit = defaultMovesLimit
	}
	if limit > maxMovesLimit {
		limit = maxMovesLimit
	}
	if productID != "" {
		if _, err := s.repo.GetProduct(ctx, productID); err != nil {
			return nil, classify("get product", "product", productID, err)
		}
	}
	moves, err := s.repo.ListStockMoves(ctx, productID, limit)
	if err != nil {
		return nil, &StoreError{Op: "list stock moves", Err: err}
	}
	return moves, nil
}

// ReconcileStock compares cached stock with the sum of its movement log.
// The two reads are not taken together, so a move landing in between shows
// up as transient drift.
func (s *Service) ReconcileStock(ctx context.Context, productID string) (domain.StockReconciliation, error) {
	productID = strings.TrimSpace(productID)
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.StockReconciliation{}, classify("get product", "product", productID, err)
	}
	sum, count, err := s.repo.SumStockMoves(ctx, productID)
	if err != nil {
		return domain.StockReconciliation{}, classify("sum stock moves", "product", productID, err)
	}

	drift := product.Stock - sum
	return domain.StockReconciliation{
		ProductID:    productID,
		CachedStock:  product.Stock,
		MovementSum:  sum,
		Drift:        drift,
		Consistent:   drift == 0,
		MovesCounted: count,
	}, nil
}

func (s *Service) RestockSuggestions(ctx context.Context) (domain.RestockResponse, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.RestockResponse{}, &StoreError{Op: "list products", Err: err}
	}
	resp, err := s.restock.Suggest(ctx, products, func(ctx context.Context, productID string) ([]domain.StockMove, error) {
		return s.repo.ListStockMoves(ctx, productID, restockMovesLimit)
	})
	if err != nil {
		return domain.RestockResponse{}, &StoreError{Op: "restock suggestions", Err: err}
	}
	return resp, nil
}
