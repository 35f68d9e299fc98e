package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tohirbeka1997-ops/poos/internal/domain"
	"github.com/tohirbeka1997-ops/poos/internal/store"
	"github.com/tohirbeka1997-ops/poos/internal/xid"
)

var ErrInvalidMove = errors.New("invalid stock move")

// Move describes why stock changes. Qty and Delta are derived from the
// signed delta passed to Apply.
type Move struct {
	Type      string
	RefType   string
	RefID     string
	Notes     string
	CreatedBy string
}

// Adjuster is the only writer of product stock. Every change lands together
// with its StockMove row, and stock never drops below zero.
type Adjuster struct {
	store store.StockStore
	now   func() time.Time
}

// NewAdjuster stamps moves with now, or time.Now when it is nil.
func NewAdjuster(s store.StockStore, now func() time.Time) *Adjuster {
	if now == nil {
		now = time.Now
	}
	return &Adjuster{store: s, now: now}
}

func (a *Adjuster) Apply(ctx context.Context, productID string, delta int, m Move) (domain.StockMove, int, error) {
	if err := validate(productID, delta, m); err != nil {
		return domain.StockMove{}, 0, err
	}

	move := domain.StockMove{
		ID:        xid.New("mv"),
		ProductID: productID,
		Type:      m.Type,
		Qty:       abs(delta),
		Delta:     delta,
		RefType:   m.RefType,
		RefID:     m.RefID,
		Notes:     m.Notes,
		CreatedBy: m.CreatedBy,
		CreatedAt: a.now().UTC(),
	}
	// On error the attempted move is still returned so callers can look
	// for it after an ambiguous failure.
	stock, err := a.store.ApplyStockDelta(ctx, move)
	if err != nil {
		return move, stock, err
	}
	return move, stock, nil
}

// Reverse undoes a previously applied move with an equal and opposite
// adjustment pointing at the same reference.
func (a *Adjuster) Reverse(ctx context.Context, applied domain.StockMove, actor string, notes string) (domain.StockMove, int, error) {
	return a.Apply(ctx, applied.ProductID, -applied.Delta, Move{
		Type:      domain.MoveAdjustment,
		RefType:   applied.RefType,
		RefID:     applied.RefID,
		Notes:     notes,
		CreatedBy: actor,
	})
}

func validate(productID string, delta int, m Move) error {
	if productID == "" || delta == 0 {
		return fmt.Errorf("%w: product and non-zero delta required", ErrInvalidMove)
	}
	switch m.Type {
	case domain.MoveIn:
		if delta < 0 {
			return fmt.Errorf("%w: in move with negative delta", ErrInvalidMove)
		}
	case domain.MoveOut:
		if delta > 0 {
			return fmt.Errorf("%w: out move with positive delta", ErrInvalidMove)
		}
	case domain.MoveAdjustment:
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidMove, m.Type)
	}
	if m.CreatedBy == "" {
		return fmt.Errorf("%w: created_by required", ErrInvalidMove)
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
