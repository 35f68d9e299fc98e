package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tohirbeka1997-ops/poos/internal/cache"
	"github.com/tohirbeka1997-ops/poos/internal/domain"
	"github.com/tohirbeka1997-ops/poos/internal/shift"
	"github.com/tohirbeka1997-ops/poos/internal/store"
)

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.CashShift, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CashShift{}, ErrForbidden
	}

	cashierID := strings.TrimSpace(req.CashierID)
	if cashierID == "" {
		cashierID = actor.Username
	}
	if actor.Role != domain.RoleAdmin && cashierID != actor.Username {
		return domain.CashShift{}, fmt.Errorf("%w: cashiers may only open their own shift", ErrForbidden)
	}

	opened, err := s.shifts.Open(ctx, cashierID, req.OpeningCash)
	if err != nil {
		return domain.CashShift{}, shiftError(err, cashierID, "")
	}

	s.logAudit(ctx, "shift_open", "shift", opened.ID, fmt.Sprintf("cashier=%s,opening_cash=%d", cashierID, req.OpeningCash))
	return *opened, nil
}

// CloseShift waits for any sale the cashier has in flight, then settles the
// drawer.
func (s *Service) CloseShift(ctx context.Context, shiftID string, req domain.ShiftCloseRequest) (domain.CashShift, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CashShift{}, ErrForbidden
	}
	shiftID = strings.TrimSpace(shiftID)

	current, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return domain.CashShift{}, classify("get shift", "shift", shiftID, err)
	}
	if actor.Role != domain.RoleAdmin && current.CashierID != actor.Username {
		return domain.CashShift{}, fmt.Errorf("%w: cashiers may only close their own shift", ErrForbidden)
	}

	closed, err := s.shifts.Close(ctx, shiftID, req.ClosingCash, req.Notes)
	if err != nil {
		return domain.CashShift{}, shiftError(err, current.CashierID, shiftID)
	}

	s.logAudit(ctx, "shift_close", "shift", closed.ID, fmt.Sprintf("closing_cash=%d,expected=%d,difference=%d", req.ClosingCash, *closed.ExpectedCash, *closed.Difference))
	return *closed, nil
}

func (s *Service) CurrentShift(ctx context.Context, cashierID string) (domain.CashShift, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CashShift{}, ErrForbidden
	}
	cashierID = strings.TrimSpace(cashierID)
	if cashierID == "" {
		cashierID = actor.Username
	}
	if actor.Role != domain.RoleAdmin && cashierID != actor.Username {
		return domain.CashShift{}, ErrForbidden
	}

	current, err := s.shifts.Current(ctx, cashierID)
	if err != nil {
		return domain.CashShift{}, shiftError(err, cashierID, "")
	}
	return *current, nil
}

func (s *Service) AddCashCollection(ctx context.Context, shiftID string, req domain.CashCollectionRequest) (domain.CashCollection, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.CashCollection{}, err
	}
	shiftID = strings.TrimSpace(shiftID)

	collection, err := s.shifts.AddCollection(ctx, shiftID, req.Amount, actor.Username, req.Notes)
	if err != nil {
		return domain.CashCollection{}, shiftError(err, "", shiftID)
	}

	s.logAudit(ctx, "cash_collect", "shift", shiftID, fmt.Sprintf("amount=%d", req.Amount))
	return *collection, nil
}

func (s *Service) ListCashCollections(ctx context.Context, shiftID string) ([]domain.CashCollection, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	shiftID = strings.TrimSpace(shiftID)
	collections, err := s.shifts.Collections(ctx, shiftID)
	if err != nil {
		return nil, shiftError(err, "", shiftID)
	}
	return collections, nil
}

func shiftError(err error, cashierID string, shiftID string) error {
	switch {
	case errors.Is(err, shift.ErrInvalid):
		return invalid("shift", "opening and closing cash must not be negative, collections must be positive")
	case errors.Is(err, shift.ErrAlreadyOpen):
		return invalid("cashier_id", "cashier already has an open shift")
	case errors.Is(err, shift.ErrNoOpenShift):
		return &ShiftClosedError{CashierID: cashierID, Reason: "no open shift"}
	case errors.Is(err, shift.ErrAlreadyClosed):
		return &ShiftClosedError{CashierID: cashierID, ShiftID: shiftID, Reason: "shift is already closed"}
	case errors.Is(err, cache.ErrLockTimeout):
		return &StoreError{Op: "lock cashier " + cashierID, Err: err}
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{Entity: "shift", ID: shiftID}
	default:
		return &StoreError{Op: "shift", Err: err}
	}
}
