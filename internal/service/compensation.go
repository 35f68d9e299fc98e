package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tohirbeka1997-ops/poos/internal/balance"
	"github.com/tohirbeka1997-ops/poos/internal/domain"
	"github.com/tohirbeka1997-ops/poos/internal/inventory"
	"github.com/tohirbeka1997-ops/poos/internal/store"
	"github.com/tohirbeka1997-ops/poos/internal/xid"
)

// saga records the effects a workflow has applied so far.
type saga struct {
	workflow string
	refID    string
	actor    string

	moves    []domain.StockMove
	balances []balanceEffect
	costs    []costEffect

	// uncertain holds effects whose outcome could not be determined, such as
	// a balance write that timed out.
	uncertain []error
}

type balanceEffect struct {
	customerID string
	delta      int64
}

type costEffect struct {
	productID string
	written   *int64
	previous  *int64
}

func (s *Service) newSaga(workflow string, refID string, actor string) *saga {
	return &saga{workflow: workflow, refID: refID, actor: actor}
}

func (s *Service) compensationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
}

// definiteFailure reports errors that guarantee the write did not happen.
func definiteFailure(err error) bool {
	return errors.Is(err, store.ErrInsufficientStock) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrInvalidTransaction) ||
		errors.Is(err, inventory.ErrInvalidMove) ||
		errors.Is(err, balance.ErrMissingCustomer) ||
		errors.Is(err, balance.ErrZeroAmount)
}

// noteFailedMove decides what an errored stock write left behind. A timeout
// may still have committed, so the move is looked up by ID. When the lookup
// itself fails the move stays uncertain and compensation cannot vouch for it.
func (s *Service) noteFailedMove(ctx context.Context, sg *saga, attempted domain.StockMove, err error) {
	if definiteFailure(err) {
		return
	}
	if attempted.ID == "" {
		sg.uncertain = append(sg.uncertain, fmt.Errorf("stock move for %s outcome unknown: %w", attempted.ProductID, err))
		return
	}

	cctx, cancel := s.compensationContext(ctx)
	defer cancel()

	landed, getErr := s.repo.GetStockMove(cctx, attempted.ID)
	switch {
	case errors.Is(getErr, store.ErrNotFound):
	case getErr != nil:
		sg.uncertain = append(sg.uncertain, fmt.Errorf("stock move %s outcome unknown: %w", attempted.ID, getErr))
	default:
		sg.moves = append(sg.moves, *landed)
	}
}

func (s *Service) noteFailedBalance(sg *saga, customerID string, delta int64, err error) {
	if definiteFailure(err) {
		return
	}
	sg.uncertain = append(sg.uncertain, fmt.Errorf("balance delta %d for customer %s outcome unknown: %w", delta, customerID, err))
}

// undo reverses recorded effects newest first and then marks the header as
// failed. Every step is attempted even after an earlier one fails.
func (s *Service) undo(ctx context.Context, sg *saga, markFailed func(context.Context) error) error {
	cctx, cancel := s.compensationContext(ctx)
	defer cancel()

	errs := append([]error(nil), sg.uncertain...)
	notes := fmt.Sprintf("compensate %s %s", sg.workflow, sg.refID)

	for i := len(sg.balances) - 1; i >= 0; i-- {
		b := sg.balances[i]
		if _, err := s.balances.Apply(cctx, b.customerID, -b.delta); err != nil {
			errs = append(errs, fmt.Errorf("reverse balance %s: %w", b.customerID, err))
		}
	}
	for i := len(sg.costs) - 1; i >= 0; i-- {
		c := sg.costs[i]
		err := s.repo.RestoreProductCost(cctx, c.productID, c.written, c.previous)
		if errors.Is(err, store.ErrConflict) {
			err = fmt.Errorf("cost changed by a later write, previous value %s not restored: %w", formatCost(c.previous), err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restore cost %s: %w", c.productID, err))
		}
	}
	for i := len(sg.moves) - 1; i >= 0; i-- {
		m := sg.moves[i]
		if _, _, err := s.stock.Reverse(cctx, m, sg.actor, notes); err != nil {
			errs = append(errs, fmt.Errorf("reverse move %s: %w", m.ID, err))
		}
	}
	if markFailed != nil {
		if err := markFailed(cctx); err != nil {
			errs = append(errs, fmt.Errorf("mark %s %s failed: %w", sg.workflow, sg.refID, err))
		}
	}
	return errors.Join(errs...)
}

// fail compensates a workflow that stopped at step. public is returned when
// compensation completes; otherwise an integrity alert is raised.
func (s *Service) fail(ctx context.Context, sg *saga, step string, cause error, public error, markFailed func(context.Context) error) error {
	compErr := s.undo(ctx, sg, markFailed)
	if compErr != nil {
		return s.raiseAlert(ctx, sg, step, cause, compErr)
	}

	log.Warn().Err(cause).
		Str("workflow", sg.workflow).
		Str("ref_id", sg.refID).
		Str("step", step).
		Int("moves_reversed", len(sg.moves)).
		Msg("workflow failed and was compensated")
	return public
}

func (s *Service) raiseAlert(ctx context.Context, sg *saga, step string, cause error, compErr error) error {
	alert := domain.IntegrityAlert{
		ID:        xid.New("alert"),
		Workflow:  sg.workflow,
		RefID:     sg.refID,
		Step:      step,
		Detail:    fmt.Sprintf("cause: %v; compensation: %v", cause, compErr),
		CreatedAt: s.now().UTC(),
	}

	cctx, cancel := s.compensationContext(ctx)
	defer cancel()
	if err := s.repo.CreateIntegrityAlert(cctx, alert); err != nil {
		log.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to persist integrity alert")
	}

	log.Error().Err(compErr).
		Str("alert_id", alert.ID).
		Str("workflow", sg.workflow).
		Str("ref_id", sg.refID).
		Str("step", step).
		AnErr("cause", cause).
		Msg("compensation incomplete, integrity alert raised")

	return &IntegrityAlertError{
		AlertID:         alert.ID,
		Workflow:        sg.workflow,
		RefID:           sg.refID,
		Step:            step,
		Cause:           cause,
		CompensationErr: compErr,
	}
}

func formatCost(cost *int64) string {
	if cost == nil {
		return "null"
	}
	return fmt.Sprintf("%d", *cost)
}

// ignoreMissing treats a header that was never written as already failed.
func ignoreMissing(mark func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := mark(ctx); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	}
}
