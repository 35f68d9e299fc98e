package shift

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tohirbeka1997-ops/poos/internal/cache"
	"github.com/tohirbeka1997-ops/poos/internal/domain"
	"github.com/tohirbeka1997-ops/poos/internal/store"
)

var (
	ErrInvalid       = errors.New("invalid shift request")
	ErrAlreadyOpen   = errors.New("cashier already has an open shift")
	ErrNoOpenShift   = errors.New("cashier has no open shift")
	ErrAlreadyClosed = errors.New("shift is already closed")
)

// LockKey is the per-cashier key shared by shift close and the sale
// workflow, so a shift cannot close under an in-flight sale.
func LockKey(cashierID string) string {
	return "cashier:" + cashierID
}

type Ledger struct {
	store  store.ShiftStore
	locker cache.Locker
	now    func() time.Time
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(s store.ShiftStore, locker cache.Locker, opts ...Option) *Ledger {
	l := &Ledger{store: s, locker: locker, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Open(ctx context.Context, cashierID string, openingCash int64) (*domain.CashShift, error) {
	cashierID = strings.TrimSpace(cashierID)
	if cashierID == "" || openingCash < 0 {
		return nil, ErrInvalid
	}

	shift, err := l.store.CreateShift(ctx, domain.CashShift{
		CashierID:   cashierID,
		OpeningCash: openingCash,
		OpenedAt:    l.now().UTC(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, ErrAlreadyOpen
	}
	return shift, err
}

// Close settles the drawer. Collections are informational and do not
// change the expected amount.
func (l *Ledger) Close(ctx context.Context, shiftID string, closingCash int64, notes string) (*domain.CashShift, error) {
	if shiftID == "" || closingCash < 0 {
		return nil, ErrInvalid
	}

	current, err := l.store.GetShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.ShiftStatusOpen {
		return nil, ErrAlreadyClosed
	}

	ctx, unlock, err := l.locker.Lock(ctx, LockKey(current.CashierID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	closedAt := l.now().UTC()
	expected := current.OpeningCash
	difference := closingCash - expected
	closed, err := l.store.CloseShift(ctx, domain.CashShift{
		ID:           shiftID,
		ClosedAt:     &closedAt,
		ClosingCash:  &closingCash,
		ExpectedCash: &expected,
		Difference:   &difference,
		Notes:        strings.TrimSpace(notes),
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrAlreadyClosed
	}
	return closed, err
}

func (l *Ledger) Current(ctx context.Context, cashierID string) (*domain.CashShift, error) {
	shift, err := l.store.FindOpenShift(ctx, cashierID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoOpenShift
	}
	return shift, err
}

func (l *Ledger) AddCollection(ctx context.Context, shiftID string, amount int64, collectedBy string, notes string) (*domain.CashCollection, error) {
	if amount <= 0 || collectedBy == "" {
		return nil, ErrInvalid
	}
	current, err := l.store.GetShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.ShiftStatusOpen {
		return nil, ErrAlreadyClosed
	}

	return l.store.CreateCashCollection(ctx, domain.CashCollection{
		ShiftID:     shiftID,
		Amount:      amount,
		CollectedBy: collectedBy,
		Notes:       strings.TrimSpace(notes),
		CreatedAt:   l.now().UTC(),
	})
}

func (l *Ledger) Collections(ctx context.Context, shiftID string) ([]domain.CashCollection, error) {
	if _, err := l.store.GetShift(ctx, shiftID); err != nil {
		return nil, err
	}
	return l.store.ListCashCollections(ctx, shiftID)
}
