package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/tohirbeka1997-ops/poos/internal/numbering"
	"github.com/tohirbeka1997-ops/poos/internal/store"
)

// errReplayed is returned by an insert callback that found a concurrent
// request with the same idempotency key already stored.
var errReplayed = errors.New("idempotency key already used")

// withNumber draws document numbers until insert accepts one. A taken
// number burns and the next is drawn; nothing has been written when a
// DuplicateNumberError comes back.
func (s *Service) withNumber(ctx context.Context, kind numbering.Kind, insert func(number string) error) (string, error) {
	var number string
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		next, err := s.numbers.Next(ctx, kind)
		if err != nil {
			return "", &StoreError{Op: "draw " + string(kind) + " number", Err: err}
		}
		number = next

		err = insert(number)
		if err == nil || !errors.Is(err, store.ErrDuplicate) {
			return number, err
		}
		log.Warn().
			Str("kind", string(kind)).
			Str("number", number).
			Int("attempt", attempt).
			Msg("document number already taken")
	}
	return number, &DuplicateNumberError{Kind: string(kind), Number: number, Attempts: maxNumberAttempts}
}
