package numbering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tohirbeka1997-ops/poos/internal/breaker"
)

//go:generate mockgen -source=generator.go -destination=sequencer_mock.go -package=numbering

type Sequencer interface {
	NextValue(ctx context.Context, counter string) (int64, error)
}

type Kind string

const (
	Receipt  Kind = "receipt"
	Return   Kind = "return"
	Purchase Kind = "purchase"
)

var prefixes = map[Kind]string{
	Receipt:  "RCP",
	Return:   "RET",
	Purchase: "PUR",
}

var ErrUnknownKind = errors.New("unknown document kind")

// Generator formats document numbers as PREFIX-YYYY-NNNNNN. The counter is
// global per kind and is not reset at year boundaries; numbers burned by a
// failed workflow are not reused.
type Generator struct {
	seq     Sequencer
	breaker *breaker.Breaker
	now     func() time.Time
}

type Option func(*Generator)

// WithBreaker guards a remote sequencer.
func WithBreaker(b *breaker.Breaker) Option {
	return func(g *Generator) { g.breaker = b }
}

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func New(seq Sequencer, opts ...Option) *Generator {
	g := &Generator{seq: seq, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) Next(ctx context.Context, kind Kind) (string, error) {
	prefix, ok := prefixes[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	var n int64
	call := func() error {
		var err error
		n, err = g.seq.NextValue(ctx, string(kind))
		return err
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(call, func(err error) bool { return !callerGaveUp(ctx, err) })
	} else {
		err = call()
	}
	if err != nil {
		return "", fmt.Errorf("next %s number: %w", kind, err)
	}

	return Format(prefix, g.now().Year(), n), nil
}

// callerGaveUp reports errors caused by the caller's own context rather than
// by the sequencer.
func callerGaveUp(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func Format(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%04d-%06d", prefix, year, n)
}
