package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tohirbeka1997-ops/poos/internal/balance"
	"github.com/tohirbeka1997-ops/poos/internal/cache"
	"github.com/tohirbeka1997-ops/poos/internal/domain"
	"github.com/tohirbeka1997-ops/poos/internal/inventory"
	"github.com/tohirbeka1997-ops/poos/internal/numbering"
	"github.com/tohirbeka1997-ops/poos/internal/restock"
	"github.com/tohirbeka1997-ops/poos/internal/shift"
	"github.com/tohirbeka1997-ops/poos/internal/store"
	"github.com/tohirbeka1997-ops/poos/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

var systemActor = domain.Actor{Username: "system", Role: "system"}

func actorOrSystem(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return systemActor
	}
	return actor
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

// Settings are the store-wide business rules applied by the workflows.
type Settings struct {
	TaxRate            float64
	MaxDiscountPercent float64
	DiscountAdminOnly  bool
	ReceiptFooter      string
	ReturnReversesDebt bool
}

func DefaultSettings() Settings {
	return Settings{
		TaxRate:            12,
		MaxDiscountPercent: 20,
	}
}

const (
	defaultCompensationTimeout = 10 * time.Second
	maxNumberAttempts          = 3
)

// Service coordinates the sale, return and purchase workflows over the
// store. No workflow runs inside a database transaction: each step is atomic
// on its own and failures past the header are undone by compensation.
type Service struct {
	repo     store.Repository
	numbers  *numbering.Generator
	stock    *inventory.Adjuster
	balances *balance.Adjuster
	shifts   *shift.Ledger
	locker   cache.Locker
	restock  *restock.Engine
	settings Settings

	compensationTimeout time.Duration
	now                 func() time.Time
}

type Option func(*Service)

// WithNumbers replaces the document number generator, which otherwise draws
// from the repository's own sequences.
func WithNumbers(g *numbering.Generator) Option {
	return func(s *Service) { s.numbers = g }
}

// WithLocker sets the lock used to serialize work per cashier and per sale.
// Multi-instance deployments need a shared one.
func WithLocker(l cache.Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithRestockEngine(e *restock.Engine) Option {
	return func(s *Service) { s.restock = e }
}

func WithSettings(settings Settings) Option {
	return func(s *Service) { s.settings = settings }
}

func WithCompensationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.compensationTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:                repo,
		balances:            balance.NewAdjuster(repo),
		settings:            DefaultSettings(),
		compensationTimeout: defaultCompensationTimeout,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.numbers == nil {
		s.numbers = numbering.New(repo, numbering.WithClock(s.now))
	}
	if s.locker == nil {
		s.locker = cache.NewLocalLocker()
	}
	if s.restock == nil {
		s.restock = restock.NewEngine(nil, 0)
	}
	s.stock = inventory.NewAdjuster(repo, s.now)
	s.shifts = shift.NewLedger(repo, s.locker, shift.WithClock(s.now))
	return s
}

func (s *Service) Settings() Settings {
	return s.settings
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor := actorOrSystem(ctx)

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		log.Warn().Err(err).
			Str("component", "audit").
			Str("action", action).
			Str("entity", entityType+"/"+entityID).
			Msg("failed to write audit log")
	}
}
