package httpapi

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/tohirbeka1997-ops/poos/internal/domain"
	"github.com/tohirbeka1997-ops/poos/internal/store"
)

const (
	sessionIssuer      = "poos"
	accountSyncTimeout = 3 * time.Second
	minUsernameLength  = 4
	minPasswordLength  = 6
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUsernameTaken      = errors.New("username already exists")
)

// AuthConfig carries the terminal session settings.
type AuthConfig struct {
	Secret   string
	TokenTTL time.Duration
	// ManagerPIN authorizes cashier returns; empty disables the override.
	ManagerPIN string
}

// Auth issues bearer sessions for terminal users and checks the supervisor
// override PIN.
type Auth struct {
	sessions sessionSigner
	accounts *accountBook
	override []byte
}

func NewAuth(ctx context.Context, cfg AuthConfig, users store.UserStore) *Auth {
	if cfg.Secret == "" {
		cfg.Secret = "dev-change-me"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 8 * time.Hour
	}

	a := &Auth{
		sessions: sessionSigner{key: []byte(cfg.Secret), ttl: cfg.TokenTTL},
		accounts: &accountBook{source: users, byName: make(map[string]domain.UserAccount)},
	}
	if pin := strings.TrimSpace(cfg.ManagerPIN); pin != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
		if err != nil {
			log.Warn().Err(err).Str("component", "auth").Msg("manager pin disabled")
		}
		a.override = hash
	}
	a.accounts.sync(ctx)
	return a
}

func (a *Auth) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.accounts.sync(ctx)

	account, ok := a.accounts.get(canonicalUsername(req.Username))
	if !ok || !passwordMatches(account.Password, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !account.Active {
		return domain.LoginResponse{}, ErrInactiveAccount
	}

	token, expiresAt, err := a.sessions.issue(domain.Actor{Username: account.Username, Role: account.Role}, time.Now().UTC())
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *Auth) ParseToken(token string) (domain.Actor, error) {
	return a.sessions.verify(token)
}

// AuthorizeOverride reports whether pin is the supervisor PIN.
func (a *Auth) AuthorizeOverride(pin string) bool {
	pin = strings.TrimSpace(pin)
	if pin == "" || len(a.override) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.override, []byte(pin)) == nil
}

func (a *Auth) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	username := canonicalUsername(req.Username)
	if err := validateCashier(username, req.Password); err != nil {
		return domain.CashierUser{}, err
	}

	a.accounts.sync(ctx)
	if _, taken := a.accounts.get(username); taken {
		return domain.CashierUser{}, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.CashierUser{}, fmt.Errorf("hash password: %w", err)
	}
	account := domain.UserAccount{
		Username:  username,
		Password:  string(hash),
		Role:      domain.RoleCashier,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.accounts.add(ctx, account); err != nil {
		return domain.CashierUser{}, err
	}
	return cashierView(account), nil
}

func (a *Auth) ListCashiers(ctx context.Context) []domain.CashierUser {
	a.accounts.sync(ctx)

	cashiers := []domain.CashierUser{}
	for _, account := range a.accounts.all() {
		if account.Role == domain.RoleCashier {
			cashiers = append(cashiers, cashierView(account))
		}
	}
	return cashiers
}

func validateCashier(username, password string) error {
	switch {
	case len(username) < minUsernameLength:
		return fmt.Errorf("username must be at least %d characters", minUsernameLength)
	case strings.ContainsAny(username, " \t\r\n:"):
		return errors.New("username must not contain spaces or colons")
	case len(strings.TrimSpace(password)) < minPasswordLength:
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	return nil
}

func cashierView(account domain.UserAccount) domain.CashierUser {
	return domain.CashierUser{
		Username:  account.Username,
		Role:      account.Role,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}
}

func canonicalUsername(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// sessionSigner mints and checks HS256 bearer tokens.
type sessionSigner struct {
	key []byte
	ttl time.Duration
}

type sessionClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func (s sessionSigner) issue(actor domain.Actor, at time.Time) (string, time.Time, error) {
	expiresAt := at.Add(s.ttl)
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   actor.Username,
			IssuedAt:  jwtlib.NewNumericDate(at),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: actor.Role,
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return token, expiresAt, nil
}

func (s sessionSigner) verify(token string) (domain.Actor, error) {
	var claims sessionClaims
	_, err := jwtlib.ParseWithClaims(token, &claims, func(*jwtlib.Token) (any, error) {
		return s.key, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(sessionIssuer),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil || claims.Subject == "" || claims.Role == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

// accountBook mirrors the user store so logins keep working while the
// store is unreachable. Password fields always hold bcrypt hashes.
type accountBook struct {
	source store.UserStore

	mu     sync.RWMutex
	byName map[string]domain.UserAccount
}

func (b *accountBook) get(username string) (domain.UserAccount, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	account, ok := b.byName[username]
	return account, ok
}

func (b *accountBook) all() []domain.UserAccount {
	b.mu.RLock()
	accounts := make([]domain.UserAccount, 0, len(b.byName))
	for _, account := range b.byName {
		accounts = append(accounts, account)
	}
	b.mu.RUnlock()

	slices.SortFunc(accounts, func(x, y domain.UserAccount) int {
		return strings.Compare(x.Username, y.Username)
	})
	return accounts
}

func (b *accountBook) add(ctx context.Context, account domain.UserAccount) error {
	if b.source != nil {
		err := b.source.CreateUser(ctx, account)
		if errors.Is(err, store.ErrDuplicate) {
			return ErrUsernameTaken
		}
		if err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.byName[account.Username] = account
	b.mu.Unlock()
	return nil
}

// sync reloads accounts from the store and rehashes any stored in plain
// text. A failing store leaves the book as it was.
func (b *accountBook) sync(ctx context.Context) {
	if b.source == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, accountSyncTimeout)
	defer cancel()

	accounts, err := b.source.ListUsers(ctx)
	if err != nil {
		log.Warn().Err(err).Str("component", "auth").Msg("account sync failed")
		return
	}

	loaded := make(map[string]domain.UserAccount, len(accounts))
	for _, account := range accounts {
		account.Username = canonicalUsername(account.Username)
		if account.Username == "" {
			continue
		}
		if !isBcryptHash(account.Password) {
			account.Password = b.rehash(ctx, account)
		}
		loaded[account.Username] = account
	}
	if len(loaded) == 0 {
		return
	}

	b.mu.Lock()
	for name, account := range loaded {
		b.byName[name] = account
	}
	b.mu.Unlock()
}

// rehash returns the bcrypt form of a plain-text password and persists it.
// An empty result locks the account out until it can be hashed.
func (b *accountBook) rehash(ctx context.Context, account domain.UserAccount) string {
	if account.Password == "" {
		return ""
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(account.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Warn().Err(err).Str("component", "auth").Str("username", account.Username).Msg("password rehash failed")
		return ""
	}
	if err := b.source.UpdateUserPassword(ctx, account.Username, string(hash)); err != nil {
		log.Warn().Err(err).Str("component", "auth").Str("username", account.Username).Msg("password upgrade not persisted")
	}
	return string(hash)
}

func passwordMatches(hash, password string) bool {
	if strings.TrimSpace(password) == "" || !isBcryptHash(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func isBcryptHash(value string) bool {
	_, err := bcrypt.Cost([]byte(value))
	return err == nil
}
