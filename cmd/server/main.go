package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tohirbeka1997-ops/poos/internal/breaker"
	"github.com/tohirbeka1997-ops/poos/internal/cache"
	"github.com/tohirbeka1997-ops/poos/internal/config"
	"github.com/tohirbeka1997-ops/poos/internal/httpapi"
	"github.com/tohirbeka1997-ops/poos/internal/numbering"
	"github.com/tohirbeka1997-ops/poos/internal/restock"
	"github.com/tohirbeka1997-ops/poos/internal/service"
	"github.com/tohirbeka1997-ops/poos/internal/store"
	"github.com/tohirbeka1997-ops/poos/internal/store/memory"
	pgstore "github.com/tohirbeka1997-ops/poos/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DB.URL != "" {
		pg, err := pgstore.New(ctx, cfg.DB.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if cfg.DB.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				log.Fatal().Err(err).Msg("schema migration failed")
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info().Str("repository", "postgres").Msg("storage ready")
	} else {
		repo = memory.NewSeeded()
		log.Info().Str("repository", "memory").Msg("storage ready")
	}

	var (
		sequencer    numbering.Sequencer = repo
		locker       cache.Locker        = cache.NewLocalLocker()
		restockCache cache.RestockCache  = cache.NoopRestockCache{}
	)

	if cfg.Redis.Addr != "" {
		rdb := cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := rdb.Ping(ctx); err != nil {
			if cfg.NeedsRedis() {
				log.Fatal().Err(err).Msg("redis unavailable and a workflow backend requires it")
			}
			log.Warn().Err(err).Msg("redis unavailable, restock cache disabled")
		} else {
			closers = append(closers, rdb.Close)
			restockCache = rdb.RestockCache()

			if cfg.Workflow.LockBackend == config.LockRedis {
				locker = rdb.Locker(cfg.Workflow.LockLease)
			}
			if cfg.Workflow.SequenceBackend == config.SequenceRedis {
				redisSeq := rdb.Sequencer()
				if err := seedSequences(ctx, repo, redisSeq); err != nil {
					log.Fatal().Err(err).Msg("failed to seed redis sequences")
				}
				sequencer = redisSeq
			}
			log.Info().
				Str("sequence", cfg.Workflow.SequenceBackend).
				Str("lock", cfg.Workflow.LockBackend).
				Msg("redis ready")
		}
	}

	numbers := numbering.New(sequencer, numbering.WithBreaker(breaker.New(breaker.Config{
		FailureThreshold: cfg.Workflow.BreakerFailures,
		OpenTimeout:      cfg.Workflow.BreakerOpenTimeout,
	})))

	svc := service.New(repo,
		service.WithNumbers(numbers),
		service.WithLocker(locker),
		service.WithRestockEngine(restock.NewEngine(restockCache, cfg.Workflow.RestockCacheTTL)),
		service.WithSettings(settingsFrom(cfg)),
		service.WithCompensationTimeout(cfg.Workflow.CompensationTimeout),
	)
	auth := httpapi.NewAuth(ctx, httpapi.AuthConfig{
		Secret:     cfg.Auth.Secret,
		TokenTTL:   cfg.Auth.TokenTTL,
		ManagerPIN: cfg.Auth.ManagerPIN,
	}, repo)
	api := httpapi.New(svc, auth, cfg.App.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Msgf("POS backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("server stopped")
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.App.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if strings.EqualFold(cfg.App.LogFormat, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func settingsFrom(cfg *config.Config) service.Settings {
	return service.Settings{
		TaxRate:            cfg.Settings.TaxRate,
		MaxDiscountPercent: cfg.Settings.MaxDiscountPercent,
		DiscountAdminOnly:  cfg.Settings.DiscountAdminOnly,
		ReceiptFooter:      cfg.Settings.ReceiptFooter,
		ReturnReversesDebt: cfg.Settings.ReturnReversesDebt,
	}
}

type sequenceSeeder interface {
	Seed(ctx context.Context, counter string, floor int64) error
}

// seedSequences lifts the redis counters above the database counters so a
// switch of sequence backend never hands out a number twice. Each call burns
// one database value, which is an accepted gap.
func seedSequences(ctx context.Context, from numbering.Sequencer, to sequenceSeeder) error {
	for _, kind := range []numbering.Kind{numbering.Receipt, numbering.Return, numbering.Purchase} {
		floor, err := from.NextValue(ctx, string(kind))
		if err != nil {
			return fmt.Errorf("read %s counter: %w", kind, err)
		}
		if err := to.Seed(ctx, string(kind), floor); err != nil {
			return fmt.Errorf("seed %s counter: %w", kind, err)
		}
	}
	return nil
}

func validateSecurityConfig(cfg *config.Config) error {
	if len(cfg.Auth.Secret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.Auth.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.Auth.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit, sequential
// (ascending or descending), or on a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"121212": true, "112233": true, "123123": true, "696969": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("PIN must be digits only")
		}
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
