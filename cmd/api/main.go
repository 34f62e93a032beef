package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wallet-ledger/config"
	httpHandler "wallet-ledger/internal/adapter/http/handler"
	"wallet-ledger/internal/adapter/metrics"
	"wallet-ledger/internal/adapter/quote"
	"wallet-ledger/internal/adapter/storage/memory"
	pgStorage "wallet-ledger/internal/adapter/storage/postgres"
	redisStorage "wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/service"
	"wallet-ledger/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const auditQueueSize = 1024

// stores bundles the repositories of one storage driver.
type stores struct {
	transactor  ports.DBTransactor
	wallets     ports.WalletRepository
	balances    ports.BalanceRepository
	movements   ports.MovementRepository
	currencies  ports.CurrencyRepository
	idempotency ports.IdempotencyRepository
	audit       ports.AuditRepository
	health      []ports.HealthChecker
	close       func()
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Str("storage", cfg.Storage.Driver).
		Int("port", cfg.Server.Port).
		Msg("Starting Wallet Ledger")

	ctx := context.Background()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer st.close()

	var rdb *goredis.Client
	if cfg.Redis.Enabled {
		rdb, err = redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		log.Info().Msg("Redis connected")
		st.health = append(st.health, redisStorage.NewHealthCheck(rdb))
	}

	quotes, err := newQuoteProvider(cfg.Quote, rdb, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize quote provider")
	}

	fees, err := cfg.Ledger.FeeSchedule()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid fee schedule")
	}

	hasher, err := service.NewSecretHashService(cfg.Security.SecretHash, service.Argon2Params{
		Time:    cfg.Security.Argon2Time,
		Memory:  cfg.Security.Argon2Memory,
		Threads: cfg.Security.Argon2Threads,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize secret hasher")
	}

	m := metrics.New()

	ledgerDeps := service.LedgerDeps{
		Transactor:     st.transactor,
		Wallets:        st.wallets,
		Balances:       st.balances,
		Movements:      st.movements,
		Currencies:     st.currencies,
		Idempotency:    st.idempotency,
		Quotes:         quotes,
		Hasher:         hasher,
		Metrics:        m,
		Fees:           fees,
		IdempotencyTTL: cfg.Idempotency.TTL,
		Logger:         log,
	}
	if rdb != nil {
		ledgerDeps.IdempCache = redisStorage.NewIdempotencyCache(rdb)
	}
	ledgerSvc := service.NewLedgerService(ledgerDeps)

	walletSvc := service.NewWalletService(service.WalletDeps{
		Transactor:         st.transactor,
		Wallets:            st.wallets,
		Balances:           st.balances,
		Movements:          st.movements,
		Currencies:         st.currencies,
		Keys:               service.NewKeyService(hasher),
		Quotes:             quotes,
		Ledger:             ledgerSvc,
		RequiredCurrencies: cfg.Ledger.Currencies(),
		Logger:             log,
	})

	auditSvc := service.NewAuditService(st.audit, log, auditQueueSize)

	routerDeps := httpHandler.RouterDeps{
		WalletSvc:      walletSvc,
		HealthCheckers: st.health,
		AuditSvc:       auditSvc,
		Metrics:        m,
		Mode:           cfg.Server.Mode,
		Logger:         log,
	}
	if rdb != nil && cfg.RateLimit.Enabled {
		routerDeps.RateLimitStore = redisStorage.NewRateLimitStore(rdb)
	}
	router := httpHandler.SetupRouter(routerDeps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := auditSvc.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Audit queue not drained")
	}

	log.Info().Msg("Server exited")
}

func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	if cfg.Storage.Driver == "memory" {
		store := memory.NewStore(cfg.Ledger.LockTimeout, memory.DefaultCurrencies()...)
		log.Warn().Msg("Using in-memory storage; state is lost on exit")
		return &stores{
			transactor:  memory.NewTransactor(store),
			wallets:     memory.NewWalletRepo(store),
			balances:    memory.NewBalanceRepo(store),
			movements:   memory.NewMovementRepo(store),
			currencies:  memory.NewCurrencyRepo(store),
			idempotency: memory.NewIdempotencyRepo(store),
			audit:       memory.NewAuditRepo(store),
			close:       func() {},
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	log.Info().Msg("PostgreSQL connected")

	return &stores{
		transactor:  pgStorage.NewTransactor(pool, cfg.Ledger.LockTimeout),
		wallets:     pgStorage.NewWalletRepo(pool),
		balances:    pgStorage.NewBalanceRepo(pool),
		movements:   pgStorage.NewMovementRepo(pool),
		currencies:  pgStorage.NewCurrencyRepo(pool),
		idempotency: pgStorage.NewIdempotencyRepo(pool),
		audit:       pgStorage.NewAuditRepo(pool),
		health:      []ports.HealthChecker{pgStorage.NewHealthCheck(pool)},
		close:       pool.Close,
	}, nil
}

// newQuoteProvider builds the configured provider, fronted by the Redis quote
// cache when Redis is available.
func newQuoteProvider(cfg config.QuoteConfig, rdb *goredis.Client, log zerolog.Logger) (ports.QuoteProvider, error) {
	var provider ports.QuoteProvider
	switch cfg.Provider {
	case "coinbase":
		provider = quote.NewCoinbaseProvider(cfg.BaseURL, cfg.Timeout)
	case "static":
		static, err := quote.NewStaticProvider(cfg.StaticRates)
		if err != nil {
			return nil, err
		}
		provider = static
	default:
		return nil, fmt.Errorf("unsupported quote provider %q", cfg.Provider)
	}

	if rdb == nil || cfg.CacheTTL <= 0 {
		return provider, nil
	}
	return quote.NewCachedProvider(provider, redisStorage.NewQuoteCache(rdb), cfg.CacheTTL, log), nil
}
