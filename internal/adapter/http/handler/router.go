package handler

import (
	"wallet-ledger/internal/adapter/http/middleware"
	"wallet-ledger/internal/adapter/metrics"
	redisStore "wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 64 << 10

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WalletSvc      ports.WalletService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = audit logging disabled
	Metrics        *metrics.Metrics   // nil = no /metrics, no HTTP metrics
	Mode           string             // gin mode; defaults to release
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	mode := deps.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)
	r := gin.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rules[group], deps.Logger)
	}

	wallets := NewWalletHandler(deps.WalletSvc)
	ledger := NewLedgerHandler(deps.WalletSvc)
	market := NewMarketHandler(deps.WalletSvc)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/currencies", rl(middleware.GroupRead), market.Currencies)
		v1.GET("/quotes", rl(middleware.GroupRead), market.Quote)

		v1.POST("/wallets", rl(middleware.GroupWalletCreate), wallets.Create)
		v1.GET("/wallets", rl(middleware.GroupRead), wallets.List)

		w := v1.Group("/wallets/:address")
		{
			w.GET("", rl(middleware.GroupRead), wallets.Get)
			w.DELETE("", rl(middleware.GroupLedger), wallets.Block)
			w.GET("/balances", rl(middleware.GroupRead), wallets.Balances)
			w.GET("/movements", rl(middleware.GroupRead), wallets.Movements)

			ops := w.Group("", rl(middleware.GroupLedger), middleware.IdempotencyKey())
			ops.POST("/deposits", ledger.Deposit)
			ops.POST("/withdrawals", ledger.Withdraw)
			ops.POST("/conversions", ledger.Convert)
			ops.POST("/transfers", ledger.Transfer)
		}
	}

	return r
}
