package routes

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/revaspay/commissions/internal/config"
	"github.com/revaspay/commissions/internal/handlers"
	"github.com/revaspay/commissions/internal/middleware"
)

// Handlers groups everything the router serves
type Handlers struct {
	Commissions *handlers.CommissionHandler
	Payouts     *handlers.PayoutHandler
	Rules       *handlers.RuleHandler
	Reports     *handlers.ReportHandler
	Health      *handlers.HealthHandler
}

// SetupRouter builds the gin engine with the edge middleware and every route
func SetupRouter(cfg *config.Config, h Handlers, rateLimiter *middleware.RateLimiter, logger *slog.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	handlers.RegisterValidators()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecureHeadersMiddleware(middleware.DefaultSecureHeadersConfig(cfg.IsProduction())))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Security.CORSAllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Actor", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", h.Health.Health)

	api := router.Group("/api")
	if rateLimiter != nil {
		api.Use(rateLimiter.IPRateLimiterMiddleware())
	}
	api.GET("/health", h.Health.Health)

	RegisterCommissionRoutes(api, h.Commissions, h.Reports)
	RegisterRuleRoutes(api, h.Rules)
	RegisterPayoutRoutes(api, h.Payouts)

	return router
}

// RegisterCommissionRoutes registers the ledger and dashboard routes
func RegisterCommissionRoutes(api *gin.RouterGroup, commissions *handlers.CommissionHandler, reports *handlers.ReportHandler) {
	group := api.Group("/commissions")
	{
		// Dashboard reads
		group.GET("/summary", reports.Summary)
		group.GET("/report", reports.Report)
		group.GET("/top-earners", reports.TopEarners)
		group.GET("/activity", reports.Activity)

		group.POST("", commissions.Ingest)
		group.GET("", commissions.List)
		group.POST("/bulk-status", commissions.BulkUpdateStatus)
		group.POST("/recalculate", commissions.Recalculate)
		group.GET("/:id", commissions.Get)
		group.GET("/:id/history", commissions.History)
		group.POST("/:id/status", commissions.UpdateStatus)
	}
}

// RegisterRuleRoutes registers rule management routes
func RegisterRuleRoutes(api *gin.RouterGroup, rules *handlers.RuleHandler) {
	group := api.Group("/rules")
	{
		group.POST("", rules.Create)
		group.GET("", rules.List)
		group.POST("/preview", rules.Preview)
		group.GET("/:id", rules.Get)
		group.POST("/:id/versions", rules.Supersede)
		group.POST("/:id/deactivate", rules.Deactivate)
	}
}

// RegisterPayoutRoutes registers payout routes
func RegisterPayoutRoutes(api *gin.RouterGroup, payouts *handlers.PayoutHandler) {
	group := api.Group("/payouts")
	{
		group.POST("", payouts.Create)
		group.GET("", payouts.List)
		group.POST("/batch", payouts.RunBatch)
		group.GET("/:id", payouts.Get)
		group.POST("/:id/status", payouts.UpdateStatus)
	}
}
