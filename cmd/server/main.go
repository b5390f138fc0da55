package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/coinfolio/coinfolio-api/internal/auth"
	"github.com/coinfolio/coinfolio-api/internal/config"
	"github.com/coinfolio/coinfolio-api/internal/database"
	"github.com/coinfolio/coinfolio-api/internal/matching"
	"github.com/coinfolio/coinfolio-api/internal/orders"
	"github.com/coinfolio/coinfolio-api/internal/portfolio"
	"github.com/coinfolio/coinfolio-api/internal/pricing"
	"github.com/coinfolio/coinfolio-api/internal/types"
	"github.com/coinfolio/coinfolio-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// defaultAssets seeds a fresh database with a small tradable universe.
// Asset IDs are the quote provider's identifiers.
var defaultAssets = []types.Asset{
	{AssetID: "bitcoin", Symbol: "BTC", Name: "Bitcoin"},
	{AssetID: "ethereum", Symbol: "ETH", Name: "Ethereum"},
	{AssetID: "cardano", Symbol: "ADA", Name: "Cardano"},
	{AssetID: "solana", Symbol: "SOL", Name: "Solana"},
	{AssetID: "dogecoin", Symbol: "DOGE", Name: "Dogecoin"},
}

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the portfolio API server with graceful
// shutdown support. It wires the ledger, order, pricing, and matching
// services and starts the two background processors.
func main() {
	configPath := os.Getenv("COINFOLIO_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Storage.SQLitePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	priceClient := pricing.NewClient(cfg.Oracle.BaseURL, cfg.OracleTimeout())
	pricingService := pricing.NewService(db, priceClient)
	pricingHandlers := pricing.NewGinHandlers(pricingService)
	if err := pricingService.SeedAssets(defaultAssets); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to seed asset registry")
	}

	portfolioService := portfolio.NewService(db)
	portfolioHandlers := portfolio.NewGinHandlers(portfolioService, pricingService)

	orderService := orders.NewService(db)
	orderHandlers := orders.NewGinHandlers(orderService)

	authService := auth.NewService(db, cfg.Auth.JWTSecret, cfg.Engine.StartingBalance)
	authHandlers := auth.NewGinHandlers(authService)

	scheduler := matching.NewScheduler(orderService.GetDB(), portfolioService, pricingService, cfg.StaleClaimWindow())
	matchingHandlers := matching.NewGinHandlers(scheduler)

	// Start the background processors
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go pricing.NewRefresher(pricingService, cfg.RefreshInterval()).Start(processorCtx)
	go matching.NewProcessor(scheduler, cfg.CycleInterval()).Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.Auth.JWTSecret, authHandlers, portfolioHandlers, orderHandlers, pricingHandlers, matchingHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for registration and login
// - User routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	portfolioHandlers *portfolio.GinHandlers,
	orderHandlers *orders.GinHandlers,
	pricingHandlers *pricing.GinHandlers,
	matchingHandlers *matching.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandlers.RegisterHandler())
			authGroup.POST("/token", authHandlers.LoginHandler())
		}

		// Public market data
		v1.GET("/assets", pricingHandlers.ListAssetsHandler())
		v1.GET("/prices", pricingHandlers.ListPricesHandler())

		// User routes
		user := v1.Group("")
		user.Use(middleware.JWTAuth(jwtSecret))
		{
			user.GET("/me", authHandlers.ProfileHandler())
			user.GET("/account", portfolioHandlers.AccountHandler())
			user.GET("/portfolio", portfolioHandlers.PortfolioHandler())
			user.GET("/portfolio/:asset_id", portfolioHandlers.HoldingHandler())
			user.GET("/transactions", portfolioHandlers.TransactionsHandler())
			user.POST("/trades/buy", portfolioHandlers.BuyHandler())
			user.POST("/trades/sell", portfolioHandlers.SellHandler())
			user.POST("/orders", orderHandlers.CreateOrderHandler())
			user.GET("/orders", orderHandlers.ListOrdersHandler())
			user.DELETE("/orders/:order_id", orderHandlers.CancelOrderHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/cycle", matchingHandlers.RunCycleHandler())
			internal.POST("/prices/refresh", pricingHandlers.RefreshPricesHandler())
			internal.POST("/prices", pricingHandlers.RecordQuoteHandler())
		}
	}
}
