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

	"github.com/papertrade/bot-api/internal/audit"
	"github.com/papertrade/bot-api/internal/auth"
	"github.com/papertrade/bot-api/internal/bot"
	"github.com/papertrade/bot-api/internal/config"
	"github.com/papertrade/bot-api/internal/database"
	"github.com/papertrade/bot-api/internal/execution"
	"github.com/papertrade/bot-api/internal/indicator"
	"github.com/papertrade/bot-api/internal/market"
	"github.com/papertrade/bot-api/internal/scheduler"
	"github.com/papertrade/bot-api/internal/strategy"
	"github.com/papertrade/bot-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

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

// main initializes and runs the paper trading bot API server with graceful
// shutdown support. It wires the market data, indicator, strategy, execution
// and scheduling services together and exposes the HTTP surface.
func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.Auth.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	fetcher := market.NewClient(
		cfg.Market.BaseURL,
		time.Duration(cfg.Market.RequestTimeoutSec)*time.Second,
		cfg.Market.RequestsPerMinute,
	)
	marketService := market.NewService(db, fetcher)
	marketHandlers := market.NewGinHandlers(marketService)

	indicatorService := indicator.NewService(db)

	strategies := strategy.NewRegistry()

	engine := execution.NewEngine(cfg.Trading.PositionFraction)
	executionService := execution.NewService(db, engine, cfg.Trading.PaperBalance, marketService)

	sink := audit.NewLogSink(db)
	orchestrator := bot.NewOrchestrator(db, marketService, indicatorService, strategies, executionService, sink)

	// The scheduler fires registered bots; each tick runs through the
	// orchestrator which enforces single-flight per bot.
	sched := scheduler.New(orchestrator.RunScheduled)
	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()

	go sched.Start(schedCtx)

	botService := bot.NewService(db, strategies, sched, cfg.Scheduler.MinIntervalSeconds, cfg.Scheduler.MaxConcurrentBots)
	botHandlers := bot.NewGinHandlers(botService, orchestrator)

	executionHandlers := execution.NewGinHandlers(executionService, botService)
	indicatorHandlers := indicator.NewGinHandlers(indicatorService, botService)

	// Re-register bots that were RUNNING or PAUSED when the server last
	// stopped, so restarts do not silently strand them.
	if err := botService.RestoreSchedule(); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to restore bot schedule")
	}

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.Auth.JWTSecret, authHandlers, botHandlers, marketHandlers, executionHandlers, indicatorHandlers)

	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
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

	// Stop the scheduler first so no new runs start during shutdown
	schedCancel()

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
// - Auth routes: Public endpoints for authentication
// - Bot routes: CRUD, lifecycle and run control, protected by JWT
// - Trading routes: Orders, signals and portfolio, protected by JWT
// - Market routes: Candles and indicators, protected by JWT
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	botHandlers *bot.GinHandlers,
	marketHandlers *market.GinHandlers,
	executionHandlers *execution.GinHandlers,
	indicatorHandlers *indicator.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Bot routes
		bots := v1.Group("/bots")
		bots.Use(middleware.JWTAuth(jwtSecret))
		{
			bots.POST("", botHandlers.CreateBotHandler())
			bots.GET("", botHandlers.ListBotsHandler())
			bots.GET("/:bot_id", botHandlers.GetBotHandler())
			bots.PUT("/:bot_id", botHandlers.UpdateBotHandler())
			bots.DELETE("/:bot_id", botHandlers.DeleteBotHandler())
			bots.POST("/:bot_id/start", botHandlers.StartBotHandler())
			bots.POST("/:bot_id/stop", botHandlers.StopBotHandler())
			bots.POST("/:bot_id/pause", botHandlers.PauseBotHandler())
			bots.POST("/:bot_id/resume", botHandlers.ResumeBotHandler())
			bots.POST("/:bot_id/run", botHandlers.RunOnceHandler())
			bots.GET("/:bot_id/status", botHandlers.StatusHandler())
		}

		// Trading routes
		trading := v1.Group("/trading")
		trading.Use(middleware.JWTAuth(jwtSecret))
		{
			trading.GET("/signals", botHandlers.ListSignalsHandler())
			trading.GET("/signals/stats", botHandlers.SignalStatsHandler())
			trading.GET("/orders", executionHandlers.ListOrdersHandler())
			trading.POST("/orders/:order_id/cancel", executionHandlers.CancelOrderHandler())
			trading.GET("/portfolio", executionHandlers.PortfolioHandler())
			trading.GET("/position", executionHandlers.PositionHandler())
		}

		// Market routes
		marketGroup := v1.Group("/market")
		marketGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			marketGroup.GET("/candles", marketHandlers.GetCandlesHandler())
			marketGroup.POST("/refresh", marketHandlers.RefreshHandler())
			marketGroup.GET("/indicators", indicatorHandlers.GetIndicatorsHandler())
		}
	}
}
