package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/papertrade/bot-api/internal/audit"
	"github.com/papertrade/bot-api/internal/auth"
	"github.com/papertrade/bot-api/internal/bot"
	"github.com/papertrade/bot-api/internal/database"
	"github.com/papertrade/bot-api/internal/execution"
	"github.com/papertrade/bot-api/internal/indicator"
	"github.com/papertrade/bot-api/internal/market"
	"github.com/papertrade/bot-api/internal/scheduler"
	"github.com/papertrade/bot-api/internal/strategy"
	"github.com/papertrade/bot-api/internal/types"
	"github.com/papertrade/bot-api/pkg/middleware"
)

const (
	minBots       = 3
	maxBots       = 12
	runsPerBot    = 5
	numWorkers    = 3
	serverAddress = "http://localhost:8080"
	jwtSecret     = "simulation-secret"
)

var symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "ADAUSDT"}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the bot API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"create":    {name: "Create Bot"},
			"start":     {name: "Start Bot"},
			"run":       {name: "Run Once"},
			"status":    {name: "Bot Status"},
			"portfolio": {name: "Portfolio"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// doJSON performs an authenticated request and decodes the response envelope
// into out. A nil out discards the data payload.
func (sc *simulationClient) doJSON(method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(b)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}

	envelope := struct {
		Success bool        `json:"success"`
		Data    interface{} `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return nil
}

// createBot registers a new bot and returns its ID
func (sc *simulationClient) createBot(workerID int) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["create"].addDuration(time.Since(start))
	}()

	req := map[string]interface{}{
		"name":             fmt.Sprintf("sim-bot-w%d-%d", workerID, rand.Intn(10000)),
		"asset_type":       "CRYPTO",
		"symbol":           symbols[rand.Intn(len(symbols))],
		"timeframe":        "1h",
		"strategy_id":      "blue_sky",
		"interval_seconds": 60,
		"params": map[string]interface{}{
			"lookback":       10 + rand.Intn(20),
			"min_confidence": 0.3,
		},
	}

	var created types.Bot
	if err := sc.doJSON("POST", "/api/v1/bots", req, &created); err != nil {
		sc.stats["create"].failures++
		return "", err
	}
	if created.BotID == "" {
		sc.stats["create"].failures++
		return "", fmt.Errorf("no bot ID in response")
	}
	return created.BotID, nil
}

// startBot transitions a bot to RUNNING
func (sc *simulationClient) startBot(botID string) error {
	start := time.Now()
	defer func() {
		sc.stats["start"].addDuration(time.Since(start))
	}()

	if err := sc.doJSON("POST", fmt.Sprintf("/api/v1/bots/%s/start", botID), nil, nil); err != nil {
		sc.stats["start"].failures++
		return err
	}
	return nil
}

// runOnce triggers a single pipeline run and returns the outcome
func (sc *simulationClient) runOnce(botID string) (*types.RunResult, error) {
	start := time.Now()
	defer func() {
		sc.stats["run"].addDuration(time.Since(start))
	}()

	var result types.RunResult
	if err := sc.doJSON("POST", fmt.Sprintf("/api/v1/bots/%s/run", botID), nil, &result); err != nil {
		sc.stats["run"].failures++
		return nil, err
	}
	return &result, nil
}

// getStatus fetches a bot's current state and scheduler stats
func (sc *simulationClient) getStatus(botID string) (*types.BotStatusResponse, error) {
	start := time.Now()
	defer func() {
		sc.stats["status"].addDuration(time.Since(start))
	}()

	var status types.BotStatusResponse
	if err := sc.doJSON("GET", fmt.Sprintf("/api/v1/bots/%s/status", botID), nil, &status); err != nil {
		sc.stats["status"].failures++
		return nil, err
	}
	return &status, nil
}

// getPortfolio fetches the portfolio summary for a bot
func (sc *simulationClient) getPortfolio(botID string) (*types.PortfolioSummary, error) {
	start := time.Now()
	defer func() {
		sc.stats["portfolio"].addDuration(time.Since(start))
	}()

	var summary types.PortfolioSummary
	if err := sc.doJSON("GET", fmt.Sprintf("/api/v1/trading/portfolio?bot_id=%s", botID), nil, &summary); err != nil {
		sc.stats["portfolio"].failures++
		return nil, err
	}
	return &summary, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the bot lifecycle simulation
// It starts a local API server with a synthetic candle feed and drives
// multiple bots through create, start and repeated runs
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	targetBots := rand.Intn(maxBots-minBots) + minBots
	log.Info().Int("target_bots", targetBots).Msg("Starting simulation")

	botsChan := make(chan string, targetBots)
	var wg sync.WaitGroup

	perWorker := targetBots / numWorkers
	if perWorker == 0 {
		perWorker = 1
	}
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			createBotsHTTP(workerID, perWorker, simClient, botsChan)
		}(i)
	}

	wg.Wait()
	close(botsChan)

	var botIDs []string
	for botID := range botsChan {
		botIDs = append(botIDs, botID)
	}

	log.Info().Int("bots_created", len(botIDs)).Msg("All bots created")

	stats := struct {
		TotalBots     int
		TotalRuns     int
		BuySignals    int
		HoldSignals   int
		Duplicates    int
		FailedRuns    int
		TotalPnL      float64
		StartTime     time.Time
		Outcomes      map[string]int
	}{
		StartTime: time.Now(),
		Outcomes:  make(map[string]int),
	}
	stats.TotalBots = len(botIDs)

	for _, botID := range botIDs {
		if err := simClient.startBot(botID); err != nil {
			log.Error().Err(err).Str("bot_id", botID).Msg("Failed to start bot")
			continue
		}

		for i := 0; i < runsPerBot; i++ {
			result, err := simClient.runOnce(botID)
			if err != nil {
				stats.FailedRuns++
				log.Error().Err(err).Str("bot_id", botID).Msg("Run failed")
				continue
			}

			stats.TotalRuns++
			stats.Outcomes[result.Outcome]++
			switch result.SignalType {
			case types.SignalBuy:
				stats.BuySignals++
			case types.SignalHold:
				stats.HoldSignals++
			}
			if result.Outcome == audit.OutcomeSkippedDuplicate {
				stats.Duplicates++
			}

			log.Info().
				Str("bot_id", botID).
				Str("run_id", result.RunID).
				Str("outcome", result.Outcome).
				Str("signal", result.SignalType).
				Float64("confidence", result.Confidence).
				Str("action", result.Action).
				Msg("Run completed")
		}

		status, err := simClient.getStatus(botID)
		if err == nil {
			log.Info().
				Str("bot_id", botID).
				Str("state", status.State).
				Msg("Bot status")
		}

		summary, err := simClient.getPortfolio(botID)
		if err == nil {
			stats.TotalPnL += summary.TotalPnL
			log.Info().
				Str("bot_id", botID).
				Float64("total_value", summary.TotalValue).
				Float64("total_pnl", summary.TotalPnL).
				Int("total_orders", summary.TotalOrders).
				Msg("Portfolio")
		}
	}

	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BOT SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Run Statistics
--------------
Total Bots:     %d
Total Runs:     %d
Buy Signals:    %d
Hold Signals:   %d
Duplicates:     %d
Failed Runs:    %d
Total PnL:      $%.2f
Duration:       %v

Outcome Distribution
--------------------
`, stats.TotalBots, stats.TotalRuns, stats.BuySignals, stats.HoldSignals,
		stats.Duplicates, stats.FailedRuns, stats.TotalPnL, duration.Round(time.Millisecond))

	maxOutcome := 0
	for _, count := range stats.Outcomes {
		if count > maxOutcome {
			maxOutcome = count
		}
	}
	for outcome, count := range stats.Outcomes {
		barLength := 0
		if maxOutcome > 0 {
			barLength = int(float64(count) / float64(maxOutcome) * 20)
		}
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-20s: %s (%d)\n", outcome, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("total_bots", stats.TotalBots).
		Int("total_runs", stats.TotalRuns).
		Int("failed_runs", stats.FailedRuns).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// createBotsHTTP registers bots through the API, sending created IDs to botsChan
func createBotsHTTP(workerID, numBots int, simClient *simulationClient, botsChan chan<- string) {
	for i := 0; i < numBots; i++ {
		botID, err := simClient.createBot(workerID)
		if err != nil {
			log.Error().Err(err).
				Int("worker_id", workerID).
				Msg("Failed to create bot")
			continue
		}

		botsChan <- botID
		log.Info().
			Int("worker_id", workerID).
			Str("bot_id", botID).
			Msg("Bot created")

		time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
	}
}

// syntheticFetcher generates a random walk candle series per symbol so the
// simulation never needs a live market upstream.
type syntheticFetcher struct {
	mu    sync.Mutex
	last  map[string]float64
	clock map[string]time.Time
}

func newSyntheticFetcher() *syntheticFetcher {
	return &syntheticFetcher{
		last:  make(map[string]float64),
		clock: make(map[string]time.Time),
	}
}

func (f *syntheticFetcher) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]types.MarketCandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	price, ok := f.last[symbol]
	if !ok {
		price = 100 + rand.Float64()*900
	}
	ts, ok := f.clock[symbol]
	if !ok {
		ts = time.Now().Add(-time.Duration(limit) * time.Hour).Truncate(time.Hour)
	}

	candles := make([]types.MarketCandle, 0, limit)
	for i := 0; i < limit; i++ {
		open := price
		// Drift with occasional breakout spikes
		change := (rand.Float64() - 0.48) * 0.02
		if rand.Intn(25) == 0 {
			change += 0.06
		}
		closePrice := open * (1 + change)
		high := math.Max(open, closePrice) * (1 + rand.Float64()*0.005)
		low := math.Min(open, closePrice) * (1 - rand.Float64()*0.005)

		candles = append(candles, types.MarketCandle{
			Symbol:    symbol,
			Timeframe: timeframe,
			Timestamp: ts,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    1000 + rand.Float64()*9000,
		})

		price = closePrice
		ts = ts.Add(time.Hour)
	}

	f.last[symbol] = price
	f.clock[symbol] = ts
	return candles, nil
}

// startServer initializes and starts the bot API server backed by the
// synthetic candle feed
func startServer() error {
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(jwtSecret)
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	marketService := market.NewService(db, newSyntheticFetcher())
	indicatorService := indicator.NewService(db)
	strategies := strategy.NewRegistry()
	engine := execution.NewEngine(0.10)
	executionService := execution.NewService(db, engine, 10000, marketService)
	sink := audit.NewLogSink(db)
	orchestrator := bot.NewOrchestrator(db, marketService, indicatorService, strategies, executionService, sink)

	sched := scheduler.New(orchestrator.RunScheduled)
	go sched.Start(context.Background())

	botService := bot.NewService(db, strategies, sched, 30, 0)

	// Initialize router
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	botHandlers := bot.NewGinHandlers(botService, orchestrator)
	marketHandlers := market.NewGinHandlers(marketService)
	executionHandlers := execution.NewGinHandlers(executionService, botService)
	indicatorHandlers := indicator.NewGinHandlers(indicatorService, botService)

	// Setup routes
	setupRoutes(router, authHandlers, botHandlers, marketHandlers, executionHandlers, indicatorHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
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
