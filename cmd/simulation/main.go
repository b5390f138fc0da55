package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coinfolio/coinfolio-api/internal/auth"
	"github.com/coinfolio/coinfolio-api/internal/config"
	"github.com/coinfolio/coinfolio-api/internal/database"
	"github.com/coinfolio/coinfolio-api/internal/matching"
	"github.com/coinfolio/coinfolio-api/internal/orders"
	"github.com/coinfolio/coinfolio-api/internal/portfolio"
	"github.com/coinfolio/coinfolio-api/internal/pricing"
	"github.com/coinfolio/coinfolio-api/internal/types"
	"github.com/coinfolio/coinfolio-api/pkg/middleware"
)

const (
	numUsers        = 5
	ordersPerUser   = 10
	concurrentRuns  = 4
	priceSteps      = 6
	serverAddress   = "http://localhost:8080"
	startingBalance = 500000.0
)

var assets = []struct {
	ID        string
	BasePrice float64
}{
	{"bitcoin", 60000},
	{"ethereum", 3000},
	{"cardano", 0.8},
	{"solana", 150},
	{"dogecoin", 0.2},
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name      string
	durations []time.Duration
	failures  int
}

func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
}

// calculate computes min, max, mean, median, 95th and 99th percentile
// durations from the recorded samples.
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the portfolio API
type simulationClient struct {
	baseURL string
	client  *http.Client

	mu    sync.Mutex
	stats map[string]*routeStats
}

func newSimulationClient() *simulationClient {
	return &simulationClient{
		baseURL: serverAddress,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		stats: map[string]*routeStats{
			"register": {name: "Register"},
			"login":    {name: "Login"},
			"quote":    {name: "Record Quote"},
			"order":    {name: "Create Auto Order"},
			"cycle":    {name: "Run Cycle"},
			"account":  {name: "Get Account"},
			"orders":   {name: "List Orders"},
		},
	}
}

func (sc *simulationClient) track(route string, start time.Time, err error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	rs := sc.stats[route]
	rs.addDuration(time.Since(start))
	if err != nil {
		rs.failures++
	}
}

// doJSON performs one request with optional bearer token and JSON body,
// decoding the standard response envelope's data field into out.
func (sc *simulationClient) doJSON(method, path, token string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
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

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	envelope := struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(envelope.Data, out)
}

func (sc *simulationClient) register(email, password string) error {
	start := time.Now()
	err := sc.doJSON("POST", "/api/v1/auth/register", "", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	sc.track("register", start, err)
	return err
}

func (sc *simulationClient) login(email, password string) (string, error) {
	start := time.Now()
	var result struct {
		Token string `json:"jwt_token"`
	}
	err := sc.doJSON("POST", "/api/v1/auth/token", "", map[string]string{
		"email":    email,
		"password": password,
	}, &result)
	sc.track("login", start, err)
	return result.Token, err
}

func (sc *simulationClient) recordQuote(token, assetID string, price float64) error {
	start := time.Now()
	err := sc.doJSON("POST", "/api/v1/internal/prices", token, map[string]interface{}{
		"asset_id": assetID,
		"price":    price,
	}, nil)
	sc.track("quote", start, err)
	return err
}

func (sc *simulationClient) createAutoOrder(token, assetID string, targetPrice, amount float64) (string, error) {
	start := time.Now()
	var order types.Order
	err := sc.doJSON("POST", "/api/v1/orders", token, map[string]interface{}{
		"asset_id":     assetID,
		"target_price": targetPrice,
		"amount":       amount,
	}, &order)
	sc.track("order", start, err)
	return order.OrderID, err
}

func (sc *simulationClient) runCycle(token string) (types.CycleResult, error) {
	start := time.Now()
	var result types.CycleResult
	err := sc.doJSON("POST", "/api/v1/internal/cycle", token, nil, &result)
	sc.track("cycle", start, err)
	return result, err
}

func (sc *simulationClient) getAccount(token string) (*types.Account, error) {
	start := time.Now()
	var account types.Account
	err := sc.doJSON("GET", "/api/v1/account", token, nil, &account)
	sc.track("account", start, err)
	return &account, err
}

func (sc *simulationClient) listOrders(token string) ([]types.Order, error) {
	start := time.Now()
	var userOrders []types.Order
	err := sc.doJSON("GET", "/api/v1/orders", token, nil, &userOrders)
	sc.track("orders", start, err)
	return userOrders, err
}

func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("API PERFORMANCE STATISTICS")
	fmt.Println(strings.Repeat("=", 80))

	sc.mu.Lock()
	defer sc.mu.Unlock()

	names := make([]string, 0, len(sc.stats))
	for name := range sc.stats {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rs := sc.stats[name]
		if len(rs.durations) == 0 {
			continue
		}
		min, max, mean, median, p95, p99 := rs.calculate()
		fmt.Printf(`
%s (%d calls, %d failures)
  Min:    %v
  Max:    %v
  Mean:   %v
  Median: %v
  P95:    %v
  P99:    %v
`, rs.name, len(rs.durations), rs.failures,
			min.Round(time.Microsecond), max.Round(time.Microsecond),
			mean.Round(time.Microsecond), median.Round(time.Microsecond),
			p95.Round(time.Microsecond), p99.Round(time.Microsecond))
	}
}

func main() {
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	simClient := newSimulationClient()
	if err := waitForServer(simClient); err != nil {
		log.Fatal().Err(err).Msg("Server never became ready")
	}

	// Register and log in the simulated users.
	tokens := make([]string, numUsers)
	for i := 0; i < numUsers; i++ {
		email := fmt.Sprintf("trader%d@example.com", i)
		if err := simClient.register(email, "simulation-pass"); err != nil {
			log.Fatal().Err(err).Str("email", email).Msg("Failed to register user")
		}
		token, err := simClient.login(email, "simulation-pass")
		if err != nil {
			log.Fatal().Err(err).Str("email", email).Msg("Failed to log in user")
		}
		tokens[i] = token
	}
	log.Info().Int("users", numUsers).Msg("Registered simulation users")

	// Seed initial quotes at base prices.
	for _, asset := range assets {
		if err := simClient.recordQuote(tokens[0], asset.ID, asset.BasePrice); err != nil {
			log.Fatal().Err(err).Str("asset_id", asset.ID).Msg("Failed to record quote")
		}
	}

	// Each user places auto orders with targets scattered around the
	// current price: some immediately satisfiable once prices dip, some
	// never reached during the run.
	totalOrders := 0
	var wg sync.WaitGroup
	for i := 0; i < numUsers; i++ {
		wg.Add(1)
		go func(userIdx int) {
			defer wg.Done()
			for j := 0; j < ordersPerUser; j++ {
				asset := assets[rand.Intn(len(assets))]
				targetFactor := 0.7 + rand.Float64()*0.5 // 70%..120% of base
				amount := 0.1 + rand.Float64()*2
				_, err := simClient.createAutoOrder(
					tokens[userIdx],
					asset.ID,
					asset.BasePrice*targetFactor,
					amount,
				)
				if err != nil {
					log.Error().Err(err).Int("user", userIdx).Msg("Failed to create auto order")
				}
			}
		}(i)
	}
	wg.Wait()
	totalOrders = numUsers * ordersPerUser
	log.Info().Int("orders", totalOrders).Msg("Auto orders placed")

	// Walk prices downward in steps; after each step fire several
	// overlapping cycles to exercise claim contention.
	totalExecuted := 0
	for step := 1; step <= priceSteps; step++ {
		factor := 1.0 - float64(step)*0.05
		for _, asset := range assets {
			if err := simClient.recordQuote(tokens[0], asset.ID, asset.BasePrice*factor); err != nil {
				log.Error().Err(err).Str("asset_id", asset.ID).Msg("Failed to record quote")
			}
		}

		results := make([]types.CycleResult, concurrentRuns)
		var cycleWG sync.WaitGroup
		for i := 0; i < concurrentRuns; i++ {
			cycleWG.Add(1)
			go func(i int) {
				defer cycleWG.Done()
				result, err := simClient.runCycle(tokens[0])
				if err != nil {
					log.Error().Err(err).Msg("Cycle trigger failed")
					return
				}
				results[i] = result
			}(i)
		}
		cycleWG.Wait()

		stepExecuted := 0
		for _, result := range results {
			stepExecuted += result.Executed
		}
		totalExecuted += stepExecuted
		log.Info().
			Int("step", step).
			Float64("price_factor", factor).
			Int("executed", stepExecuted).
			Msg("Price step processed")
	}

	// Collect final per-user state.
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("PORTFOLIO SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	statusCounts := map[string]int{}
	totalSpent := 0.0
	for i := 0; i < numUsers; i++ {
		account, err := simClient.getAccount(tokens[i])
		if err != nil {
			log.Error().Err(err).Int("user", i).Msg("Failed to fetch account")
			continue
		}
		userOrders, err := simClient.listOrders(tokens[i])
		if err != nil {
			log.Error().Err(err).Int("user", i).Msg("Failed to list orders")
			continue
		}
		for _, order := range userOrders {
			statusCounts[order.Status]++
		}
		totalSpent += startingBalance - account.Balance
		fmt.Printf("trader%d: balance $%.2f (spent $%.2f), %d orders\n",
			i, account.Balance, startingBalance-account.Balance, len(userOrders))
	}

	fmt.Printf(`
Orders placed:    %d
Orders executed:  %d
Total spent:      $%.2f

Order status distribution
-------------------------
`, totalOrders, totalExecuted, totalSpent)

	maxCount := 0
	for _, count := range statusCounts {
		if count > maxCount {
			maxCount = count
		}
	}
	for status, count := range statusCounts {
		barLength := 0
		if maxCount > 0 {
			barLength = int(float64(count) / float64(maxCount) * 20)
		}
		fmt.Printf("%-10s: %s (%d)\n", status, strings.Repeat("#", barLength), count)
	}

	simClient.printPerformanceStats()

	log.Info().
		Int("orders", totalOrders).
		Int("executed", totalExecuted).
		Float64("total_spent", totalSpent).
		Msg("Simulation completed")
}

// waitForServer polls the public asset listing until the server responds.
func waitForServer(sc *simulationClient) error {
	for attempt := 0; attempt < 50; attempt++ {
		resp, err := sc.client.Get(sc.baseURL + "/api/v1/assets")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server did not become ready")
}

// startServer runs an in-process API server against a throwaway database.
// The matching cycle is driven explicitly through the internal endpoint,
// so no background processors are started.
func startServer() error {
	dir, err := os.MkdirTemp("", "coinfolio-sim")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}

	db, err := database.NewDatabase(filepath.Join(dir, "simulation.db"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	cfg := config.Default()

	priceClient := pricing.NewClient(cfg.Oracle.BaseURL, cfg.OracleTimeout())
	pricingService := pricing.NewService(db, priceClient)
	seed := make([]types.Asset, 0, len(assets))
	for _, asset := range assets {
		seed = append(seed, types.Asset{AssetID: asset.ID, Symbol: strings.ToUpper(asset.ID[:3]), Name: asset.ID})
	}
	if err := pricingService.SeedAssets(seed); err != nil {
		return fmt.Errorf("failed to seed assets: %w", err)
	}

	portfolioService := portfolio.NewService(db)
	orderService := orders.NewService(db)
	authService := auth.NewService(db, cfg.Auth.JWTSecret, startingBalance)
	scheduler := matching.NewScheduler(orderService.GetDB(), portfolioService, pricingService, cfg.StaleClaimWindow())

	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	authHandlers := auth.NewGinHandlers(authService)
	portfolioHandlers := portfolio.NewGinHandlers(portfolioService, pricingService)
	orderHandlers := orders.NewGinHandlers(orderService)
	pricingHandlers := pricing.NewGinHandlers(pricingService)
	matchingHandlers := matching.NewGinHandlers(scheduler)

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandlers.RegisterHandler())
			authGroup.POST("/token", authHandlers.LoginHandler())
		}

		v1.GET("/assets", pricingHandlers.ListAssetsHandler())
		v1.GET("/prices", pricingHandlers.ListPricesHandler())

		user := v1.Group("")
		user.Use(middleware.JWTAuth(cfg.Auth.JWTSecret))
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

		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.Auth.JWTSecret))
		{
			internal.POST("/cycle", matchingHandlers.RunCycleHandler())
			internal.POST("/prices/refresh", pricingHandlers.RefreshPricesHandler())
			internal.POST("/prices", pricingHandlers.RecordQuoteHandler())
		}
	}

	return router.Run(":8080")
}
