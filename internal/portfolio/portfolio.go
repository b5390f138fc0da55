package portfolio

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/coinfolio/coinfolio-api/internal/pricing"
	"github.com/coinfolio/coinfolio-api/internal/types"
	"github.com/coinfolio/coinfolio-api/pkg/response"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrInvalidPrice         = errors.New("price must be positive")
	ErrOrderNotClaimed      = errors.New("order is no longer claimed")
)

// Service is the trade executor. Every balance or holding mutation in the
// system goes through ExecuteBuy or ExecuteSell; each applies its writes as
// one storage transaction and appends exactly one ledger row.
type Service struct {
	db *Database
}

// NewService creates a new trade executor with the given database connection.
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// CreateAccount opens a cash account for a user with the given starting
// balance. Called once at registration.
func (s *Service) CreateAccount(userID string, startingBalance float64) (*types.Account, error) {
	account := &types.Account{
		UserID:    userID,
		Balance:   startingBalance,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.db.CreateAccount(account); err != nil {
		return nil, err
	}
	return account, nil
}

// ExecuteBuy performs one user-initiated buy at the given price.
func (s *Service) ExecuteBuy(userID, assetID string, quantity, price float64) (*types.Transaction, error) {
	return s.executeBuy(userID, assetID, quantity, price, "")
}

// ExecuteOrderBuy performs the buy for a claimed auto order. The resulting
// transaction records the order ID, and the order's transition to EXECUTED
// commits with the trade itself. Returns ErrOrderNotClaimed, with nothing
// written, if the order left the claimed state before settlement.
func (s *Service) ExecuteOrderBuy(order *types.Order, price float64) (*types.Transaction, error) {
	return s.executeBuy(order.UserID, order.AssetID, order.Amount, price, order.OrderID)
}

func (s *Service) executeBuy(userID, assetID string, quantity, price float64, orderID string) (*types.Transaction, error) {
	logger := log.With().
		Str("service", "portfolio").
		Str("user_id", userID).
		Str("asset_id", assetID).
		Float64("quantity", quantity).
		Float64("price", price).
		Logger()

	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if price <= 0 {
		return nil, ErrInvalidPrice
	}

	txn := &types.Transaction{
		TxID:      "TXN_" + uuid.New().String(),
		UserID:    userID,
		AssetID:   assetID,
		OrderID:   orderID,
		Quantity:  quantity,
		Price:     price,
		Type:      types.TransactionTypeBuy,
		Timestamp: time.Now(),
	}

	if err := s.db.ApplyBuy(txn); err != nil {
		switch {
		case errors.Is(err, ErrInsufficientFunds):
			logger.Info().Float64("cost", quantity*price).Msg("buy rejected, insufficient funds")
		case errors.Is(err, ErrOrderNotClaimed):
			logger.Warn().Str("order_id", orderID).Msg("buy rolled back, order left claimed state")
		default:
			logger.Error().Err(err).Msg("failed to apply buy")
		}
		return nil, err
	}

	logger.Info().Str("tx_id", txn.TxID).Msg("buy executed")
	return txn, nil
}

// ExecuteSell performs one user-initiated sell at the given price. A
// holding that reaches exactly zero is removed.
func (s *Service) ExecuteSell(userID, assetID string, quantity, price float64) (*types.Transaction, error) {
	logger := log.With().
		Str("service", "portfolio").
		Str("user_id", userID).
		Str("asset_id", assetID).
		Float64("quantity", quantity).
		Float64("price", price).
		Logger()

	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if price <= 0 {
		return nil, ErrInvalidPrice
	}

	txn := &types.Transaction{
		TxID:      "TXN_" + uuid.New().String(),
		UserID:    userID,
		AssetID:   assetID,
		Quantity:  quantity,
		Price:     price,
		Type:      types.TransactionTypeSell,
		Timestamp: time.Now(),
	}

	if err := s.db.ApplySell(txn); err != nil {
		if errors.Is(err, ErrInsufficientHoldings) {
			logger.Info().Msg("sell rejected, insufficient holdings")
		} else {
			logger.Error().Err(err).Msg("failed to apply sell")
		}
		return nil, err
	}

	logger.Info().Str("tx_id", txn.TxID).Msg("sell executed")
	return txn, nil
}

// GetAccount retrieves a user's cash account.
func (s *Service) GetAccount(userID string) (*types.Account, error) {
	return s.db.GetAccount(userID)
}

// GetHolding retrieves a user's position in one asset, or nil if they
// hold none of it.
func (s *Service) GetHolding(userID, assetID string) (*types.Holding, error) {
	return s.db.GetHolding(userID, assetID)
}

// GetHoldings retrieves all of a user's positions.
func (s *Service) GetHoldings(userID string) ([]types.Holding, error) {
	return s.db.GetHoldings(userID)
}

// GetTransactions retrieves a user's trade history, newest first.
func (s *Service) GetTransactions(userID string) ([]types.Transaction, error) {
	return s.db.GetTransactions(userID)
}

// GetDB exposes the database wrapper for components that share it.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for account and trading endpoints.
// Direct trades resolve the current quote from the oracle and hand it to
// the executor, mirroring what the scheduler does for auto orders.
type GinHandlers struct {
	service *Service
	oracle  pricing.Oracle
}

func NewGinHandlers(service *Service, oracle pricing.Oracle) *GinHandlers {
	return &GinHandlers{
		service: service,
		oracle:  oracle,
	}
}

type tradeRequest struct {
	AssetID  string  `json:"asset_id" binding:"required"`
	Quantity float64 `json:"quantity" binding:"required,gt=0"`
}

// BuyHandler handles POST requests for direct market buys at the latest
// quoted price.
func (h *GinHandlers) BuyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.handleTrade(c, h.service.ExecuteBuy)
	}
}

// SellHandler handles POST requests for direct market sells at the latest
// quoted price.
func (h *GinHandlers) SellHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.handleTrade(c, h.service.ExecuteSell)
	}
}

func (h *GinHandlers) handleTrade(c *gin.Context, execute func(userID, assetID string, quantity, price float64) (*types.Transaction, error)) {
	userID := c.GetString("userID")
	if userID == "" {
		response.Unauthorized(c, "Missing user identity")
		return
	}

	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	quote, err := h.oracle.GetLatestPrice(c.Request.Context(), req.AssetID)
	if err != nil {
		if errors.Is(err, pricing.ErrPriceUnavailable) {
			response.UnprocessableEntity(c, "No price available for asset")
			return
		}
		response.InternalError(c, err.Error())
		return
	}

	txn, err := execute(userID, req.AssetID, req.Quantity, quote.Price)
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientFunds):
			response.UnprocessableEntity(c, "Insufficient funds")
		case errors.Is(err, ErrInsufficientHoldings):
			response.UnprocessableEntity(c, "Insufficient holdings")
		case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidPrice):
			response.BadRequest(c, err.Error())
		case errors.Is(err, ErrAccountNotFound):
			response.NotFound(c, "Account not found")
		default:
			response.InternalError(c, err.Error())
		}
		return
	}

	account, err := h.service.GetAccount(userID)
	if err != nil || account == nil {
		response.InternalError(c, "Failed to load account after trade")
		return
	}

	response.Success(c, types.TradeResponse{
		TxID:      txn.TxID,
		AssetID:   txn.AssetID,
		Type:      txn.Type,
		Quantity:  txn.Quantity,
		Price:     txn.Price,
		Total:     txn.Quantity * txn.Price,
		Balance:   account.Balance,
		Timestamp: txn.Timestamp,
	})
}

// AccountHandler handles GET requests for the user's cash balance.
func (h *GinHandlers) AccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		account, err := h.service.GetAccount(userID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if account == nil {
			response.NotFound(c, "Account not found")
			return
		}

		response.Success(c, account)
	}
}

// PortfolioHandler handles GET requests for the user's holdings, valued at
// the latest known quotes where available.
func (h *GinHandlers) PortfolioHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		holdings, err := h.service.GetHoldings(userID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		assetIDs := make([]string, 0, len(holdings))
		for _, holding := range holdings {
			assetIDs = append(assetIDs, holding.AssetID)
		}

		quotes, err := h.oracle.GetLatestPrices(c.Request.Context(), assetIDs)
		if err != nil {
			// Valuation is best-effort; the positions themselves are
			// authoritative.
			quotes = map[string]types.PriceQuote{}
		}

		entries := make([]types.PortfolioEntry, 0, len(holdings))
		for _, holding := range holdings {
			entry := types.PortfolioEntry{
				AssetID:  holding.AssetID,
				Quantity: holding.Quantity,
			}
			if quote, ok := quotes[holding.AssetID]; ok {
				entry.Price = quote.Price
				entry.Value = holding.Quantity * quote.Price
			}
			entries = append(entries, entry)
		}

		response.Success(c, entries)
	}
}

// HoldingHandler handles GET requests for the user's position in a single
// asset, valued like the portfolio listing.
func (h *GinHandlers) HoldingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		assetID := c.Param("asset_id")
		holding, err := h.service.GetHolding(userID, assetID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if holding == nil {
			response.NotFound(c, "No position in asset")
			return
		}

		entry := types.PortfolioEntry{
			AssetID:  holding.AssetID,
			Quantity: holding.Quantity,
		}
		if quote, err := h.oracle.GetLatestPrice(c.Request.Context(), assetID); err == nil {
			entry.Price = quote.Price
			entry.Value = holding.Quantity * quote.Price
		}

		response.Success(c, entry)
	}
}

// TransactionsHandler handles GET requests for the user's trade history.
func (h *GinHandlers) TransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		transactions, err := h.service.GetTransactions(userID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, transactions)
	}
}
