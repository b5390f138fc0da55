// Package orders manages standing conditional buy orders: submission,
// listing, cancellation, and the compare-and-swap lifecycle transitions
// the matching scheduler relies on for exactly-once execution.
package orders

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/coinfolio/coinfolio-api/internal/types"
	"github.com/coinfolio/coinfolio-api/pkg/response"
)

var (
	ErrInvalidTargetPrice = errors.New("target price must be positive")
	ErrInvalidAmount      = errors.New("amount must be positive")
)

// Service handles auto-order submission and user-facing lifecycle
// operations. Scheduler-side transitions live on Database and are used by
// the matching package directly.
type Service struct {
	db *Database
}

// NewService creates a new order service with the given database connection.
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// CreateOrder submits a new conditional buy order in state PENDING.
func (s *Service) CreateOrder(userID, assetID string, targetPrice, amount float64) (*types.Order, error) {
	if targetPrice <= 0 {
		return nil, ErrInvalidTargetPrice
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	order := &types.Order{
		OrderID:     "ORD_" + uuid.New().String(),
		UserID:      userID,
		AssetID:     assetID,
		TargetPrice: targetPrice,
		Amount:      amount,
		Status:      types.OrderStatusPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if err := s.db.CreateOrder(order); err != nil {
		return nil, err
	}

	log.Info().
		Str("service", "orders").
		Str("order_id", order.OrderID).
		Str("user_id", userID).
		Str("asset_id", assetID).
		Float64("target_price", targetPrice).
		Float64("amount", amount).
		Msg("auto order created")

	return order, nil
}

// CancelOrder cancels a pending order owned by the user. Returns false
// when the order is not the user's or already left PENDING.
func (s *Service) CancelOrder(orderID, userID string) (bool, error) {
	return s.db.CancelOrder(orderID, userID)
}

// GetUserOrders lists a user's orders, newest first.
func (s *Service) GetUserOrders(userID string) ([]types.Order, error) {
	return s.db.GetUserOrders(userID)
}

// GetDB exposes the database wrapper for the matching scheduler, which
// drives the claim/execute/revert transitions itself.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for auto-order endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateOrderHandler handles POST requests to submit a conditional buy.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		var req struct {
			AssetID     string  `json:"asset_id" binding:"required"`
			TargetPrice float64 `json:"target_price" binding:"required,gt=0"`
			Amount      float64 `json:"amount" binding:"required,gt=0"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.CreateOrder(userID, req.AssetID, req.TargetPrice, req.Amount)
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidTargetPrice), errors.Is(err, ErrInvalidAmount):
				response.BadRequest(c, err.Error())
			default:
				response.InternalError(c, err.Error())
			}
			return
		}

		response.Success(c, order)
	}
}

// ListOrdersHandler handles GET requests for the user's orders.
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		userOrders, err := h.service.GetUserOrders(userID)
		response.Handle(c, userOrders, err)
	}
}

// CancelOrderHandler handles DELETE requests to cancel a pending order.
// Cancelling an order that already executed, was cancelled, or is being
// executed right now returns a conflict rather than silently succeeding.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		orderID := c.Param("order_id")
		cancelled, err := h.service.CancelOrder(orderID, userID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if !cancelled {
			response.Conflict(c, "Order is not pending")
			return
		}

		response.Success(c, gin.H{"order_id": orderID, "status": types.OrderStatusCancelled})
	}
}
