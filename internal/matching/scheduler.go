// Package matching implements the automated limit-order execution engine.
// Each cycle scans pending auto orders, matches them against the latest
// known quote per asset, and executes satisfied orders exactly once via
// per-order storage-level claims. Cycles are safe to run concurrently and
// repeatedly: all cross-cycle coordination happens through conditional
// updates in the order store, never through in-process locks.
package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/coinfolio/coinfolio-api/internal/orders"
	"github.com/coinfolio/coinfolio-api/internal/portfolio"
	"github.com/coinfolio/coinfolio-api/internal/pricing"
	"github.com/coinfolio/coinfolio-api/internal/types"
	"github.com/coinfolio/coinfolio-api/pkg/response"
)

// Scheduler evaluates pending orders against current quotes and drives the
// order lifecycle: claim, trade, terminal transition or revert.
type Scheduler struct {
	orders           *orders.Database
	executor         *portfolio.Service
	oracle           pricing.Oracle
	staleClaimWindow time.Duration
}

// NewScheduler creates a scheduler. staleClaimWindow bounds how long an
// order may sit CLAIMED with no progress before it is handed back to the
// pending pool.
func NewScheduler(ordersDB *orders.Database, executor *portfolio.Service, oracle pricing.Oracle, staleClaimWindow time.Duration) *Scheduler {
	return &Scheduler{
		orders:           ordersDB,
		executor:         executor,
		oracle:           oracle,
		staleClaimWindow: staleClaimWindow,
	}
}

// RunCycle runs one matching pass over the current pending-order set.
//
// An order is satisfied when a quote exists for its asset and the quoted
// price is at or below its target. Satisfied orders are claimed one at a
// time with a conditional PENDING to CLAIMED update; losing that race
// means another cycle owns the order, which is normal and silent. A failed
// trade reverts the order to PENDING so a later cycle, a cheaper price, or
// a topped-up balance can satisfy it; the engine never cancels an order on
// its own. Orders whose asset has no quote are skipped and stay pending.
//
// An error return means the cycle aborted early on a store failure;
// whatever was already executed stays executed, everything else remains
// pending and is picked up next cycle.
func (s *Scheduler) RunCycle(ctx context.Context) (types.CycleResult, error) {
	logger := log.With().Str("service", "matching").Logger()
	var result types.CycleResult

	released, err := s.orders.ReleaseStaleClaims(s.staleClaimWindow)
	if err != nil {
		return result, fmt.Errorf("failed to release stale claims: %w", err)
	}
	if released > 0 {
		logger.Warn().Int64("released", released).Msg("reverted stale claimed orders to pending")
	}

	pending, err := s.orders.GetPendingOrders()
	if err != nil {
		return result, fmt.Errorf("failed to list pending orders: %w", err)
	}
	if len(pending) == 0 {
		return result, nil
	}

	quotes, err := s.oracle.GetLatestPrices(ctx, distinctAssetIDs(pending))
	if err != nil {
		// Quotes are a recoverable dependency: leave everything pending
		// and report the whole set as skipped rather than failing the
		// cycle.
		logger.Warn().Err(err).Msg("price lookup failed, skipping cycle")
		result.Evaluated = len(pending)
		result.Skipped = len(pending)
		return result, nil
	}

	for i := range pending {
		order := &pending[i]
		result.Evaluated++

		quote, ok := quotes[order.AssetID]
		if !ok {
			result.Skipped++
			continue
		}
		if quote.Price > order.TargetPrice {
			continue
		}

		executed, err := s.executeOrder(order, quote.Price)
		if err != nil {
			logger.Error().Err(err).Str("order_id", order.OrderID).Msg("order execution attempt failed")
			result.Skipped++
			continue
		}
		if executed {
			result.Executed++
		}
	}

	logger.Info().
		Int("evaluated", result.Evaluated).
		Int("executed", result.Executed).
		Int("skipped", result.Skipped).
		Msg("matching cycle completed")

	return result, nil
}

// executeOrder claims one satisfied order and trades it. Returns whether
// this cycle executed the order. Losing the claim returns (false, nil):
// the order belongs to someone else. The trade and the order's EXECUTED
// transition commit together inside the executor, so there is no window
// where a committed trade leaves the order claimed or pending. A trade
// failure reverts the claim and reports the underlying error.
func (s *Scheduler) executeOrder(order *types.Order, price float64) (bool, error) {
	logger := log.With().
		Str("service", "matching").
		Str("order_id", order.OrderID).
		Str("user_id", order.UserID).
		Str("asset_id", order.AssetID).
		Float64("target_price", order.TargetPrice).
		Float64("price", price).
		Logger()

	claimed, err := s.orders.ClaimOrder(order.OrderID)
	if err != nil {
		return false, fmt.Errorf("failed to claim order: %w", err)
	}
	if !claimed {
		// Another cycle or a cancellation got there first.
		return false, nil
	}

	txn, err := s.executor.ExecuteOrderBuy(order, price)
	if err != nil {
		if errors.Is(err, portfolio.ErrOrderNotClaimed) {
			// The claim was released elsewhere while the trade was in
			// flight; the executor rolled everything back.
			logger.Warn().Msg("order left claimed state before settlement")
			return false, nil
		}
		// The claim must not outlive the failed attempt. The revert is
		// conditional on the order still being CLAIMED, so it cannot
		// resurrect an order that reached a terminal state meanwhile.
		reverted, revertErr := s.orders.RevertClaim(order.OrderID)
		if revertErr != nil {
			logger.Error().Err(revertErr).Msg("failed to revert claim after trade failure")
			return false, fmt.Errorf("trade failed (%w) and claim revert failed: %v", err, revertErr)
		}
		if !reverted {
			logger.Warn().Msg("claim already released elsewhere after trade failure")
		}
		return false, fmt.Errorf("trade failed: %w", err)
	}

	logger.Info().Str("tx_id", txn.TxID).Msg("auto order executed")
	return true, nil
}

func distinctAssetIDs(pending []types.Order) []string {
	seen := make(map[string]struct{}, len(pending))
	assetIDs := make([]string, 0, len(pending))
	for _, order := range pending {
		if _, ok := seen[order.AssetID]; ok {
			continue
		}
		seen[order.AssetID] = struct{}{}
		assetIDs = append(assetIDs, order.AssetID)
	}
	return assetIDs
}

// GinHandlers contains HTTP handlers for the engine's operational
// endpoints.
type GinHandlers struct {
	scheduler *Scheduler
}

func NewGinHandlers(scheduler *Scheduler) *GinHandlers {
	return &GinHandlers{
		scheduler: scheduler,
	}
}

// RunCycleHandler handles internal POST requests that trigger one matching
// cycle on demand and return its counts.
func (h *GinHandlers) RunCycleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.scheduler.RunCycle(c.Request.Context())
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, result)
	}
}
