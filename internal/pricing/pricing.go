// Package pricing is the price oracle: it snapshots spot prices from an
// external quote API into an append-only quote table and serves the latest
// stored quote per asset to the rest of the system.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/coinfolio/coinfolio-api/internal/types"
	"github.com/coinfolio/coinfolio-api/pkg/response"
)

// ErrPriceUnavailable is returned when no quote has ever been observed for
// an asset. It is a recoverable condition, not a failure.
var ErrPriceUnavailable = errors.New("price unavailable")

// Oracle is the read side consumed by the scheduler and the trade
// endpoints. Batch lookups are served from the store, never by one
// upstream call per order.
type Oracle interface {
	GetLatestPrice(ctx context.Context, assetID string) (*types.PriceQuote, error)
	GetLatestPrices(ctx context.Context, assetIDs []string) (map[string]types.PriceQuote, error)
}

// Service implements the Oracle over the quote store and owns price
// ingestion from the upstream API.
type Service struct {
	db     *Database
	client *Client
}

func NewService(gormDB *gorm.DB, client *Client) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		client: client,
	}
}

// GetLatestPrice returns the most recent stored quote for an asset.
func (s *Service) GetLatestPrice(ctx context.Context, assetID string) (*types.PriceQuote, error) {
	quote, err := s.db.LatestQuote(assetID)
	if err != nil {
		return nil, err
	}
	if quote == nil {
		return nil, ErrPriceUnavailable
	}
	return quote, nil
}

// GetLatestPrices returns the most recent stored quote per asset. Assets
// without any stored quote are simply absent.
func (s *Service) GetLatestPrices(ctx context.Context, assetIDs []string) (map[string]types.PriceQuote, error) {
	return s.db.LatestQuotes(assetIDs)
}

// RefreshPrices fetches current prices for every registered asset in one
// batched upstream call and appends them to the quote table. Returns the
// number of quotes stored.
func (s *Service) RefreshPrices(ctx context.Context) (int, error) {
	logger := log.With().Str("service", "pricing").Logger()

	assets, err := s.db.GetAssets()
	if err != nil {
		return 0, fmt.Errorf("failed to list assets: %w", err)
	}
	if len(assets) == 0 {
		return 0, nil
	}

	assetIDs := make([]string, 0, len(assets))
	for _, asset := range assets {
		assetIDs = append(assetIDs, asset.AssetID)
	}

	prices, err := s.client.FetchPrices(ctx, assetIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch prices: %w", err)
	}

	now := time.Now()
	quotes := make([]types.PriceQuote, 0, len(prices))
	for assetID, price := range prices {
		quotes = append(quotes, types.PriceQuote{
			AssetID:   assetID,
			Price:     price,
			FetchedAt: now,
		})
	}

	if err := s.db.InsertQuotes(quotes); err != nil {
		return 0, fmt.Errorf("failed to store quotes: %w", err)
	}

	if len(quotes) < len(assets) {
		logger.Warn().
			Int("requested", len(assets)).
			Int("quoted", len(quotes)).
			Msg("some assets returned no price")
	}

	logger.Info().Int("quotes", len(quotes)).Msg("price refresh completed")
	return len(quotes), nil
}

// RecordQuote stores one externally supplied quote. Used by the internal
// quote injection endpoint.
func (s *Service) RecordQuote(assetID string, price float64) (*types.PriceQuote, error) {
	if price <= 0 {
		return nil, fmt.Errorf("price must be positive, got %f", price)
	}
	asset, err := s.db.GetAsset(assetID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, fmt.Errorf("unknown asset %q", assetID)
	}

	quote := &types.PriceQuote{
		AssetID:   assetID,
		Price:     price,
		FetchedAt: time.Now(),
	}
	if err := s.db.InsertQuote(quote); err != nil {
		return nil, err
	}
	return quote, nil
}

// GetAssets returns the registered asset universe.
func (s *Service) GetAssets() ([]types.Asset, error) {
	return s.db.GetAssets()
}

// SeedAssets registers the default asset universe on an empty database.
func (s *Service) SeedAssets(assets []types.Asset) error {
	return s.db.SeedAssets(assets)
}

// GinHandlers contains HTTP handlers for asset and price endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ListAssetsHandler handles GET requests for the tradable asset universe.
func (h *GinHandlers) ListAssetsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		assets, err := h.service.GetAssets()
		response.Handle(c, assets, err)
	}
}

// ListPricesHandler handles GET requests for the latest quote per asset.
func (h *GinHandlers) ListPricesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		assets, err := h.service.GetAssets()
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		assetIDs := make([]string, 0, len(assets))
		for _, asset := range assets {
			assetIDs = append(assetIDs, asset.AssetID)
		}

		quotes, err := h.service.GetLatestPrices(c.Request.Context(), assetIDs)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, quotes)
	}
}

// RefreshPricesHandler handles internal POST requests to snapshot upstream
// prices immediately.
func (h *GinHandlers) RefreshPricesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stored, err := h.service.RefreshPrices(c.Request.Context())
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"stored": stored})
	}
}

// RecordQuoteHandler handles internal POST requests that inject a quote
// directly, bypassing the upstream API. Used by operators and the
// simulation harness.
func (h *GinHandlers) RecordQuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AssetID string  `json:"asset_id" binding:"required"`
			Price   float64 `json:"price" binding:"required,gt=0"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		quote, err := h.service.RecordQuote(req.AssetID, req.Price)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		response.Success(c, quote)
	}
}
