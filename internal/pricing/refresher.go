package pricing

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Refresher periodically snapshots upstream prices into the quote table so
// the oracle always serves from local, recently fetched data.
type Refresher struct {
	service  *Service
	interval time.Duration
}

func NewRefresher(service *Service, interval time.Duration) *Refresher {
	return &Refresher{
		service:  service,
		interval: interval,
	}
}

// Start begins the refresh loop. One refresh runs immediately so a fresh
// deployment has quotes before the first tick.
func (r *Refresher) Start(ctx context.Context) {
	logger := log.With().Str("component", "price_refresher").Logger()
	logger.Info().Dur("interval", r.interval).Msg("starting price refresher")

	if _, err := r.service.RefreshPrices(ctx); err != nil {
		logger.Error().Err(err).Msg("initial price refresh failed")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down price refresher")
			return
		case <-ticker.C:
			if _, err := r.service.RefreshPrices(ctx); err != nil {
				logger.Error().Err(err).Msg("price refresh failed")
			}
		}
	}
}
