package matching

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor runs matching cycles on a fixed interval. The external trigger
// may also fire cycles through the internal endpoint at any time; the
// scheduler tolerates the overlap.
type Processor struct {
	scheduler *Scheduler
	interval  time.Duration
}

func NewProcessor(scheduler *Scheduler, interval time.Duration) *Processor {
	return &Processor{
		scheduler: scheduler,
		interval:  interval,
	}
}

// Start begins the matching loop and blocks until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "matching_processor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting matching processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down matching processor")
			return
		case <-ticker.C:
			if _, err := p.scheduler.RunCycle(ctx); err != nil {
				logger.Error().Err(err).Msg("matching cycle failed")
			}
		}
	}
}
