package ingestion

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"options-flow/internal/aggregation"
)

// DefaultSweepInterval is how often expired buckets are removed.
const DefaultSweepInterval = 10 * time.Minute

// Sweeper periodically removes buckets past the aggregator's retention.
type Sweeper struct {
	aggregator *aggregation.Aggregator
	interval   time.Duration
	logger     zerolog.Logger
}

// NewSweeper creates a new retention sweeper. Non-positive interval uses DefaultSweepInterval.
func NewSweeper(aggregator *aggregation.Aggregator, interval time.Duration, logger *zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &Sweeper{
		aggregator: aggregator,
		interval:   interval,
		logger:     l.With().Str("component", "sweeper").Logger(),
	}
}

// Run sweeps every interval until ctx is done. Sweep failures are logged and retried next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	n, err := s.aggregator.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("bucket sweep failed")
		}
		return
	}
	if n > 0 {
		s.logger.Debug().Int("deleted", n).Msg("sweep tick")
	}
}
