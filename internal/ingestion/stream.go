package ingestion

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"options-flow/internal/domain"
)

// PushFeed delivers raw trade payloads as they arrive.
type PushFeed interface {
	Trades() <-chan json.RawMessage
}

// StreamRunner feeds push-feed payloads into an Ingestor.
type StreamRunner struct {
	feed     PushFeed
	ingestor *Ingestor
	source   domain.Source
	logger   zerolog.Logger
}

// StreamOptions contains configuration for creating a StreamRunner.
type StreamOptions struct {
	Feed     PushFeed
	Ingestor *Ingestor
	Source   domain.Source // default: SourceStream
	Logger   *zerolog.Logger
}

// NewStreamRunner creates a new push-feed runner.
func NewStreamRunner(opts StreamOptions) *StreamRunner {
	source := opts.Source
	if source == "" {
		source = domain.SourceStream
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &StreamRunner{
		feed:     opts.Feed,
		ingestor: opts.Ingestor,
		source:   source,
		logger:   logger.With().Str("component", "stream").Logger(),
	}
}

// Run consumes the feed until ctx is cancelled or the feed channel closes.
// Per-payload failures are logged and never stop the stream.
func (r *StreamRunner) Run(ctx context.Context) error {
	trades := r.feed.Trades()
	var result BatchResult

	defer func() {
		r.logger.Info().
			Int("stored", result.Stored).
			Int("rejected", result.Rejected).
			Int("duplicates", result.Duplicates).
			Int("errors", result.Errors).
			Msg("stream stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-trades:
			if !ok {
				return nil
			}

			_, err := r.ingestor.Ingest(ctx, raw, r.source)
			switch {
			case err == nil:
				result.Stored++
			case errors.Is(err, ErrRejected):
				result.Rejected++
				r.logger.Debug().Err(err).Msg("push payload rejected")
			case errors.Is(err, ErrDuplicate):
				result.Duplicates++
			default:
				result.Errors++
				r.logger.Warn().Err(err).Msg("push payload ingest failed")
			}
		}
	}
}
