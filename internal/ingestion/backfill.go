package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"options-flow/internal/contract"
	"options-flow/internal/domain"
	"options-flow/internal/observability"
	"options-flow/internal/polygon"
)

// ErrBackfillInProgress is returned by Run while another run is active.
var ErrBackfillInProgress = errors.New("backfill already in progress")

// Backfill defaults.
const (
	DefaultBackfillOffset      = 15 * time.Minute // provider publication delay
	DefaultBackfillWindow      = 1 * time.Hour
	DefaultBackfillMaxPages    = 10
	DefaultBackfillPageLimit   = 1000
	DefaultBackfillPageDelay   = 250 * time.Millisecond
	DefaultBackfillTickerDelay = 1 * time.Second
	DefaultBackfillPageTimeout = 30 * time.Second
)

// PullFeed fetches one page of historical trades.
type PullFeed interface {
	ListTrades(ctx context.Context, req polygon.TradesRequest) (*polygon.TradesPage, error)
}

// Backfiller pulls a bounded window of trades per ticker and ingests them
// through the same Ingestor as the push feed.
type Backfiller struct {
	feed        PullFeed
	ingestor    *Ingestor
	tickers     []string
	offset      time.Duration
	window      time.Duration
	maxPages    int
	pageLimit   int
	pageDelay   time.Duration
	tickerDelay time.Duration
	pageTimeout time.Duration
	now         func() time.Time
	logger      zerolog.Logger

	running atomic.Bool
}

// BackfillOptions contains configuration for creating a Backfiller.
type BackfillOptions struct {
	Feed     PullFeed
	Ingestor *Ingestor
	Tickers  []string

	Offset      time.Duration // window end is now-Offset. Default: 15m
	Window      time.Duration // Default: 1h
	MaxPages    int           // per ticker per run. Default: 10
	PageLimit   int           // results per page. Default: 1000
	PageDelay   time.Duration // Default: 250ms. Negative disables.
	TickerDelay time.Duration // Default: 1s. Negative disables.
	PageTimeout time.Duration // Default: 30s

	Now    func() time.Time
	Logger *zerolog.Logger
}

// NewBackfiller creates a new pull-feed backfiller.
func NewBackfiller(opts BackfillOptions) *Backfiller {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Backfiller{
		feed:        opts.Feed,
		ingestor:    opts.Ingestor,
		tickers:     append([]string(nil), opts.Tickers...),
		offset:      durationOr(opts.Offset, DefaultBackfillOffset),
		window:      durationOr(opts.Window, DefaultBackfillWindow),
		maxPages:    intOr(opts.MaxPages, DefaultBackfillMaxPages),
		pageLimit:   intOr(opts.PageLimit, DefaultBackfillPageLimit),
		pageDelay:   durationOr(opts.PageDelay, DefaultBackfillPageDelay),
		tickerDelay: durationOr(opts.TickerDelay, DefaultBackfillTickerDelay),
		pageTimeout: durationOr(opts.PageTimeout, DefaultBackfillPageTimeout),
		now:         now,
		logger:      logger.With().Str("component", "backfill").Logger(),
	}
}

// BackfillResult contains statistics from one backfill run.
type BackfillResult struct {
	RunID          string
	From           time.Time
	To             time.Time
	Tickers        int
	Pages          int
	EventsStored   int
	Rejected       int
	Duplicates     int
	Errors         int
	TickerFailures int
	MaxPagesHit    int
	Duration       time.Duration
}

// Running reports whether a run is in progress.
func (b *Backfiller) Running() bool {
	return b.running.Load()
}

// Run performs one backfill pass over all tickers.
// A failing ticker ends only its own pagination. Runs never overlap:
// a call while another run is active returns ErrBackfillInProgress.
func (b *Backfiller) Run(ctx context.Context) (*BackfillResult, error) {
	if !b.running.CompareAndSwap(false, true) {
		return nil, ErrBackfillInProgress
	}
	defer b.running.Store(false)

	start := time.Now()
	to := b.now().Add(-b.offset)
	result := &BackfillResult{
		RunID: uuid.NewString(),
		From:  to.Add(-b.window),
		To:    to,
	}
	logger := b.logger.With().Str("run_id", result.RunID).Logger()

	logger.Info().
		Int("tickers", len(b.tickers)).
		Time("from", result.From).
		Time("to", result.To).
		Msg("backfill started")

	var runErr error
	for i, ticker := range b.tickers {
		if i > 0 {
			if err := sleepCtx(ctx, b.tickerDelay); err != nil {
				runErr = err
				break
			}
		}

		result.Tickers++
		if err := b.backfillTicker(ctx, ticker, result, logger); err != nil {
			runErr = err
			break
		}
	}

	result.Duration = time.Since(start)
	status := "ok"
	switch {
	case runErr != nil:
		status = "canceled"
	case result.TickerFailures > 0:
		status = "partial"
	}
	observability.RecordBackfillRun(status, result.Duration.Seconds())

	logger.Info().
		Str("status", status).
		Int("pages", result.Pages).
		Int("stored", result.EventsStored).
		Int("rejected", result.Rejected).
		Int("duplicates", result.Duplicates).
		Int("ticker_failures", result.TickerFailures).
		Int("max_pages_hit", result.MaxPagesHit).
		Dur("duration", result.Duration).
		Msg("backfill complete")

	if runErr != nil {
		return result, fmt.Errorf("backfill run %s: %w", result.RunID, runErr)
	}
	return result, nil
}

// backfillTicker paginates one ticker. Only context cancellation is returned;
// every other failure ends this ticker and is counted on the result.
func (b *Backfiller) backfillTicker(ctx context.Context, ticker string, result *BackfillResult, logger zerolog.Logger) error {
	cursor := ""

	for page := 1; page <= b.maxPages; page++ {
		if page > 1 {
			if err := sleepCtx(ctx, b.pageDelay); err != nil {
				return err
			}
		}

		pageCtx, cancel := context.WithTimeout(ctx, b.pageTimeout)
		resp, err := b.feed.ListTrades(pageCtx, polygon.TradesRequest{
			Ticker: ticker,
			From:   result.From,
			To:     result.To,
			Cursor: cursor,
			Limit:  b.pageLimit,
		})
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.tickerFailed(result, logger, ticker, page, failureReason(err), err)
			return nil
		}
		if !resp.OK() {
			b.tickerFailed(result, logger, ticker, page, "status", fmt.Errorf("status %q", resp.Status))
			return nil
		}

		result.Pages++
		observability.RecordBackfillPage()

		if len(resp.Results) == 0 {
			return nil
		}

		batch, err := b.ingestor.IngestBatch(ctx, resp.Results, domain.SourceBackfill, tickerFallback(ticker))
		result.EventsStored += batch.Stored
		result.Rejected += batch.Rejected
		result.Duplicates += batch.Duplicates
		result.Errors += batch.Errors
		if err != nil {
			return err
		}

		logger.Debug().
			Str("ticker", ticker).
			Int("page", page).
			Int("results", len(resp.Results)).
			Int("stored", batch.Stored).
			Msg("backfill page ingested")

		if resp.NextCursor == "" {
			return nil
		}
		cursor = resp.NextCursor
	}

	result.MaxPagesHit++
	logger.Warn().Str("ticker", ticker).Int("max_pages", b.maxPages).Msg("backfill page cap reached")
	return nil
}

func (b *Backfiller) tickerFailed(result *BackfillResult, logger zerolog.Logger, ticker string, page int, reason string, err error) {
	result.TickerFailures++
	observability.RecordBackfillTickerFailure(reason)
	logger.Warn().
		Err(err).
		Str("ticker", ticker).
		Int("page", page).
		Str("reason", reason).
		Msg("backfill ticker stopped")
}

// Schedule runs a backfill immediately and then every interval until ctx is done.
// Ticks that arrive while a run is active are skipped.
func (b *Backfiller) Schedule(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("backfill interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := b.Run(ctx); err != nil {
			switch {
			case errors.Is(err, ErrBackfillInProgress):
				b.logger.Info().Msg("previous backfill still running, skipping")
			case ctx.Err() != nil:
				return nil
			default:
				b.logger.Error().Err(err).Msg("backfill run failed")
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// tickerFallback labels identifier-less results with the tracked ticker: as the
// contract when it decodes as one, otherwise as the underlying.
func tickerFallback(ticker string) IngestOption {
	if _, ok := contract.Decode(ticker).Decoded(); ok {
		return WithFallbackIdentifier(ticker)
	}
	return WithFallbackUnderlying(ticker)
}

func failureReason(err error) string {
	var apiErr *polygon.APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &apiErr):
		return "api_error"
	default:
		return "fetch"
	}
}

// sleepCtx waits for d or until ctx is done. Non-positive d returns immediately.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func durationOr(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}

func intOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
