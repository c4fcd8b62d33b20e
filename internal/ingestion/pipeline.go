// Package ingestion drives raw trade payloads from both feeds through
// normalization, classification, storage and aggregation.
package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"options-flow/internal/aggregation"
	"options-flow/internal/domain"
	"options-flow/internal/idhash"
	"options-flow/internal/normalization"
	"options-flow/internal/observability"
	"options-flow/internal/significance"
	"options-flow/internal/storage"
)

var (
	// ErrRejected wraps a normalizer error for a payload that produced no trade.
	ErrRejected = errors.New("payload rejected")

	// ErrDuplicate is returned when dedupe is on and the trade was already stored.
	ErrDuplicate = errors.New("duplicate trade")
)

// Ingestor is the single path every raw payload takes, regardless of feed.
type Ingestor struct {
	normalizer *normalization.Normalizer
	classifier *significance.Classifier
	trades     storage.TradeStore
	aggregator *aggregation.Aggregator
	dedupe     bool
	logger     zerolog.Logger
}

// Options contains configuration for creating an Ingestor.
type Options struct {
	Normalizer *normalization.Normalizer // default: NewNormalizer with default aliases
	Classifier *significance.Classifier  // default: DefaultConfig
	TradeStore storage.TradeStore
	Aggregator *aggregation.Aggregator // nil disables aggregation

	// Dedupe keys trades by content so a second observation of the same
	// event is rejected by the store instead of double counted.
	Dedupe bool

	Logger *zerolog.Logger
}

// NewIngestor creates a new ingestion pipeline.
func NewIngestor(opts Options) *Ingestor {
	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = normalization.NewNormalizer(normalization.Options{})
	}

	classifier := opts.Classifier
	if classifier == nil {
		classifier = significance.NewClassifier(significance.DefaultConfig())
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Ingestor{
		normalizer: normalizer,
		classifier: classifier,
		trades:     opts.TradeStore,
		aggregator: opts.Aggregator,
		dedupe:     opts.Dedupe,
		logger:     logger.With().Str("component", "ingestor").Logger(),
	}
}

// IngestOption adjusts a single Ingest call.
type IngestOption func(*ingestParams)

type ingestParams struct {
	normalize []normalization.Option
}

// WithFallbackIdentifier supplies the contract identifier for payloads that omit it,
// e.g. pull-feed results requested per ticker.
func WithFallbackIdentifier(id string) IngestOption {
	return func(p *ingestParams) {
		p.normalize = append(p.normalize, normalization.WithFallbackIdentifier(id))
	}
}

// WithFallbackUnderlying supplies the underlying for payloads whose identifier
// is missing or does not decode, e.g. pull-feed results requested per underlying.
func WithFallbackUnderlying(underlying string) IngestOption {
	return func(p *ingestParams) {
		p.normalize = append(p.normalize, normalization.WithFallbackUnderlying(underlying))
	}
}

// Ingest normalizes, classifies, stores and aggregates one raw payload.
// Returns the stored trade. A payload without identifier or not a JSON object
// fails with ErrRejected; a repeated trade under dedupe fails with ErrDuplicate.
func (i *Ingestor) Ingest(ctx context.Context, raw []byte, source domain.Source, opts ...IngestOption) (*domain.Trade, error) {
	start := time.Now()

	t, err := i.prepare(raw, source, collectParams(opts))
	if err != nil {
		return nil, err
	}

	if err := i.trades.Insert(ctx, t); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			observability.RecordTradeDuplicate(string(source))
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, t.TradeKey)
		}
		return nil, fmt.Errorf("store trade: %w", err)
	}

	if err := i.finish(ctx, t, source, start); err != nil {
		return t, err
	}
	return t, nil
}

func collectParams(opts []IngestOption) ingestParams {
	var params ingestParams
	for _, opt := range opts {
		opt(&params)
	}
	return params
}

// prepare normalizes a payload and assigns its content key, ID and significance.
func (i *Ingestor) prepare(raw []byte, source domain.Source, params ingestParams) (*domain.Trade, error) {
	t, err := i.normalizer.Normalize(raw, source, params.normalize...)
	if err != nil {
		observability.RecordTradeRejected(string(source), rejectReason(err))
		return nil, fmt.Errorf("%w: %w", ErrRejected, err)
	}

	// Identifier-less pull results are keyed by their underlying.
	identity := t.ContractSymbol
	if identity == "" {
		identity = t.Underlying
	}
	t.TradeKey = idhash.ComputeTradeKey(identity, t.Timestamp, t.Size, t.Price)
	if i.dedupe {
		t.ID = t.TradeKey
	} else {
		t.ID = uuid.NewString()
	}
	t.Significant = i.classifier.IsSignificant(t)
	return t, nil
}

// finish aggregates a stored trade and records its metrics.
func (i *Ingestor) finish(ctx context.Context, t *domain.Trade, source domain.Source, start time.Time) error {
	if i.aggregator != nil {
		if _, err := i.aggregator.Record(ctx, t); err != nil {
			return fmt.Errorf("aggregate trade %s: %w", t.ID, err)
		}
	}

	observability.RecordTradeIngested(string(source), t.Significant, t.Decoded(), t.Timestamp)
	observability.RecordIngestLatency(string(source), time.Since(start).Seconds())

	if t.Significant {
		i.logger.Debug().
			Str("contract", t.ContractSymbol).
			Str("underlying", t.Underlying).
			Str("premium", t.Premium.String()).
			Str("source", string(source)).
			Msg("significant trade")
	}
	return nil
}

// BatchResult summarizes an IngestBatch call.
type BatchResult struct {
	Stored     int
	Rejected   int
	Duplicates int
	Errors     int
}

// Add accumulates another result.
func (r *BatchResult) Add(o BatchResult) {
	r.Stored += o.Stored
	r.Rejected += o.Rejected
	r.Duplicates += o.Duplicates
	r.Errors += o.Errors
}

// IngestBatch ingests payloads in order. A failing item never aborts the batch;
// only context cancellation stops it early.
// Without dedupe, IDs cannot collide and the batch is stored with one InsertBulk;
// if that fails the batch falls back to per-trade inserts.
func (i *Ingestor) IngestBatch(ctx context.Context, raws []json.RawMessage, source domain.Source, opts ...IngestOption) (BatchResult, error) {
	if i.dedupe {
		return i.ingestEach(ctx, raws, source, opts)
	}

	start := time.Now()
	params := collectParams(opts)

	var result BatchResult
	trades := make([]*domain.Trade, 0, len(raws))
	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		t, err := i.prepare(raw, source, params)
		if err != nil {
			result.Rejected++
			continue
		}
		trades = append(trades, t)
	}
	if len(trades) == 0 {
		return result, nil
	}

	if err := i.trades.InsertBulk(ctx, trades); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		i.logger.Warn().Err(err).Int("trades", len(trades)).Msg("bulk insert failed, inserting one by one")
		for _, t := range trades {
			if err := i.trades.Insert(ctx, t); err != nil {
				result.Errors++
				i.logger.Warn().Err(err).Str("source", string(source)).Msg("ingest failed")
				continue
			}
			i.finishBatched(ctx, t, source, start, &result)
		}
		return result, nil
	}

	for _, t := range trades {
		i.finishBatched(ctx, t, source, start, &result)
	}
	return result, nil
}

func (i *Ingestor) finishBatched(ctx context.Context, t *domain.Trade, source domain.Source, start time.Time, result *BatchResult) {
	if err := i.finish(ctx, t, source, start); err != nil {
		result.Errors++
		i.logger.Warn().Err(err).Str("source", string(source)).Msg("ingest failed")
		return
	}
	result.Stored++
}

// ingestEach ingests payloads one at a time so duplicates are reported per trade.
func (i *Ingestor) ingestEach(ctx context.Context, raws []json.RawMessage, source domain.Source, opts []IngestOption) (BatchResult, error) {
	var result BatchResult

	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		_, err := i.Ingest(ctx, raw, source, opts...)
		switch {
		case err == nil:
			result.Stored++
		case errors.Is(err, ErrRejected):
			result.Rejected++
		case errors.Is(err, ErrDuplicate):
			result.Duplicates++
		default:
			result.Errors++
			i.logger.Warn().Err(err).Str("source", string(source)).Msg("ingest failed")
		}
	}

	return result, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, normalization.ErrMissingIdentifier):
		return "missing_identifier"
	case errors.Is(err, normalization.ErrMalformedPayload):
		return "malformed"
	default:
		return "other"
	}
}
