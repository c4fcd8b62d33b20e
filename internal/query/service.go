// Package query serves the read side: timelines, heatmaps, smart-money
// trades, single-trade lookups and strike concentration. It is transport-agnostic.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"options-flow/internal/aggregation"
	"options-flow/internal/concentration"
	"options-flow/internal/domain"
	"options-flow/internal/storage"
)

// ErrInvalidArgument is returned for non-positive windows, widths or limits.
var ErrInvalidArgument = errors.New("invalid query argument")

// Query bounds.
const (
	MaxWindowHours    = 24 * 7
	MaxSmartMoneyRows = 500
)

// Service answers aggregate queries over stored buckets and trades.
type Service struct {
	aggregator *aggregation.Aggregator
	trades     storage.TradeStore
	now        func() time.Time
	logger     zerolog.Logger
}

// Options contains configuration for creating a Service.
type Options struct {
	Aggregator *aggregation.Aggregator
	Trades     storage.TradeStore
	Now        func() time.Time
	Logger     *zerolog.Logger
}

// NewService creates a new query service.
func NewService(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Service{
		aggregator: opts.Aggregator,
		trades:     opts.Trades,
		now:        now,
		logger:     logger.With().Str("component", "query").Logger(),
	}
}

// Timeline returns the buckets of underlying over the last windowHours,
// re-aggregated to bucketMinutes width, ascending. Empty widths are omitted.
func (s *Service) Timeline(ctx context.Context, underlying string, windowHours, bucketMinutes int) ([]*domain.TimeBucket, error) {
	underlying = normalizeUnderlying(underlying)
	if underlying == "" {
		return nil, fmt.Errorf("%w: empty underlying", ErrInvalidArgument)
	}
	if err := checkWindow(windowHours); err != nil {
		return nil, err
	}
	if bucketMinutes <= 0 {
		return nil, fmt.Errorf("%w: bucket minutes %d", ErrInvalidArgument, bucketMinutes)
	}

	start, end := s.window(windowHours)
	buckets, err := s.aggregator.Query(ctx, underlying, start, end)
	if err != nil {
		return nil, err
	}
	return Rebucket(buckets, int64(bucketMinutes)*domain.BucketWidthMs), nil
}

// Rebucket merges minute buckets into buckets of widthMs, keeping ascending order.
// Input must be ascending by start and belong to one underlying.
func Rebucket(buckets []*domain.TimeBucket, widthMs int64) []*domain.TimeBucket {
	result := make([]*domain.TimeBucket, 0, len(buckets))
	if widthMs <= domain.BucketWidthMs {
		for _, b := range buckets {
			c := *b
			result = append(result, &c)
		}
		return result
	}

	var cur *domain.TimeBucket
	for _, b := range buckets {
		start := floorTo(b.BucketStart, widthMs)
		if cur == nil || cur.BucketStart != start {
			cur = &domain.TimeBucket{Underlying: b.Underlying, BucketStart: start}
			result = append(result, cur)
		}
		cur.Apply(domain.BucketDelta{
			CallPremium: b.CallPremium,
			PutPremium:  b.PutPremium,
			CallCount:   b.CallCount,
			PutCount:    b.PutCount,
			CallSize:    b.CallSize,
			PutSize:     b.PutSize,
		})
	}
	return result
}

// Heatmap summarizes every underlying over the last windowHours,
// sorted by total premium DESC, then underlying.
func (s *Service) Heatmap(ctx context.Context, windowHours int) ([]*domain.FlowSummary, error) {
	if err := checkWindow(windowHours); err != nil {
		return nil, err
	}

	start, end := s.window(windowHours)
	buckets, err := s.aggregator.QueryAll(ctx, start, end)
	if err != nil {
		return nil, err
	}

	byUnderlying := make(map[string]*domain.FlowSummary)
	for _, b := range buckets {
		f, ok := byUnderlying[b.Underlying]
		if !ok {
			f = &domain.FlowSummary{Underlying: b.Underlying}
			byUnderlying[b.Underlying] = f
		}
		f.CallPremium = f.CallPremium.Add(b.CallPremium)
		f.PutPremium = f.PutPremium.Add(b.PutPremium)
		f.TradeCount += b.TradeCount()
	}

	result := make([]*domain.FlowSummary, 0, len(byUnderlying))
	for _, f := range byUnderlying {
		f.NetFlow = f.CallPremium.Sub(f.PutPremium)
		f.Sentiment = domain.SentimentFor(f.CallPremium, f.PutPremium)
		result = append(result, f)
	}

	sort.Slice(result, func(i, j int) bool {
		ti := result[i].CallPremium.Add(result[i].PutPremium)
		tj := result[j].CallPremium.Add(result[j].PutPremium)
		if c := ti.Cmp(tj); c != 0 {
			return c > 0
		}
		return result[i].Underlying < result[j].Underlying
	})
	return result, nil
}

// Snapshot returns every underlying's bucket for the minute minutesAgo before now.
// The current minute may still be receiving writes.
func (s *Service) Snapshot(ctx context.Context, minutesAgo int) ([]*domain.TimeBucket, error) {
	if minutesAgo < 0 || minutesAgo > MaxWindowHours*60 {
		return nil, fmt.Errorf("%w: minutes ago %d", ErrInvalidArgument, minutesAgo)
	}

	at := s.now().Add(-time.Duration(minutesAgo) * time.Minute)
	return s.aggregator.Snapshot(ctx, at.UnixMilli())
}

// Trade returns one stored trade with its raw payload.
// Returns storage.ErrNotFound for an unknown ID.
func (s *Service) Trade(ctx context.Context, id string) (*domain.Trade, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty trade id", ErrInvalidArgument)
	}

	t, err := s.trades.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("trade %s: %w", id, err)
	}
	return t, nil
}

// SmartMoney returns up to limit significant trades by premium DESC.
func (s *Service) SmartMoney(ctx context.Context, limit int) ([]*domain.Trade, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit %d", ErrInvalidArgument, limit)
	}
	if limit > MaxSmartMoneyRows {
		limit = MaxSmartMoneyRows
	}

	trades, err := s.trades.GetTopSignificant(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("smart money: %w", err)
	}
	return trades, nil
}

// StrikeConcentration grades repeated significant activity for underlying
// over the last lookbackHours. Groups with fewer than minHits hits are excluded.
func (s *Service) StrikeConcentration(ctx context.Context, underlying string, lookbackHours, minHits int) ([]*domain.StrikeConcentration, error) {
	underlying = normalizeUnderlying(underlying)
	if underlying == "" {
		return nil, fmt.Errorf("%w: empty underlying", ErrInvalidArgument)
	}
	if err := checkWindow(lookbackHours); err != nil {
		return nil, err
	}
	if minHits <= 0 {
		minHits = concentration.DefaultMinHits
	}

	start, end := s.window(lookbackHours)
	trades, err := s.trades.GetByUnderlying(ctx, underlying, start, end)
	if err != nil {
		return nil, fmt.Errorf("strike concentration for %s: %w", underlying, err)
	}

	result := concentration.Compute(trades, minHits)
	s.logger.Debug().
		Str("underlying", underlying).
		Int("trades", len(trades)).
		Int("groups", len(result)).
		Msg("strike concentration computed")
	return result, nil
}

func (s *Service) window(hours int) (start, end int64) {
	now := s.now()
	return now.Add(-time.Duration(hours) * time.Hour).UnixMilli(), now.UnixMilli()
}

func checkWindow(hours int) error {
	if hours <= 0 || hours > MaxWindowHours {
		return fmt.Errorf("%w: window hours %d not in [1, %d]", ErrInvalidArgument, hours, MaxWindowHours)
	}
	return nil
}

func normalizeUnderlying(u string) string {
	return strings.ToUpper(strings.TrimSpace(u))
}

func floorTo(ts, width int64) int64 {
	start := (ts / width) * width
	if ts < 0 && ts%width != 0 {
		start -= width
	}
	return start
}
