package main

import (
	"context"
	"fmt"

	"options-flow/internal/aggregation"
	"options-flow/internal/ingestion"
	"options-flow/internal/polygon"
	"options-flow/internal/query"
	"options-flow/internal/significance"
)

// pipeline is the wired ingestion and query path over one set of stores.
type pipeline struct {
	stores     *stores
	aggregator *aggregation.Aggregator
	ingestor   *ingestion.Ingestor
	query      *query.Service
}

func (a *app) openPipeline(ctx context.Context) (*pipeline, error) {
	st, err := openStores(ctx, a.cfg.Storage)
	if err != nil {
		return nil, err
	}

	minPremium, err := a.cfg.MinPremium()
	if err != nil {
		st.Close()
		return nil, err
	}
	loc, err := a.cfg.Location()
	if err != nil {
		st.Close()
		return nil, err
	}

	agg := aggregation.NewAggregator(aggregation.Options{
		Store:     st.buckets,
		Retention: a.cfg.Aggregation.Retention,
		Logger:    &a.logger,
	})

	ingestor := ingestion.NewIngestor(ingestion.Options{
		Classifier: significance.NewClassifier(significance.Config{
			MinPremium: minPremium,
			MaxDTE:     a.cfg.Significance.MaxDTE,
			Location:   loc,
		}),
		TradeStore: st.trades,
		Aggregator: agg,
		Dedupe:     a.cfg.Ingest.Dedupe,
		Logger:     &a.logger,
	})

	return &pipeline{
		stores:     st,
		aggregator: agg,
		ingestor:   ingestor,
		query: query.NewService(query.Options{
			Aggregator: agg,
			Trades:     st.trades,
			Logger:     &a.logger,
		}),
	}, nil
}

func (p *pipeline) Close() {
	p.stores.Close()
}

func (a *app) newRESTClient() *polygon.RESTClient {
	c := a.cfg.Polygon
	return polygon.NewRESTClient(c.RESTURL, c.APIKey,
		polygon.WithLogger(a.logger),
		polygon.WithTimeout(c.Timeout),
		polygon.WithMaxRetries(c.MaxRetries),
		polygon.WithRateLimit(c.RequestsPerSec, 1),
		polygon.WithCircuitBreaker(c.BreakerFailures, c.BreakerOpenFor),
	)
}

func (a *app) newBackfiller(p *pipeline) (*ingestion.Backfiller, error) {
	b := a.cfg.Backfill
	if len(b.Tickers) == 0 {
		return nil, fmt.Errorf("backfill.tickers is empty")
	}
	return ingestion.NewBackfiller(ingestion.BackfillOptions{
		Feed:        a.newRESTClient(),
		Ingestor:    p.ingestor,
		Tickers:     b.Tickers,
		Offset:      b.Offset,
		Window:      b.Window,
		MaxPages:    b.MaxPages,
		PageLimit:   b.PageLimit,
		PageDelay:   b.PageDelay,
		TickerDelay: b.TickerDelay,
		PageTimeout: b.PageTimeout,
		Logger:      &a.logger,
	}), nil
}
