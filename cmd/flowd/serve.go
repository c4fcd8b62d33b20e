package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"options-flow/internal/ingestion"
	"options-flow/internal/observability"
	"options-flow/internal/polygon"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run push stream, scheduled backfill, retention sweeper and metrics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	p, err := a.openPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	var backfiller *ingestion.Backfiller
	if a.cfg.Backfill.Enabled {
		if backfiller, err = a.newBackfiller(p); err != nil {
			return err
		}
	}

	var runner *ingestion.StreamRunner
	if a.cfg.Ingest.Stream {
		ws := polygon.NewWSClient(a.cfg.Polygon.WSURL, a.cfg.Polygon.APIKey, a.cfg.Polygon.Subscriptions, a.wsConfig(), &a.logger)
		if err := ws.Connect(ctx); err != nil {
			return err
		}
		defer ws.Close()

		runner = ingestion.NewStreamRunner(ingestion.StreamOptions{
			Feed:     ws,
			Ingestor: p.ingestor,
			Logger:   &a.logger,
		})
	}

	sweeper := ingestion.NewSweeper(p.aggregator, a.cfg.Aggregation.SweepInterval, &a.logger)
	srv := newHTTPServer(a.cfg.Metrics.Addr)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info().Str("addr", srv.Addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return sweeper.Run(ctx) })
	if runner != nil {
		g.Go(func() error { return runner.Run(ctx) })
	}
	if backfiller != nil {
		g.Go(func() error { return backfiller.Schedule(ctx, a.cfg.Backfill.Interval) })
	}

	a.logger.Info().
		Str("trades", a.cfg.Storage.Trades).
		Str("buckets", a.cfg.Storage.Buckets).
		Bool("stream", runner != nil).
		Bool("backfill", backfiller != nil).
		Bool("dedupe", a.cfg.Ingest.Dedupe).
		Msg("flowd started")

	err = g.Wait()
	a.logger.Info().Msg("flowd stopped")
	return err
}

func (a *app) wsConfig() *polygon.WSConfig {
	cfg := polygon.DefaultWSConfig()
	if a.cfg.Polygon.ReconnectMaxWait > 0 {
		cfg.MaxReconnectDelay = a.cfg.Polygon.ReconnectMaxWait
	}
	return &cfg
}

// newHTTPServer serves /metrics and /health.
func newHTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
