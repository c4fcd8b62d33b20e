package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"options-flow/internal/concentration"
)

func newQueryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query flow aggregates and print JSON",
	}

	var (
		timelineHours int
		bucketMinutes int
		heatmapHours  int
		limit         int
		lookbackHours int
		minHits       int
		minutesAgo    int
	)

	timelineCmd := &cobra.Command{
		Use:   "timeline <underlying>",
		Short: "Premium timeline for one underlying",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(cmd, func(ctx context.Context, p *pipeline) (any, error) {
				return p.query.Timeline(ctx, args[0], timelineHours, bucketMinutes)
			})
		},
	}
	timelineCmd.Flags().IntVar(&timelineHours, "window", 6, "Window in hours")
	timelineCmd.Flags().IntVar(&bucketMinutes, "bucket", 5, "Bucket width in minutes")

	heatmapCmd := &cobra.Command{
		Use:   "heatmap",
		Short: "Call/put premium and sentiment per underlying",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(cmd, func(ctx context.Context, p *pipeline) (any, error) {
				return p.query.Heatmap(ctx, heatmapHours)
			})
		},
	}
	heatmapCmd.Flags().IntVar(&heatmapHours, "window", 6, "Window in hours")

	smartMoneyCmd := &cobra.Command{
		Use:   "smart-money",
		Short: "Largest significant trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(cmd, func(ctx context.Context, p *pipeline) (any, error) {
				return p.query.SmartMoney(ctx, limit)
			})
		},
	}
	smartMoneyCmd.Flags().IntVar(&limit, "limit", 50, "Maximum trades")

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Buckets of every underlying for one minute",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(cmd, func(ctx context.Context, p *pipeline) (any, error) {
				return p.query.Snapshot(ctx, minutesAgo)
			})
		},
	}
	snapshotCmd.Flags().IntVar(&minutesAgo, "minutes-ago", 1, "Minute offset from now")

	tradeCmd := &cobra.Command{
		Use:   "trade <id>",
		Short: "One stored trade with its raw payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(cmd, func(ctx context.Context, p *pipeline) (any, error) {
				return p.query.Trade(ctx, args[0])
			})
		},
	}

	strikesCmd := &cobra.Command{
		Use:   "strikes <underlying>",
		Short: "Graded strike concentration for one underlying",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(cmd, func(ctx context.Context, p *pipeline) (any, error) {
				return p.query.StrikeConcentration(ctx, args[0], lookbackHours, minHits)
			})
		},
	}
	strikesCmd.Flags().IntVar(&lookbackHours, "lookback", 24, "Lookback in hours")
	strikesCmd.Flags().IntVar(&minHits, "min-hits", concentration.DefaultMinHits, "Minimum hits per strike")

	cmd.AddCommand(timelineCmd, heatmapCmd, snapshotCmd, tradeCmd, smartMoneyCmd, strikesCmd)
	return cmd
}

func (a *app) runQuery(cmd *cobra.Command, fn func(context.Context, *pipeline) (any, error)) error {
	p, err := a.openPipeline(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	result, err := fn(cmd.Context(), p)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), result)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
