package main

import "github.com/spf13/cobra"

func newBackfillCmd(a *app) *cobra.Command {
	var tickers []string

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Run one backfill pass and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(tickers) > 0 {
				a.cfg.Backfill.Tickers = tickers
			}

			p, err := a.openPipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			backfiller, err := a.newBackfiller(p)
			if err != nil {
				return err
			}

			result, err := backfiller.Run(cmd.Context())
			if result != nil {
				if encErr := writeJSON(cmd.OutOrStdout(), result); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&tickers, "tickers", nil, "Override backfill.tickers (comma-separated contract tickers)")
	return cmd
}
