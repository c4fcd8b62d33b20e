package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newReplayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <file>",
		Short: "Ingest recorded payloads (JSON array or NDJSON) as fixture trades",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			p, err := a.openPipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			result, err := p.ingestor.Replay(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored=%d rejected=%d duplicates=%d errors=%d\n",
				result.Stored, result.Rejected, result.Duplicates, result.Errors)
			return nil
		},
	}
}
