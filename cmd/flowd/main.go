// Command flowd ingests options trades from the push and pull feeds,
// maintains minute flow buckets and answers flow queries.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"options-flow/internal/config"
)

const version = "v0.4.0"

// app carries state shared by every subcommand.
type app struct {
	configPath string
	cfg        config.Config
	logger     zerolog.Logger
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "flowd",
		Short:         "Options flow ingestion and aggregation",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("FLOWD_CONFIG"), "Path to YAML config file")

	rootCmd.AddCommand(
		newServeCmd(a),
		newBackfillCmd(a),
		newMigrateCmd(a),
		newReplayCmd(a),
		newQueryCmd(a),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("flowd failed")
		stop()
		os.Exit(1)
	}
}

func (a *app) init() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = config.NewLogger(cfg.Log.Level, cfg.Log.Format)
	return nil
}
