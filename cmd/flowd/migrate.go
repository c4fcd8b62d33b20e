package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"options-flow/internal/config"
	"options-flow/internal/storage/migrations"
	pgstore "options-flow/internal/storage/postgres"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL and ClickHouse schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st := a.cfg.Storage
			ran := false

			if st.PostgresDSN != "" {
				pool, err := pgstore.NewPool(ctx, st.PostgresDSN)
				if err != nil {
					return err
				}
				defer pool.Close()

				applied, err := migrations.RunPostgresMigrations(ctx, pool)
				if err != nil {
					return err
				}
				a.logger.Info().Strs("applied", applied).Msg("postgres migrations complete")
				ran = true
			}

			if st.ClickhouseDSN != "" {
				conn, err := migrations.RunClickhouseMigrations(ctx, st.ClickhouseDSN)
				if err != nil {
					return err
				}
				conn.Close()
				a.logger.Info().Msg("clickhouse migrations complete")
				ran = true
			}

			if !ran {
				return fmt.Errorf("no database configured: set storage.postgres_dsn or storage.clickhouse_dsn")
			}
			if st.Buckets == config.BackendRedis {
				a.logger.Info().Msg("redis bucket store needs no schema")
			}
			return nil
		},
	}
}
