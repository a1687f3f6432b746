package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"lightning-lens/internal/storage/migrations"
	pgstore "lightning-lens/internal/storage/postgres"
)

func newMigrateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded PostgreSQL and ClickHouse migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if cfg.Storage.PostgresDSN == "" && cfg.Storage.ClickhouseDSN == "" {
				return errors.New("neither storage.postgres_dsn nor storage.clickhouse_dsn is set")
			}

			if cfg.Storage.PostgresDSN != "" {
				pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
				if err != nil {
					return fmt.Errorf("connect to postgres: %w", err)
				}
				defer pool.Close()
				files, err := migrations.RunPostgresMigrations(ctx, pool)
				if err != nil {
					return err
				}
				if len(files) == 0 {
					fmt.Fprintln(out, "postgres: up to date")
				}
				for _, f := range files {
					fmt.Fprintf(out, "postgres: %s\n", f)
				}
			}

			if cfg.Storage.ClickhouseDSN != "" {
				conn, files, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
				if err != nil {
					return err
				}
				defer conn.Close()
				for _, f := range files {
					fmt.Fprintf(out, "clickhouse: %s\n", f)
				}
			}

			logger.Info("migrations applied")
			return nil
		},
	}
}
