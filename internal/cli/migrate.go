package cli

import (
	"context"
	"fmt"

	"quiz-attempt-engine/internal/config"
	"quiz-attempt-engine/internal/infra/sqlstore"
	"github.com/spf13/cobra"
)

// NewMigrateCmd applies the offline store migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run offline store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			applied, err := runMigrations(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied: %d\n", len(applied))
			return nil
		},
	}
}

func runMigrations(ctx context.Context, cfg config.Config) ([]string, error) {
	if cfg.Store.Driver == "memory" {
		return nil, nil
	}
	db, err := sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return sqlstore.Migrate(ctx, db)
}
