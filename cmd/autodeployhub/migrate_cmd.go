package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/ironsupr/AutoDeployHub/db"
	"github.com/ironsupr/AutoDeployHub/internal/app/migrate"
	"github.com/ironsupr/AutoDeployHub/pkg/config"
	"github.com/ironsupr/AutoDeployHub/pkg/logger"
)

type migrateOpts struct {
	*rootOpts
	target int64
}

func newMigrate(parent *rootOpts) *migrateOpts {
	return &migrateOpts{rootOpts: parent}
}

func (opts *migrateOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate up|status|down",
		Short:     "Manage the PostgreSQL schema",
		ValidArgs: []string{"up", "status", "down"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE:      opts.RunE,
	}
	cmd.Flags().Int64Var(&opts.target, "target", 0, "version to migrate down to (down only); 0 rolls back one step")
	return cmd
}

func (opts *migrateOpts) RunE(cmd *cobra.Command, args []string) error {
	cfg := config.LoadServerConfig()
	log := logger.New("migrate", logger.ParseLevel(cfg.LogLevel))
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrations")
	}
	runner, err := migrate.New(cfg.DatabaseURL, db.Migrations, db.MigrationsDir, log)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	switch args[0] {
	case "up":
		return runner.Ensure(ctx)
	case "status":
		return runner.Status(ctx)
	default:
		return runner.Down(ctx, opts.target)
	}
}
