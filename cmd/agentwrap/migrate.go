package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/agent/memory"
	"github.com/BaSui01/agentwrap/config"
	"github.com/BaSui01/agentwrap/internal/database"
	"github.com/BaSui01/agentwrap/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

type migrateOptions struct {
	root  *rootOptions
	dbURL string
}

func newMigrateCmd(o *rootOptions) *cobra.Command {
	m := &migrateOptions{root: o}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the memory_records schema",
		Long: `Apply the embedded SQL migrations for postgres and mysql.
For sqlite the schema is created with gorm AutoMigrate instead.`,
	}
	cmd.PersistentFlags().StringVar(&m.dbURL, "db-url", "", "Database URL; overrides the database section of the config")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return m.run(cmd, func(ctx context.Context, cli *migration.CLI) error {
				return cli.Up(ctx)
			})
		},
	}

	var all bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return m.run(cmd, func(ctx context.Context, cli *migration.CLI) error {
				return cli.Down(ctx, all)
			})
		},
	}
	down.Flags().BoolVar(&all, "all", false, "Roll back every migration")

	steps := &cobra.Command{
		Use:   "steps <n>",
		Short: "Apply (n > 0) or roll back (n < 0) n migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid step count %q: %w", args[0], err)
			}
			return m.run(cmd, func(ctx context.Context, cli *migration.CLI) error {
				return cli.Steps(ctx, n)
			})
		},
	}

	force := &cobra.Command{
		Use:   "force <version>",
		Short: "Set the version without running migrations (clears the dirty flag)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return m.run(cmd, func(ctx context.Context, cli *migration.CLI) error {
				return cli.Force(ctx, v)
			})
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Show the current migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return m.run(cmd, func(ctx context.Context, cli *migration.CLI) error {
				return cli.Version(ctx)
			})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return m.run(cmd, func(ctx context.Context, cli *migration.CLI) error {
				return cli.Status(ctx)
			})
		},
	}

	cmd.AddCommand(up, down, steps, force, version, status)
	return cmd
}

// run 打开迁移器执行 fn。sqlite 没有迁移文件，up 改为 AutoMigrate。
func (m *migrateOptions) run(cmd *cobra.Command, fn func(ctx context.Context, cli *migration.CLI) error) error {
	cfg, err := m.root.loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	migrator, err := migration.Open(ctx, cfg.Database, m.dbURL)
	if errors.Is(err, migration.ErrUseAutoMigrate) {
		if cmd.Name() != "up" {
			return fmt.Errorf("%s is not supported for sqlite: %w", cmd.Name(), err)
		}
		return autoMigrate(ctx, cmd, cfg)
	}
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer migrator.Close()

	return fn(ctx, migration.NewCLI(migrator, cmd.OutOrStdout()))
}

// autoMigrate 为 sqlite 建表
func autoMigrate(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := memory.NewPersistentStore(db, logger).AutoMigrate(ctx); err != nil {
		return err
	}
	logger.Info("sqlite schema migrated", zap.String("database", cfg.Database.Name))
	fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (%s).\n", cfg.Database.Name)
	return nil
}
