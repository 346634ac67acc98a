// Package main is the schema and legacy data migration tool of Practice Hub.
//
//	practicehub-migrate schema     apply pending schema migrations, seed badges
//	practicehub-migrate status     list schema migrations
//	practicehub-migrate rollback   revert the last schema migration
//	practicehub-migrate legacy     copy data from the legacy database
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/keystep/practice-hub/config"
	"github.com/keystep/practice-hub/internal/app"
	"github.com/keystep/practice-hub/internal/infrastructure/migration"
	"github.com/keystep/practice-hub/internal/infrastructure/persistence/postgres"
	"github.com/keystep/practice-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY POINT
// ══════════════════════════════════════════════════════════════════════════════

type runtime struct {
	cfg      *config.Config
	log      *logger.Logger
	shutdown func(context.Context) error
}

var rt runtime

var rootCmd = &cobra.Command{
	Use:           "practicehub-migrate",
	Short:         "Schema and legacy data migrations for Practice Hub",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("config-dir")
		cfg, err := config.Load(dir)
		if err != nil {
			return err
		}
		rt.cfg = cfg
		rt.log = logger.New(logger.Options{
			Output:      os.Stdout,
			Level:       logger.ParseLevel(cfg.Observability.LogLevel),
			AddCaller:   true,
			Development: cfg.Observability.LogDevelopment,
		}).With(logger.Component("migrate"))

		rt.shutdown, err = setupTracing(cfg)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		rt.log.Sync()
		if rt.shutdown == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return rt.shutdown(ctx)
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Apply pending schema migrations and seed the default badge catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConnection(cmd.Context(), func(ctx context.Context, conn *postgres.Connection) error {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				return fmt.Errorf("schema migration: %w", err)
			}
			rt.log.Info("schema migrated", logger.Int("applied", applied))

			seeded, err := app.SeedBadgeCatalog(ctx, postgres.NewBadgeCatalog(conn))
			if err != nil {
				return err
			}
			if seeded > 0 {
				rt.log.Info("default badge catalog installed", logger.Int("badges", seeded))
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List schema migrations and whether they are applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConnection(cmd.Context(), func(ctx context.Context, conn *postgres.Connection) error {
			migrations, err := postgres.NewMigrator(conn).Status(ctx)
			if err != nil {
				return err
			}
			for _, m := range migrations {
				state := "pending"
				if m.AppliedAt != nil {
					state = "applied " + m.AppliedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%03d  %-40s %s\n", m.Version, m.Name, state)
			}
			return nil
		})
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Revert the most recent schema migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConnection(cmd.Context(), func(ctx context.Context, conn *postgres.Connection) error {
			if err := postgres.NewMigrator(conn).Rollback(ctx); err != nil {
				return err
			}
			rt.log.Info("last migration rolled back")
			return nil
		})
	},
}

var legacyCmd = &cobra.Command{
	Use:   "legacy",
	Short: "Copy stats, sessions, badges and curriculum progress from the legacy database",
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, _ := cmd.Flags().GetInt("batch-size")
		if batch <= 0 {
			batch = rt.cfg.Migration.BatchSize
		}
		return runLegacy(cmd.Context(), batch)
	},
}

func init() {
	rootCmd.PersistentFlags().String("config-dir", ".", "Directory holding an optional app.env file")
	legacyCmd.Flags().Int("batch-size", 0, "Rows per batch (overrides MIGRATION_BATCH_SIZE)")

	rootCmd.AddCommand(schemaCmd, statusCmd, rollbackCmd, legacyCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LEGACY DATA
// ══════════════════════════════════════════════════════════════════════════════

func runLegacy(ctx context.Context, batch int) error {
	if rt.cfg.Migration.LegacyURL == "" {
		return errors.New("MIGRATION_LEGACY_URL is required")
	}
	if rt.cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}

	legacyDB, err := migration.Open(rt.cfg.Migration.LegacyURL)
	if err != nil {
		return fmt.Errorf("legacy database: %w", err)
	}
	targetDB, err := migration.Open(rt.cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("target database: %w", err)
	}
	defer migration.Close(legacyDB, targetDB)
	if err := migration.Ping(ctx, legacyDB, targetDB); err != nil {
		return fmt.Errorf("ping databases: %w", err)
	}

	ctx, span := otel.Tracer("practicehub/migrate").Start(ctx, "migrate.legacy")
	defer span.End()

	m := migration.NewMigrator(
		migration.NewGormLegacy(legacyDB),
		migration.NewGormTarget(targetDB),
		migration.DefaultPlan(),
		batch,
		rt.log,
	)
	res, err := m.Run(ctx)
	if res != nil {
		totals := res.Totals()
		rt.log.Info("legacy migration finished",
			logger.Int("read", totals.Read),
			logger.Int("inserted", totals.Inserted),
			logger.Int("skipped", totals.Skipped),
			logger.Int("failed", totals.Failed),
			logger.Duration("duration", res.FinishedAt.Sub(res.StartedAt)))
		for _, rerr := range res.Errors {
			rt.log.Warn("legacy record not migrated",
				logger.String("entity", rerr.Entity), logger.String("key", rerr.Key), logger.Err(rerr.Err))
		}
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func withConnection(ctx context.Context, fn func(ctx context.Context, conn *postgres.Connection) error) error {
	conn, err := app.OpenPostgres(ctx, rt.cfg.Database)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, conn)
}

// setupTracing installs a stdout span exporter when tracing is enabled.
func setupTracing(cfg *config.Config) (func(context.Context) error, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("stdout trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
