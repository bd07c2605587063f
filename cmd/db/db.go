package db

import (
	"fmt"
	"strconv"

	"github.com/manifoldco/promptui"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/bodasure/bodasure-backend/cmd/utils"
	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

const DBConfigOptionFlagName = "database-url"

type DatabaseCommand struct{}

func (c *DatabaseCommand) Command(globalOptions *utils.GlobalOptionsType) *cobra.Command {
	cmd := &cobra.Command{
		Use:              "db",
		Short:            "Database related commands",
		PersistentPreRun: utils.PropagatePersistentPreRun,
		RunE:             utils.CallHelpCommand,
	}

	cmd.AddCommand(c.migrateCmd(globalOptions))
	cmd.AddCommand(c.resetCmd(globalOptions))

	return cmd
}

// migrateCmd returns a cobra.Command responsible for running the schema
// migrations embedded under db/migrations.
func (c *DatabaseCommand) migrateCmd(globalOptions *utils.GlobalOptionsType) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:              "migrate",
		Short:            "Schema migration helpers",
		PersistentPreRun: utils.PropagatePersistentPreRun,
		RunE:             utils.CallHelpCommand,
	}

	migrateUpCmd := &cobra.Command{
		Use:              "up [count]",
		Short:            "Migrates database up [count] migrations. Applies everything pending when [count] is omitted.",
		Args:             cobra.MaximumNArgs(1),
		PersistentPreRun: utils.PropagatePersistentPreRun,
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			count := parseCountArg(cmd, args)
			if err := executeMigrations(cmd, globalOptions.DatabaseURL, migrate.Up, count); err != nil {
				log.Ctx(ctx).Fatalf("Error executing migrate up: %v", err)
			}
		},
	}

	migrateDownCmd := &cobra.Command{
		Use:              "down [count]",
		Short:            "Migrates database down [count] migrations",
		Args:             cobra.ExactArgs(1),
		PersistentPreRun: utils.PropagatePersistentPreRun,
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			count := parseCountArg(cmd, args)
			if err := executeMigrations(cmd, globalOptions.DatabaseURL, migrate.Down, count); err != nil {
				log.Ctx(ctx).Fatalf("Error executing migrate down: %v", err)
			}
		},
	}

	migrateStatusCmd := &cobra.Command{
		Use:              "status",
		Short:            "Shows which migrations have been applied and which are pending",
		Args:             cobra.NoArgs,
		PersistentPreRun: utils.PropagatePersistentPreRun,
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			applied, pending, err := db.MigrationStatus(globalOptions.DatabaseURL)
			if err != nil {
				log.Ctx(ctx).Fatalf("Error fetching migration status: %v", err)
			}

			for _, id := range applied {
				log.Ctx(ctx).Infof("applied: %s", id)
			}
			for _, id := range pending {
				log.Ctx(ctx).Infof("pending: %s", id)
			}
			log.Ctx(ctx).Infof("%d applied, %d pending.", len(applied), len(pending))
		},
	}

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	return migrateCmd
}

// resetCmd returns a cobra.Command that rolls every migration back and
// re-applies them, wiping all data. It requires interactive confirmation.
func (c *DatabaseCommand) resetCmd(globalOptions *utils.GlobalOptionsType) *cobra.Command {
	return &cobra.Command{
		Use:              "reset",
		Short:            "Rolls back every migration and re-applies them, dropping ALL data",
		Args:             cobra.NoArgs,
		PersistentPreRun: utils.PropagatePersistentPreRun,
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()

			prompt := promptui.Prompt{
				Label:     "This will DROP ALL DATA in the database. Continue",
				IsConfirm: true,
			}
			if _, err := prompt.Run(); err != nil {
				log.Ctx(ctx).Info("Reset aborted.")
				return
			}

			if err := executeMigrations(cmd, globalOptions.DatabaseURL, migrate.Down, 0); err != nil {
				log.Ctx(ctx).Fatalf("Error rolling migrations back: %v", err)
			}
			if err := executeMigrations(cmd, globalOptions.DatabaseURL, migrate.Up, 0); err != nil {
				log.Ctx(ctx).Fatalf("Error re-applying migrations: %v", err)
			}
			log.Ctx(ctx).Info("Database reset complete.")
		},
	}
}

func parseCountArg(cmd *cobra.Command, args []string) int {
	if len(args) == 0 {
		return 0
	}
	count, err := strconv.Atoi(args[0])
	if err != nil {
		log.Ctx(cmd.Context()).Fatalf("Invalid [count] argument: %s", args[0])
	}
	return count
}

// executeMigrations runs the migrations and logs how many were applied.
func executeMigrations(cmd *cobra.Command, dbURL string, dir migrate.MigrationDirection, count int) error {
	ctx := cmd.Context()

	numMigrationsRun, err := db.Migrate(dbURL, dir, count)
	if err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	if numMigrationsRun == 0 {
		log.Ctx(ctx).Info("No migrations applied.")
	} else {
		log.Ctx(ctx).Infof("Successfully applied %d migrations %s.", numMigrationsRun, migrationDirectionStr(dir))
	}
	return nil
}

// migrationDirectionStr returns a string representation of the migration direction (up or down).
func migrationDirectionStr(dir migrate.MigrationDirection) string {
	if dir == migrate.Up {
		return "up"
	}
	return "down"
}
