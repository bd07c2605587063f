package db

import (
	"context"
	"testing"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodasure/bodasure-backend/cmd/utils"
	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/db/dbtest"
)

func executeDBCommand(t *testing.T, globalOptions *utils.GlobalOptionsType, args ...string) {
	t.Helper()

	rootCmd := &cobra.Command{Use: "bodasure"}
	rootCmd.AddCommand((&DatabaseCommand{}).Command(globalOptions))
	rootCmd.SetArgs(append([]string{"db"}, args...))
	require.NoError(t, rootCmd.Execute())
}

func countAppliedMigrations(t *testing.T, dsn string) int {
	t.Helper()

	dbConnectionPool, err := db.OpenDBConnectionPool(dsn)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	var count int
	err = dbConnectionPool.GetContext(context.Background(), &count, "SELECT COUNT(*) FROM gorp_migrations")
	require.NoError(t, err)
	return count
}

func Test_DatabaseCommand_migrate_upAndDown(t *testing.T) {
	dbt := dbtest.OpenWithoutMigrations(t)
	defer dbt.Close()

	globalOptions := &utils.GlobalOptionsType{DatabaseURL: dbt.DSN}

	executeDBCommand(t, globalOptions, "migrate", "up")
	applied := countAppliedMigrations(t, dbt.DSN)
	assert.Greater(t, applied, 0)

	executeDBCommand(t, globalOptions, "migrate", "down", "1")
	assert.Equal(t, applied-1, countAppliedMigrations(t, dbt.DSN))
}

func Test_DatabaseCommand_migrate_upWithCount(t *testing.T) {
	dbt := dbtest.OpenWithoutMigrations(t)
	defer dbt.Close()

	globalOptions := &utils.GlobalOptionsType{DatabaseURL: dbt.DSN}

	executeDBCommand(t, globalOptions, "migrate", "up", "2")
	assert.Equal(t, 2, countAppliedMigrations(t, dbt.DSN))
}

func Test_MigrationStatus(t *testing.T) {
	dbt := dbtest.OpenWithoutMigrations(t)
	defer dbt.Close()

	applied, pending, err := db.MigrationStatus(dbt.DSN)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.NotEmpty(t, pending)
	totalMigrations := len(pending)

	_, err = db.Migrate(dbt.DSN, migrate.Up, 0)
	require.NoError(t, err)

	applied, pending, err = db.MigrationStatus(dbt.DSN)
	require.NoError(t, err)
	assert.Len(t, applied, totalMigrations)
	assert.Empty(t, pending)
}
