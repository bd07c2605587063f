package db

import (
	"context"
	"fmt"
	"net/http"

	migrate "github.com/rubenv/sql-migrate"

	"github.com/bodasure/bodasure-backend/db/migrations"
	"github.com/bodasure/bodasure-backend/internal/utils"
)

const MigrationsTableName = "gorp_migrations"

// Migrate applies up to count migrations in the given direction against the database at dbURL. A count of 0 applies
// every pending migration.
func Migrate(dbURL string, dir migrate.MigrationDirection, count int) (int, error) {
	dbConnectionPool, err := OpenDBConnectionPool(dbURL)
	if err != nil {
		return 0, fmt.Errorf("database URL '%s': %w", utils.TruncateString(dbURL, len(dbURL)/4), err)
	}
	defer dbConnectionPool.Close()

	ms := migrate.MigrationSet{
		TableName: MigrationsTableName,
	}

	m := migrate.HttpFileSystemMigrationSource{FileSystem: http.FS(migrations.FS)}
	ctx := context.Background()
	db, err := dbConnectionPool.SqlDB(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching sql.DB: %w", err)
	}
	return ms.ExecMax(db, dbConnectionPool.DriverName(), m, dir, count)
}

// MigrationStatus reports which migrations have been applied against the
// database at dbURL and which are still pending, in lexical (execution) order.
func MigrationStatus(dbURL string) (applied []string, pending []string, err error) {
	dbConnectionPool, err := OpenDBConnectionPool(dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database connection pool: %w", err)
	}
	defer dbConnectionPool.Close()

	ms := migrate.MigrationSet{
		TableName: MigrationsTableName,
	}

	ctx := context.Background()
	db, err := dbConnectionPool.SqlDB(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching sql.DB: %w", err)
	}

	records, err := ms.GetMigrationRecords(db, dbConnectionPool.DriverName())
	if err != nil {
		return nil, nil, fmt.Errorf("fetching migration records: %w", err)
	}
	appliedIDs := make(map[string]bool, len(records))
	for _, record := range records {
		appliedIDs[record.Id] = true
		applied = append(applied, record.Id)
	}

	m := migrate.HttpFileSystemMigrationSource{FileSystem: http.FS(migrations.FS)}
	available, err := m.FindMigrations()
	if err != nil {
		return nil, nil, fmt.Errorf("finding migrations: %w", err)
	}
	for _, migration := range available {
		if !appliedIDs[migration.Id] {
			pending = append(pending, migration.Id)
		}
	}

	return applied, pending, nil
}
