package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/lib/pq"

	"github.com/asakaida/restree/internal/infrastructure/config"
	"github.com/asakaida/restree/internal/infrastructure/database"
)

const migrationsPathSuffix = "internal/infrastructure/database/migrations/postgres"

// storeTables lists the tables owned by the migrations, in creation order
var storeTables = []string{
	"users",
	"groups",
	"group_member",
	"permission_tree",
	"resource_tree",
	"resource_acl",
}

// tableCount is the row count of one store table; Rows is -1 when the
// table does not exist yet
type tableCount struct {
	Table string
	Rows  int64
}

func migrationsPath() (string, error) {
	root, err := config.ProjectRoot()
	if err != nil {
		return "", fmt.Errorf("failed to find project root: %w", err)
	}
	return filepath.Join(root, migrationsPathSuffix), nil
}

func newMigrate(pg *database.Postgres) (*migrate.Migrate, error) {
	path, err := migrationsPath()
	if err != nil {
		return nil, err
	}
	driver, err := database.NewMigrateDriver(pg.DB)
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", path), "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}

// countRows reports the row count of every store table
func countRows(ctx context.Context, db *sql.DB) ([]tableCount, error) {
	counts := make([]tableCount, 0, len(storeTables))
	for _, table := range storeTables {
		var n int64
		err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+pq.QuoteIdentifier(table)).Scan(&n)
		var pqErr *pq.Error
		switch {
		case errors.As(err, &pqErr) && pqErr.Code == "42P01": // undefined_table
			n = -1
		case err != nil:
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts = append(counts, tableCount{Table: table, Rows: n})
	}
	return counts, nil
}

// parseSteps reads the optional rollback step count; it defaults to 1
func parseSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid step count '%s'", args[0])
	}
	return n, nil
}

func parseVersion(arg string) (uint, error) {
	v, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s'", arg)
	}
	return uint(v), nil
}
