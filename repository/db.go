package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-estate-auth"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to dsn and wraps the pool in a bun.DB with the matching
// dialect. In-memory sqlite databases are pinned to a single connection so
// every query sees the same database.
func Open(driver, dsn string) (*bun.DB, error) {
	switch driver {
	case DriverSQLite:
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to open sqlite database")
		}
		if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
			sqldb.SetMaxOpenConns(1)
		}
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	case DriverPostgres:
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to open postgres database")
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	default:
		return nil, errors.New(fmt.Sprintf("unsupported database driver %q", driver), errors.CategoryBadInput).
			WithTextCode("UNSUPPORTED_DRIVER")
	}
}

// Migrate applies every pending migration for driver.
func Migrate(ctx context.Context, db *bun.DB, driver string, logger auth.Logger) error {
	if logger == nil {
		logger = auth.NopLogger()
	}

	var dialect goose.Dialect
	switch driver {
	case DriverSQLite:
		dialect = goose.DialectSQLite3
	case DriverPostgres:
		dialect = goose.DialectPostgres
	default:
		return errors.New(fmt.Sprintf("unsupported database driver %q", driver), errors.CategoryBadInput).
			WithTextCode("UNSUPPORTED_DRIVER")
	}

	fsys, err := auth.GetMigrationsFS(driver)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "migrations not found")
	}

	provider, err := goose.NewProvider(dialect, db.DB, fsys,
		goose.WithDisableGlobalRegistry(true),
		goose.WithLogger(gooseLogger{logger}),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to create migration provider")
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to apply migrations")
	}
	for _, r := range results {
		logger.Info("migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

type gooseLogger struct {
	logger auth.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
