package auth

import (
	"embed"
	"io/fs"
	"path"

	goerrors "github.com/goliatone/go-errors"
)

//go:embed data/sql/migrations
var migrationFiles embed.FS

const migrationsRoot = "data/sql/migrations"

// GetMigrationsFS returns the goose migrations for one dialect directory
// ("sqlite" or "postgres") with the .sql files at its root.
func GetMigrationsFS(dialect string) (fs.FS, error) {
	dir := path.Join(migrationsRoot, dialect)
	entries, err := fs.ReadDir(migrationFiles, dir)
	if err != nil || len(entries) == 0 {
		return nil, goerrors.New("no migrations for dialect "+dialect, goerrors.CategoryNotFound).
			WithTextCode("MIGRATIONS_NOT_FOUND").
			WithMetadata(map[string]any{"dialect": dialect})
	}
	return fs.Sub(migrationFiles, dir)
}
