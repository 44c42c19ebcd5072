// Package migrations embeds the schema migrations for every supported database.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/willemschots/stockdigest/internal/db"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// FS returns the migrations for dialect.
func FS(dialect db.Dialect) (fs.FS, error) {
	switch dialect {
	case db.SQLite, db.Postgres:
		return fs.Sub(files, string(dialect))
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}
}
