// Package migrate applies numbered .sql files to a database, exactly once each,
// and records what ran in a migrations table.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/willemschots/stockdigest/internal/db"
)

// Migration is a migration that was ran.
type Migration struct {
	// Sequence starts at 0 and follows the lexical order of the filenames.
	Sequence int
	Filename string
	Metadata Metadata
}

func (m Migration) Equal(other Migration) bool {
	return m.Sequence == other.Sequence &&
		m.Filename == other.Filename &&
		m.Metadata.AppVersion == other.Metadata.AppVersion &&
		m.Metadata.Timestamp.Equal(other.Metadata.Timestamp)
}

// Metadata is stored next to every migration to help with debugging.
type Metadata struct {
	AppVersion string
	Timestamp  time.Time
}

var (
	ErrNoTable = errors.New("migrations table does not exist")
	// ErrMigrationsMismatch means files that ran before were removed or renamed.
	ErrMigrationsMismatch = errors.New("migrations mismatch")
)

// MigrationError reports the file whose statements failed.
type MigrationError struct {
	Sequence int
	Filename string
	Err      error
}

func (m MigrationError) Error() string {
	return fmt.Sprintf("migration [%d] %q failed: %v", m.Sequence, m.Filename, m.Err)
}

func (m MigrationError) Unwrap() error {
	return m.Err
}

// timestamp columns differ, the rest is shared.
var timestampTypes = map[db.Dialect]string{
	db.SQLite:   "TIMESTAMP",
	db.Postgres: "TIMESTAMPTZ",
}

const selectMigrations = `SELECT sequence, filename, app_version, timestamp FROM migrations ORDER BY sequence`

// RunFS runs the .sql files in the root of fileSys that did not run before, in
// lexical order, inside a single transaction. It returns the migrations it ran,
// an empty slice if there was nothing to do.
func RunFS(ctx context.Context, sqlDB *sql.DB, dialect db.Dialect, fileSys fs.FS, meta Metadata) ([]Migration, error) {
	tsType, ok := timestampTypes[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	files, err := readSQLFiles(fileSys)
	if err != nil {
		return nil, err
	}

	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	r := runner{ctx: ctx, tx: tx, dialect: dialect, meta: meta}

	ran, err := r.run(tsType, files)
	if err != nil {
		if rErr := tx.Rollback(); rErr != nil {
			err = errors.Join(err, rErr)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return ran, nil
}

// QueryMigrations returns all migrations that ran on sqlDB, or ErrNoTable.
func QueryMigrations(ctx context.Context, sqlDB *sql.DB) ([]Migration, error) {
	rows, err := sqlDB.QueryContext(ctx, selectMigrations)
	return scanMigrations(rows, err)
}

type runner struct {
	ctx     context.Context
	tx      *sql.Tx
	dialect db.Dialect
	meta    Metadata
}

func (r runner) run(tsType string, files []sqlFile) ([]Migration, error) {
	_, err := r.tx.ExecContext(r.ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS migrations (
	sequence    INTEGER PRIMARY KEY,
	filename    TEXT NOT NULL,
	app_version TEXT NOT NULL,
	timestamp   %s NOT NULL
)`, tsType))
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	done, err := scanMigrations(r.tx.QueryContext(r.ctx, selectMigrations))
	if err != nil {
		return nil, err
	}

	pending, err := pendingFiles(done, files)
	if err != nil {
		return nil, err
	}

	insert := r.insertQuery()
	ran := make([]Migration, 0, len(pending))
	for i, f := range pending {
		m := Migration{Sequence: len(done) + i, Filename: f.name, Metadata: r.meta}

		if _, err := r.tx.ExecContext(r.ctx, f.content); err != nil {
			return nil, MigrationError{Sequence: m.Sequence, Filename: m.Filename, Err: err}
		}

		_, err := r.tx.ExecContext(r.ctx, insert, m.Sequence, m.Filename, m.Metadata.AppVersion, m.Metadata.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to record migration %q: %w", m.Filename, err)
		}

		ran = append(ran, m)
	}

	return ran, nil
}

func (r runner) insertQuery() string {
	q := &db.Query{Dialect: r.dialect}
	q.Unsafe("INSERT INTO migrations (sequence, filename, app_version, timestamp) VALUES (")
	q.Params(nil, nil, nil, nil)
	q.Unsafe(")")
	s, _, _ := q.Get()
	return s
}

// pendingFiles checks that done is a prefix of files and returns the rest.
func pendingFiles(done []Migration, files []sqlFile) ([]sqlFile, error) {
	if len(done) > len(files) {
		return nil, fmt.Errorf("%d migrations ran before but only %d files exist: %w",
			len(done), len(files), ErrMigrationsMismatch)
	}

	for i, m := range done {
		if m.Sequence != i {
			return nil, fmt.Errorf("migration sequence mismatch, wanted %d got %d", i, m.Sequence)
		}
		if m.Filename != files[i].name {
			return nil, fmt.Errorf("migration %d ran as %s, but the file is now %s: %w",
				i, m.Filename, files[i].name, ErrMigrationsMismatch)
		}
	}

	return files[len(done):], nil
}

func scanMigrations(rows *sql.Rows, err error) ([]Migration, error) {
	if err != nil {
		if isMissingTable(err) {
			return nil, ErrNoTable
		}
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	var all []Migration
	for rows.Next() {
		var m Migration
		if err := rows.Scan(&m.Sequence, &m.Filename, &m.Metadata.AppVersion, &m.Metadata.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		all = append(all, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate over migrations: %w", err)
	}

	if all == nil {
		all = []Migration{}
	}
	return all, nil
}

// isMissingTable matches the sqlite and postgres messages for an unknown table.
func isMissingTable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such table") ||
		(strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist"))
}

type sqlFile struct {
	name    string
	content string
}

func readSQLFiles(fileSys fs.FS) ([]sqlFile, error) {
	entries, err := fs.ReadDir(fileSys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []sqlFile
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}

		b, err := fs.ReadFile(fileSys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %q: %w", e.Name(), err)
		}

		files = append(files, sqlFile{name: e.Name(), content: string(b)})
	}

	slices.SortFunc(files, func(a, b sqlFile) int { return strings.Compare(a.name, b.name) })

	return files, nil
}
