package db

import (
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect is the SQL flavour of a database.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect parses a dialect name as it appears in configuration.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case SQLite, Postgres:
		return Dialect(s), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", s)
	}
}

// Placeholder returns the bind parameter for the n-th parameter, starting at 1.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

const (
	// Both pools use WAL mode so reads and writes don't block each other,
	// enforce foreign keys and wait up to 5 seconds for a lock.
	// Writers use immediate transactions to prevent upgrade deadlocks.
	writeOptions = "?_foreign_keys=on&_journal_mode=wal&_busy_timeout=5000&_txlock=immediate"
	readOptions  = "?mode=ro&_foreign_keys=on&_journal_mode=wal&_busy_timeout=5000"
)

// OpenSQLite opens a pool of SQLite connections. Reading and writing need
// different settings, so the caller says what the pool is for.
//
// See https://github.com/mattn/go-sqlite3/issues/1179#issuecomment-1638083995
func OpenSQLite(dbFile string, write bool) (*sql.DB, error) {
	opts := readOptions
	if write {
		opts = writeOptions
	}

	db, err := sql.Open("sqlite3", dbFile+opts)
	if err != nil {
		return nil, err
	}

	if write {
		// a single connection that is never closed.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	return db, nil
}

// OpenPostgres opens a pool of PostgreSQL connections using the pgx driver.
// Postgres handles concurrent writers itself, so one pool serves both purposes.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	return db, nil
}

// Pools holds the connection pools for one database.
// For Postgres, Write and Read are the same pool.
type Pools struct {
	Dialect Dialect
	Write   *sql.DB
	Read    *sql.DB
}

// Open opens the pools for the given dialect. For SQLite, source is a file name,
// for Postgres it is a DSN.
func Open(dialect Dialect, source string) (*Pools, error) {
	switch dialect {
	case SQLite:
		w, err := OpenSQLite(source, true)
		if err != nil {
			return nil, fmt.Errorf("failed to open write pool: %w", err)
		}

		r, err := OpenSQLite(source, false)
		if err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("failed to open read pool: %w", err)
		}

		return &Pools{Dialect: dialect, Write: w, Read: r}, nil
	case Postgres:
		p, err := OpenPostgres(source)
		if err != nil {
			return nil, err
		}
		return &Pools{Dialect: dialect, Write: p, Read: p}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
}

// Close closes all pools.
func (p *Pools) Close() error {
	err := p.Write.Close()
	if p.Read != p.Write {
		if rErr := p.Read.Close(); err == nil {
			err = rErr
		}
	}
	return err
}
