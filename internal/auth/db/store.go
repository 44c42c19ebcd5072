package db

import (
	"context"
	"database/sql"

	"github.com/willemschots/stockdigest/internal/auth"
	"github.com/willemschots/stockdigest/internal/db"
	"github.com/willemschots/stockdigest/internal/krypto"
)

// Store keeps users in a SQLite or Postgres database.
// Writes go through the write pool, reads outside of transactions through the read pool.
type Store struct {
	dialect       db.Dialect
	writeDB       *sql.DB
	readDB        *sql.DB
	encryptor     *krypto.Encryptor
	blindIndexKey krypto.Key
}

// New creates a new Store. For Postgres, writeDB and readDB can be the same pool.
func New(dialect db.Dialect, writeDB, readDB *sql.DB, encryptor *krypto.Encryptor, blindIndexKey krypto.Key) *Store {
	return &Store{
		dialect:       dialect,
		writeDB:       writeDB,
		readDB:        readDB,
		encryptor:     encryptor,
		blindIndexKey: blindIndexKey,
	}
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (auth.Tx, error) {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{
		ctx:   ctx,
		tx:    tx,
		store: s,
	}, nil
}

// FindUsers queries the read pool for users matching filter.
// It returns an empty slice if no users are found.
func (s *Store) FindUsers(ctx context.Context, filter *auth.UserFilter) ([]auth.User, error) {
	return selectUsers(s.newQuery(), func(query string, params ...any) (*sql.Rows, error) {
		return s.readDB.QueryContext(ctx, query, params...)
	}, filter)
}

func (s *Store) newQuery() *db.Query {
	return &db.Query{
		Dialect:       s.dialect,
		Encryptor:     s.encryptor,
		BlindIndexKey: s.blindIndexKey,
	}
}
