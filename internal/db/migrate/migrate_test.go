package migrate_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/willemschots/stockdigest/internal/db"
	"github.com/willemschots/stockdigest/internal/db/migrate"
	"github.com/willemschots/stockdigest/internal/db/testdb"
	"github.com/willemschots/stockdigest/migrations"
)

const createTestTable = `CREATE TABLE test_table (
	id    INTEGER PRIMARY KEY,
	value TEXT NOT NULL
);`

func sqlFile(q string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(q)}
}

func Test_RunFS(t *testing.T) {
	v1 := migrate.Metadata{AppVersion: "v1", Timestamp: time.Date(2024, 3, 20, 14, 56, 0, 0, time.UTC)}
	v2 := migrate.Metadata{AppVersion: "v2", Timestamp: time.Date(2024, 4, 20, 14, 56, 0, 0, time.UTC)}

	t.Run("ok, nothing to run", func(t *testing.T) {
		sqlDB := testdb.RunUnmigratedWhile(t, true)

		got, err := migrate.RunFS(context.Background(), sqlDB, db.SQLite, fstest.MapFS{
			"README.md": sqlFile("no migrations here"),
		}, v1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		assertMigrations(t, got, []migrate.Migration{})
		assertTable(t, sqlDB, []migrate.Migration{})
	})

	t.Run("ok, only sql files in the root run, in lexical order", func(t *testing.T) {
		sqlDB := testdb.RunUnmigratedWhile(t, true)

		got, err := migrate.RunFS(context.Background(), sqlDB, db.SQLite, fstest.MapFS{
			"2_insert.sql":     sqlFile(`INSERT INTO test_table (value) VALUES ('x');`),
			"1_create.sql":     sqlFile(createTestTable),
			"sub/0_insert.sql": sqlFile(`INSERT INTO test_table (value) VALUES ('nested');`),
			"notes.txt":        sqlFile(`DROP TABLE test_table;`),
		}, v1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []migrate.Migration{
			{Sequence: 0, Filename: "1_create.sql", Metadata: v1},
			{Sequence: 1, Filename: "2_insert.sql", Metadata: v1},
		}
		assertMigrations(t, got, want)
		assertTable(t, sqlDB, want)
		assertRows(t, sqlDB, 1)
	})

	t.Run("ok, later runs only apply new files", func(t *testing.T) {
		sqlDB := testdb.RunUnmigratedWhile(t, true)

		first := fstest.MapFS{
			"1_create.sql": sqlFile(createTestTable),
		}

		second := fstest.MapFS{
			"1_create.sql": sqlFile(createTestTable),
			"2_first.sql":  sqlFile(`INSERT INTO test_table (value) VALUES ('first');`),
			"3_second.sql": sqlFile(`INSERT INTO test_table (value) VALUES ('second');`),
		}

		_, err := migrate.RunFS(context.Background(), sqlDB, db.SQLite, first, v1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		got, err := migrate.RunFS(context.Background(), sqlDB, db.SQLite, second, v2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		assertMigrations(t, got, []migrate.Migration{
			{Sequence: 1, Filename: "2_first.sql", Metadata: v2},
			{Sequence: 2, Filename: "3_second.sql", Metadata: v2},
		})
		assertTable(t, sqlDB, []migrate.Migration{
			{Sequence: 0, Filename: "1_create.sql", Metadata: v1},
			{Sequence: 1, Filename: "2_first.sql", Metadata: v2},
			{Sequence: 2, Filename: "3_second.sql", Metadata: v2},
		})
		assertRows(t, sqlDB, 2)

		got, err = migrate.RunFS(context.Background(), sqlDB, db.SQLite, second, v2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		assertMigrations(t, got, []migrate.Migration{})
		assertRows(t, sqlDB, 2)
	})

	t.Run("ok, embedded migrations create the users table", func(t *testing.T) {
		sqlDB := testdb.RunUnmigratedWhile(t, true)

		fsys, err := migrations.FS(db.SQLite)
		if err != nil {
			t.Fatalf("failed to load migrations: %v", err)
		}

		got, err := migrate.RunFS(context.Background(), sqlDB, db.SQLite, fsys, v1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(got) == 0 {
			t.Fatalf("expected migrations to run")
		}

		var n int
		err = sqlDB.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n)
		if err != nil {
			t.Fatalf("failed to query users table: %v", err)
		}
	})

	t.Run("fail, broken migration rolls back the whole run", func(t *testing.T) {
		sqlDB := testdb.RunUnmigratedWhile(t, true)

		_, err := migrate.RunFS(context.Background(), sqlDB, db.SQLite, fstest.MapFS{
			"1_create.sql": sqlFile(createTestTable),
			"2_typo.sql":   sqlFile(`INSERT INTO test_tabel (value) VALUES ('typo');`),
		}, v1)

		var mErr migrate.MigrationError
		if !errors.As(err, &mErr) {
			t.Fatalf("got %T (%v), want %T", err, err, mErr)
		}

		if mErr.Sequence != 1 || mErr.Filename != "2_typo.sql" {
			t.Errorf("unexpected migration error %+v", mErr)
		}

		// the migrations table was created in the same transaction.
		_, err = migrate.QueryMigrations(context.Background(), sqlDB)
		if !errors.Is(err, migrate.ErrNoTable) {
			t.Errorf("got %v, want %v", err, migrate.ErrNoTable)
		}
	})

	mismatchTests := map[string]fstest.MapFS{
		"file was removed": {
			"1_create.sql": sqlFile(createTestTable),
		},
		"file was renamed": {
			"1_create.sql":       sqlFile(createTestTable),
			"2_insert_three.sql": sqlFile(`INSERT INTO test_table (value) VALUES ('a'), ('b'), ('c');`),
		},
	}

	for name, later := range mismatchTests {
		t.Run("fail, "+name, func(t *testing.T) {
			sqlDB := testdb.RunUnmigratedWhile(t, true)

			_, err := migrate.RunFS(context.Background(), sqlDB, db.SQLite, fstest.MapFS{
				"1_create.sql": sqlFile(createTestTable),
				"2_insert.sql": sqlFile(`INSERT INTO test_table (value) VALUES ('a'), ('b'), ('c');`),
			}, v1)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			_, err = migrate.RunFS(context.Background(), sqlDB, db.SQLite, later, v2)
			if !errors.Is(err, migrate.ErrMigrationsMismatch) {
				t.Fatalf("got %v, want %v (via errors.Is)", err, migrate.ErrMigrationsMismatch)
			}

			assertRows(t, sqlDB, 3)
		})
	}

	t.Run("fail, unsupported dialect", func(t *testing.T) {
		sqlDB := testdb.RunUnmigratedWhile(t, true)

		_, err := migrate.RunFS(context.Background(), sqlDB, db.Dialect("mysql"), fstest.MapFS{}, v1)
		if err == nil {
			t.Fatalf("expected an error")
		}
	})
}

func Test_QueryMigrations(t *testing.T) {
	t.Run("fail, no table", func(t *testing.T) {
		sqlDB := testdb.RunUnmigratedWhile(t, true)

		_, err := migrate.QueryMigrations(context.Background(), sqlDB)
		if !errors.Is(err, migrate.ErrNoTable) {
			t.Fatalf("got %v, want %v (via errors.Is)", err, migrate.ErrNoTable)
		}
	})
}

func assertTable(t *testing.T, sqlDB *sql.DB, want []migrate.Migration) {
	t.Helper()

	got, err := migrate.QueryMigrations(context.Background(), sqlDB)
	if err != nil {
		t.Fatalf("failed to query migrations: %v", err)
	}

	assertMigrations(t, got, want)
}

func assertMigrations(t *testing.T, got, want []migrate.Migration) {
	t.Helper()

	if got == nil || len(got) != len(want) {
		t.Fatalf("got\n%+v\nwant\n%+v", got, want)
	}

	for i := range got {
		if !got[i].Equal(want[i]) {
			t.Errorf("migration %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

// assertRows counts the rows in test_table, which the test migrations insert into.
func assertRows(t *testing.T, sqlDB *sql.DB, want int) {
	t.Helper()

	var got int
	err := sqlDB.QueryRow("SELECT COUNT(*) FROM test_table").Scan(&got)
	if err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}

	if got != want {
		t.Errorf("got %d rows, want %d", got, want)
	}
}
