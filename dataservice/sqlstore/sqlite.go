package sqlstore

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) an embedded SQLite store at
// path and initializes the bookkeeping schema. Use ":memory:" for a
// throwaway store.
func OpenSQLite(ctx context.Context, path string, opts Options) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storeErr(err, "opening sqlite store")
	}
	// WAL with a busy timeout lets a handful of connections coexist;
	// dedicated handles hold pool slots, so one is not enough.
	db.SetMaxOpenConns(4)
	s := New(db, SQLite, opts)
	if err := s.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
