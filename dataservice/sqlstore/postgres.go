package sqlstore

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenPostgres connects to a Postgres store through the pgx stdlib
// driver and initializes the bookkeeping schema.
func OpenPostgres(ctx context.Context, dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, storeErr(err, "opening postgres store")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storeErr(err, "connecting to postgres store")
	}
	s := New(db, Postgres, opts)
	if err := s.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
