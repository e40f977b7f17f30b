// Package sqlstore implements the data-service interface over
// database/sql, parameterized by dialect. SQLite (modernc.org/sqlite)
// is the embedded store; Postgres (jackc/pgx through database/sql) is
// the served one. User tables carry the admin columns; local-only
// tables are plain tables under the L_ prefix.
package sqlstore

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	dqerr "github.com/wbrunette/dataq/dataq_errors"
	"github.com/wbrunette/dataq/dataservice"
	"github.com/wbrunette/dataq/utils"
)

// LocalTablePrefix marks tables that are never synced and carry no
// admin columns.
const LocalTablePrefix = "L_"

// savepointTimeFormat is fixed-width so timestamp strings order
// lexicographically.
const savepointTimeFormat = "2006-01-02T15:04:05.000000000Z"

// Options configures a Store with the identity it answers
// roles/users/default-group queries with.
type Options struct {
	Logger       utils.Logger
	User         string
	Roles        []string
	DefaultGroup string

	// LockedTables lists table ids that only super users may add rows
	// to.
	LockedTables []string
}

func (o *Options) SetDefaults() {
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	if o.User == "" {
		o.User = "anonymous"
	}
}

// Store is a dataservice.Service over one *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	log     utils.Logger
	opts    Options
	locked  map[string]bool

	closed atomic.Bool
}

// New wraps db in a Store. Call Init once to create the bookkeeping
// tables before serving requests.
func New(db *sql.DB, d Dialect, opts Options) *Store {
	opts.SetDefaults()
	locked := make(map[string]bool, len(opts.LockedTables))
	for _, t := range opts.LockedTables {
		locked[t] = true
	}
	return &Store{
		db:      db,
		dialect: d,
		log:     opts.Logger.With("store", d.Name()),
		opts:    opts,
		locked:  locked,
	}
}

// DB exposes the underlying handle for embedders that manage their own
// schema alongside.
func (s *Store) DB() *sql.DB { return s.db }

// Shutdown marks the store unavailable and closes the database. Open
// calls fail afterwards.
func (s *Store) Shutdown() error {
	s.closed.Store(true)
	return s.db.Close()
}

type connHandle struct {
	id   string
	conn *sql.Conn
}

func (h *connHandle) ID() string { return h.id }

func (s *Store) Open(ctx context.Context, namespace string) (dataservice.Handle, error) {
	if s.closed.Load() {
		return nil, errors.Wrap(dqerr.ErrUnavailable, "store is shut down")
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(dqerr.ErrUnavailable, err.Error())
	}
	return &connHandle{id: uuid.NewString(), conn: conn}, nil
}

func (s *Store) Close(ctx context.Context, namespace string, h dataservice.Handle) error {
	ch, err := s.conn(h)
	if err != nil {
		return err
	}
	if err := ch.conn.Close(); err != nil {
		return errors.Wrap(dqerr.ErrStore, err.Error())
	}
	return nil
}

func (s *Store) conn(h dataservice.Handle) (*connHandle, error) {
	ch, ok := h.(*connHandle)
	if !ok || ch == nil {
		return nil, errors.Wrap(dqerr.ErrInvalidState, "foreign connection handle")
	}
	return ch, nil
}

func (s *Store) Roles(ctx context.Context, namespace string) ([]string, error) {
	return append([]string(nil), s.opts.Roles...), nil
}

func (s *Store) DefaultGroup(ctx context.Context, namespace string) (string, error) {
	return s.opts.DefaultGroup, nil
}

func (s *Store) Users(ctx context.Context, namespace string) ([]map[string]any, error) {
	return []map[string]any{{
		"user_id": s.opts.User,
		"roles":   append([]string(nil), s.opts.Roles...),
	}}, nil
}

func savepointNow() string {
	return time.Now().UTC().Format(savepointTimeFormat)
}

func isLocalTable(tableID string) bool {
	return strings.HasPrefix(tableID, LocalTablePrefix)
}

func (s *Store) requireUserTable(tableID string) error {
	if isLocalTable(tableID) {
		return errors.Wrapf(dqerr.ErrInvalidState, "%s is a local-only table", tableID)
	}
	return nil
}

func (s *Store) requireLocalTable(tableID string) error {
	if !isLocalTable(tableID) {
		return errors.Wrapf(dqerr.ErrInvalidState, "%s is not a local-only table", tableID)
	}
	return nil
}

func storeErr(err error, msg string) error {
	return errors.Wrap(dqerr.ErrStore, msg+": "+err.Error())
}
