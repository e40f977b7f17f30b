package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	dqerr "github.com/wbrunette/dataq/dataq_errors"
	"github.com/wbrunette/dataq/dataservice"
)

// Row sync states. The sync layer owns the transitions back to synced.
const (
	syncStateNew     = "new_row"
	syncStateChanged = "changed"
	syncStateDeleted = "deleted"
)

// normalizeValue maps Go values onto storable cells. Bools become 0/1 so
// the bool column type is uniform across dialects.
func normalizeValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) InsertRowWithID(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	cols *dataservice.ColumnSet, values map[string]any, rowID string) (*dataservice.Table, error) {

	if err := s.requireUserTable(tableID); err != nil {
		return nil, err
	}
	ch, err := s.conn(h)
	if err != nil {
		return nil, err
	}
	n, err := s.countVersions(ctx, ch, tableID, rowID)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, errors.Wrapf(dqerr.ErrInvalidState, "row already exists: %s._id = %s", tableID, rowID)
	}

	cells := map[string]any{
		dataservice.ColID:                 rowID,
		dataservice.ColSyncState:          syncStateNew,
		dataservice.ColSavepointType:      dataservice.SavepointComplete,
		dataservice.ColSavepointTimestamp: savepointNow(),
		dataservice.ColSavepointCreator:   s.opts.User,
		dataservice.ColDefaultAccess:      "FULL",
		dataservice.ColRowOwner:           s.opts.User,
	}
	for k, v := range values {
		cells[k] = normalizeValue(v)
	}
	if err := s.insertCells(ctx, ch, tableID, cells); err != nil {
		return nil, err
	}
	return s.rowQuery(ctx, h, tableID, rowID, true)
}

func (s *Store) UpdateRowWithID(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	cols *dataservice.ColumnSet, values map[string]any, rowID string) (*dataservice.Table, error) {

	if err := s.requireUserTable(tableID); err != nil {
		return nil, err
	}
	ch, err := s.conn(h)
	if err != nil {
		return nil, err
	}
	state, ts, err := s.newestVersion(ctx, ch, tableID, rowID)
	if err != nil {
		return nil, err
	}
	if ts == "" {
		return nil, errors.Wrapf(dqerr.ErrInvalidState, "row does not exist: %s._id = %s", tableID, rowID)
	}

	cells := make(map[string]any, len(values)+3)
	for k, v := range values {
		cells[k] = normalizeValue(v)
	}
	cells[dataservice.ColSavepointTimestamp] = savepointNow()
	cells[dataservice.ColSavepointCreator] = s.opts.User
	if state != syncStateNew {
		cells[dataservice.ColSyncState] = syncStateChanged
	}
	if err := s.updateVersion(ctx, ch, tableID, rowID, ts, cells); err != nil {
		return nil, err
	}
	return s.rowQuery(ctx, h, tableID, rowID, true)
}

// DeleteRowWithID removes a never-synced row outright; a synced row is
// flagged deleted so the sync layer can propagate the removal.
func (s *Store) DeleteRowWithID(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	cols *dataservice.ColumnSet, rowID string) (*dataservice.Table, error) {

	if err := s.requireUserTable(tableID); err != nil {
		return nil, err
	}
	ch, err := s.conn(h)
	if err != nil {
		return nil, err
	}
	states, err := s.syncStates(ctx, ch, tableID, rowID)
	if err != nil {
		return nil, err
	}
	q := s.dialect.QuoteIdent
	ph := s.dialect.Placeholder
	if onlyNewRows(states) {
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", q(tableID), q(dataservice.ColID), ph(1))
		if _, err := ch.conn.ExecContext(ctx, stmt, rowID); err != nil {
			return nil, storeErr(err, "deleting row from "+tableID)
		}
	} else if len(states) > 0 {
		stmt := fmt.Sprintf("UPDATE %s SET %s = %s, %s = %s WHERE %s = %s",
			q(tableID),
			q(dataservice.ColSyncState), ph(1),
			q(dataservice.ColSavepointTimestamp), ph(2),
			q(dataservice.ColID), ph(3))
		if _, err := ch.conn.ExecContext(ctx, stmt, syncStateDeleted, savepointNow(), rowID); err != nil {
			return nil, storeErr(err, "deleting row from "+tableID)
		}
	}
	return s.rowQuery(ctx, h, tableID, rowID, false)
}

// ChangeRowFilterWithID rewrites the access fields on every version of
// the row.
func (s *Store) ChangeRowFilterWithID(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	cols *dataservice.ColumnSet, filter dataservice.AccessFilter, rowID string) (*dataservice.Table, error) {

	if err := s.requireUserTable(tableID); err != nil {
		return nil, err
	}
	ch, err := s.conn(h)
	if err != nil {
		return nil, err
	}
	state, ts, err := s.newestVersion(ctx, ch, tableID, rowID)
	if err != nil {
		return nil, err
	}
	if ts == "" {
		return nil, errors.Wrapf(dqerr.ErrInvalidState, "row does not exist: %s._id = %s", tableID, rowID)
	}
	q := s.dialect.QuoteIdent
	ph := s.dialect.Placeholder
	sync := state
	if sync != syncStateNew {
		sync = syncStateChanged
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s = %s, %s = %s, %s = %s, %s = %s, %s = %s, %s = %s WHERE %s = %s",
		q(tableID),
		q(dataservice.ColDefaultAccess), ph(1),
		q(dataservice.ColRowOwner), ph(2),
		q(dataservice.ColGroupReadOnly), ph(3),
		q(dataservice.ColGroupModify), ph(4),
		q(dataservice.ColGroupPrivileged), ph(5),
		q(dataservice.ColSyncState), ph(6),
		q(dataservice.ColID), ph(7))
	_, err = ch.conn.ExecContext(ctx, stmt,
		filter.DefaultAccess, filter.RowOwner,
		filter.GroupReadOnly, filter.GroupModify, filter.GroupPrivileged,
		sync, rowID)
	if err != nil {
		return nil, storeErr(err, "changing access filter on "+tableID)
	}
	return s.rowQuery(ctx, h, tableID, rowID, true)
}

// InsertCheckpointRowWithID appends a checkpoint version: the newest
// version's cells overlaid with values, savepoint type NULL. The first
// checkpoint of a fresh row starts from insert defaults.
func (s *Store) InsertCheckpointRowWithID(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	cols *dataservice.ColumnSet, values map[string]any, rowID string) (*dataservice.Table, error) {

	if err := s.requireUserTable(tableID); err != nil {
		return nil, err
	}
	ch, err := s.conn(h)
	if err != nil {
		return nil, err
	}
	newest, err := s.rowQuery(ctx, h, tableID, rowID, true)
	if err != nil {
		return nil, err
	}

	cells := map[string]any{}
	syncState := syncStateNew
	if len(newest.Rows) > 0 {
		for key, idx := range newest.Index {
			cells[key] = newest.Rows[0][idx]
		}
		if st, ok := cells[dataservice.ColSyncState].(string); ok && st != syncStateNew {
			syncState = syncStateChanged
		}
	} else {
		cells[dataservice.ColID] = rowID
		cells[dataservice.ColDefaultAccess] = "FULL"
		cells[dataservice.ColRowOwner] = s.opts.User
	}
	for k, v := range values {
		cells[k] = normalizeValue(v)
	}
	cells[dataservice.ColSyncState] = syncState
	cells[dataservice.ColSavepointType] = nil
	cells[dataservice.ColSavepointTimestamp] = savepointNow()
	cells[dataservice.ColSavepointCreator] = s.opts.User
	if err := s.insertCells(ctx, ch, tableID, cells); err != nil {
		return nil, err
	}
	return s.rowQuery(ctx, h, tableID, rowID, true)
}

func (s *Store) SaveCheckpointAsIncomplete(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	cols *dataservice.ColumnSet, rowID string) (*dataservice.Table, error) {
	return s.saveCheckpoint(ctx, h, tableID, rowID, dataservice.SavepointIncomplete)
}

func (s *Store) SaveCheckpointAsComplete(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	cols *dataservice.ColumnSet, rowID string) (*dataservice.Table, error) {
	return s.saveCheckpoint(ctx, h, tableID, rowID, dataservice.SavepointComplete)
}

// saveCheckpoint promotes the newest checkpoint to the target savepoint
// type and discards the older checkpoints of the row.
func (s *Store) saveCheckpoint(ctx context.Context, h dataservice.Handle, tableID, rowID, target string) (*dataservice.Table, error) {
	if err := s.requireUserTable(tableID); err != nil {
		return nil, err
	}
	ch, err := s.conn(h)
	if err != nil {
		return nil, err
	}
	ts, err := s.newestCheckpoint(ctx, ch, tableID, rowID)
	if err != nil {
		return nil, err
	}
	if ts == "" {
		return nil, errors.Wrapf(dqerr.ErrInvalidState, "no checkpoints to save: %s._id = %s", tableID, rowID)
	}
	q := s.dialect.QuoteIdent
	ph := s.dialect.Placeholder
	promote := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s AND %s = %s AND %s IS NULL",
		q(tableID),
		q(dataservice.ColSavepointType), ph(1),
		q(dataservice.ColID), ph(2),
		q(dataservice.ColSavepointTimestamp), ph(3),
		q(dataservice.ColSavepointType))
	if _, err := ch.conn.ExecContext(ctx, promote, target, rowID, ts); err != nil {
		return nil, storeErr(err, "saving checkpoint on "+tableID)
	}
	drop := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s IS NULL",
		q(tableID), q(dataservice.ColID), ph(1), q(dataservice.ColSavepointType))
	if _, err := ch.conn.ExecContext(ctx, drop, rowID); err != nil {
		return nil, storeErr(err, "saving checkpoint on "+tableID)
	}
	return s.rowQuery(ctx, h, tableID, rowID, true)
}

func (s *Store) DeleteAllCheckpointRowsWithID(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	cols *dataservice.ColumnSet, rowID string) (*dataservice.Table, error) {

	if err := s.requireUserTable(tableID); err != nil {
		return nil, err
	}
	ch, err := s.conn(h)
	if err != nil {
		return nil, err
	}
	q := s.dialect.QuoteIdent
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s IS NULL",
		q(tableID), q(dataservice.ColID), s.dialect.Placeholder(1), q(dataservice.ColSavepointType))
	if _, err := ch.conn.ExecContext(ctx, stmt, rowID); err != nil {
		return nil, storeErr(err, "deleting checkpoints from "+tableID)
	}
	return s.rowQuery(ctx, h, tableID, rowID, false)
}

func (s *Store) DeleteLastCheckpointRowWithID(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	cols *dataservice.ColumnSet, rowID string) (*dataservice.Table, error) {

	if err := s.requireUserTable(tableID); err != nil {
		return nil, err
	}
	ch, err := s.conn(h)
	if err != nil {
		return nil, err
	}
	ts, err := s.newestCheckpoint(ctx, ch, tableID, rowID)
	if err != nil {
		return nil, err
	}
	if ts != "" {
		q := s.dialect.QuoteIdent
		ph := s.dialect.Placeholder
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s AND %s IS NULL",
			q(tableID),
			q(dataservice.ColID), ph(1),
			q(dataservice.ColSavepointTimestamp), ph(2),
			q(dataservice.ColSavepointType))
		if _, err := ch.conn.ExecContext(ctx, stmt, rowID, ts); err != nil {
			return nil, storeErr(err, "deleting checkpoint from "+tableID)
		}
	}
	return s.rowQuery(ctx, h, tableID, rowID, false)
}

func (s *Store) insertCells(ctx context.Context, ch *connHandle, tableID string, cells map[string]any) error {
	q := s.dialect.QuoteIdent
	keys := sortedKeys(cells)
	args := make([]any, 0, len(keys))
	var names, marks strings.Builder
	for i, k := range keys {
		if i > 0 {
			names.WriteString(", ")
			marks.WriteString(", ")
		}
		names.WriteString(q(k))
		marks.WriteString(s.dialect.Placeholder(i + 1))
		args = append(args, cells[k])
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", q(tableID), names.String(), marks.String())
	if _, err := ch.conn.ExecContext(ctx, stmt, args...); err != nil {
		return storeErr(err, "inserting into "+tableID)
	}
	return nil
}

// updateVersion rewrites the version of rowID stamped ts.
func (s *Store) updateVersion(ctx context.Context, ch *connHandle, tableID, rowID, ts string, cells map[string]any) error {
	q := s.dialect.QuoteIdent
	keys := sortedKeys(cells)
	args := make([]any, 0, len(keys)+2)
	var sets strings.Builder
	for i, k := range keys {
		if i > 0 {
			sets.WriteString(", ")
		}
		fmt.Fprintf(&sets, "%s = %s", q(k), s.dialect.Placeholder(i+1))
		args = append(args, cells[k])
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s AND %s = %s",
		q(tableID), sets.String(),
		q(dataservice.ColID), s.dialect.Placeholder(len(keys)+1),
		q(dataservice.ColSavepointTimestamp), s.dialect.Placeholder(len(keys)+2))
	args = append(args, rowID, ts)
	if _, err := ch.conn.ExecContext(ctx, stmt, args...); err != nil {
		return storeErr(err, "updating "+tableID)
	}
	return nil
}

func (s *Store) countVersions(ctx context.Context, ch *connHandle, tableID, rowID string) (int, error) {
	q := s.dialect.QuoteIdent
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s",
		q(tableID), q(dataservice.ColID), s.dialect.Placeholder(1))
	var n int
	if err := ch.conn.QueryRowContext(ctx, stmt, rowID).Scan(&n); err != nil {
		return 0, storeErr(err, "counting versions in "+tableID)
	}
	return n, nil
}

// newestVersion returns the sync state and savepoint timestamp of the
// newest version of rowID, or empty strings when the row is absent.
func (s *Store) newestVersion(ctx context.Context, ch *connHandle, tableID, rowID string) (state, ts string, err error) {
	q := s.dialect.QuoteIdent
	stmt := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = %s ORDER BY %s DESC LIMIT 1",
		q(dataservice.ColSyncState), q(dataservice.ColSavepointTimestamp),
		q(tableID), q(dataservice.ColID), s.dialect.Placeholder(1),
		q(dataservice.ColSavepointTimestamp))
	var st, t sql.NullString
	err = ch.conn.QueryRowContext(ctx, stmt, rowID).Scan(&st, &t)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", storeErr(err, "reading newest version in "+tableID)
	}
	return st.String, t.String, nil
}

// newestCheckpoint returns the savepoint timestamp of the newest
// checkpoint version of rowID, or empty string.
func (s *Store) newestCheckpoint(ctx context.Context, ch *connHandle, tableID, rowID string) (string, error) {
	q := s.dialect.QuoteIdent
	stmt := fmt.Sprintf("SELECT MAX(%s) FROM %s WHERE %s = %s AND %s IS NULL",
		q(dataservice.ColSavepointTimestamp), q(tableID),
		q(dataservice.ColID), s.dialect.Placeholder(1),
		q(dataservice.ColSavepointType))
	var ts sql.NullString
	if err := ch.conn.QueryRowContext(ctx, stmt, rowID).Scan(&ts); err != nil {
		return "", storeErr(err, "reading checkpoints in "+tableID)
	}
	return ts.String, nil
}

func (s *Store) syncStates(ctx context.Context, ch *connHandle, tableID, rowID string) ([]string, error) {
	q := s.dialect.QuoteIdent
	stmt := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s = %s",
		q(dataservice.ColSyncState), q(tableID), q(dataservice.ColID), s.dialect.Placeholder(1))
	rows, err := ch.conn.QueryContext(ctx, stmt, rowID)
	if err != nil {
		return nil, storeErr(err, "reading sync states in "+tableID)
	}
	defer rows.Close()
	var states []string
	for rows.Next() {
		var st sql.NullString
		if err := rows.Scan(&st); err != nil {
			return nil, storeErr(err, "reading sync states in "+tableID)
		}
		states = append(states, st.String)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "reading sync states in "+tableID)
	}
	return states, nil
}

func onlyNewRows(states []string) bool {
	if len(states) == 0 {
		return false
	}
	for _, st := range states {
		if st != syncStateNew {
			return false
		}
	}
	return true
}
