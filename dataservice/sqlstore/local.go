package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/wbrunette/dataq/dataservice"
)

// Local-only tables are plain tables under the L_ prefix: no admin
// columns, no version chains, never synced.

func (s *Store) CreateLocalTable(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	cols *dataservice.ColumnSet) (*dataservice.ColumnSet, error) {

	if err := s.requireLocalTable(tableID); err != nil {
		return nil, err
	}
	ch, err := s.conn(h)
	if err != nil {
		return nil, err
	}
	q := s.dialect.QuoteIdent
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", q(tableID))
	first := true
	for _, d := range cols.Defs {
		if !d.Retained {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%s %s", q(d.ElementKey), s.dialect.SQLType(d.ElementType))
	}
	b.WriteString(")")
	if _, err := ch.conn.ExecContext(ctx, b.String()); err != nil {
		return nil, storeErr(err, "creating table "+tableID)
	}
	if err := s.registerColumns(ctx, tableID, cols); err != nil {
		return nil, err
	}
	return cols, nil
}

func (s *Store) DeleteLocalTable(ctx context.Context, namespace string, h dataservice.Handle, tableID string) error {
	if err := s.requireLocalTable(tableID); err != nil {
		return err
	}
	ch, err := s.conn(h)
	if err != nil {
		return err
	}
	q := s.dialect.QuoteIdent
	if _, err := ch.conn.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", q(tableID))); err != nil {
		return storeErr(err, "dropping table "+tableID)
	}
	del := fmt.Sprintf("DELETE FROM %s WHERE table_id = %s", q(columnDefinitions), s.dialect.Placeholder(1))
	if _, err := ch.conn.ExecContext(ctx, del, tableID); err != nil {
		return storeErr(err, "unregistering table "+tableID)
	}
	return nil
}

func (s *Store) InsertLocalRow(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	values map[string]any) error {

	if err := s.requireLocalTable(tableID); err != nil {
		return err
	}
	ch, err := s.conn(h)
	if err != nil {
		return err
	}
	cells := make(map[string]any, len(values))
	for k, v := range values {
		cells[k] = normalizeValue(v)
	}
	return s.insertCells(ctx, ch, tableID, cells)
}

func (s *Store) UpdateLocalRows(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	values map[string]any, where string, bindArgs []any) error {

	if err := s.requireLocalTable(tableID); err != nil {
		return err
	}
	ch, err := s.conn(h)
	if err != nil {
		return err
	}
	q := s.dialect.QuoteIdent
	keys := sortedKeys(values)
	args := make([]any, 0, len(keys)+len(bindArgs))
	var sets strings.Builder
	for i, k := range keys {
		if i > 0 {
			sets.WriteString(", ")
		}
		fmt.Fprintf(&sets, "%s = %s", q(k), s.dialect.Placeholder(i+1))
		args = append(args, normalizeValue(values[k]))
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s", q(tableID), sets.String())
	if where != "" {
		stmt += " WHERE " + s.rebind(where, len(args))
		args = append(args, bindArgs...)
	}
	if _, err := ch.conn.ExecContext(ctx, stmt, args...); err != nil {
		return storeErr(err, "updating "+tableID)
	}
	return nil
}

func (s *Store) DeleteLocalRows(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	where string, bindArgs []any) error {

	if err := s.requireLocalTable(tableID); err != nil {
		return err
	}
	ch, err := s.conn(h)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s", s.dialect.QuoteIdent(tableID))
	var args []any
	if where != "" {
		stmt += " WHERE " + s.rebind(where, 0)
		args = bindArgs
	}
	if _, err := ch.conn.ExecContext(ctx, stmt, args...); err != nil {
		return storeErr(err, "deleting from "+tableID)
	}
	return nil
}

func (s *Store) QueryLocalTable(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	q *dataservice.QuerySpec) (*dataservice.Table, error) {

	if err := s.requireLocalTable(tableID); err != nil {
		return nil, err
	}
	ch, err := s.conn(h)
	if err != nil {
		return nil, err
	}
	stmt, args := s.buildQuery(tableID, q)
	rows, err := ch.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, storeErr(err, "querying "+tableID)
	}
	defer rows.Close()
	tbl, err := scanTable(tableID, rows)
	if err != nil {
		return nil, err
	}
	tbl.Limit, tbl.Offset = q.Limit, q.Offset
	tbl.CanCreateRow = true
	return tbl, nil
}

func (s *Store) ArbitraryQueryLocalTable(ctx context.Context, namespace string, h dataservice.Handle,
	tableID, sqlCommand string, bindArgs []any, limit, offset *int64) (*dataservice.Table, error) {

	if err := s.requireLocalTable(tableID); err != nil {
		return nil, err
	}
	return s.ArbitraryQuery(ctx, namespace, h, tableID, sqlCommand, bindArgs, limit, offset)
}
