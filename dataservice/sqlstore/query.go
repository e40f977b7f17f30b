package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/wbrunette/dataq/dataservice"
)

// scanTable drains rows into a Table, normalizing []byte cells to
// strings so result values stay JSON-friendly.
func scanTable(tableID string, rows *sql.Rows) (*dataservice.Table, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, storeErr(err, "reading result shape")
	}
	tbl := dataservice.NewTable(tableID, names)
	for rows.Next() {
		cells := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, storeErr(err, "scanning result row")
		}
		for i, v := range cells {
			if b, ok := v.([]byte); ok {
				cells[i] = string(b)
			}
		}
		tbl.Append(cells)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "reading result rows")
	}
	return tbl, nil
}

// buildQuery renders a shaped query over tableID. Bind placeholders are
// renumbered for the dialect; the caller's where clause uses ?.
func (s *Store) buildQuery(tableID string, q *dataservice.QuerySpec) (string, []any) {
	var b strings.Builder
	args := make([]any, 0, len(q.BindArgs))
	fmt.Fprintf(&b, "SELECT * FROM %s", s.dialect.QuoteIdent(tableID))
	if q.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(s.rebind(q.Where, len(args)))
		args = append(args, q.BindArgs...)
	}
	if len(q.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		for i, g := range q.GroupBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(s.dialect.QuoteIdent(g))
		}
		if q.Having != "" {
			b.WriteString(" HAVING ")
			b.WriteString(q.Having)
		}
	}
	if len(q.OrderByKeys) > 0 {
		b.WriteString(" ORDER BY ")
		for i, k := range q.OrderByKeys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(s.dialect.QuoteIdent(k))
			if i < len(q.OrderByDirs) && strings.EqualFold(q.OrderByDirs[i], "DESC") {
				b.WriteString(" DESC")
			} else {
				b.WriteString(" ASC")
			}
		}
	}
	if q.Limit != nil {
		fmt.Fprintf(&b, " LIMIT %d", *q.Limit)
	}
	if q.Offset != nil {
		fmt.Fprintf(&b, " OFFSET %d", *q.Offset)
	}
	return b.String(), args
}

// rebind rewrites ? placeholders for the dialect, numbering them from
// offset+1. Placeholders inside single-quoted literals are left alone.
func (s *Store) rebind(clause string, offset int) string {
	if s.dialect.Placeholder(1) == "?" {
		return clause
	}
	var b strings.Builder
	n := offset
	inLiteral := false
	for _, r := range clause {
		switch {
		case r == '\'':
			inLiteral = !inLiteral
			b.WriteRune(r)
		case r == '?' && !inLiteral:
			n++
			b.WriteString(s.dialect.Placeholder(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *Store) Query(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	cols *dataservice.ColumnSet, q *dataservice.QuerySpec) (*dataservice.Table, error) {

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
	tbl.CanCreateRow = s.canCreateRow(tableID)
	return tbl, nil
}

func (s *Store) ArbitraryQuery(ctx context.Context, namespace string, h dataservice.Handle,
	tableID, sqlCommand string, bindArgs []any, limit, offset *int64) (*dataservice.Table, error) {

	ch, err := s.conn(h)
	if err != nil {
		return nil, err
	}
	stmt := s.rebind(sqlCommand, 0)
	if limit != nil || offset != nil {
		var b strings.Builder
		fmt.Fprintf(&b, "SELECT * FROM (%s) AS windowed", stmt)
		if limit != nil {
			fmt.Fprintf(&b, " LIMIT %d", *limit)
		}
		if offset != nil {
			fmt.Fprintf(&b, " OFFSET %d", *offset)
		}
		stmt = b.String()
	}
	rows, err := ch.conn.QueryContext(ctx, stmt, bindArgs...)
	if err != nil {
		return nil, storeErr(err, "querying "+tableID)
	}
	defer rows.Close()
	tbl, err := scanTable(tableID, rows)
	if err != nil {
		return nil, err
	}
	tbl.Limit, tbl.Offset = limit, offset
	tbl.CanCreateRow = s.canCreateRow(tableID)
	return tbl, nil
}

// RowsWithID returns the full version chain of one row, oldest first.
// Checkpoints sort after saved rows by timestamp.
func (s *Store) RowsWithID(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	cols *dataservice.ColumnSet, rowID string) (*dataservice.Table, error) {

	return s.rowQuery(ctx, h, tableID, rowID, false)
}

// MostRecentRowWithID returns the newest version of one row, checkpoint
// or saved.
func (s *Store) MostRecentRowWithID(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	cols *dataservice.ColumnSet, rowID string) (*dataservice.Table, error) {

	return s.rowQuery(ctx, h, tableID, rowID, true)
}

func (s *Store) rowQuery(ctx context.Context, h dataservice.Handle, tableID, rowID string, newestOnly bool) (*dataservice.Table, error) {
	if err := s.requireUserTable(tableID); err != nil {
		return nil, err
	}
	ch, err := s.conn(h)
	if err != nil {
		return nil, err
	}
	q := s.dialect.QuoteIdent
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s WHERE %s = %s ORDER BY %s",
		q(tableID), q(dataservice.ColID), s.dialect.Placeholder(1), q(dataservice.ColSavepointTimestamp))
	if newestOnly {
		b.WriteString(" DESC LIMIT 1")
	} else {
		b.WriteString(" ASC")
	}
	rows, err := ch.conn.QueryContext(ctx, b.String(), rowID)
	if err != nil {
		return nil, storeErr(err, "querying "+tableID)
	}
	defer rows.Close()
	tbl, err := scanTable(tableID, rows)
	if err != nil {
		return nil, err
	}
	tbl.CanCreateRow = s.canCreateRow(tableID)
	return tbl, nil
}

// canCreateRow is table-level: a locked table accepts new rows only from
// a super user.
func (s *Store) canCreateRow(tableID string) bool {
	for _, r := range s.opts.Roles {
		if r == "ROLE_SUPER_USER_TABLES" || r == "ROLE_ADMINISTER_TABLES" {
			return true
		}
	}
	return !s.locked[tableID]
}
