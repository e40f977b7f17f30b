package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	dqerr "github.com/wbrunette/dataq/dataq_errors"
	"github.com/wbrunette/dataq/dataservice"
)

// Bookkeeping tables. One row per user table in tableDefinitions, one
// row per element in columnDefinitions (local tables included), the
// table configuration in keyValueStore, choice lists shared across
// tables.
const (
	tableDefinitions  = "_table_definitions"
	columnDefinitions = "_column_definitions"
	keyValueStore     = "_key_value_store"
	choiceLists       = "_choice_lists"
)

// Init creates the bookkeeping tables when missing.
func (s *Store) Init(ctx context.Context) error {
	q := s.dialect.QuoteIdent
	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			table_id TEXT PRIMARY KEY,
			schema_etag TEXT NOT NULL DEFAULT '',
			last_data_etag TEXT NOT NULL DEFAULT '',
			last_sync_time TEXT NOT NULL DEFAULT ''
		)`, q(tableDefinitions)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			table_id TEXT NOT NULL,
			element_key TEXT NOT NULL,
			element_name TEXT NOT NULL,
			element_type TEXT NOT NULL,
			retained %s NOT NULL,
			pos %s NOT NULL,
			PRIMARY KEY (table_id, element_key)
		)`, q(columnDefinitions), s.dialect.SQLType(dataservice.TypeBool), s.dialect.SQLType(dataservice.TypeInteger)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			table_id TEXT NOT NULL,
			partition TEXT NOT NULL,
			aspect TEXT NOT NULL,
			key TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'text',
			value TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (table_id, partition, aspect, key)
		)`, q(keyValueStore)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			choice_list_id TEXT PRIMARY KEY,
			choice_list_json TEXT NOT NULL
		)`, q(choiceLists)),
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storeErr(err, "initializing store schema")
		}
	}
	return nil
}

// CreateTable creates a user table with the admin columns plus the
// retained elements of cols, and registers its definition. Existing
// tables are left alone.
func (s *Store) CreateTable(ctx context.Context, tableID string, cols *dataservice.ColumnSet) error {
	if err := s.requireUserTable(tableID); err != nil {
		return err
	}
	q := s.dialect.QuoteIdent
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", q(tableID))
	for i, admin := range dataservice.AdminColumns() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(q(admin))
		b.WriteString(" TEXT")
	}
	for _, d := range cols.Defs {
		if !d.Retained {
			continue
		}
		fmt.Fprintf(&b, ", %s %s", q(d.ElementKey), s.dialect.SQLType(d.ElementType))
	}
	b.WriteString(")")
	if _, err := s.db.ExecContext(ctx, b.String()); err != nil {
		return storeErr(err, "creating table "+tableID)
	}
	if err := s.registerColumns(ctx, tableID, cols); err != nil {
		return err
	}
	ph := s.dialect.Placeholder
	ins := fmt.Sprintf("INSERT INTO %s (table_id) VALUES (%s) ON CONFLICT (table_id) DO NOTHING",
		q(tableDefinitions), ph(1))
	if _, err := s.db.ExecContext(ctx, ins, tableID); err != nil {
		return storeErr(err, "registering table "+tableID)
	}
	return nil
}

func (s *Store) registerColumns(ctx context.Context, tableID string, cols *dataservice.ColumnSet) error {
	q := s.dialect.QuoteIdent
	ph := s.dialect.Placeholder
	del := fmt.Sprintf("DELETE FROM %s WHERE table_id = %s", q(columnDefinitions), ph(1))
	if _, err := s.db.ExecContext(ctx, del, tableID); err != nil {
		return storeErr(err, "clearing column definitions for "+tableID)
	}
	ins := fmt.Sprintf(
		"INSERT INTO %s (table_id, element_key, element_name, element_type, retained, pos) VALUES (%s, %s, %s, %s, %s, %s)",
		q(columnDefinitions), ph(1), ph(2), ph(3), ph(4), ph(5), ph(6))
	for i, d := range cols.Defs {
		retained := 0
		if d.Retained {
			retained = 1
		}
		name := d.ElementName
		if name == "" {
			name = d.ElementKey
		}
		if _, err := s.db.ExecContext(ctx, ins, tableID, d.ElementKey, name, d.ElementType, retained, i); err != nil {
			return storeErr(err, "registering column "+d.ElementKey)
		}
	}
	return nil
}

func (s *Store) AllTableIDs(ctx context.Context, namespace string, h dataservice.Handle) ([]string, error) {
	ch, err := s.conn(h)
	if err != nil {
		return nil, err
	}
	q := s.dialect.QuoteIdent
	rows, err := ch.conn.QueryContext(ctx,
		fmt.Sprintf("SELECT table_id FROM %s ORDER BY table_id", q(tableDefinitions)))
	if err != nil {
		return nil, storeErr(err, "listing tables")
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr(err, "listing tables")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "listing tables")
	}
	return ids, nil
}

func (s *Store) Columns(ctx context.Context, namespace string, h dataservice.Handle, tableID string) (*dataservice.ColumnSet, error) {
	ch, err := s.conn(h)
	if err != nil {
		return nil, err
	}
	q := s.dialect.QuoteIdent
	ph := s.dialect.Placeholder
	stmt := fmt.Sprintf(
		"SELECT element_key, element_name, element_type, retained FROM %s WHERE table_id = %s ORDER BY pos",
		q(columnDefinitions), ph(1))
	rows, err := ch.conn.QueryContext(ctx, stmt, tableID)
	if err != nil {
		return nil, storeErr(err, "reading columns of "+tableID)
	}
	defer rows.Close()
	cols := &dataservice.ColumnSet{TableID: tableID}
	for rows.Next() {
		var d dataservice.ColumnDef
		var retained int
		if err := rows.Scan(&d.ElementKey, &d.ElementName, &d.ElementType, &retained); err != nil {
			return nil, storeErr(err, "reading columns of "+tableID)
		}
		d.Retained = retained != 0
		cols.Defs = append(cols.Defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "reading columns of "+tableID)
	}
	if len(cols.Defs) == 0 {
		return nil, errors.Wrapf(dqerr.ErrInvalidState, "no such table: %s", tableID)
	}
	return cols, nil
}

// PutKVEntries replaces the configuration entries for one table.
func (s *Store) PutKVEntries(ctx context.Context, tableID string, entries []dataservice.KVEntry) error {
	q := s.dialect.QuoteIdent
	ph := s.dialect.Placeholder
	del := fmt.Sprintf("DELETE FROM %s WHERE table_id = %s", q(keyValueStore), ph(1))
	if _, err := s.db.ExecContext(ctx, del, tableID); err != nil {
		return storeErr(err, "clearing configuration for "+tableID)
	}
	ins := fmt.Sprintf(
		"INSERT INTO %s (table_id, partition, aspect, key, type, value) VALUES (%s, %s, %s, %s, %s, %s)",
		q(keyValueStore), ph(1), ph(2), ph(3), ph(4), ph(5), ph(6))
	for _, e := range entries {
		if _, err := s.db.ExecContext(ctx, ins, tableID, e.Partition, e.Aspect, e.Key, e.Type, e.Value); err != nil {
			return storeErr(err, "writing configuration for "+tableID)
		}
	}
	return nil
}

// PutChoiceList stores or replaces one choice list definition.
func (s *Store) PutChoiceList(ctx context.Context, choiceListID, choiceListJSON string) error {
	q := s.dialect.QuoteIdent
	ph := s.dialect.Placeholder
	stmt := fmt.Sprintf(
		"INSERT INTO %s (choice_list_id, choice_list_json) VALUES (%s, %s) ON CONFLICT (choice_list_id) DO UPDATE SET choice_list_json = %s",
		q(choiceLists), ph(1), ph(2), ph(3))
	if _, err := s.db.ExecContext(ctx, stmt, choiceListID, choiceListJSON, choiceListJSON); err != nil {
		return storeErr(err, "writing choice list "+choiceListID)
	}
	return nil
}

func (s *Store) ChoiceList(ctx context.Context, namespace string, h dataservice.Handle, choiceListID string) (string, error) {
	ch, err := s.conn(h)
	if err != nil {
		return "", err
	}
	q := s.dialect.QuoteIdent
	ph := s.dialect.Placeholder
	stmt := fmt.Sprintf("SELECT choice_list_json FROM %s WHERE choice_list_id = %s", q(choiceLists), ph(1))
	var raw string
	err = ch.conn.QueryRowContext(ctx, stmt, choiceListID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storeErr(err, "reading choice list "+choiceListID)
	}
	return raw, nil
}
