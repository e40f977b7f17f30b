package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	dqerr "github.com/wbrunette/dataq/dataq_errors"
	"github.com/wbrunette/dataq/dataservice"
)

// TableMetadata returns the configuration snapshot for tableID. The
// revision token is a hash over the column schema and every entry, so
// any configuration change yields a new token.
func (s *Store) TableMetadata(ctx context.Context, namespace string, h dataservice.Handle, tableID string) (*dataservice.TableMetadata, error) {
	ch, err := s.conn(h)
	if err != nil {
		return nil, err
	}
	cols, err := s.Columns(ctx, namespace, h, tableID)
	if err != nil {
		return nil, err
	}
	q := s.dialect.QuoteIdent
	stmt := fmt.Sprintf(
		"SELECT partition, aspect, key, type, value FROM %s WHERE table_id = %s ORDER BY partition, aspect, key",
		q(keyValueStore), s.dialect.Placeholder(1))
	rows, err := ch.conn.QueryContext(ctx, stmt, tableID)
	if err != nil {
		return nil, storeErr(err, "reading configuration of "+tableID)
	}
	defer rows.Close()
	md := &dataservice.TableMetadata{TableID: tableID}
	for rows.Next() {
		var e dataservice.KVEntry
		if err := rows.Scan(&e.Partition, &e.Aspect, &e.Key, &e.Type, &e.Value); err != nil {
			return nil, storeErr(err, "reading configuration of "+tableID)
		}
		md.Entries = append(md.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "reading configuration of "+tableID)
	}
	md.Revision = revisionToken(cols, md.Entries)
	return md, nil
}

// revisionToken hashes the schema and configuration into an opaque
// token. Inputs are length-framed so field boundaries cannot collide.
func revisionToken(cols *dataservice.ColumnSet, entries []dataservice.KVEntry) string {
	d := xxhash.New()
	frame := func(parts ...string) {
		for _, p := range parts {
			var lenbuf [8]byte
			n := len(p)
			for i := 0; i < 8; i++ {
				lenbuf[i] = byte(n >> (8 * i))
			}
			d.Write(lenbuf[:])
			d.WriteString(p)
		}
	}
	for _, c := range cols.Defs {
		retained := "0"
		if c.Retained {
			retained = "1"
		}
		frame(c.ElementKey, c.ElementName, c.ElementType, retained)
	}
	for _, e := range entries {
		frame(e.Partition, e.Aspect, e.Key, e.Type, e.Value)
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

func (s *Store) TableDefinition(ctx context.Context, namespace string, h dataservice.Handle, tableID string) (*dataservice.TableDefinition, error) {
	ch, err := s.conn(h)
	if err != nil {
		return nil, err
	}
	q := s.dialect.QuoteIdent
	stmt := fmt.Sprintf(
		"SELECT schema_etag, last_data_etag, last_sync_time FROM %s WHERE table_id = %s",
		q(tableDefinitions), s.dialect.Placeholder(1))
	def := &dataservice.TableDefinition{TableID: tableID}
	err = ch.conn.QueryRowContext(ctx, stmt, tableID).Scan(&def.SchemaETag, &def.LastDataETag, &def.LastSyncTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(dqerr.ErrInvalidState, "no such table: %s", tableID)
	}
	if err != nil {
		return nil, storeErr(err, "reading definition of "+tableID)
	}
	return def, nil
}

// SetSyncTags records the sync-layer identity of one table. Used by the
// sync layer, not by the dispatch engine.
func (s *Store) SetSyncTags(ctx context.Context, tableID, schemaETag, lastDataETag, lastSyncTime string) error {
	q := s.dialect.QuoteIdent
	ph := s.dialect.Placeholder
	stmt := fmt.Sprintf(
		"UPDATE %s SET schema_etag = %s, last_data_etag = %s, last_sync_time = %s WHERE table_id = %s",
		q(tableDefinitions), ph(1), ph(2), ph(3), ph(4))
	if _, err := s.db.ExecContext(ctx, stmt, schemaETag, lastDataETag, lastSyncTime, tableID); err != nil {
		return storeErr(err, "updating sync tags of "+tableID)
	}
	return nil
}
