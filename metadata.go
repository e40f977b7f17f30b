package dataq

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	dqerr "github.com/wbrunette/dataq/dataq_errors"
	"github.com/wbrunette/dataq/dataservice"
)

// validateRequest rejects requests that are missing required routing
// fields before any store connection is opened.
func validateRequest(req *Request) error {
	switch req.Type {
	case RequestGetRoles, RequestGetDefaultGroup, RequestGetUsers, RequestGetAllTableIDs:
		return nil
	}
	if req.TableID == "" {
		return errors.Wrapf(dqerr.ErrInvalidState, "%s: tableId cannot be null", req.Type.String())
	}
	switch req.Type {
	case RequestGetRows, RequestGetMostRecentRow,
		RequestUpdateRow, RequestChangeAccessFilterRow, RequestDeleteRow, RequestAddRow,
		RequestAddCheckpoint, RequestSaveCheckpointAsIncomplete, RequestSaveCheckpointAsComplete,
		RequestDeleteAllCheckpoints, RequestDeleteLastCheckpoint:
		if req.RowID == "" {
			return errors.Wrapf(dqerr.ErrInvalidState, "%s: rowId cannot be null", req.Type.String())
		}
	case RequestArbitraryQuery, RequestArbitraryQueryLocalTable:
		if req.SQL == "" {
			return errors.Wrapf(dqerr.ErrInvalidState, "%s: sqlCommand cannot be null", req.Type.String())
		}
	case RequestCreateLocalTable, RequestInsertLocalRow, RequestUpdateLocalRows:
		if req.ValuesJSON == "" {
			return errors.Wrapf(dqerr.ErrInvalidState, "%s: values cannot be null", req.Type.String())
		}
	}
	switch req.Type {
	case RequestUpdateRow, RequestAddRow, RequestAddCheckpoint, RequestChangeAccessFilterRow:
		if req.ValuesJSON == "" {
			return errors.Wrapf(dqerr.ErrInvalidState, "%s: values cannot be null", req.Type.String())
		}
	}
	return nil
}

// userTableMetadata assembles the metadata block of a user-table
// response: always the row-set shape (element key positions, query
// window, create permission), the table's sync identity when asked for,
// and the full configuration block only when the caller's revision
// token is stale.
func (p *RequestProcessor) userTableMetadata(ctx context.Context, req *Request,
	cols *dataservice.ColumnSet, tbl *dataservice.Table, includeDefinition bool) (map[string]any, error) {

	meta := map[string]any{
		"tableId":       req.TableID,
		"elementKeyMap": tbl.Index,
		"canCreateRow":  tbl.CanCreateRow,
	}
	if tbl.Limit != nil {
		meta["limit"] = *tbl.Limit
	}
	if tbl.Offset != nil {
		meta["offset"] = *tbl.Offset
	}

	if includeDefinition {
		def, err := p.svc.TableDefinition(ctx, p.ns(), p.handle, req.TableID)
		if err != nil {
			return nil, err
		}
		if def != nil {
			meta["schemaETag"] = def.SchemaETag
			meta["lastDataETag"] = def.LastDataETag
			meta["lastSyncTime"] = def.LastSyncTime
		}
	}

	if !req.IncludeFullMetadata {
		return meta, nil
	}
	md, err := p.svc.TableMetadata(ctx, p.ns(), p.handle, req.TableID)
	if err != nil {
		return nil, err
	}
	if md == nil {
		return nil, errors.Wrapf(dqerr.ErrStore, "no metadata for table %s", req.TableID)
	}
	meta["metaDataRev"] = md.Revision
	if req.MetaDataRev == md.Revision {
		// The caller's cached copy is current.
		return meta, nil
	}

	choices, err := p.choiceListMap(ctx, md.Entries)
	if err != nil {
		return nil, err
	}
	cached := map[string]any{
		"metaDataRev":       md.Revision,
		"dataTableModel":    cols.DataModel(),
		"keyValueStoreList": md.Entries,
		"choiceListMap":     choices,
	}
	if p.Extend != nil {
		if err := p.Extend(ctx, p.svc, p.handle, md.Entries, tbl, cached); err != nil {
			return nil, err
		}
	}
	meta["cachedMetadata"] = cached
	return meta, nil
}

// choiceListMap resolves every distinct choice list referenced by the
// column configuration into its decoded definition.
func (p *RequestProcessor) choiceListMap(ctx context.Context, entries []dataservice.KVEntry) (map[string]any, error) {
	choices := map[string]any{}
	for _, e := range entries {
		if e.Partition != dataservice.KVPartitionColumn || e.Key != dataservice.KVKeyDisplayChoices {
			continue
		}
		listID := e.Value
		if listID == "" {
			continue
		}
		if _, ok := choices[listID]; ok {
			continue
		}
		raw, err := p.svc.ChoiceList(ctx, p.ns(), p.handle, listID)
		if err != nil {
			return nil, err
		}
		if raw == "" {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			// Ship the raw text rather than failing the whole request.
			choices[listID] = raw
			continue
		}
		choices[listID] = decoded
	}
	return choices, nil
}

// localTableMetadata is the reduced metadata block of a local-only
// query. Local tables carry no sync identity and no configuration.
func localTableMetadata(tbl *dataservice.Table) map[string]any {
	meta := map[string]any{
		"tableId":       tbl.TableID,
		"elementKeyMap": tbl.Index,
		"canCreateRow":  true,
	}
	if tbl.Limit != nil {
		meta["limit"] = *tbl.Limit
	}
	if tbl.Offset != nil {
		meta["offset"] = *tbl.Offset
	}
	return meta
}
