package dataq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	dqerr "github.com/wbrunette/dataq/dataq_errors"
	"github.com/wbrunette/dataq/dataservice"
	"github.com/wbrunette/dataq/utils"
)

// MetadataExtender adds tool-specific entries (row/column color maps and
// the like) to the full metadata block of a user-table response.
type MetadataExtender func(ctx context.Context, svc dataservice.Service, h dataservice.Handle,
	entries []dataservice.KVEntry, tbl *dataservice.Table, metadata map[string]any) error

// RequestProcessor executes the head request of a Context's queue:
// validate, open a store connection, register the transaction, dispatch
// on the command tag, then close, unregister, report and pop on every
// path. The queue never stalls on a request the processor has started.
type RequestProcessor struct {
	c   *Context
	log utils.Logger

	// Extend, when set, is applied to full-metadata responses.
	Extend MetadataExtender

	req    *Request
	svc    dataservice.Service
	handle dataservice.Handle
	txn    string
}

// NewProcessor constructs the default processor for c. Hosts with no
// tool-specific metadata return it as-is from their NewProcessor hook.
func NewProcessor(c *Context) *RequestProcessor {
	return &RequestProcessor{c: c, log: c.log}
}

// Run executes at most one request to completion.
func (p *RequestProcessor) Run() {
	req := p.c.ClaimRequest()
	if req == nil {
		// no work to do
		return
	}
	p.req = req

	start := time.Now()
	defer func() {
		p.c.stats.processed.Add(1)
		p.c.stats.latency.Observe(time.Since(start))
	}()

	if req.Type == RequestContextSwitch {
		p.c.releaseAndRetire("context superseded")
		return
	}

	ctx := context.Background()

	if err := validateRequest(req); err != nil {
		// Fail fast: no store connection is opened for a request that
		// cannot execute.
		p.c.stats.failed.Add(1)
		p.c.ReportError(req.Callback, req.Caller, FaultTag(err), err.Error())
		p.c.PopRequest(true)
		return
	}

	svc := p.c.host.Service()
	if svc == nil {
		p.c.stats.failed.Add(1)
		p.c.ReportError(req.Callback, req.Caller, FaultUnavailable,
			dqerr.ErrUnavailable.Error()+": no data service connection")
		p.c.PopRequest(true)
		return
	}
	p.svc = svc

	h, err := svc.Open(ctx, p.c.host.Namespace())
	if err != nil || h == nil {
		if err == nil {
			err = errors.Wrap(dqerr.ErrUnavailable, "unable to open store connection")
		}
		p.c.stats.failed.Add(1)
		p.c.ReportError(req.Callback, req.Caller, FaultTag(err), err.Error())
		p.c.PopRequest(true)
		return
	}
	p.handle = h

	p.txn = uuid.NewString()
	if err := p.c.RegisterActiveConnection(p.txn, h); err != nil {
		p.fail(ctx, err)
		return
	}

	data, meta, err := p.dispatch(ctx, req)
	if err != nil {
		p.fail(ctx, err)
		return
	}
	p.succeed(ctx, data, meta)
}

// fail closes the store connection (best effort, the handler error
// wins), unregisters the transaction, reports the error and pops.
func (p *RequestProcessor) fail(ctx context.Context, opErr error) {
	if p.handle != nil {
		if cerr := p.svc.Close(ctx, p.c.host.Namespace(), p.handle); cerr != nil {
			p.log.Warn("error while releasing store connection", "err", cerr)
		}
	}
	p.c.RemoveActiveConnection(p.txn)
	p.c.stats.failed.Add(1)
	p.c.ReportError(p.req.Callback, p.req.Caller, FaultTag(opErr), opErr.Error())
	p.c.PopRequest(true)
}

// succeed closes the store connection, unregisters the transaction and
// reports. A close failure downgrades the response to an error envelope
// rather than losing the caller's callback.
func (p *RequestProcessor) succeed(ctx context.Context, data [][]any, meta map[string]any) {
	var closeErr error
	if err := p.svc.Close(ctx, p.c.host.Namespace(), p.handle); err != nil {
		closeErr = errors.Wrap(err, "error while closing store connection")
		p.log.Warn("close after successful operation failed", "err", closeErr)
	}
	p.c.RemoveActiveConnection(p.txn)
	if closeErr != nil {
		p.c.stats.failed.Add(1)
		p.c.ReportError(p.req.Callback, p.req.Caller, FaultTag(closeErr), closeErr.Error())
	} else {
		p.c.ReportSuccess(p.req.Callback, p.req.Caller, data, meta)
	}
	p.c.PopRequest(true)
}

func (p *RequestProcessor) dispatch(ctx context.Context, req *Request) ([][]any, map[string]any, error) {
	switch req.Type {
	case RequestGetRoles:
		return p.getRoles(ctx)
	case RequestGetDefaultGroup:
		return p.getDefaultGroup(ctx)
	case RequestGetUsers:
		return p.getUsers(ctx)
	case RequestGetAllTableIDs:
		return p.getAllTableIDs(ctx)
	case RequestArbitraryQuery:
		return p.arbitraryQuery(ctx, req)
	case RequestUserTableQuery:
		return p.userTableQuery(ctx, req)
	case RequestGetRows:
		return p.rowOp(ctx, req, func(ctx context.Context, cols *dataservice.ColumnSet) (*dataservice.Table, error) {
			return p.svc.RowsWithID(ctx, p.ns(), p.handle, req.TableID, cols, req.RowID)
		})
	case RequestGetMostRecentRow:
		return p.rowOp(ctx, req, func(ctx context.Context, cols *dataservice.ColumnSet) (*dataservice.Table, error) {
			return p.svc.MostRecentRowWithID(ctx, p.ns(), p.handle, req.TableID, cols, req.RowID)
		})
	case RequestUpdateRow:
		return p.valuesRowOp(ctx, req, p.svc.UpdateRowWithID)
	case RequestAddRow:
		return p.valuesRowOp(ctx, req, p.svc.InsertRowWithID)
	case RequestAddCheckpoint:
		return p.valuesRowOp(ctx, req, p.svc.InsertCheckpointRowWithID)
	case RequestChangeAccessFilterRow:
		return p.changeAccessFilterRow(ctx, req)
	case RequestDeleteRow:
		return p.rowOp(ctx, req, func(ctx context.Context, cols *dataservice.ColumnSet) (*dataservice.Table, error) {
			return p.svc.DeleteRowWithID(ctx, p.ns(), p.handle, req.TableID, cols, req.RowID)
		})
	case RequestSaveCheckpointAsIncomplete:
		return p.saveCheckpoint(ctx, req, p.svc.SaveCheckpointAsIncomplete)
	case RequestSaveCheckpointAsComplete:
		return p.saveCheckpoint(ctx, req, p.svc.SaveCheckpointAsComplete)
	case RequestDeleteAllCheckpoints:
		return p.rowOp(ctx, req, func(ctx context.Context, cols *dataservice.ColumnSet) (*dataservice.Table, error) {
			return p.svc.DeleteAllCheckpointRowsWithID(ctx, p.ns(), p.handle, req.TableID, cols, req.RowID)
		})
	case RequestDeleteLastCheckpoint:
		return p.rowOp(ctx, req, func(ctx context.Context, cols *dataservice.ColumnSet) (*dataservice.Table, error) {
			return p.svc.DeleteLastCheckpointRowWithID(ctx, p.ns(), p.handle, req.TableID, cols, req.RowID)
		})
	case RequestCreateLocalTable:
		return p.createLocalTable(ctx, req)
	case RequestDeleteLocalTable:
		return nil, nil, p.svc.DeleteLocalTable(ctx, p.ns(), p.handle, req.TableID)
	case RequestInsertLocalRow:
		return p.insertLocalRow(ctx, req)
	case RequestUpdateLocalRows:
		return p.updateLocalRows(ctx, req)
	case RequestDeleteLocalRows:
		return p.deleteLocalRows(ctx, req)
	case RequestQueryLocalTable:
		return p.queryLocalTable(ctx, req)
	case RequestArbitraryQueryLocalTable:
		return p.arbitraryQueryLocalTable(ctx, req)
	default:
		return nil, nil, errors.Wrapf(dqerr.ErrNotImplemented, "request type %d", int(req.Type))
	}
}

func (p *RequestProcessor) ns() string { return p.c.host.Namespace() }

// columns returns the column schema for tableID, from the context cache
// or freshly fetched.
func (p *RequestProcessor) columns(ctx context.Context, tableID string) (*dataservice.ColumnSet, error) {
	if cols, ok := p.c.CachedColumns(tableID); ok {
		return cols, nil
	}
	cols, err := p.svc.Columns(ctx, p.ns(), p.handle, tableID)
	if err != nil {
		return nil, err
	}
	p.c.PutCachedColumns(tableID, cols)
	return cols, nil
}

func (p *RequestProcessor) getRoles(ctx context.Context) ([][]any, map[string]any, error) {
	roles, err := p.svc.Roles(ctx, p.ns())
	if err != nil {
		return nil, nil, err
	}
	return nil, map[string]any{"roles": roles}, nil
}

func (p *RequestProcessor) getDefaultGroup(ctx context.Context) ([][]any, map[string]any, error) {
	group, err := p.svc.DefaultGroup(ctx, p.ns())
	if err != nil {
		return nil, nil, err
	}
	meta := map[string]any{}
	if group != "" {
		meta["defaultGroup"] = group
	}
	return nil, meta, nil
}

func (p *RequestProcessor) getUsers(ctx context.Context) ([][]any, map[string]any, error) {
	users, err := p.svc.Users(ctx, p.ns())
	if err != nil {
		return nil, nil, err
	}
	return nil, map[string]any{"users": users}, nil
}

func (p *RequestProcessor) getAllTableIDs(ctx context.Context) ([][]any, map[string]any, error) {
	ids, err := p.svc.AllTableIDs(ctx, p.ns(), p.handle)
	if err != nil {
		return nil, nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return nil, map[string]any{"tableIds": ids}, nil
}

func (p *RequestProcessor) arbitraryQuery(ctx context.Context, req *Request) ([][]any, map[string]any, error) {
	cols, err := p.columns(ctx, req.TableID)
	if err != nil {
		return nil, nil, err
	}
	var bindArgs []any
	var limit, offset *int64
	if req.Query != nil {
		bindArgs = req.Query.BindArgs
		limit, offset = req.Query.Limit, req.Query.Offset
	}
	tbl, err := p.svc.ArbitraryQuery(ctx, p.ns(), p.handle, req.TableID, req.SQL, bindArgs, limit, offset)
	if err != nil {
		return nil, nil, err
	}
	if tbl == nil {
		return nil, nil, errors.Wrapf(dqerr.ErrStore, "unable to query %s with: %s", req.TableID, req.SQL)
	}
	meta, err := p.userTableMetadata(ctx, req, cols, tbl, false)
	if err != nil {
		return nil, nil, err
	}
	return tableData(cols, tbl), meta, nil
}

func (p *RequestProcessor) userTableQuery(ctx context.Context, req *Request) ([][]any, map[string]any, error) {
	cols, err := p.columns(ctx, req.TableID)
	if err != nil {
		return nil, nil, err
	}
	q := req.Query
	if q == nil {
		q = &dataservice.QuerySpec{}
	}
	tbl, err := p.svc.Query(ctx, p.ns(), p.handle, req.TableID, cols, q)
	if err != nil {
		return nil, nil, err
	}
	if tbl == nil {
		return nil, nil, errors.Wrapf(dqerr.ErrStore, "unable to query %s", req.TableID)
	}
	meta, err := p.userTableMetadata(ctx, req, cols, tbl, true)
	if err != nil {
		return nil, nil, err
	}
	return tableData(cols, tbl), meta, nil
}

// rowOp runs a table-returning operation that needs only the column
// schema and the row id.
func (p *RequestProcessor) rowOp(ctx context.Context, req *Request,
	op func(context.Context, *dataservice.ColumnSet) (*dataservice.Table, error)) ([][]any, map[string]any, error) {

	cols, err := p.columns(ctx, req.TableID)
	if err != nil {
		return nil, nil, err
	}
	tbl, err := op(ctx, cols)
	if err != nil {
		return nil, nil, err
	}
	if tbl == nil {
		return nil, nil, errors.Wrapf(dqerr.ErrStore, "unable to %s for %s._id = %s",
			req.Type.String(), req.TableID, req.RowID)
	}
	meta, err := p.userTableMetadata(ctx, req, cols, tbl, true)
	if err != nil {
		return nil, nil, err
	}
	return tableData(cols, tbl), meta, nil
}

type valuesRowFn func(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	cols *dataservice.ColumnSet, values map[string]any, rowID string) (*dataservice.Table, error)

// valuesRowOp runs a mutation that takes a converted value map.
func (p *RequestProcessor) valuesRowOp(ctx context.Context, req *Request, op valuesRowFn) ([][]any, map[string]any, error) {
	cols, err := p.columns(ctx, req.TableID)
	if err != nil {
		return nil, nil, err
	}
	values, err := convertValues(cols, req.ValuesJSON)
	if err != nil {
		return nil, nil, err
	}
	tbl, err := op(ctx, p.ns(), p.handle, req.TableID, cols, values, req.RowID)
	if err != nil {
		return nil, nil, err
	}
	if tbl == nil {
		return nil, nil, errors.Wrapf(dqerr.ErrStore, "unable to %s for %s._id = %s",
			req.Type.String(), req.TableID, req.RowID)
	}
	meta, err := p.userTableMetadata(ctx, req, cols, tbl, true)
	if err != nil {
		return nil, nil, err
	}
	return tableData(cols, tbl), meta, nil
}

func (p *RequestProcessor) changeAccessFilterRow(ctx context.Context, req *Request) ([][]any, map[string]any, error) {
	cols, err := p.columns(ctx, req.TableID)
	if err != nil {
		return nil, nil, err
	}
	values, err := convertValues(cols, req.ValuesJSON)
	if err != nil {
		return nil, nil, err
	}
	filter := dataservice.AccessFilter{
		DefaultAccess:   stringValue(values[dataservice.ColDefaultAccess]),
		RowOwner:        stringValue(values[dataservice.ColRowOwner]),
		GroupReadOnly:   stringValue(values[dataservice.ColGroupReadOnly]),
		GroupModify:     stringValue(values[dataservice.ColGroupModify]),
		GroupPrivileged: stringValue(values[dataservice.ColGroupPrivileged]),
	}
	tbl, err := p.svc.ChangeRowFilterWithID(ctx, p.ns(), p.handle, req.TableID, cols, filter, req.RowID)
	if err != nil {
		return nil, nil, err
	}
	if tbl == nil {
		return nil, nil, errors.Wrapf(dqerr.ErrStore, "unable to change access filter for %s._id = %s",
			req.TableID, req.RowID)
	}
	meta, err := p.userTableMetadata(ctx, req, cols, tbl, true)
	if err != nil {
		return nil, nil, err
	}
	return tableData(cols, tbl), meta, nil
}

type saveCheckpointFn func(ctx context.Context, namespace string, h dataservice.Handle, tableID string,
	cols *dataservice.ColumnSet, rowID string) (*dataservice.Table, error)

// saveCheckpoint first applies any pending value changes as one more
// checkpoint, then collapses the checkpoint history to the target
// savepoint type.
func (p *RequestProcessor) saveCheckpoint(ctx context.Context, req *Request, op saveCheckpointFn) ([][]any, map[string]any, error) {
	cols, err := p.columns(ctx, req.TableID)
	if err != nil {
		return nil, nil, err
	}
	if req.ValuesJSON != "" {
		values, err := convertValues(cols, req.ValuesJSON)
		if err != nil {
			return nil, nil, err
		}
		if len(values) > 0 {
			if _, err := p.svc.InsertCheckpointRowWithID(ctx, p.ns(), p.handle, req.TableID, cols, values, req.RowID); err != nil {
				return nil, nil, err
			}
		}
	}
	tbl, err := op(ctx, p.ns(), p.handle, req.TableID, cols, req.RowID)
	if err != nil {
		return nil, nil, err
	}
	if tbl == nil {
		return nil, nil, errors.Wrapf(dqerr.ErrStore, "unable to %s for %s._id = %s",
			req.Type.String(), req.TableID, req.RowID)
	}
	meta, err := p.userTableMetadata(ctx, req, cols, tbl, true)
	if err != nil {
		return nil, nil, err
	}
	return tableData(cols, tbl), meta, nil
}

func (p *RequestProcessor) createLocalTable(ctx context.Context, req *Request) ([][]any, map[string]any, error) {
	var defs []dataservice.ColumnDef
	if err := json.Unmarshal([]byte(req.ValuesJSON), &defs); err != nil {
		return nil, nil, errors.Wrap(dqerr.ErrInvalidState, "bad column list: "+err.Error())
	}
	cols := &dataservice.ColumnSet{TableID: req.TableID, Defs: defs}
	created, err := p.svc.CreateLocalTable(ctx, p.ns(), p.handle, req.TableID, cols)
	if err != nil {
		return nil, nil, err
	}
	if created == nil {
		return nil, nil, errors.Wrapf(dqerr.ErrStore, "unable to create table %s", req.TableID)
	}
	return nil, nil, nil
}

func (p *RequestProcessor) insertLocalRow(ctx context.Context, req *Request) ([][]any, map[string]any, error) {
	values, err := convertLocalValues(req.ValuesJSON)
	if err != nil {
		return nil, nil, err
	}
	return nil, nil, p.svc.InsertLocalRow(ctx, p.ns(), p.handle, req.TableID, values)
}

func (p *RequestProcessor) updateLocalRows(ctx context.Context, req *Request) ([][]any, map[string]any, error) {
	values, err := convertLocalValues(req.ValuesJSON)
	if err != nil {
		return nil, nil, err
	}
	var where string
	var bindArgs []any
	if req.Query != nil {
		where, bindArgs = req.Query.Where, req.Query.BindArgs
	}
	return nil, nil, p.svc.UpdateLocalRows(ctx, p.ns(), p.handle, req.TableID, values, where, bindArgs)
}

func (p *RequestProcessor) deleteLocalRows(ctx context.Context, req *Request) ([][]any, map[string]any, error) {
	var where string
	var bindArgs []any
	if req.Query != nil {
		where, bindArgs = req.Query.Where, req.Query.BindArgs
	}
	return nil, nil, p.svc.DeleteLocalRows(ctx, p.ns(), p.handle, req.TableID, where, bindArgs)
}

func (p *RequestProcessor) queryLocalTable(ctx context.Context, req *Request) ([][]any, map[string]any, error) {
	cols, err := p.columns(ctx, req.TableID)
	if err != nil {
		return nil, nil, err
	}
	q := req.Query
	if q == nil {
		q = &dataservice.QuerySpec{}
	}
	tbl, err := p.svc.QueryLocalTable(ctx, p.ns(), p.handle, req.TableID, q)
	if err != nil {
		return nil, nil, err
	}
	if tbl == nil {
		return nil, nil, errors.Wrapf(dqerr.ErrStore, "unable to query %s", req.TableID)
	}
	return tableData(cols, tbl), localTableMetadata(tbl), nil
}

func (p *RequestProcessor) arbitraryQueryLocalTable(ctx context.Context, req *Request) ([][]any, map[string]any, error) {
	cols, err := p.columns(ctx, req.TableID)
	if err != nil {
		return nil, nil, err
	}
	var bindArgs []any
	var limit, offset *int64
	if req.Query != nil {
		bindArgs = req.Query.BindArgs
		limit, offset = req.Query.Limit, req.Query.Offset
	}
	tbl, err := p.svc.ArbitraryQueryLocalTable(ctx, p.ns(), p.handle, req.TableID, req.SQL, bindArgs, limit, offset)
	if err != nil {
		return nil, nil, err
	}
	if tbl == nil {
		return nil, nil, errors.Wrapf(dqerr.ErrStore, "unable to query %s with: %s", req.TableID, req.SQL)
	}
	return tableData(cols, tbl), localTableMetadata(tbl), nil
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
