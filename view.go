package dataq

import (
	"github.com/pkg/errors"

	dqerr "github.com/wbrunette/dataq/dataq_errors"
	"github.com/wbrunette/dataq/dataservice"
)

// View is the per-UI-instance entry point: one builder method per public
// command. Each method assembles a Request and queues it on the host's
// current Context; results come back asynchronously through the host's
// Deliver channel, tagged with the callback token.
//
// Methods return an error only for arguments that cannot be decoded on
// the calling side. Everything else, including an unavailable data
// service, is reported through the response envelope.
type View struct {
	f      *Factory
	host   Host
	caller string
}

// NewView binds a view identified by caller to a host.
func NewView(f *Factory, host Host, caller string) *View {
	return &View{f: f, host: host, caller: caller}
}

// Caller returns the view's routing token.
func (v *View) Caller() string { return v.caller }

// Context returns the live Context serving this view's host.
func (v *View) Context() *Context {
	return v.f.Context(v.host)
}

// ShutdownContext tears down the host's current Context, draining its
// queue with unavailable envelopes and rolling back open transactions.
func (v *View) ShutdownContext(reason string) {
	v.f.Context(v.host).Shutdown(reason)
}

func (v *View) queue(r *Request) {
	r.Caller = v.caller
	v.f.Context(v.host).QueueRequest(r)
}

func (v *View) GetRoles(callback string) {
	v.queue(&Request{Type: RequestGetRoles, Callback: callback})
}

func (v *View) GetDefaultGroup(callback string) {
	v.queue(&Request{Type: RequestGetDefaultGroup, Callback: callback})
}

func (v *View) GetUsers(callback string) {
	v.queue(&Request{Type: RequestGetUsers, Callback: callback})
}

func (v *View) GetAllTableIDs(callback string) {
	v.queue(&Request{Type: RequestGetAllTableIDs, Callback: callback})
}

// ArbitraryQuery queues a raw SQL query against tableID's result shape.
// bindArgsJSON is a JSON array of parameter values.
func (v *View) ArbitraryQuery(tableID, sqlCommand, bindArgsJSON string, limit, offset *int64,
	includeFullMetadata bool, metaDataRev, callback string) error {

	args, err := dataservice.ParseBindArgs(bindArgsJSON)
	if err != nil {
		return err
	}
	v.queue(&Request{
		Type:                RequestArbitraryQuery,
		TableID:             tableID,
		SQL:                 sqlCommand,
		Query:               &dataservice.QuerySpec{BindArgs: args, Limit: limit, Offset: offset},
		IncludeFullMetadata: includeFullMetadata,
		MetaDataRev:         metaDataRev,
		Callback:            callback,
	})
	return nil
}

// Query queues a shaped query.
func (v *View) Query(tableID string, q *dataservice.QuerySpec,
	includeFullMetadata bool, metaDataRev, callback string) {

	v.queue(&Request{
		Type:                RequestUserTableQuery,
		TableID:             tableID,
		Query:               q,
		IncludeFullMetadata: includeFullMetadata,
		MetaDataRev:         metaDataRev,
		Callback:            callback,
	})
}

// GetRows queues a fetch of the full checkpoint history of one row.
func (v *View) GetRows(tableID, rowID string, includeFullMetadata bool, metaDataRev, callback string) {
	v.queue(&Request{
		Type: RequestGetRows, TableID: tableID, RowID: rowID,
		IncludeFullMetadata: includeFullMetadata, MetaDataRev: metaDataRev, Callback: callback,
	})
}

// GetMostRecentRow queues a fetch of the latest state of one row.
func (v *View) GetMostRecentRow(tableID, rowID string, includeFullMetadata bool, metaDataRev, callback string) {
	v.queue(&Request{
		Type: RequestGetMostRecentRow, TableID: tableID, RowID: rowID,
		IncludeFullMetadata: includeFullMetadata, MetaDataRev: metaDataRev, Callback: callback,
	})
}

func (v *View) UpdateRow(tableID, valuesJSON, rowID string, includeFullMetadata bool, metaDataRev, callback string) {
	v.queue(&Request{
		Type: RequestUpdateRow, TableID: tableID, RowID: rowID, ValuesJSON: valuesJSON,
		IncludeFullMetadata: includeFullMetadata, MetaDataRev: metaDataRev, Callback: callback,
	})
}

// ChangeAccessFilterOfRow queues an update limited to the row-level
// access fields.
func (v *View) ChangeAccessFilterOfRow(tableID, valuesJSON, rowID string, includeFullMetadata bool, metaDataRev, callback string) {
	v.queue(&Request{
		Type: RequestChangeAccessFilterRow, TableID: tableID, RowID: rowID, ValuesJSON: valuesJSON,
		IncludeFullMetadata: includeFullMetadata, MetaDataRev: metaDataRev, Callback: callback,
	})
}

func (v *View) DeleteRow(tableID, rowID string, includeFullMetadata bool, metaDataRev, callback string) {
	v.queue(&Request{
		Type: RequestDeleteRow, TableID: tableID, RowID: rowID,
		IncludeFullMetadata: includeFullMetadata, MetaDataRev: metaDataRev, Callback: callback,
	})
}

func (v *View) AddRow(tableID, valuesJSON, rowID string, includeFullMetadata bool, metaDataRev, callback string) {
	v.queue(&Request{
		Type: RequestAddRow, TableID: tableID, RowID: rowID, ValuesJSON: valuesJSON,
		IncludeFullMetadata: includeFullMetadata, MetaDataRev: metaDataRev, Callback: callback,
	})
}

func (v *View) AddCheckpoint(tableID, valuesJSON, rowID string, includeFullMetadata bool, metaDataRev, callback string) {
	v.queue(&Request{
		Type: RequestAddCheckpoint, TableID: tableID, RowID: rowID, ValuesJSON: valuesJSON,
		IncludeFullMetadata: includeFullMetadata, MetaDataRev: metaDataRev, Callback: callback,
	})
}

// SaveCheckpointAsIncomplete applies pending values as a checkpoint,
// then marks the row's checkpoint chain INCOMPLETE.
func (v *View) SaveCheckpointAsIncomplete(tableID, valuesJSON, rowID string, includeFullMetadata bool, metaDataRev, callback string) {
	v.queue(&Request{
		Type: RequestSaveCheckpointAsIncomplete, TableID: tableID, RowID: rowID, ValuesJSON: valuesJSON,
		IncludeFullMetadata: includeFullMetadata, MetaDataRev: metaDataRev, Callback: callback,
	})
}

// SaveCheckpointAsComplete applies pending values as a checkpoint, then
// marks the row's checkpoint chain COMPLETE.
func (v *View) SaveCheckpointAsComplete(tableID, valuesJSON, rowID string, includeFullMetadata bool, metaDataRev, callback string) {
	v.queue(&Request{
		Type: RequestSaveCheckpointAsComplete, TableID: tableID, RowID: rowID, ValuesJSON: valuesJSON,
		IncludeFullMetadata: includeFullMetadata, MetaDataRev: metaDataRev, Callback: callback,
	})
}

func (v *View) DeleteAllCheckpoints(tableID, rowID string, includeFullMetadata bool, metaDataRev, callback string) {
	v.queue(&Request{
		Type: RequestDeleteAllCheckpoints, TableID: tableID, RowID: rowID,
		IncludeFullMetadata: includeFullMetadata, MetaDataRev: metaDataRev, Callback: callback,
	})
}

func (v *View) DeleteLastCheckpoint(tableID, rowID string, includeFullMetadata bool, metaDataRev, callback string) {
	v.queue(&Request{
		Type: RequestDeleteLastCheckpoint, TableID: tableID, RowID: rowID,
		IncludeFullMetadata: includeFullMetadata, MetaDataRev: metaDataRev, Callback: callback,
	})
}

// CreateLocalTable queues creation of a local-only table. columnsJSON is
// the JSON column definition list.
func (v *View) CreateLocalTable(tableID, columnsJSON, callback string) {
	v.queue(&Request{Type: RequestCreateLocalTable, TableID: tableID, ValuesJSON: columnsJSON, Callback: callback})
}

func (v *View) DeleteLocalTable(tableID, callback string) {
	v.queue(&Request{Type: RequestDeleteLocalTable, TableID: tableID, Callback: callback})
}

func (v *View) InsertLocalRow(tableID, valuesJSON, callback string) {
	v.queue(&Request{Type: RequestInsertLocalRow, TableID: tableID, ValuesJSON: valuesJSON, Callback: callback})
}

func (v *View) UpdateLocalRows(tableID, valuesJSON, whereClause, bindArgsJSON, callback string) error {
	args, err := dataservice.ParseBindArgs(bindArgsJSON)
	if err != nil {
		return err
	}
	v.queue(&Request{
		Type: RequestUpdateLocalRows, TableID: tableID, ValuesJSON: valuesJSON,
		Query: &dataservice.QuerySpec{Where: whereClause, BindArgs: args}, Callback: callback,
	})
	return nil
}

func (v *View) DeleteLocalRows(tableID, whereClause, bindArgsJSON, callback string) error {
	args, err := dataservice.ParseBindArgs(bindArgsJSON)
	if err != nil {
		return err
	}
	v.queue(&Request{
		Type: RequestDeleteLocalRows, TableID: tableID,
		Query: &dataservice.QuerySpec{Where: whereClause, BindArgs: args}, Callback: callback,
	})
	return nil
}

func (v *View) QueryLocalTable(tableID string, q *dataservice.QuerySpec, callback string) {
	v.queue(&Request{Type: RequestQueryLocalTable, TableID: tableID, Query: q, Callback: callback})
}

func (v *View) ArbitraryQueryLocalTable(tableID, sqlCommand, bindArgsJSON string, limit, offset *int64, callback string) error {
	args, err := dataservice.ParseBindArgs(bindArgsJSON)
	if err != nil {
		return err
	}
	v.queue(&Request{
		Type:     RequestArbitraryQueryLocalTable,
		TableID:  tableID,
		SQL:      sqlCommand,
		Query:    &dataservice.QuerySpec{BindArgs: args, Limit: limit, Offset: offset},
		Callback: callback,
	})
	return nil
}

// GetViewData re-runs the host's pending view query for this caller,
// windowed by limit and offset. The host supplies the query shape; a
// view with no pending query gets an invalid-state error.
func (v *View) GetViewData(limit, offset *int64, includeFullMetadata bool, metaDataRev, callback string) error {
	vq := v.host.ViewQuery(v.caller)
	if vq == nil {
		return errors.Wrap(dqerr.ErrInvalidState, "no view query pending for caller "+v.caller)
	}
	switch q := vq.(type) {
	case dataservice.ArbitraryViewQuery:
		v.queue(&Request{
			Type:    RequestArbitraryQuery,
			TableID: q.TableID,
			SQL:     q.SQL,
			Query: &dataservice.QuerySpec{
				BindArgs: q.BindArgs,
				Limit:    windowed(limit, q.Limit),
				Offset:   windowed(offset, q.Offset),
			},
			IncludeFullMetadata: includeFullMetadata,
			MetaDataRev:         metaDataRev,
			Callback:            callback,
		})
	case dataservice.SimpleViewQuery:
		spec := q.Spec
		spec.Limit = windowed(limit, q.Spec.Limit)
		spec.Offset = windowed(offset, q.Spec.Offset)
		v.queue(&Request{
			Type:                RequestUserTableQuery,
			TableID:             q.TableID,
			Query:               &spec,
			IncludeFullMetadata: includeFullMetadata,
			MetaDataRev:         metaDataRev,
			Callback:            callback,
		})
	case dataservice.SingleRowViewQuery:
		v.queue(&Request{
			Type: RequestGetRows, TableID: q.TableID, RowID: q.RowID,
			IncludeFullMetadata: includeFullMetadata, MetaDataRev: metaDataRev, Callback: callback,
		})
	default:
		return errors.Wrap(dqerr.ErrInvalidState, "unrecognized view query shape")
	}
	return nil
}

// windowed prefers the caller's window over the stored query's.
func windowed(override, stored *int64) *int64 {
	if override != nil {
		return override
	}
	return stored
}
