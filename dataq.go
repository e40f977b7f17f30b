// Package dataq is a per-view dispatch engine for asynchronous data
// operations issued by an embedded scripted UI against an out-of-process
// data store.
//
// All operations of one view funnel through one Context: a FIFO request
// queue drained by a single worker goroutine, so store operations never
// interleave. The Context also tracks every open store connection by
// transaction id so they can be force-closed when the view goes away or
// the service connection is lost, and it correlates every asynchronous
// result back to the caller that requested it via an opaque callback
// token.
package dataq

import (
	"log/slog"
	"time"

	"github.com/wbrunette/dataq/dataservice"
	"github.com/wbrunette/dataq/utils"
)

// Options tune a Factory and the Contexts it creates.
type Options struct {
	Logger utils.Logger

	// ShutdownTimeout bounds the wait for an in-flight request when a
	// Context is torn down.
	ShutdownTimeout time.Duration

	// ColumnCacheSize is the per-context column-schema cache capacity.
	ColumnCacheSize int
}

func (o *Options) SetDefaults() {
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = 3 * time.Second
	}
	if o.ColumnCacheSize == 0 {
		o.ColumnCacheSize = 128
	}
}

// RequestType tags one queued data operation.
type RequestType int

const (
	RequestUnknown RequestType = iota

	RequestGetRoles
	RequestGetDefaultGroup
	RequestGetUsers
	RequestGetAllTableIDs

	RequestArbitraryQuery
	RequestUserTableQuery
	RequestGetRows
	RequestGetMostRecentRow

	RequestUpdateRow
	RequestChangeAccessFilterRow
	RequestDeleteRow
	RequestAddRow

	RequestAddCheckpoint
	RequestSaveCheckpointAsIncomplete
	RequestSaveCheckpointAsComplete
	RequestDeleteAllCheckpoints
	RequestDeleteLastCheckpoint

	RequestCreateLocalTable
	RequestDeleteLocalTable
	RequestInsertLocalRow
	RequestUpdateLocalRows
	RequestDeleteLocalRows
	RequestQueryLocalTable
	RequestArbitraryQueryLocalTable

	// RequestContextSwitch is the internal marker that tells a superseded
	// Context to release its resources. Never caller-issued.
	RequestContextSwitch
)

var requestTypeNames = map[RequestType]string{
	RequestGetRoles:                   "getRoles",
	RequestGetDefaultGroup:            "getDefaultGroup",
	RequestGetUsers:                   "getUsers",
	RequestGetAllTableIDs:             "getAllTableIds",
	RequestArbitraryQuery:             "arbitraryQuery",
	RequestUserTableQuery:             "userTableQuery",
	RequestGetRows:                    "getRows",
	RequestGetMostRecentRow:           "getMostRecentRow",
	RequestUpdateRow:                  "updateRow",
	RequestChangeAccessFilterRow:      "changeAccessFilterRow",
	RequestDeleteRow:                  "deleteRow",
	RequestAddRow:                     "addRow",
	RequestAddCheckpoint:              "addCheckpoint",
	RequestSaveCheckpointAsIncomplete: "saveCheckpointAsIncomplete",
	RequestSaveCheckpointAsComplete:   "saveCheckpointAsComplete",
	RequestDeleteAllCheckpoints:       "deleteAllCheckpoints",
	RequestDeleteLastCheckpoint:       "deleteLastCheckpoint",
	RequestCreateLocalTable:           "createLocalOnlyTable",
	RequestDeleteLocalTable:           "deleteLocalOnlyTable",
	RequestInsertLocalRow:             "insertLocalOnlyRow",
	RequestUpdateLocalRows:            "updateLocalOnlyRows",
	RequestDeleteLocalRows:            "deleteLocalOnlyRows",
	RequestQueryLocalTable:            "simpleQueryLocalOnlyTables",
	RequestArbitraryQueryLocalTable:   "arbitrarySqlQueryLocalOnlyTables",
	RequestContextSwitch:              "contextSwitch",
}

func (t RequestType) String() string {
	if s, ok := requestTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// Request is one queued asynchronous data operation plus the tokens that
// route its result back to the caller. Requests are immutable once
// queued; unused fields stay at their zero value.
type Request struct {
	Type RequestType

	TableID string
	RowID   string

	// ValuesJSON is the serialized value map for row mutations, or the
	// serialized column list for local table creation.
	ValuesJSON string

	// SQL is the statement of an arbitrary query.
	SQL string

	// Query is the shape of a non-arbitrary query. Arbitrary queries use
	// it for the limit/offset window only.
	Query *dataservice.QuerySpec

	// MetaDataRev is the metadata revision token the caller already
	// holds; a matching token suppresses the full metadata block.
	MetaDataRev string

	// IncludeFullMetadata asks for the full schema and key-value
	// configuration block, subject to revision gating.
	IncludeFullMetadata bool

	// Callback is the caller-supplied token echoed in the response
	// envelope. An empty callback suppresses error envelopes.
	Callback string

	// Caller routes the response to the issuing view.
	Caller string
}
