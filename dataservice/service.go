// Package dataservice defines the narrow interface through which the
// dispatch engine reaches the out-of-process data store, plus the typed
// row-set, column-schema and query-shape values that cross it.
//
// The engine consumes this interface; it never implements it. Concrete
// implementations live in subpackages (sqlstore) or in the embedding
// application.
package dataservice

import "context"

// Handle is an opaque open store connection. A handle is obtained from
// Open, used for one request's operations, and returned through Close.
type Handle interface {
	// ID identifies the handle in logs.
	ID() string
}

// Service is the out-of-process data store binding. Every call is scoped
// to an application namespace. Calls may fail at any time with the
// sentinel faults from dataq_errors (wrapped); in particular Open reports
// ErrUnavailable when the service connection is gone.
type Service interface {
	Open(ctx context.Context, namespace string) (Handle, error)
	Close(ctx context.Context, namespace string, h Handle) error

	Roles(ctx context.Context, namespace string) ([]string, error)
	DefaultGroup(ctx context.Context, namespace string) (string, error)
	Users(ctx context.Context, namespace string) ([]map[string]any, error)

	AllTableIDs(ctx context.Context, namespace string, h Handle) ([]string, error)
	Columns(ctx context.Context, namespace string, h Handle, tableID string) (*ColumnSet, error)

	ArbitraryQuery(ctx context.Context, namespace string, h Handle, tableID, sqlCommand string, bindArgs []any, limit, offset *int64) (*Table, error)
	Query(ctx context.Context, namespace string, h Handle, tableID string, cols *ColumnSet, q *QuerySpec) (*Table, error)
	RowsWithID(ctx context.Context, namespace string, h Handle, tableID string, cols *ColumnSet, rowID string) (*Table, error)
	MostRecentRowWithID(ctx context.Context, namespace string, h Handle, tableID string, cols *ColumnSet, rowID string) (*Table, error)

	InsertRowWithID(ctx context.Context, namespace string, h Handle, tableID string, cols *ColumnSet, values map[string]any, rowID string) (*Table, error)
	UpdateRowWithID(ctx context.Context, namespace string, h Handle, tableID string, cols *ColumnSet, values map[string]any, rowID string) (*Table, error)
	DeleteRowWithID(ctx context.Context, namespace string, h Handle, tableID string, cols *ColumnSet, rowID string) (*Table, error)
	ChangeRowFilterWithID(ctx context.Context, namespace string, h Handle, tableID string, cols *ColumnSet, filter AccessFilter, rowID string) (*Table, error)

	InsertCheckpointRowWithID(ctx context.Context, namespace string, h Handle, tableID string, cols *ColumnSet, values map[string]any, rowID string) (*Table, error)
	SaveCheckpointAsIncomplete(ctx context.Context, namespace string, h Handle, tableID string, cols *ColumnSet, rowID string) (*Table, error)
	SaveCheckpointAsComplete(ctx context.Context, namespace string, h Handle, tableID string, cols *ColumnSet, rowID string) (*Table, error)
	DeleteAllCheckpointRowsWithID(ctx context.Context, namespace string, h Handle, tableID string, cols *ColumnSet, rowID string) (*Table, error)
	DeleteLastCheckpointRowWithID(ctx context.Context, namespace string, h Handle, tableID string, cols *ColumnSet, rowID string) (*Table, error)

	TableMetadata(ctx context.Context, namespace string, h Handle, tableID string) (*TableMetadata, error)
	TableDefinition(ctx context.Context, namespace string, h Handle, tableID string) (*TableDefinition, error)
	ChoiceList(ctx context.Context, namespace string, h Handle, choiceListID string) (string, error)

	CreateLocalTable(ctx context.Context, namespace string, h Handle, tableID string, cols *ColumnSet) (*ColumnSet, error)
	DeleteLocalTable(ctx context.Context, namespace string, h Handle, tableID string) error
	InsertLocalRow(ctx context.Context, namespace string, h Handle, tableID string, values map[string]any) error
	UpdateLocalRows(ctx context.Context, namespace string, h Handle, tableID string, values map[string]any, where string, bindArgs []any) error
	DeleteLocalRows(ctx context.Context, namespace string, h Handle, tableID string, where string, bindArgs []any) error
	QueryLocalTable(ctx context.Context, namespace string, h Handle, tableID string, q *QuerySpec) (*Table, error)
	ArbitraryQueryLocalTable(ctx context.Context, namespace string, h Handle, tableID, sqlCommand string, bindArgs []any, limit, offset *int64) (*Table, error)
}

// AccessFilter carries the row-level access fields settable through the
// change-access-filter command.
type AccessFilter struct {
	DefaultAccess   string
	RowOwner        string
	GroupReadOnly   string
	GroupModify     string
	GroupPrivileged string
}
