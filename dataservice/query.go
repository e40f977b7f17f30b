package dataservice

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// QuerySpec is the shape of a non-arbitrary query: a where clause with
// bind arguments plus grouping, ordering and a result window. Zero values
// mean "absent".
type QuerySpec struct {
	Where       string
	BindArgs    []any
	GroupBy     []string
	Having      string
	OrderByKeys []string
	OrderByDirs []string
	Limit       *int64
	Offset      *int64
}

// ParseBindArgs decodes a JSON array of bind parameter values. An empty
// string yields no arguments.
func ParseBindArgs(bindArgsJSON string) ([]any, error) {
	if bindArgsJSON == "" {
		return nil, nil
	}
	var args []any
	if err := json.Unmarshal([]byte(bindArgsJSON), &args); err != nil {
		return nil, errors.Wrap(err, "dataq: bad bind args")
	}
	return args, nil
}

// ViewQuery is a host-supplied query shape for a view-driven fetch. The
// host stores one per caller; the engine turns it into a regular request
// when the scripted UI asks for its view data.
type ViewQuery interface {
	QueryTableID() string
}

// ArbitraryViewQuery is an arbitrary-SQL view query.
type ArbitraryViewQuery struct {
	TableID  string
	SQL      string
	BindArgs []any
	Limit    *int64
	Offset   *int64
}

func (q ArbitraryViewQuery) QueryTableID() string { return q.TableID }

// SimpleViewQuery is a shaped view query.
type SimpleViewQuery struct {
	TableID string
	Spec    QuerySpec
}

func (q SimpleViewQuery) QueryTableID() string { return q.TableID }

// SingleRowViewQuery targets the checkpoint history of one row.
type SingleRowViewQuery struct {
	TableID string
	RowID   string
}

func (q SingleRowViewQuery) QueryTableID() string { return q.TableID }
