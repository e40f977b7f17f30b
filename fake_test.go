package dataq

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/wbrunette/dataq/dataservice"
)

// fakeHandle is an in-memory store connection.
type fakeHandle struct {
	id string
}

func (h *fakeHandle) ID() string { return h.id }

// fakeService is an in-memory Service with canned schemas and result
// sets. An optional gate holds Query calls so tests can pin a request
// in flight.
type fakeService struct {
	mu       sync.Mutex
	opens    int
	closes   int
	openErr  error
	closeErr error
	queryLog []string

	gate chan struct{}

	colFetches int

	cols    map[string]*dataservice.ColumnSet
	results map[string]*dataservice.Table
	md      map[string]*dataservice.TableMetadata
	defs    map[string]*dataservice.TableDefinition
	choices map[string]string
	roles   []string
}

func newFakeService() *fakeService {
	cols := &dataservice.ColumnSet{
		TableID: "tea_houses",
		Defs: []dataservice.ColumnDef{
			{ElementKey: "name", ElementName: "name", ElementType: dataservice.TypeString, Retained: true},
			{ElementKey: "visits", ElementName: "visits", ElementType: dataservice.TypeInteger, Retained: true},
		},
	}
	tbl := dataservice.NewTable("tea_houses", []string{"_id", "name", "visits"})
	tbl.Append([]any{"r1", "Sencha", int64(3)})
	tbl.CanCreateRow = true
	return &fakeService{
		cols:    map[string]*dataservice.ColumnSet{"tea_houses": cols},
		results: map[string]*dataservice.Table{"tea_houses": tbl},
		md: map[string]*dataservice.TableMetadata{
			"tea_houses": {TableID: "tea_houses", Revision: "rev-1"},
		},
		defs: map[string]*dataservice.TableDefinition{
			"tea_houses": {TableID: "tea_houses", SchemaETag: "se", LastDataETag: "de", LastSyncTime: "t0"},
		},
		choices: map[string]string{},
		roles:   []string{"ROLE_USER"},
	}
}

func (s *fakeService) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *fakeService) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *fakeService) queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queryLog...)
}

func (s *fakeService) Open(ctx context.Context, namespace string) (dataservice.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.opens++
	return &fakeHandle{id: "h" + strconv.Itoa(s.opens)}, nil
}

func (s *fakeService) Close(ctx context.Context, namespace string, h dataservice.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeErr != nil {
		return s.closeErr
	}
	s.closes++
	return nil
}

func (s *fakeService) Roles(ctx context.Context, namespace string) ([]string, error) {
	return s.roles, nil
}

func (s *fakeService) DefaultGroup(ctx context.Context, namespace string) (string, error) {
	return "", nil
}

func (s *fakeService) Users(ctx context.Context, namespace string) ([]map[string]any, error) {
	return []map[string]any{{"user_id": "tester"}}, nil
}

func (s *fakeService) AllTableIDs(ctx context.Context, namespace string, h dataservice.Handle) ([]string, error) {
	return []string{"tea_houses"}, nil
}

func (s *fakeService) Columns(ctx context.Context, namespace string, h dataservice.Handle, tableID string) (*dataservice.ColumnSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.colFetches++
	return s.cols[tableID], nil
}

func (s *fakeService) result(tableID, tag string) *dataservice.Table {
	s.mu.Lock()
	s.queryLog = append(s.queryLog, tag)
	gate := s.gate
	tbl := s.results[tableID]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if tbl == nil {
		tbl = dataservice.NewTable(tableID, []string{"_id"})
	}
	return tbl
}

func (s *fakeService) ArbitraryQuery(ctx context.Context, namespace string, h dataservice.Handle, tableID, sqlCommand string, bindArgs []any, limit, offset *int64) (*dataservice.Table, error) {
	return s.result(tableID, sqlCommand), nil
}

func (s *fakeService) Query(ctx context.Context, namespace string, h dataservice.Handle, tableID string, cols *dataservice.ColumnSet, q *dataservice.QuerySpec) (*dataservice.Table, error) {
	return s.result(tableID, q.Where), nil
}

func (s *fakeService) RowsWithID(ctx context.Context, namespace string, h dataservice.Handle, tableID string, cols *dataservice.ColumnSet, rowID string) (*dataservice.Table, error) {
	return s.result(tableID, "rows:"+rowID), nil
}

func (s *fakeService) MostRecentRowWithID(ctx context.Context, namespace string, h dataservice.Handle, tableID string, cols *dataservice.ColumnSet, rowID string) (*dataservice.Table, error) {
	return s.result(tableID, "recent:"+rowID), nil
}

func (s *fakeService) InsertRowWithID(ctx context.Context, namespace string, h dataservice.Handle, tableID string, cols *dataservice.ColumnSet, values map[string]any, rowID string) (*dataservice.Table, error) {
	return s.result(tableID, "insert:"+rowID), nil
}

func (s *fakeService) UpdateRowWithID(ctx context.Context, namespace string, h dataservice.Handle, tableID string, cols *dataservice.ColumnSet, values map[string]any, rowID string) (*dataservice.Table, error) {
	return s.result(tableID, "update:"+rowID), nil
}

func (s *fakeService) DeleteRowWithID(ctx context.Context, namespace string, h dataservice.Handle, tableID string, cols *dataservice.ColumnSet, rowID string) (*dataservice.Table, error) {
	return s.result(tableID, "delete:"+rowID), nil
}

func (s *fakeService) ChangeRowFilterWithID(ctx context.Context, namespace string, h dataservice.Handle, tableID string, cols *dataservice.ColumnSet, filter dataservice.AccessFilter, rowID string) (*dataservice.Table, error) {
	return s.result(tableID, "filter:"+rowID), nil
}

func (s *fakeService) InsertCheckpointRowWithID(ctx context.Context, namespace string, h dataservice.Handle, tableID string, cols *dataservice.ColumnSet, values map[string]any, rowID string) (*dataservice.Table, error) {
	return s.result(tableID, "checkpoint:"+rowID), nil
}

func (s *fakeService) SaveCheckpointAsIncomplete(ctx context.Context, namespace string, h dataservice.Handle, tableID string, cols *dataservice.ColumnSet, rowID string) (*dataservice.Table, error) {
	return s.result(tableID, "save-incomplete:"+rowID), nil
}

func (s *fakeService) SaveCheckpointAsComplete(ctx context.Context, namespace string, h dataservice.Handle, tableID string, cols *dataservice.ColumnSet, rowID string) (*dataservice.Table, error) {
	return s.result(tableID, "save-complete:"+rowID), nil
}

func (s *fakeService) DeleteAllCheckpointRowsWithID(ctx context.Context, namespace string, h dataservice.Handle, tableID string, cols *dataservice.ColumnSet, rowID string) (*dataservice.Table, error) {
	return s.result(tableID, "delete-checkpoints:"+rowID), nil
}

func (s *fakeService) DeleteLastCheckpointRowWithID(ctx context.Context, namespace string, h dataservice.Handle, tableID string, cols *dataservice.ColumnSet, rowID string) (*dataservice.Table, error) {
	return s.result(tableID, "delete-last-checkpoint:"+rowID), nil
}

func (s *fakeService) TableMetadata(ctx context.Context, namespace string, h dataservice.Handle, tableID string) (*dataservice.TableMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.md[tableID], nil
}

func (s *fakeService) TableDefinition(ctx context.Context, namespace string, h dataservice.Handle, tableID string) (*dataservice.TableDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defs[tableID], nil
}

func (s *fakeService) ChoiceList(ctx context.Context, namespace string, h dataservice.Handle, choiceListID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.choices[choiceListID], nil
}

func (s *fakeService) CreateLocalTable(ctx context.Context, namespace string, h dataservice.Handle, tableID string, cols *dataservice.ColumnSet) (*dataservice.ColumnSet, error) {
	return cols, nil
}

func (s *fakeService) DeleteLocalTable(ctx context.Context, namespace string, h dataservice.Handle, tableID string) error {
	return nil
}

func (s *fakeService) InsertLocalRow(ctx context.Context, namespace string, h dataservice.Handle, tableID string, values map[string]any) error {
	return nil
}

func (s *fakeService) UpdateLocalRows(ctx context.Context, namespace string, h dataservice.Handle, tableID string, values map[string]any, where string, bindArgs []any) error {
	return nil
}

func (s *fakeService) DeleteLocalRows(ctx context.Context, namespace string, h dataservice.Handle, tableID string, where string, bindArgs []any) error {
	return nil
}

func (s *fakeService) QueryLocalTable(ctx context.Context, namespace string, h dataservice.Handle, tableID string, q *dataservice.QuerySpec) (*dataservice.Table, error) {
	return s.result(tableID, "local:"+q.Where), nil
}

func (s *fakeService) ArbitraryQueryLocalTable(ctx context.Context, namespace string, h dataservice.Handle, tableID, sqlCommand string, bindArgs []any, limit, offset *int64) (*dataservice.Table, error) {
	return s.result(tableID, "local-sql:"+sqlCommand), nil
}

// fakeHost collects delivered envelopes on a channel.
type fakeHost struct {
	ns   string
	resp chan string

	mu        sync.Mutex
	svc       dataservice.Service
	listeners []ConnectionListener
	vq        dataservice.ViewQuery
}

func newFakeHost(svc dataservice.Service) *fakeHost {
	return &fakeHost{ns: "default", svc: svc, resp: make(chan string, 128)}
}

func (h *fakeHost) Namespace() string { return h.ns }

func (h *fakeHost) Service() dataservice.Service {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.svc
}

func (h *fakeHost) setService(svc dataservice.Service) {
	h.mu.Lock()
	h.svc = svc
	listeners := append([]ConnectionListener(nil), h.listeners...)
	h.mu.Unlock()
	for _, l := range listeners {
		if svc != nil {
			l.ServiceAvailable()
		} else {
			l.ServiceUnavailable()
		}
	}
}

func (h *fakeHost) NewProcessor(c *Context) Processor { return NewProcessor(c) }

func (h *fakeHost) Deliver(responseJSON string, caller string) {
	h.resp <- responseJSON
}

func (h *fakeHost) ViewQuery(caller string) dataservice.ViewQuery {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vq
}

func (h *fakeHost) RegisterConnectionListener(l ConnectionListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, l)
}

func (h *fakeHost) UnregisterConnectionListener(l ConnectionListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, reg := range h.listeners {
		if reg == l {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			return
		}
	}
}

func (h *fakeHost) listenerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// awaitEnvelope blocks for one delivered envelope, decoded.
func awaitEnvelope(t *testing.T, h *fakeHost) map[string]any {
	t.Helper()
	select {
	case raw := <-h.resp:
		var e map[string]any
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			t.Fatalf("bad envelope %q: %v", raw, err)
		}
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("no envelope delivered")
		return nil
	}
}

func testFactory() *Factory {
	return NewFactory(Options{})
}
