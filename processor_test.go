package dataq

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dqerr "github.com/wbrunette/dataq/dataq_errors"
	"github.com/wbrunette/dataq/dataservice"
)

func TestSuccessEnvelopeShape(t *testing.T) {
	svc := newFakeService()
	h := newFakeHost(svc)
	c := testFactory().Context(h)
	defer c.Shutdown("test done")

	c.QueueRequest(queryRequest("", "cb1"))
	e := awaitEnvelope(t, h)

	assert.Equal(t, "cb1", e["callback"])
	assert.Nil(t, e["fault"])
	data, ok := e["data"].([]any)
	require.True(t, ok)
	require.Len(t, data, 1)
	row := data[0].([]any)
	assert.Equal(t, "Sencha", row[1])

	meta, ok := e["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tea_houses", meta["tableId"])
	assert.Equal(t, true, meta["canCreateRow"])
	assert.Equal(t, "se", meta["schemaETag"])
	ekm, ok := meta["elementKeyMap"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), ekm["name"])
	_, present := meta["cachedMetadata"]
	assert.False(t, present)
}

func TestMetadataRevisionGating(t *testing.T) {
	svc := newFakeService()
	h := newFakeHost(svc)
	c := testFactory().Context(h)
	defer c.Shutdown("test done")

	// caller holds the current revision: no full block
	req := queryRequest("", "cb1")
	req.IncludeFullMetadata = true
	req.MetaDataRev = "rev-1"
	c.QueueRequest(req)
	e := awaitEnvelope(t, h)
	meta := e["metadata"].(map[string]any)
	assert.Equal(t, "rev-1", meta["metaDataRev"])
	_, present := meta["cachedMetadata"]
	assert.False(t, present)

	// stale revision: full block ships
	req = queryRequest("", "cb2")
	req.IncludeFullMetadata = true
	req.MetaDataRev = "rev-0"
	c.QueueRequest(req)
	e = awaitEnvelope(t, h)
	meta = e["metadata"].(map[string]any)
	cached, ok := meta["cachedMetadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "rev-1", cached["metaDataRev"])
	model, ok := cached["dataTableModel"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, model, "visits")
}

func TestValidationBeforeConnectionOpens(t *testing.T) {
	svc := newFakeService()
	h := newFakeHost(svc)
	c := testFactory().Context(h)
	defer c.Shutdown("test done")

	c.QueueRequest(&Request{
		Type:     RequestArbitraryQuery,
		SQL:      "SELECT 1",
		Callback: "cb1",
		Caller:   "view-1",
	})
	e := awaitEnvelope(t, h)
	assert.Equal(t, FaultInvalidState, e["fault"])
	assert.Contains(t, e["error"], "tableId")
	assert.Equal(t, 0, svc.openCount())
}

func TestCloseFailureDowngradesSuccess(t *testing.T) {
	svc := newFakeService()
	svc.closeErr = errors.Wrap(dqerr.ErrStore, "connection lost mid close")
	h := newFakeHost(svc)
	c := testFactory().Context(h)
	defer c.Shutdown("test done")

	c.QueueRequest(queryRequest("", "cb1"))
	e := awaitEnvelope(t, h)
	assert.Equal(t, FaultStore, e["fault"])
	assert.Nil(t, e["data"])
	assert.Equal(t, 0, c.ActiveConnectionCount())
	assert.Equal(t, 0, c.QueueDepth())
}

func TestRequestWithoutCallbackFailsSilently(t *testing.T) {
	svc := newFakeService()
	h := newFakeHost(nil)
	c := testFactory().Context(h)
	defer c.Shutdown("test done")

	c.QueueRequest(&Request{
		Type:    RequestUserTableQuery,
		TableID: "tea_houses",
		Query:   &dataservice.QuerySpec{},
		Caller:  "view-1",
	})
	c.QueueRequest(queryRequest("after", "cb2"))
	// only the callback-bearing request produces an envelope; the queue
	// kept moving past the silent one
	e := awaitEnvelope(t, h)
	assert.Equal(t, "cb2", e["callback"])
	assert.Equal(t, 0, svc.openCount())
}

func TestIdentityCommands(t *testing.T) {
	svc := newFakeService()
	h := newFakeHost(svc)
	c := testFactory().Context(h)
	defer c.Shutdown("test done")

	c.QueueRequest(&Request{Type: RequestGetRoles, Callback: "cb1", Caller: "view-1"})
	e := awaitEnvelope(t, h)
	meta := e["metadata"].(map[string]any)
	assert.Equal(t, []any{"ROLE_USER"}, meta["roles"])

	c.QueueRequest(&Request{Type: RequestGetAllTableIDs, Callback: "cb2", Caller: "view-1"})
	e = awaitEnvelope(t, h)
	meta = e["metadata"].(map[string]any)
	assert.Equal(t, []any{"tea_houses"}, meta["tableIds"])
}

func TestLocalRowOpsReportBareSuccess(t *testing.T) {
	svc := newFakeService()
	h := newFakeHost(svc)
	c := testFactory().Context(h)
	defer c.Shutdown("test done")

	c.QueueRequest(&Request{
		Type:       RequestInsertLocalRow,
		TableID:    "L_scratch",
		ValuesJSON: `{"note":"draft"}`,
		Callback:   "cb1",
		Caller:     "view-1",
	})
	e := awaitEnvelope(t, h)
	assert.Equal(t, "cb1", e["callback"])
	assert.Nil(t, e["fault"])
	assert.Nil(t, e["data"])
}

func TestColumnSchemaFetchedOncePerContext(t *testing.T) {
	svc := newFakeService()
	h := newFakeHost(svc)
	c := testFactory().Context(h)
	defer c.Shutdown("test done")

	c.QueueRequest(queryRequest("q1", "cb1"))
	awaitEnvelope(t, h)
	c.QueueRequest(queryRequest("q2", "cb2"))
	awaitEnvelope(t, h)

	_, cached := c.CachedColumns("tea_houses")
	assert.True(t, cached)
	svc.mu.Lock()
	fetches := svc.colFetches
	svc.mu.Unlock()
	assert.Equal(t, 1, fetches)
}

func TestFaultTagTaxonomy(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{dqerr.ErrNotAuthorized, FaultNotAuthorized},
		{errors.Wrap(dqerr.ErrStore, "disk"), FaultStore},
		{dqerr.ErrInvalidState, FaultInvalidState},
		{dqerr.ErrDuplicateTransaction, FaultInvalidState},
		{dqerr.ErrNotImplemented, FaultInvalidState},
		{errors.Wrap(dqerr.ErrUnavailable, "gone"), FaultUnavailable},
		{errors.New("surprise"), FaultUnexpected},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FaultTag(tc.err), tc.err.Error())
	}
}
