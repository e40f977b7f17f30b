package dataq

import (
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrunette/dataq/dataservice"
	"github.com/wbrunette/dataq/utils"
)

func queryRequest(where, callback string) *Request {
	return &Request{
		Type:     RequestUserTableQuery,
		TableID:  "tea_houses",
		Query:    &dataservice.QuerySpec{Where: where},
		Callback: callback,
		Caller:   "view-1",
	}
}

func TestRequestsExecuteInOrder(t *testing.T) {
	svc := newFakeService()
	h := newFakeHost(svc)
	c := testFactory().Context(h)
	defer c.Shutdown("test done")

	for i := 0; i < 5; i++ {
		c.QueueRequest(queryRequest("q"+string(rune('a'+i)), "cb"))
	}
	for i := 0; i < 5; i++ {
		e := awaitEnvelope(t, h)
		assert.Empty(t, e["fault"])
	}
	assert.Equal(t, []string{"qa", "qb", "qc", "qd", "qe"}, svc.queries())
	assert.Equal(t, svc.openCount(), svc.closeCount())
}

func TestNilServiceReportsUnavailable(t *testing.T) {
	svc := newFakeService()
	h := newFakeHost(nil)
	c := testFactory().Context(h)
	defer c.Shutdown("test done")

	c.QueueRequest(queryRequest("q1", "cb1"))
	e := awaitEnvelope(t, h)
	assert.Equal(t, "cb1", e["callback"])
	assert.Equal(t, FaultUnavailable, e["fault"])
	assert.Equal(t, 0, svc.openCount())
	assert.Equal(t, 0, c.QueueDepth())
}

func TestBacklogDrainsWhenServiceReturns(t *testing.T) {
	svc := newFakeService()
	h := newFakeHost(nil)
	c := testFactory().Context(h)
	defer c.Shutdown("test done")

	c.QueueRequest(queryRequest("q1", "cb1"))
	e := awaitEnvelope(t, h)
	require.Equal(t, FaultUnavailable, e["fault"])

	// queue while down, then restore the service
	h.mu.Lock()
	h.svc = svc
	h.mu.Unlock()
	c.QueueRequest(queryRequest("q2", "cb2"))
	e = awaitEnvelope(t, h)
	assert.Empty(t, e["fault"])
	assert.Equal(t, []string{"q2"}, svc.queries())
}

func TestDuplicateTransactionRegistration(t *testing.T) {
	c := testFactory().Context(newFakeHost(newFakeService()))
	defer c.Shutdown("test done")

	first := &fakeHandle{id: "h1"}
	require.NoError(t, c.RegisterActiveConnection("txn-1", first))
	err := c.RegisterActiveConnection("txn-1", &fakeHandle{id: "h2"})
	require.Error(t, err)
	assert.Equal(t, FaultInvalidState, FaultTag(err))

	got, ok := c.ActiveConnection("txn-1")
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestReleaseResourcesClosesEverything(t *testing.T) {
	svc := newFakeService()
	h := newFakeHost(svc)
	c := testFactory().Context(h)
	defer c.Shutdown("test done")

	require.NoError(t, c.RegisterActiveConnection("txn-1", &fakeHandle{id: "h1"}))
	require.NoError(t, c.RegisterActiveConnection("txn-2", &fakeHandle{id: "h2"}))
	c.ReleaseResources("test teardown")

	assert.Equal(t, 0, c.ActiveConnectionCount())
	assert.Equal(t, 2, svc.closeCount())
}

func TestShutdownDrainsQueueWithUnavailable(t *testing.T) {
	svc := newFakeService()
	svc.gate = make(chan struct{})
	h := newFakeHost(svc)
	f := NewFactory(Options{ShutdownTimeout: 50 * time.Millisecond})
	c := f.Context(h)

	c.QueueRequest(queryRequest("q1", "cb1"))
	c.QueueRequest(queryRequest("q2", "cb2"))
	c.QueueRequest(queryRequest("q3", "cb3"))

	// wait until q1 is held in flight behind the gate
	require.Eventually(t, func() bool { return len(svc.queries()) == 1 },
		2*time.Second, 10*time.Millisecond)

	c.Shutdown("host view destroyed")

	// q2 and q3 never started, so teardown answers them; q1 is in
	// flight and its run stays its sole reporter
	drained := map[string]bool{}
	for i := 0; i < 2; i++ {
		e := awaitEnvelope(t, h)
		assert.Equal(t, FaultUnavailable, e["fault"])
		assert.Contains(t, e["error"], "releasing resources")
		drained[e["callback"].(string)] = true
	}
	assert.Equal(t, map[string]bool{"cb2": true, "cb3": true}, drained)
	assert.False(t, c.Alive())

	// the in-flight request still completes its own protocol, once
	close(svc.gate)
	e := awaitEnvelope(t, h)
	assert.Equal(t, "cb1", e["callback"])
	assert.Empty(t, e["fault"])
	select {
	case raw := <-h.resp:
		t.Fatalf("second envelope for a completed request: %s", raw)
	case <-time.After(100 * time.Millisecond):
	}

	// dropped after shutdown, no envelope
	c.QueueRequest(queryRequest("q4", "cb4"))
	require.Eventually(t, func() bool { return c.QueueDepth() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestServiceUnavailableReplacesContext(t *testing.T) {
	svc := newFakeService()
	svc.gate = make(chan struct{})
	h := newFakeHost(svc)
	f := testFactory()
	c1 := f.Context(h)

	c1.QueueRequest(queryRequest("q1", "cb1"))
	c1.QueueRequest(queryRequest("q2", "cb2"))
	require.Eventually(t, func() bool { return len(svc.queries()) == 1 },
		2*time.Second, 10*time.Millisecond)

	c1.ServiceUnavailable()
	c2 := f.Context(h)
	require.NotSame(t, c1, c2)

	// q1 finishes; the switch marker then drains q2 before it ever runs
	close(svc.gate)
	e := awaitEnvelope(t, h)
	assert.Equal(t, "cb1", e["callback"])
	assert.Empty(t, e["fault"])
	e = awaitEnvelope(t, h)
	assert.Equal(t, "cb2", e["callback"])
	assert.Equal(t, FaultUnavailable, e["fault"])

	require.Eventually(t, func() bool { return !c1.Alive() },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"q1"}, svc.queries())
	assert.True(t, c2.Alive())
	c2.Shutdown("test done")
}

func TestRetiredContextUnregistersListener(t *testing.T) {
	f := testFactory()
	h := newFakeHost(newFakeService())

	c1 := f.Context(h)
	assert.Equal(t, 1, h.listenerCount())

	c1.Shutdown("test done")
	require.Eventually(t, func() bool { return h.listenerCount() == 0 },
		2*time.Second, 10*time.Millisecond)

	// a replacement registers itself, not one more on top of the dead one
	c2 := f.Context(h)
	assert.Equal(t, 1, h.listenerCount())
	c2.Shutdown("test done")
}

// countingProcHost counts processor constructions.
type countingProcHost struct {
	*fakeHost
	procs atomic.Int32
}

func (h *countingProcHost) NewProcessor(c *Context) Processor {
	h.procs.Add(1)
	return NewProcessor(c)
}

func TestPendingSignalIgnoredAfterShutdown(t *testing.T) {
	h := &countingProcHost{fakeHost: newFakeHost(newFakeService())}
	c := &Context{
		id:   "t",
		host: h,
		log:  utils.NewDefaultLogger(slog.LevelInfo),
		w:    newWorker(),
	}
	c.queue = []*Request{queryRequest("q1", "cb1")}
	require.NotNil(t, c.PeekRequest())

	// a signal is already pending when shutdown begins; the loop must
	// exit without starting it
	c.w.arm()
	c.w.beginShutdown()
	c.loop()
	assert.Zero(t, h.procs.Load())
}

func TestFactoryReusesLiveContext(t *testing.T) {
	f := testFactory()
	h := newFakeHost(newFakeService())
	c1 := f.Context(h)
	assert.Same(t, c1, f.Context(h))

	c1.Shutdown("test done")
	c2 := f.Context(h)
	assert.NotSame(t, c1, c2)
	c2.Shutdown("test done")
}

func TestColumnCacheIsPerContext(t *testing.T) {
	f := testFactory()
	h := newFakeHost(newFakeService())
	c1 := f.Context(h)

	cols := &dataservice.ColumnSet{TableID: "tea_houses"}
	c1.PutCachedColumns("tea_houses", cols)
	got, ok := c1.CachedColumns("tea_houses")
	require.True(t, ok)
	assert.Same(t, cols, got)

	c1.Shutdown("test done")
	c2 := f.Context(h)
	_, ok = c2.CachedColumns("tea_houses")
	assert.False(t, ok)
	c2.Shutdown("test done")
}
