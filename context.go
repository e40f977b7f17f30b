package dataq

import (
	stdctx "context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	dqerr "github.com/wbrunette/dataq/dataq_errors"
	"github.com/wbrunette/dataq/dataservice"
	"github.com/wbrunette/dataq/utils"
)

// Context is the serialization domain of one host view: one request
// queue, one worker, one active-connection registry, one column-schema
// cache. At most one Context is current per host view; a superseded
// Context receives a context-switch marker and drains itself.
//
// One mutex guards all structural state. Store calls never happen under
// it.
type Context struct {
	id   string
	host Host
	f    *Factory
	log  utils.Logger
	opts Options

	mu    sync.Mutex
	queue []*Request
	// inflight is the head request a processor run has claimed; it keeps
	// its queue slot, and its envelope comes from that run alone.
	inflight *Request
	conns    map[string]dataservice.Handle
	cols     *lru.Cache[string, *dataservice.ColumnSet]
	dead     bool

	w     *worker
	stats contextStats
}

type contextStats struct {
	processed atomic.Int64
	failed    atomic.Int64
	latency   utils.AvgDuration
}

func newContext(f *Factory, h Host) *Context {
	cols, _ := lru.New[string, *dataservice.ColumnSet](f.opts.ColumnCacheSize)
	id := uuid.NewString()
	c := &Context{
		id:    id,
		host:  h,
		f:     f,
		log:   f.log.With("context", id),
		opts:  f.opts,
		conns: make(map[string]dataservice.Handle),
		cols:  cols,
		w:     newWorker(),
	}
	go c.loop()
	return c
}

// ID is the unique identity of this Context, used in metrics and logs.
func (c *Context) ID() string { return c.id }

// Alive reports whether the worker still accepts work.
func (c *Context) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.dead && c.w.accepting()
}

func (c *Context) loop() {
	defer close(c.w.stopped)
	for {
		select {
		case <-c.w.quit:
			return
		case <-c.w.signal:
			// A pending signal can win the race against a closed quit
			// channel; no new run starts once shutdown has begun.
			if !c.w.accepting() {
				continue
			}
			p := c.host.NewProcessor(c)
			if p != nil {
				p.Run()
			}
		}
	}
}

// QueueRequest appends a request and arms the worker. Once shutdown has
// begun the request is silently dropped; "queued" is not a delivery
// guarantee across teardown.
func (c *Context) QueueRequest(r *Request) {
	c.mu.Lock()
	if c.dead || !c.w.accepting() {
		c.mu.Unlock()
		c.log.Debug("dropping request on shut-down context", "type", r.Type.String())
		return
	}
	c.queue = append(c.queue, r)
	c.mu.Unlock()
	c.w.arm()
}

// queueFront pushes the context-switch marker ahead of every pending
// request so the release executes before any queued store operation is
// attempted. An in-flight head keeps its queue slot until it pops, so
// the marker slots in right behind it.
func (c *Context) queueFront(r *Request) {
	c.mu.Lock()
	if c.dead || !c.w.accepting() {
		c.mu.Unlock()
		return
	}
	if len(c.queue) > 0 && c.queue[0] == c.inflight {
		rest := append([]*Request{r}, c.queue[1:]...)
		c.queue = append(c.queue[:1:1], rest...)
	} else {
		c.queue = append([]*Request{r}, c.queue...)
	}
	c.mu.Unlock()
	c.w.arm()
}

// PeekRequest returns the queue head without removing it, or nil.
func (c *Context) PeekRequest() *Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	return c.queue[0]
}

// ClaimRequest returns the queue head and marks it in flight, or nil.
// A claimed head keeps its slot until the claiming run pops it;
// teardown drains everything behind it but leaves its envelope to that
// run.
func (c *Context) ClaimRequest() *Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	c.inflight = c.queue[0]
	return c.inflight
}

// PopRequest removes the queue head. With resignal, the worker is
// re-armed if more work is pending.
func (c *Context) PopRequest(resignal bool) {
	c.mu.Lock()
	if len(c.queue) > 0 {
		if c.queue[0] == c.inflight {
			c.inflight = nil
		}
		c.queue = c.queue[1:]
	}
	rearm := resignal && len(c.queue) > 0 && !c.dead && c.w.accepting()
	c.mu.Unlock()
	if rearm {
		c.w.arm()
	}
}

// QueueDepth is the number of pending requests.
func (c *Context) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// RegisterActiveConnection records the open store handle for a
// transaction id. Registering the same id twice is a programming error
// and fails without touching the first registration.
func (c *Context) RegisterActiveConnection(txnID string, h dataservice.Handle) error {
	c.mu.Lock()
	_, exists := c.conns[txnID]
	if !exists {
		c.conns[txnID] = h
	}
	c.mu.Unlock()
	if exists {
		c.log.Error("transaction id already registered", "txn", txnID)
		return errors.Wrap(dqerr.ErrDuplicateTransaction, txnID)
	}
	return nil
}

// RemoveActiveConnection forgets the handle registered for txnID.
func (c *Context) RemoveActiveConnection(txnID string) {
	c.mu.Lock()
	delete(c.conns, txnID)
	c.mu.Unlock()
}

// ActiveConnection returns the handle registered for txnID, if any.
func (c *Context) ActiveConnection(txnID string) (dataservice.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.conns[txnID]
	return h, ok
}

// ActiveConnectionCount is the number of registered open handles.
func (c *Context) ActiveConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// takeFirstActiveConnection removes and returns one registered
// connection, for the force-drain loop.
func (c *Context) takeFirstActiveConnection() (string, dataservice.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for txn, h := range c.conns {
		delete(c.conns, txn)
		return txn, h, true
	}
	return "", nil, false
}

// CachedColumns returns the cached column schema for tableID.
func (c *Context) CachedColumns(tableID string) (*dataservice.ColumnSet, bool) {
	return c.cols.Get(tableID)
}

// PutCachedColumns caches the column schema for tableID for the lifetime
// of this Context.
func (c *Context) PutCachedColumns(tableID string, cs *dataservice.ColumnSet) {
	c.cols.Add(tableID, cs)
}

// ServiceAvailable re-arms the worker so any backlog queued while the
// service was down gets drained.
func (c *Context) ServiceAvailable() {
	c.mu.Lock()
	pending := len(c.queue) > 0 && !c.dead
	c.mu.Unlock()
	if pending {
		c.w.arm()
	}
}

// ServiceUnavailable abandons this Context: the factory constructs a
// replacement, which front-pushes the context-switch marker here so the
// backlog drains eagerly with "releasing resources" errors.
func (c *Context) ServiceUnavailable() {
	if !c.Alive() {
		return
	}
	c.log.Warn("data service unavailable, replacing context")
	c.f.replace(c.host, c)
}

// ReleaseResources drains the queue, answering every pending request
// with an unavailable-fault envelope naming reason, then force-closes
// every registered store connection. A claimed head is skipped so that
// its run stays the sole reporter for it. Close errors are logged and
// suppressed; teardown completes unconditionally.
func (c *Context) ReleaseResources(reason string) {
	msg := "releasing resources (" + reason + ") -- rolling back all transactions and releasing all connections"

	c.mu.Lock()
	drained := c.queue
	if len(drained) > 0 && drained[0] == c.inflight {
		c.queue = drained[:1:1]
		drained = drained[1:]
	} else {
		c.queue = nil
	}
	c.mu.Unlock()

	for _, req := range drained {
		if req.Callback != "" {
			c.ReportError(req.Callback, req.Caller, FaultUnavailable, msg)
		}
	}
	c.log.Info("release resources: request queue purged")

	svc := c.host.Service()
	ns := c.host.Namespace()
	closed := 0
	var firstErr error
	for {
		txn, h, ok := c.takeFirstActiveConnection()
		if !ok {
			break
		}
		if h == nil {
			c.log.Warn("release resources: no handle registered", "txn", txn)
			continue
		}
		if svc == nil {
			continue
		}
		if err := svc.Close(stdctx.Background(), ns, h); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		closed++
	}
	if firstErr != nil {
		c.log.Warn("release resources: error while closing connection", "err", firstErr)
	}
	c.log.Info("release resources: closed connections", "count", closed)
}

// Shutdown tears the Context down: stop accepting work, wait up to the
// configured timeout for the in-flight request, then drain the queue and
// the connection registry regardless.
func (c *Context) Shutdown(reason string) {
	if !c.w.beginShutdown() {
		return
	}
	c.log.Info("shutting down worker", "reason", reason)
	if !c.w.awaitStop(c.opts.ShutdownTimeout) {
		c.log.Warn("worker did not stop within timeout")
	}
	c.markDead()
	c.ReleaseResources(reason)
	c.log.Info("worker has been shut down")
}

// releaseAndRetire is the context-switch execution path, run on the
// worker goroutine itself: no bounded wait, just stop accepting, drain
// and mark dead. The loop exits right after.
func (c *Context) releaseAndRetire(reason string) {
	c.w.beginShutdown()
	c.ReleaseResources(reason)
	// pop the marker itself; the drain skipped it as the claimed head
	c.PopRequest(false)
	c.markDead()
}

func (c *Context) markDead() {
	c.mu.Lock()
	already := c.dead
	c.dead = true
	c.mu.Unlock()
	if !already && c.f != nil {
		c.f.retire(c)
	}
}
