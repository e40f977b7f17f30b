package dataq

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/wbrunette/dataq/utils"
)

// Factory hands out the current Context for a host view and performs the
// handover when one is superseded. It is the only holder of the
// "current Context" pointer; there is no ambient global state.
type Factory struct {
	opts Options
	log  utils.Logger

	mu      sync.Mutex
	current map[Host]*Context

	// live indexes every not-yet-dead Context for the metrics collector.
	live *xsync.MapOf[string, *Context]
}

func NewFactory(opts Options) *Factory {
	opts.SetDefaults()
	return &Factory{
		opts:    opts,
		log:     opts.Logger,
		current: make(map[Host]*Context),
		live:    xsync.NewMapOf[string, *Context](),
	}
}

// Context returns the live Context for h, creating one if the view has
// none or its previous Context has been shut down. Creating a
// replacement front-pushes the context-switch marker on the old Context,
// which then drains itself before anything else on it runs.
func (f *Factory) Context(h Host) *Context {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cur, ok := f.current[h]; ok && cur.Alive() {
		return cur
	}
	return f.installLocked(h)
}

// replace swaps in a fresh Context for h if old is still current. Called
// on service-unavailable signals.
func (f *Factory) replace(h Host, old *Context) *Context {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cur, ok := f.current[h]; ok && cur != old {
		return cur
	}
	return f.installLocked(h)
}

func (f *Factory) installLocked(h Host) *Context {
	old := f.current[h]
	fresh := newContext(f, h)
	f.current[h] = fresh
	f.live.Store(fresh.id, fresh)
	h.RegisterConnectionListener(fresh)
	if old != nil {
		f.log.Info("superseding context", "old", old.id, "new", fresh.id)
		old.queueFront(&Request{Type: RequestContextSwitch})
	}
	return fresh
}

// retire drops a dead Context from the metrics index, from the host's
// listener set, and from the current map if it is still pointed at.
func (f *Factory) retire(c *Context) {
	f.live.Delete(c.id)
	c.host.UnregisterConnectionListener(c)
	f.mu.Lock()
	if cur, ok := f.current[c.host]; ok && cur == c {
		delete(f.current, c.host)
	}
	f.mu.Unlock()
}
