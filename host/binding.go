// Package host provides a complete Host implementation: a namespace, a
// swap-able data-service binding with availability signaling, a
// response hub that routes envelopes to per-view channels, and the
// pending view-query registry. Embedders with their own delivery
// surface implement dataq.Host directly instead.
package host

import (
	"log/slog"
	"sync"

	"github.com/wbrunette/dataq"
	"github.com/wbrunette/dataq/dataservice"
	"github.com/wbrunette/dataq/utils"
)

// responseBuffer bounds a view's undelivered responses. A view that
// stops draining loses its oldest responses rather than blocking the
// dispatch worker.
const responseBuffer = 64

// Binding implements dataq.Host.
type Binding struct {
	namespace string
	log       utils.Logger

	mu        sync.Mutex
	svc       dataservice.Service
	listeners []dataq.ConnectionListener

	inboxes utils.CMap[string, chan string]
	queries utils.CMap[string, dataservice.ViewQuery]

	// newProcessor, when set, replaces the default processor.
	newProcessor func(*dataq.Context) dataq.Processor
}

// Option configures a Binding.
type Option func(*Binding)

// WithLogger replaces the default logger.
func WithLogger(log utils.Logger) Option {
	return func(b *Binding) { b.log = log }
}

// WithProcessor installs a processor-construction hook, e.g. to attach
// a metadata extender.
func WithProcessor(fn func(*dataq.Context) dataq.Processor) Option {
	return func(b *Binding) { b.newProcessor = fn }
}

// New creates a Binding for one application namespace. The data service
// starts unbound; calls queue until SetService provides one.
func New(namespace string, opts ...Option) *Binding {
	b := &Binding{
		namespace: namespace,
		log:       utils.NewDefaultLogger(slog.LevelInfo),
	}
	for _, o := range opts {
		o(b)
	}
	b.log = b.log.With("namespace", namespace)
	return b
}

func (b *Binding) Namespace() string { return b.namespace }

func (b *Binding) Service() dataservice.Service {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.svc
}

// SetService swaps the data-service binding. Binding a service fires
// ServiceAvailable to every registered listener; unbinding (svc nil)
// fires ServiceUnavailable.
func (b *Binding) SetService(svc dataservice.Service) {
	b.mu.Lock()
	b.svc = svc
	listeners := make([]dataq.ConnectionListener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	for _, l := range listeners {
		if svc != nil {
			l.ServiceAvailable()
		} else {
			l.ServiceUnavailable()
		}
	}
}

func (b *Binding) RegisterConnectionListener(l dataq.ConnectionListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// UnregisterConnectionListener removes l so a retired Context is not
// re-signaled on later service swaps.
func (b *Binding) UnregisterConnectionListener(l dataq.ConnectionListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, reg := range b.listeners {
		if reg == l {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

func (b *Binding) NewProcessor(c *dataq.Context) dataq.Processor {
	if b.newProcessor != nil {
		return b.newProcessor(c)
	}
	return dataq.NewProcessor(c)
}

// Deliver routes one response to the caller's inbox without blocking.
// When the inbox is full the oldest response is dropped to make room.
func (b *Binding) Deliver(responseJSON string, caller string) {
	inbox := b.inbox(caller)
	for {
		select {
		case inbox <- responseJSON:
			return
		default:
		}
		select {
		case dropped := <-inbox:
			b.log.Warn("view not draining responses, dropping oldest",
				"caller", caller, "size", len(dropped))
		default:
		}
	}
}

// Responses returns the caller's inbox channel.
func (b *Binding) Responses(caller string) <-chan string {
	return b.inbox(caller)
}

func (b *Binding) inbox(caller string) chan string {
	if ch, ok := b.inboxes.Load(caller); ok {
		return ch
	}
	ch, _ := b.inboxes.LoadOrStore(caller, make(chan string, responseBuffer))
	return ch
}

// CloseView drops the caller's inbox and pending view query. Responses
// already dispatched to the inbox are discarded.
func (b *Binding) CloseView(caller string) {
	b.inboxes.Delete(caller)
	b.queries.Delete(caller)
}

// SetViewQuery records the query shape behind the caller's current
// view, replacing any previous one. A nil query clears it.
func (b *Binding) SetViewQuery(caller string, q dataservice.ViewQuery) {
	if q == nil {
		b.queries.Delete(caller)
		return
	}
	b.queries.Store(caller, q)
}

func (b *Binding) ViewQuery(caller string) dataservice.ViewQuery {
	q, _ := b.queries.Load(caller)
	return q
}
