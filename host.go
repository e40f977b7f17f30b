package dataq

import "github.com/wbrunette/dataq/dataservice"

// Host is the surface the embedding application offers a Context: it
// names the store namespace, holds the swap-able data-service binding,
// constructs processors and receives response envelopes. The host
// package provides the stock implementation; embedders with their own
// delivery surface implement this directly.
type Host interface {
	// Namespace is the application namespace store calls run under.
	Namespace() string

	// Service returns the currently bound data service, or nil while
	// the store is unreachable.
	Service() dataservice.Service

	// NewProcessor constructs the processor that will execute the head
	// request of c. Hosts without tool-specific metadata return
	// NewProcessor(c).
	NewProcessor(c *Context) Processor

	// Deliver hands one response envelope to the view identified by
	// caller. Deliver must not block the dispatch worker.
	Deliver(responseJSON string, caller string)

	// ViewQuery returns the query shape behind the caller's current
	// view, or nil when none is registered.
	ViewQuery(caller string) dataservice.ViewQuery

	// RegisterConnectionListener subscribes l to service availability
	// transitions; UnregisterConnectionListener drops it again once its
	// Context has died.
	RegisterConnectionListener(l ConnectionListener)
	UnregisterConnectionListener(l ConnectionListener)
}

// ConnectionListener is notified when the host's data-service binding
// comes and goes. Context implements it: available re-arms the worker,
// unavailable triggers replacement.
type ConnectionListener interface {
	ServiceAvailable()
	ServiceUnavailable()
}

// Processor executes the head request of a Context's queue to
// completion, reporting exactly one envelope for it.
type Processor interface {
	Run()
}
