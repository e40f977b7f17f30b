package dataq

import (
	"encoding/json"

	"github.com/pkg/errors"

	dqerr "github.com/wbrunette/dataq/dataq_errors"
)

// Fault taxonomy tags carried on error envelopes.
const (
	FaultNotAuthorized = "not_authorized"
	FaultStore         = "store"
	FaultInvalidState  = "invalid_state"
	FaultUnavailable   = "unavailable"
	FaultUnexpected    = "unexpected"
)

// FaultTag classifies an error into the envelope taxonomy.
func FaultTag(err error) string {
	switch {
	case errors.Is(err, dqerr.ErrNotAuthorized):
		return FaultNotAuthorized
	case errors.Is(err, dqerr.ErrUnavailable):
		return FaultUnavailable
	case errors.Is(err, dqerr.ErrInvalidState),
		errors.Is(err, dqerr.ErrDuplicateTransaction),
		errors.Is(err, dqerr.ErrNotImplemented):
		return FaultInvalidState
	case errors.Is(err, dqerr.ErrStore):
		return FaultStore
	default:
		return FaultUnexpected
	}
}

type envelope struct {
	Callback string         `json:"callback"`
	Fault    string         `json:"fault,omitempty"`
	Error    string         `json:"error,omitempty"`
	Data     [][]any        `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ReportError delivers an error envelope for the given callback token.
// A request without a callback produces no envelope.
func (c *Context) ReportError(callback, caller, fault, message string) {
	if callback == "" {
		return
	}
	c.deliver(envelope{
		Callback: callback,
		Fault:    fault,
		Error:    message,
	}, caller)
}

// ReportSuccess delivers a success envelope with the assembled row data
// and metadata.
func (c *Context) ReportSuccess(callback, caller string, data [][]any, metadata map[string]any) {
	c.deliver(envelope{
		Callback: callback,
		Data:     data,
		Metadata: metadata,
	}, caller)
}

func (c *Context) deliver(e envelope, caller string) {
	payload, err := json.Marshal(e)
	if err != nil {
		// Envelopes only hold JSON-safe values; this indicates a handler
		// bug.
		c.log.Error("envelope marshal failed", "err", err, "callback", e.Callback)
		return
	}
	c.host.Deliver(string(payload), caller)
}
