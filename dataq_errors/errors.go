// Provides common dataq errors definitions.
package dataq_errors

import "errors"

var (
	ErrNotAuthorized = errors.New("dataq: operation not authorized for current identity")
	ErrStore         = errors.New("dataq: store rejected the operation")
	ErrInvalidState  = errors.New("dataq: invalid state")
	ErrUnavailable   = errors.New("dataq: data service unavailable")

	ErrDuplicateTransaction = errors.New("dataq: transaction id already registered")
	ErrContextDead          = errors.New("dataq: context is shut down")
	ErrNotImplemented       = errors.New("dataq: request type not implemented")
)
