package coordinator

import "errors"

// The error taxonomy the request boundary maps to transport codes. Processor
// declines are deliberately absent: a decline is a DECLINED record, never an
// error.
var (
	ErrInvalidInput           = errors.New("invalid payment input")
	ErrNotFound               = errors.New("payment not found")
	ErrConcurrentModification = errors.New("payment is being modified by another request")
	ErrProcessorUnavailable   = errors.New("payment processor unavailable")
)
