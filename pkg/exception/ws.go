package exception

import "errors"

// Transport errors
var (
	ErrMissingDependency = errors.New("transport: missing dependency")
	ErrNotConnected      = errors.New("transport: not connected")
	ErrSubscribe         = errors.New("transport: subscribe request failed")
	ErrRetriesExhausted  = errors.New("transport: reconnect retries exhausted")
)
