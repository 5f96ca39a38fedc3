package cluster

import (
	"fmt"
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

// ErrCode is the closed taxonomy of cross-shard operation results. Internal
// components return codes, never exceptions; the dispatcher and admin layer
// translate codes into the external protocol's vocabulary.
type ErrCode uint64

const (
	ErrCSuccess         ErrCode = iota // 0: operation executed successfully
	ErrCInvalidArgument                // 1: malformed or conflicting client input
	ErrCNotFound                       // 2: resource not hosted here (or vanished before execution)
	ErrCNotLeader                      // 3: operation requires leadership this node lacks
	ErrCInFlightChange                 // 4: a conflicting change is already in flight
	ErrCTimeout                        // 5: the operation did not complete in time
	ErrCShuttingDown                   // 6: the service no longer accepts input
	ErrCInternal                       // 7: unexpected internal failure
)

func (c ErrCode) String() string {
	switch c {
	case ErrCSuccess:
		return "Success"
	case ErrCInvalidArgument:
		return "InvalidArgument"
	case ErrCNotFound:
		return "NotFound"
	case ErrCNotLeader:
		return "NotLeader"
	case ErrCInFlightChange:
		return "InFlightChange"
	case ErrCTimeout:
		return "Timeout"
	case ErrCShuttingDown:
		return "ShuttingDown"
	case ErrCInternal:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// ClientError reports whether the failure is client-correctable (the caller
// sent bad input or named a resource that does not exist) as opposed to a
// server-side condition.
func (c ErrCode) ClientError() bool {
	switch c {
	case ErrCInvalidArgument, ErrCNotFound, ErrCInFlightChange:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps an ErrCode with a message. A nil *Error means success.
type Error struct {
	Code ErrCode
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("ClusterError (code %s): %s", e.Code, e.Msg)
}

// ClientError reports whether the wrapped code is client-correctable.
func (e *Error) ClientError() bool {
	return e.Code.ClientError()
}

// NewError creates an Error with the given code and message.
func NewError(code ErrCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// NewErrorf creates an Error with a formatted message.
func NewErrorf(code ErrCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}
