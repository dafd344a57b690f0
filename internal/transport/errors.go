package transport

import (
	"errors"
	"fmt"
)

// Transport errors
var (
	// ErrConnect occurs when the peer cannot be reached at all.
	ErrConnect = errors.New("connection to peer failed")
	// ErrTimeout occurs when the per-call deadline elapses before a response.
	ErrTimeout = errors.New("call timed out")
	// ErrProtocol occurs on a malformed response: bad JSON, missing id, id mismatch.
	ErrProtocol = errors.New("protocol error")
)

// RemoteError is a JSON-RPC error object returned by the peer. It is never
// retried by the transport; message handlers decide what to do with the code.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// AsRemoteError unwraps a RemoteError from err, if there is one.
func AsRemoteError(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
