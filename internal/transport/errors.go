package transport

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by write operations attempted while the
// channel is not in the Connected state. Callers must not assume delivery.
var ErrNotConnected = errors.New("transport: not connected")

// ErrClosed is returned when operations are attempted on a channel that has
// been torn down with Disconnect.
var ErrClosed = errors.New("transport: connection closed")

// ConnectionError reports a failed handshake or transport-level failure. It
// feeds the reconnect policy and is only surfaced to callers that explicitly
// awaited Connect.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
