package eventsub

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Disconnect when no connection exists.
var ErrNotConnected = errors.New("eventsub: not connected")

// ConnectionError wraps a transport-level failure during connection
// establishment.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("eventsub: connect to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CloseError reports a close frame received from the server. It
// terminates message assembly immediately; its payload is never
// JSON-decoded.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("eventsub: connection closed by server (code %d): %s", e.Code, e.Reason)
}

// DecodeError reports a missing or malformed field during message
// decoding. Decoders return the partially populated record alongside
// it; the receive loop logs and keeps listening.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("eventsub: decode %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("eventsub: missing field %s", e.Field)
}

func (e *DecodeError) Unwrap() error { return e.Err }
