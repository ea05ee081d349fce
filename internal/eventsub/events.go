package eventsub

import (
	"encoding/json"
	"time"
)

// Event is the tagged union delivered on the client's event queue. The
// host drains the queue on its own goroutine; the receive loop never
// calls into subscriber code directly.
type Event interface{ isEvent() }

// SessionEstablished fires when a welcome message latches a session
// id. Subscription requests become routable from this point on.
type SessionEstablished struct {
	SessionID        string
	KeepaliveTimeout time.Duration
	ReconnectURL     string
}

// NotificationReceived carries one decoded subscription event. Event
// stays opaque for the subscription-specific decoder downstream.
type NotificationReceived struct {
	MessageID        string
	SubscriptionType string
	Event            json.RawMessage
}

// ReconnectRequested surfaces a session_reconnect message. The client
// performs no automatic reconnect; that choice belongs to the
// integrator.
type ReconnectRequested struct {
	ReconnectURL string
}

// SubscriptionRevoked surfaces a revocation message with its raw
// payload for diagnostics.
type SubscriptionRevoked struct {
	Metadata Metadata
	Payload  json.RawMessage
}

// Disconnected fires once per connection teardown, whether initiated
// locally or by the server.
type Disconnected struct {
	Code   int
	Reason string
	Err    error
}

func (SessionEstablished) isEvent()   {}
func (NotificationReceived) isEvent() {}
func (ReconnectRequested) isEvent()   {}
func (SubscriptionRevoked) isEvent()  {}
func (Disconnected) isEvent()         {}
