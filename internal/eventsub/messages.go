package eventsub

import (
	"encoding/json"
	"errors"
	"time"
)

// The five message records. All are immutable after construction and
// live only for the event emission that carries them.

// Welcome is the first message on a new connection. It assigns the
// session id required to route subscriptions to this socket.
type Welcome struct {
	Metadata         Metadata
	SessionID        string
	KeepaliveTimeout time.Duration
	ReconnectURL     string
}

// Keepalive is a liveness signal with no actionable payload.
type Keepalive struct {
	Metadata Metadata
}

// Reconnect asks the client to move to a new URL. The client surfaces
// it as an event and leaves the actual reconnect to the integrator.
type Reconnect struct {
	Metadata     Metadata
	ReconnectURL string
}

// Notification carries one subscription event. Event stays opaque;
// subscription-specific decoders live outside this package.
type Notification struct {
	Metadata         Metadata
	SubscriptionType string
	Event            json.RawMessage
}

// Revocation is the fallback bucket: revoked subscriptions and any
// unrecognized message type. The raw payload is retained for logging.
type Revocation struct {
	Metadata Metadata
	Payload  json.RawMessage
}

// sessionPayload matches the session block shared by welcome and
// reconnect payloads. Extra fields are ignored, missing ones stay at
// their zero value.
type sessionPayload struct {
	Session struct {
		ID                      string `json:"id"`
		KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
		ReconnectURL            string `json:"reconnect_url"`
	} `json:"session"`
}

// decodeWelcome extracts the session id plus the informational
// keepalive timeout and reconnect URL. A missing session id is a
// field-level error; the partial record is still returned.
func decodeWelcome(env envelope) (Welcome, error) {
	w := Welcome{Metadata: env.Metadata}

	var p sessionPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return w, &DecodeError{Field: "payload.session", Err: err}
		}
	}

	w.SessionID = p.Session.ID
	w.KeepaliveTimeout = time.Duration(p.Session.KeepaliveTimeoutSeconds) * time.Second
	w.ReconnectURL = p.Session.ReconnectURL

	if w.SessionID == "" {
		return w, &DecodeError{Field: "payload.session.id"}
	}
	return w, nil
}

func decodeKeepalive(env envelope) Keepalive {
	return Keepalive{Metadata: env.Metadata}
}

// decodeReconnect is best-effort: no field is mandatory for the
// client's own control flow.
func decodeReconnect(env envelope) Reconnect {
	r := Reconnect{Metadata: env.Metadata}
	var p sessionPayload
	if len(env.Payload) > 0 && json.Unmarshal(env.Payload, &p) == nil {
		r.ReconnectURL = p.Session.ReconnectURL
	}
	return r
}

// decodeNotification extracts the subscription type and the opaque
// event body. Missing fields yield a joined field-level error; the
// record keeps whatever was found.
func decodeNotification(env envelope) (Notification, error) {
	n := Notification{Metadata: env.Metadata, SubscriptionType: env.Metadata.SubscriptionType}

	var p struct {
		Subscription struct {
			Type string `json:"type"`
		} `json:"subscription"`
		Event json.RawMessage `json:"event"`
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return n, &DecodeError{Field: "payload", Err: err}
		}
	}

	// metadata.subscription_type is authoritative, the payload copy is
	// the fallback.
	if n.SubscriptionType == "" {
		n.SubscriptionType = p.Subscription.Type
	}
	n.Event = p.Event

	var errs []error
	if n.SubscriptionType == "" {
		errs = append(errs, &DecodeError{Field: "metadata.subscription_type"})
	}
	if len(n.Event) == 0 {
		errs = append(errs, &DecodeError{Field: "payload.event"})
	}
	return n, errors.Join(errs...)
}

func decodeRevocation(env envelope) Revocation {
	return Revocation{Metadata: env.Metadata, Payload: env.Payload}
}
