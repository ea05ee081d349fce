package eventsub

import (
	"encoding/json"
	"log/slog"
)

// Kind identifies one of the five EventSub message kinds. Unknown or
// missing message types fall into the revocation bucket: the loop
// ignores them and keeps listening rather than failing closed.
type Kind int

const (
	KindRevocation Kind = iota
	KindWelcome
	KindKeepalive
	KindReconnect
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindWelcome:
		return "session_welcome"
	case KindKeepalive:
		return "session_keepalive"
	case KindReconnect:
		return "session_reconnect"
	case KindNotification:
		return "notification"
	default:
		return "revocation"
	}
}

// Metadata is the common metadata block present on every inbound
// message. Timestamps stay as raw strings so a malformed value never
// breaks decoding.
type Metadata struct {
	MessageID           string `json:"message_id"`
	MessageType         string `json:"message_type"`
	MessageTimestamp    string `json:"message_timestamp"`
	SubscriptionType    string `json:"subscription_type,omitempty"`
	SubscriptionVersion string `json:"subscription_version,omitempty"`
}

// envelope is the common {metadata, payload} wrapper. The payload is
// kept raw; each decoder pulls only the fields it needs.
type envelope struct {
	Metadata Metadata        `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

// classify parses the minimal envelope and maps metadata.message_type
// to a Kind. It never fails: unparseable input or an unrecognized type
// classifies as revocation-class.
func classify(raw []byte) (envelope, Kind) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Warn("unparseable eventsub message", "error", err, "raw", string(raw))
		return envelope{}, KindRevocation
	}

	switch env.Metadata.MessageType {
	case "session_welcome":
		return env, KindWelcome
	case "session_keepalive":
		return env, KindKeepalive
	case "session_reconnect":
		return env, KindReconnect
	case "notification":
		return env, KindNotification
	case "revocation":
		return env, KindRevocation
	default:
		return env, KindRevocation
	}
}
