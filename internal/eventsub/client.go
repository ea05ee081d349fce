package eventsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pulseline/twitchrelay/internal/metrics"
)

// DefaultURL is the Twitch EventSub websocket endpoint.
const DefaultURL = "wss://eventsub.wss.twitch.tv/ws"

const (
	defaultKeepaliveTimeout = 30 * time.Second
	defaultDialTimeout      = 10 * time.Second
	defaultEventBuffer      = 256
	closeGracePeriod        = 2 * time.Second
)

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Config holds client settings. Zero values fall back to defaults.
type Config struct {
	// URL is the websocket endpoint without query parameters.
	URL string
	// KeepaliveTimeout is passed to the server as the
	// keepalive_timeout_seconds query parameter. The client does not
	// enforce it locally; the server closes idle connections itself.
	KeepaliveTimeout time.Duration
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration
	// EventBuffer is the capacity of the host-drained event queue.
	EventBuffer int
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.KeepaliveTimeout <= 0 {
		c.KeepaliveTimeout = defaultKeepaliveTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	return c
}

// Client is the EventSub websocket client. One connection at a time;
// Connect and Disconnect are the only externally callable state
// transitions. Events are delivered in receive order on the queue
// returned by Events.
type Client struct {
	cfg    Config
	clock  clockwork.Clock
	dial   dialFunc
	events chan Event

	mu        sync.Mutex
	state     State
	sessionID string
	conn      transport
	cancel    context.CancelFunc
	loopDone  chan struct{}
}

// NewClient creates a client. The clock is injected so shutdown
// timing is testable.
func NewClient(cfg Config, clock clockwork.Clock) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		clock:  clock,
		dial:   dialWebsocket,
		events: make(chan Event, cfg.EventBuffer),
	}
}

// Events returns the host-drained event queue. The channel is never
// closed; it outlives individual connections.
func (c *Client) Events() <-chan Event { return c.events }

// Connect opens the websocket connection and starts the receive loop.
// Calling Connect while already open is a no-op reporting success.
// Dial failures return a *ConnectionError and leave the client closed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		c.mu.Unlock()
		return nil
	case StateConnecting, StateClosing:
		state := c.state
		c.mu.Unlock()
		return &ConnectionError{URL: c.cfg.URL, Err: fmt.Errorf("connect not allowed while %s", state)}
	}
	c.state = StateConnecting
	c.mu.Unlock()

	url := fmt.Sprintf("%s?keepalive_timeout_seconds=%d", c.cfg.URL, int(c.cfg.KeepaliveTimeout.Seconds()))

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, err := c.dial(dialCtx, url)
	if err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		return &ConnectionError{URL: url, Err: err}
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.cancel = loopCancel
	c.loopDone = done
	c.state = StateOpen
	c.mu.Unlock()

	metrics.EventSubConnected.Set(1)
	slog.Info("eventsub connected", "url", url)

	go c.receiveLoop(loopCtx, conn, done)
	return nil
}

// Disconnect performs a graceful close handshake with a bounded grace
// period, then force-closes. It returns ErrNotConnected when no
// connection exists and leaves the client closed either way.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == StateClosing {
		// Another Disconnect is already driving the handshake.
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.conn == nil {
		c.state = StateClosed
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	cancel := c.cancel
	done := c.loopDone
	c.state = StateClosing
	c.mu.Unlock()

	// Cooperative close first: send the close frame and give the
	// receive loop the grace period to unwind on the server's echo.
	if err := conn.WriteClose(closeNormal, "client disconnect"); err != nil {
		slog.Debug("close frame write failed", "error", err)
	}
	cancel()

	timer := c.clock.NewTimer(closeGracePeriod)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.Chan():
		slog.Warn("close grace period elapsed, forcing close")
	}

	// Force close unblocks any read still in flight.
	_ = conn.Close()
	<-done

	c.mu.Lock()
	c.conn = nil
	c.cancel = nil
	c.loopDone = nil
	c.sessionID = ""
	c.state = StateClosed
	c.mu.Unlock()

	metrics.EventSubConnected.Set(0)
	metrics.EventSubDisconnects.WithLabelValues("client").Inc()
	slog.Info("eventsub disconnected")

	c.emit(Disconnected{Code: closeNormal, Reason: "client disconnect"})
	return nil
}

// IsConnected reports whether the connection is open (with or without
// an established session).
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen
}

// SessionID returns the server-assigned session id, or empty until a
// welcome message has been received on the current connection.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// receiveLoop is the single consumer of the transport. It reassembles
// logical messages, dispatches by kind, and tears the connection down
// on transport-level failure. Per-message failures never terminate it.
func (c *Client) receiveLoop(ctx context.Context, conn transport, done chan struct{}) {
	defer close(done)

	for {
		raw, err := readMessage(ctx, conn)
		if err != nil {
			c.finishRemoteClose(conn, err)
			return
		}
		c.handleMessage(raw)
	}
}

// finishRemoteClose tears down after a transport error or server
// close frame. When Disconnect is driving (state Closing), teardown
// and the Disconnected event belong to it instead.
func (c *Client) finishRemoteClose(conn transport, err error) {
	c.mu.Lock()
	if c.state == StateClosing || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	cancel := c.cancel
	c.cancel = nil
	c.sessionID = ""
	c.state = StateClosed
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = conn.Close()
	metrics.EventSubConnected.Set(0)

	ev := Disconnected{Err: err}
	var ce *CloseError
	if errors.As(err, &ce) {
		ev.Code, ev.Reason, ev.Err = ce.Code, ce.Reason, nil
		metrics.EventSubDisconnects.WithLabelValues("close_frame").Inc()
		slog.Info("eventsub connection closed by server", "code", ce.Code, "reason", ce.Reason)
	} else {
		metrics.EventSubDisconnects.WithLabelValues("transport_error").Inc()
		slog.Error("eventsub receive failed", "error", err)
	}
	c.emit(ev)
}

func (c *Client) handleMessage(raw []byte) {
	env, kind := classify(raw)
	metrics.EventSubMessagesReceived.WithLabelValues(kind.String()).Inc()

	switch kind {
	case KindWelcome:
		w, err := decodeWelcome(env)
		if err != nil {
			metrics.EventSubDecodeErrors.WithLabelValues(kind.String()).Inc()
			slog.Warn("welcome decode incomplete", "error", err, "message_id", env.Metadata.MessageID)
		}
		if w.SessionID == "" {
			// No session id, nothing to latch; stay in Open(no-session).
			return
		}
		c.mu.Lock()
		c.sessionID = w.SessionID
		c.mu.Unlock()
		metrics.EventSubSessionsEstablished.Inc()
		slog.Info("eventsub session established",
			"session_id", w.SessionID,
			"keepalive_timeout", w.KeepaliveTimeout,
			"reconnect_url", w.ReconnectURL,
		)
		c.emit(SessionEstablished{
			SessionID:        w.SessionID,
			KeepaliveTimeout: w.KeepaliveTimeout,
			ReconnectURL:     w.ReconnectURL,
		})

	case KindKeepalive:
		k := decodeKeepalive(env)
		metrics.EventSubKeepalives.Inc()
		slog.Debug("eventsub keepalive", "message_id", k.Metadata.MessageID, "timestamp", k.Metadata.MessageTimestamp)

	case KindReconnect:
		r := decodeReconnect(env)
		slog.Warn("server requested reconnect", "reconnect_url", r.ReconnectURL, "message_id", r.Metadata.MessageID)
		c.emit(ReconnectRequested{ReconnectURL: r.ReconnectURL})

	case KindNotification:
		n, err := decodeNotification(env)
		if err != nil {
			metrics.EventSubDecodeErrors.WithLabelValues(kind.String()).Inc()
			slog.Warn("notification decode incomplete", "error", err, "message_id", env.Metadata.MessageID)
		}
		c.emit(NotificationReceived{
			MessageID:        n.Metadata.MessageID,
			SubscriptionType: n.SubscriptionType,
			Event:            n.Event,
		})

	case KindRevocation:
		rv := decodeRevocation(env)
		if env.Metadata.MessageType == "revocation" {
			slog.Warn("subscription revoked",
				"subscription_type", rv.Metadata.SubscriptionType,
				"message_id", rv.Metadata.MessageID,
			)
			c.emit(SubscriptionRevoked{Metadata: rv.Metadata, Payload: rv.Payload})
			return
		}
		// Unknown or absent message type: log and keep listening.
		slog.Warn("ignoring unrecognized eventsub message",
			"message_type", rv.Metadata.MessageType,
			"message_id", rv.Metadata.MessageID,
		)
	}
}

// emit enqueues without blocking the receive loop. A full queue means
// the host stopped draining; the event is dropped and counted.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		metrics.EventSubEventsDropped.Inc()
		slog.Warn("event queue full, dropping event", "event", fmt.Sprintf("%T", ev))
	}
}
