package eventsub

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

const (
	closeNormal        = websocket.CloseNormalClosure
	closeWriteDeadline = 5 * time.Second
	readChunkSize      = 4096
)

// transport abstracts one websocket connection at frame granularity.
// ReadFrame returns one physical frame's worth of data and whether it
// carried the end-of-message flag. A close frame surfaces as a
// *CloseError; any other error is a transport failure.
type transport interface {
	ReadFrame(ctx context.Context) (data []byte, final bool, err error)
	WriteClose(code int, reason string) error
	Close() error
}

// dialFunc opens a transport to the given URL. Swapped out in tests.
type dialFunc func(ctx context.Context, url string) (transport, error)

func dialWebsocket(ctx context.Context, url string) (transport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: conn}, nil
}

// wsTransport adapts a gorilla connection to the frame-level transport
// interface. Gorilla hands out one io.Reader per logical message; we
// slice it into bounded chunks so the assembler sees the same shape a
// raw frame stream would have.
type wsTransport struct {
	conn *websocket.Conn
	cur  io.Reader
	buf  [readChunkSize]byte
}

func (t *wsTransport) ReadFrame(ctx context.Context) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	if t.cur == nil {
		_, r, err := t.conn.NextReader()
		if err != nil {
			return nil, false, mapCloseError(err)
		}
		t.cur = r
	}

	n, err := t.cur.Read(t.buf[:])
	data := append([]byte(nil), t.buf[:n]...)
	switch {
	case err == nil:
		return data, false, nil
	case errors.Is(err, io.EOF):
		t.cur = nil
		return data, true, nil
	default:
		t.cur = nil
		return nil, false, mapCloseError(err)
	}
}

func (t *wsTransport) WriteClose(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	return t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteDeadline))
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

func mapCloseError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: ce.Code, Reason: ce.Text}
	}
	return err
}

// readMessage assembles physical frames into one logical UTF-8 text
// message. The buffer grows without a ceiling; memory is the only
// limit. A close frame aborts assembly immediately.
func readMessage(ctx context.Context, t transport) ([]byte, error) {
	var buf []byte
	for {
		data, final, err := t.ReadFrame(ctx)
		if err != nil {
			return nil, err
		}
		buf = append(buf, data...)
		if final {
			return buf, nil
		}
	}
}
