package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"nhooyr.io/websocket"
)

// ErrUnauthorized is reported when the service rejects the upgrade with
// 401 or 403. The client does not retry it.
var ErrUnauthorized = errors.New("stream: unauthorized")

const readLimit = 1 << 20

// rawConn is one websocket connection. A new one is dialed per (re)connect.
type rawConn interface {
	WriteText(ctx context.Context, data []byte) error
	WriteBinary(ctx context.Context, data []byte) error
	Read(ctx context.Context) ([]byte, error)
	Close(code int, reason string) error
}

// Dialer opens a rawConn to the transcription endpoint.
type Dialer func(ctx context.Context) (rawConn, error)

type wsConn struct {
	conn *websocket.Conn
}

func websocketDialer(endpoint, token string) Dialer {
	return func(ctx context.Context) (rawConn, error) {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, err
		}
		if token != "" {
			q := u.Query()
			q.Set("token", token)
			u.RawQuery = q.Encode()
		}

		headers := http.Header{}
		if token != "" {
			headers.Set("Authorization", "Bearer "+token)
		}

		conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: headers})
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return nil, fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode)
			}
			return nil, err
		}
		conn.SetReadLimit(readLimit)
		return &wsConn{conn: conn}, nil
	}
}

func (w *wsConn) WriteText(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) WriteBinary(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageBinary, data)
}

// Read returns the next text payload. Binary messages from the service carry
// nothing for the client and are skipped.
func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := w.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (w *wsConn) Close(code int, reason string) error {
	return w.conn.Close(websocket.StatusCode(code), reason)
}

// closeCode extracts the websocket close code from a read error, or -1 when
// the connection ended without a close frame.
func closeCode(err error) int {
	return int(websocket.CloseStatus(err))
}
