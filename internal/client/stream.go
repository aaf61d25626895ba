package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/ptyd/internal/api/ws"
	"github.com/GriffinCanCode/ptyd/internal/shared/types"
)

const streamWriteWait = 10 * time.Second

// Stream is an attached websocket. Recv must be called from one goroutine;
// the send methods are safe for concurrent use.
type Stream struct {
	conn *websocket.Conn

	mu        sync.Mutex
	closeOnce sync.Once
}

// Attach opens a websocket to the session. With create set, a missing
// session is started with the server's default command. The stream
// consumes the session's output, so REST reads should not run alongside.
func (c *Client) Attach(ctx context.Context, id string, create bool) (*Stream, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/sessions/" + url.PathEscape(id)
	if create {
		u.RawQuery = "create=true"
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusNotFound {
				return nil, &APIError{Status: resp.StatusCode, Code: "session_not_found", Message: "session not found: " + id}
			}
			return nil, &APIError{Status: resp.StatusCode, Code: "attach_failed", Message: err.Error()}
		}
		return nil, fmt.Errorf("attach %s: %w", id, err)
	}
	return &Stream{conn: conn}, nil
}

func (s *Stream) send(msg types.WSMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Input types text.
func (s *Stream) Input(text string) error {
	return s.send(types.WSMessage{Type: ws.TypeInput, Data: text})
}

// Key sends a named key.
func (s *Stream) Key(key string) error {
	return s.send(types.WSMessage{Type: ws.TypeKey, Key: key})
}

// Resize changes the remote terminal size.
func (s *Stream) Resize(rows, cols int) error {
	return s.send(types.WSMessage{Type: ws.TypeResize, Rows: rows, Cols: cols})
}

// Ping asks the server for a pong frame.
func (s *Stream) Ping() error {
	return s.send(types.WSMessage{Type: ws.TypePing})
}

// Recv blocks for the next server frame. After an exit frame the server
// closes the socket and Recv returns an error.
func (s *Stream) Recv() (types.WSMessage, error) {
	var msg types.WSMessage
	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := sonic.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("bad frame: %w", err)
	}
	return msg, nil
}

// Close sends a close frame and releases the connection. The session keeps
// running.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.mu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// IsClosed reports whether err from Recv is an orderly close.
func IsClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
