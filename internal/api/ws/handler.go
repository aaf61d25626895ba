package ws

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ptyd/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ptyd/internal/providers/terminal"
	"github.com/GriffinCanCode/ptyd/internal/shared/id"
	"github.com/GriffinCanCode/ptyd/internal/shared/types"
)

const (
	readDeadline   = 60 * time.Second
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxFrameSize   = 64 << 10
	sendQueue      = 64
	pollTimeout    = time.Second
	outputMaxBytes = 64 << 10
)

// Frame types.
const (
	TypeInput  = "input"
	TypeKey    = "key"
	TypeResize = "resize"
	TypePing   = "ping"
	TypePong   = "pong"
	TypeOutput = "output"
	TypeExit   = "exit"
	TypeError  = "error"
)

// Handler attaches websocket clients to terminal sessions.
type Handler struct {
	sessions *terminal.Registry
	metrics  *monitoring.Metrics
	log      *zap.Logger
	upgrader websocket.Upgrader
	command  terminal.Command
	size     terminal.Size
}

// Config wires a Handler.
type Config struct {
	Sessions *terminal.Registry
	Metrics  *monitoring.Metrics
	Logger   *zap.Logger
	// CheckOrigin decides which browser origins may attach. Nil allows all.
	CheckOrigin func(origin string) bool
	// Command and Size are used when a client asks for the session to be
	// created on attach.
	Command terminal.Command
	Size    terminal.Size
}

// NewHandler creates a new WebSocket handler
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Size == (terminal.Size{}) {
		cfg.Size = terminal.DefaultSize()
	}
	check := cfg.CheckOrigin
	return &Handler{
		sessions: cfg.Sessions,
		metrics:  cfg.Metrics,
		log:      cfg.Logger.Named("ws"),
		command:  cfg.Command,
		size:     cfg.Size,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return check == nil || check(r.Header.Get("Origin"))
			},
		},
	}
}

type conn struct {
	h         *Handler
	ws        *websocket.Conn
	id        id.ConnectionID
	sessionID string
	log       *zap.Logger

	send      chan types.WSMessage
	done      chan struct{}
	closeOnce sync.Once
}

// HandleConnection attaches to the session named by the :id parameter.
// With ?create=true a missing session is started with the configured
// command first. A registered session is attached as is, even if its child
// has exited.
//
// Output is consumed by the stream, so a session should have one reader at
// a time: either this socket or REST reads.
func (h *Handler) HandleConnection(c *gin.Context) {
	sessionID := c.Param("id")

	_, err := h.sessions.Get(sessionID)
	if errors.Is(err, terminal.ErrSessionNotFound) && c.Query("create") == "true" {
		_, err = h.sessions.GetOrCreate(c.Request.Context(), sessionID, h.command, h.size)
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, terminal.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": terminal.Code(err)})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	cid := id.NewConnectionID()
	cn := &conn{
		h:         h,
		ws:        ws,
		id:        cid,
		sessionID: sessionID,
		log:       h.log.With(zap.String("conn_id", cid.String()), zap.String("session_id", sessionID)),
		send:      make(chan types.WSMessage, sendQueue),
		done:      make(chan struct{}),
	}

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()
	cn.log.Info("WebSocket attached")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		cn.writePump()
	}()
	go func() {
		defer wg.Done()
		cn.outputPump()
	}()

	cn.readPump()
	cn.shutdown()
	wg.Wait()
	cn.log.Info("WebSocket detached")
}

func (c *conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// enqueue hands a frame to the writer. It reports false once the
// connection is closing.
func (c *conn) enqueue(msg types.WSMessage) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	}
}

func (c *conn) sendError(err error) {
	c.enqueue(types.WSMessage{Type: TypeError, Code: terminal.Code(err), Message: err.Error()})
}

// readPump handles client frames until the socket fails or closes.
func (c *conn) readPump() {
	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(readDeadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(readDeadline))

		var msg types.WSMessage
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			c.enqueue(types.WSMessage{Type: TypeError, Code: "bad_frame", Message: err.Error()})
			continue
		}
		c.h.metrics.RecordWSMessage("in", msg.Type)

		if !c.handle(msg) {
			return
		}
	}
}

// handle applies one client frame. It returns false when the session is
// gone and the connection should end.
func (c *conn) handle(msg types.WSMessage) bool {
	var err error
	switch msg.Type {
	case TypeInput:
		err = c.h.sessions.Write(c.sessionID, msg.Data)
	case TypeKey:
		err = c.h.sessions.SendKey(c.sessionID, msg.Key)
	case TypeResize:
		err = c.h.sessions.Resize(c.sessionID, msg.Rows, msg.Cols)
	case TypePing:
		c.enqueue(types.WSMessage{Type: TypePong})
		return true
	default:
		c.enqueue(types.WSMessage{Type: TypeError, Code: "bad_frame", Message: "unknown message type: " + msg.Type})
		return true
	}

	if err == nil {
		return true
	}
	// Exits are reported by the output stream with the final status.
	if errors.Is(err, terminal.ErrSessionTerminated) {
		return true
	}
	c.sendError(err)
	return !errors.Is(err, terminal.ErrSessionNotFound)
}

// outputPump polls the session and forwards output until it terminates.
func (c *conn) outputPump() {
	opts := terminal.ReadOptions{Timeout: pollTimeout, MaxBytes: outputMaxBytes}
	for {
		select {
		case <-c.done:
			return
		default:
		}

		res, err := c.h.sessions.Read(c.sessionID, opts)
		if err != nil {
			var te *terminal.TerminatedError
			if errors.As(err, &te) {
				exit := types.WSMessage{Type: TypeExit, Reason: string(te.Reason)}
				if te.Exit != nil {
					code := te.Exit.Code
					exit.ExitCode = &code
				}
				c.enqueue(exit)
				return
			}
			c.sendError(err)
			c.enqueue(types.WSMessage{Type: TypeExit})
			return
		}

		if res.Text != "" || res.Dropped > 0 {
			if !c.enqueue(types.WSMessage{Type: TypeOutput, Data: res.Text, Dropped: res.Dropped}) {
				return
			}
		}
	}
}

// writePump is the only writer to the socket. It closes the connection
// after delivering an exit frame.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case <-c.done:
			return

		case msg := <-c.send:
			data, err := sonic.Marshal(msg)
			if err != nil {
				c.log.Error("Failed to encode frame", zap.Error(err))
				continue
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			c.h.metrics.RecordWSMessage("out", msg.Type)

			if msg.Type == TypeExit {
				c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, msg.Reason))
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
