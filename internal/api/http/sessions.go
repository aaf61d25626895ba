package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ptyd/internal/providers/terminal"
	"github.com/GriffinCanCode/ptyd/internal/shared/id"
	"github.com/GriffinCanCode/ptyd/internal/shared/types"
)

// ListSessions lists every registered session
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.sessions.List()
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// CreateSession starts a session, or returns the live one already
// registered under the requested id.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req types.CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	sessionID := req.ID
	if sessionID == "" {
		sessionID = id.NewSessionID().String()
	}

	cmd := h.command
	if req.Command != "" {
		cmd = terminal.Command{Path: req.Command, Env: h.command.Env}
	}
	if req.Args != nil {
		cmd.Args = req.Args
	}
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	if len(req.Env) > 0 {
		env := make(map[string]string, len(cmd.Env)+len(req.Env))
		for k, v := range cmd.Env {
			env[k] = v
		}
		for k, v := range req.Env {
			env[k] = v
		}
		cmd.Env = env
	}

	rows, cols := int(h.size.Rows), int(h.size.Cols)
	if req.Rows != 0 {
		rows = req.Rows
	}
	if req.Cols != 0 {
		cols = req.Cols
	}
	size, err := terminal.NewSize(rows, cols)
	if err != nil {
		respondError(c, err)
		return
	}

	s, err := h.sessions.GetOrCreate(c.Request.Context(), sessionID, cmd, size)
	if err != nil {
		respondError(c, err)
		return
	}

	h.log.Info("Session ready", zap.String("session_id", sessionID), zap.String("command", cmd.String()))
	c.JSON(http.StatusCreated, s.Info())
}

// GetSession returns a session's metadata
func (h *Handlers) GetSession(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Info())
}

// DeleteSession terminates a session. Unknown ids are not an error.
func (h *Handlers) DeleteSession(c *gin.Context) {
	sessionID := c.Param("id")
	removed := h.sessions.Remove(sessionID)
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "removed": removed})
}

// Write types text, creating the session with the configured command if
// none is registered. An exited session reports its exit instead.
func (h *Handlers) Write(c *gin.Context) {
	sessionID := c.Param("id")

	var req types.WriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.sessions.WriteOrCreate(c.Request.Context(), sessionID, req.Text, h.command, h.size); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "bytes": len(req.Text)})
}

// SendKey sends a named key, creating the session if needed. Unknown key
// names are rejected before anything is spawned.
func (h *Handlers) SendKey(c *gin.Context) {
	sessionID := c.Param("id")

	var req types.KeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.sessions.SendKeyOrCreate(c.Request.Context(), sessionID, req.Key, h.command, h.size); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "key": req.Key})
}

// Read returns output accumulated since the previous read, waiting up to
// timeout_ms for some to arrive.
func (h *Handlers) Read(c *gin.Context) {
	opts := terminal.DefaultReadOptions()
	if raw := c.Query("timeout_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		opts.Timeout = time.Duration(ms) * time.Millisecond
	}
	if raw := c.Query("max_bytes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		opts.MaxBytes = n
	}

	res, err := h.sessions.Read(c.Param("id"), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Resize changes the terminal dimensions. Out-of-range values are rejected
// and the size is left unchanged.
func (h *Handlers) Resize(c *gin.Context) {
	sessionID := c.Param("id")

	var req types.ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.sessions.Resize(sessionID, req.Rows, req.Cols); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "rows": req.Rows, "cols": req.Cols})
}
