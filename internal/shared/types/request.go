package types

// ExecuteRequest represents a service execution request
type ExecuteRequest struct {
	ToolID string                 `json:"tool_id" binding:"required"`
	Params map[string]interface{} `json:"params"`
}

// CreateSessionRequest starts a terminal session. Empty fields fall back to
// the configured command and size.
type CreateSessionRequest struct {
	ID         string            `json:"id,omitempty"`
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Rows       int               `json:"rows,omitempty"`
	Cols       int               `json:"cols,omitempty"`
}

// WriteRequest sends text to a session
type WriteRequest struct {
	Text string `json:"text"`
}

// KeyRequest sends a named key to a session
type KeyRequest struct {
	Key string `json:"key" binding:"required"`
}

// ResizeRequest changes a session's terminal size
type ResizeRequest struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// WSMessage is a websocket frame in either direction.
//
// Client to server: "input" (Data), "key" (Key), "resize" (Rows, Cols),
// "ping". Server to client: "output" (Data, Dropped), "exit" (ExitCode,
// Reason, Data), "error" (Code, Message), "pong".
type WSMessage struct {
	Type     string `json:"type"`
	Data     string `json:"data,omitempty"`
	Key      string `json:"key,omitempty"`
	Rows     int    `json:"rows,omitempty"`
	Cols     int    `json:"cols,omitempty"`
	Dropped  int    `json:"dropped,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}
