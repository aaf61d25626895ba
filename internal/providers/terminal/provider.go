package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GriffinCanCode/ptyd/internal/shared/id"
	"github.com/GriffinCanCode/ptyd/internal/shared/types"
)

// Provider exposes the registry as terminal.* tools.
type Provider struct {
	registry *Registry
	command  Command
	size     Size
}

// NewProvider creates a provider over registry. Sessions created implicitly
// by write and send_key run command at size.
func NewProvider(registry *Registry, command Command, size Size) *Provider {
	return &Provider{
		registry: registry,
		command:  command,
		size:     size,
	}
}

// Registry returns the underlying session registry
func (p *Provider) Registry() *Registry {
	return p.registry
}

// Definition returns service metadata
func (p *Provider) Definition() types.Service {
	return types.Service{
		ID:          "terminal",
		Name:        "Terminal Service",
		Description: "Drive interactive programs through pseudo-terminal sessions: type text, send keys, resize and read output",
		Category:    types.CategoryTerminal,
		Capabilities: []string{
			"pty",
			"interactive",
			"keys",
			"sessions",
			"resize",
			"idle_timeout",
		},
		Tools: p.getTools(),
	}
}

// Execute routes to appropriate operation
func (p *Provider) Execute(ctx context.Context, toolID string, params map[string]interface{}, appCtx *types.Context) (*types.Result, error) {
	switch toolID {
	case "terminal.create_session":
		return p.createSession(ctx, params)
	case "terminal.write":
		return p.write(ctx, params)
	case "terminal.send_key":
		return p.sendKey(ctx, params)
	case "terminal.read":
		return p.read(params)
	case "terminal.resize":
		return p.resize(params)
	case "terminal.kill":
		return p.kill(params)
	case "terminal.list_sessions":
		return p.listSessions()
	case "terminal.get_session":
		return p.getSession(params)
	case "terminal.list_keys":
		return p.listKeys()
	default:
		return nil, opError("execute", "", ErrInvalidConfig, fmt.Errorf("unknown tool: %s", toolID))
	}
}

func sessionIDParam(op string, params map[string]interface{}) (string, error) {
	sessionID, ok := params["session_id"].(string)
	if !ok || sessionID == "" {
		return "", invalidConfig(op, "", "session_id is required")
	}
	return sessionID, nil
}

func sessionParam() types.Parameter {
	return types.Parameter{
		Name:        "session_id",
		Type:        "string",
		Description: "Terminal session ID",
		Required:    true,
	}
}

func (p *Provider) getTools() []types.Tool {
	return []types.Tool{
		{
			ID:          "terminal.create_session",
			Name:        "Create Terminal Session",
			Description: "Start a program in a new PTY session, or return the live session with this ID",
			Parameters: []types.Parameter{
				{Name: "session_id", Type: "string", Description: "Session ID. Generated when omitted"},
				{Name: "command", Type: "string", Description: "Program to run. Defaults to the configured command"},
				{Name: "args", Type: "array", Description: "Program arguments"},
				{Name: "working_dir", Type: "string", Description: "Working directory"},
				{Name: "env", Type: "object", Description: "Environment overrides"},
				{Name: "rows", Type: "number", Description: "Terminal height, 1-500. Defaults to 24"},
				{Name: "cols", Type: "number", Description: "Terminal width, 1-500. Defaults to 80"},
			},
			Returns: "session_info",
		},
		{
			ID:          "terminal.write",
			Name:        "Write to Terminal",
			Description: "Type text into a session, creating it with the configured command if needed",
			Parameters: []types.Parameter{
				sessionParam(),
				{Name: "text", Type: "string", Description: "Text to send", Required: true},
			},
			Returns: "success",
		},
		{
			ID:          "terminal.send_key",
			Name:        "Send Key",
			Description: "Send a control or navigation key such as ctrl_c, enter, up or f5",
			Parameters: []types.Parameter{
				sessionParam(),
				{Name: "key", Type: "string", Description: "Key name, see terminal.list_keys", Required: true},
			},
			Returns: "success",
		},
		{
			ID:          "terminal.read",
			Name:        "Read from Terminal",
			Description: "Read accumulated output, waiting up to timeout_ms for some to arrive",
			Parameters: []types.Parameter{
				sessionParam(),
				{Name: "timeout_ms", Type: "number", Description: "Wait time, 0-30000. Defaults to 1000"},
				{Name: "max_bytes", Type: "number", Description: "Output limit, 1024-1048576. Defaults to 65536"},
			},
			Returns: "output_data",
		},
		{
			ID:          "terminal.resize",
			Name:        "Resize Terminal",
			Description: "Change terminal dimensions",
			Parameters: []types.Parameter{
				sessionParam(),
				{Name: "rows", Type: "number", Description: "Height, 1-500. Defaults to 24"},
				{Name: "cols", Type: "number", Description: "Width, 1-500. Defaults to 80"},
			},
			Returns: "success",
		},
		{
			ID:          "terminal.kill",
			Name:        "Kill Terminal Session",
			Description: "Terminate a session's program and remove the session",
			Parameters:  []types.Parameter{sessionParam()},
			Returns:     "success",
		},
		{
			ID:          "terminal.list_sessions",
			Name:        "List Terminal Sessions",
			Description: "List all sessions",
			Parameters:  []types.Parameter{},
			Returns:     "sessions_list",
		},
		{
			ID:          "terminal.get_session",
			Name:        "Get Session Info",
			Description: "Get information about a terminal session",
			Parameters:  []types.Parameter{sessionParam()},
			Returns:     "session_info",
		},
		{
			ID:          "terminal.list_keys",
			Name:        "List Keys",
			Description: "List the key names accepted by terminal.send_key",
			Parameters:  []types.Parameter{},
			Returns:     "keys_list",
		},
	}
}

func (p *Provider) createSession(ctx context.Context, params map[string]interface{}) (*types.Result, error) {
	sessionID, _ := params["session_id"].(string)
	if sessionID == "" {
		sessionID = id.NewSessionID().String()
	}

	cmd := p.command
	if command, ok := params["command"].(string); ok && command != "" {
		cmd = Command{Path: command, Env: p.command.Env}
	}
	if args, ok := params["args"].([]interface{}); ok {
		cmd.Args = make([]string, 0, len(args))
		for _, a := range args {
			if s, ok := a.(string); ok {
				cmd.Args = append(cmd.Args, s)
			}
		}
	}
	if dir, ok := params["working_dir"].(string); ok && dir != "" {
		cmd.Dir = dir
	}
	if envMap, ok := params["env"].(map[string]interface{}); ok {
		env := make(map[string]string, len(cmd.Env)+len(envMap))
		for k, v := range cmd.Env {
			env[k] = v
		}
		for k, v := range envMap {
			if str, ok := v.(string); ok {
				env[k] = str
			}
		}
		cmd.Env = env
	}

	size, err := p.sizeParams(params)
	if err != nil {
		return nil, withSession(err, sessionID)
	}

	session, err := p.registry.GetOrCreate(ctx, sessionID, cmd, size)
	if err != nil {
		return nil, err
	}

	return &types.Result{
		Success: true,
		Data:    sessionData(session.Info()),
	}, nil
}

func (p *Provider) write(ctx context.Context, params map[string]interface{}) (*types.Result, error) {
	sessionID, err := sessionIDParam("write", params)
	if err != nil {
		return nil, err
	}

	text, ok := params["text"].(string)
	if !ok {
		if text, ok = params["input"].(string); !ok {
			return nil, invalidConfig("write", sessionID, "text is required")
		}
	}

	if err := p.registry.WriteOrCreate(ctx, sessionID, text, p.command, p.size); err != nil {
		return nil, err
	}

	return &types.Result{
		Success: true,
		Data:    map[string]interface{}{"success": true, "bytes": len(text)},
	}, nil
}

func (p *Provider) sendKey(ctx context.Context, params map[string]interface{}) (*types.Result, error) {
	sessionID, err := sessionIDParam("send_key", params)
	if err != nil {
		return nil, err
	}

	key, ok := params["key"].(string)
	if !ok {
		return nil, invalidConfig("send_key", sessionID, "key is required")
	}
	if err := p.registry.SendKeyOrCreate(ctx, sessionID, key, p.command, p.size); err != nil {
		return nil, err
	}

	return &types.Result{
		Success: true,
		Data:    map[string]interface{}{"success": true, "key": normalizeKey(key)},
	}, nil
}

func (p *Provider) read(params map[string]interface{}) (*types.Result, error) {
	sessionID, err := sessionIDParam("read", params)
	if err != nil {
		return nil, err
	}

	opts := DefaultReadOptions()
	if ms, ok, err := intParam(params, "timeout_ms"); err != nil {
		return nil, err
	} else if ok {
		opts.Timeout = time.Duration(ms) * time.Millisecond
	}
	if n, ok, err := intParam(params, "max_bytes"); err != nil {
		return nil, err
	} else if ok {
		opts.MaxBytes = n
	}

	res, err := p.registry.Read(sessionID, opts)
	if err != nil {
		return nil, err
	}

	return &types.Result{
		Success: true,
		Data:    readData(res),
	}, nil
}

func (p *Provider) resize(params map[string]interface{}) (*types.Result, error) {
	sessionID, err := sessionIDParam("resize", params)
	if err != nil {
		return nil, err
	}

	rows, cols := DefaultRows, DefaultCols
	if r, ok, err := intParam(params, "rows"); err != nil {
		return nil, err
	} else if ok {
		rows = r
	}
	if c, ok, err := intParam(params, "cols"); err != nil {
		return nil, err
	} else if ok {
		cols = c
	}

	if err := p.registry.Resize(sessionID, rows, cols); err != nil {
		return nil, err
	}

	return &types.Result{
		Success: true,
		Data:    map[string]interface{}{"success": true, "rows": rows, "cols": cols},
	}, nil
}

func (p *Provider) kill(params map[string]interface{}) (*types.Result, error) {
	sessionID, err := sessionIDParam("kill", params)
	if err != nil {
		return nil, err
	}

	removed := p.registry.Remove(sessionID)

	return &types.Result{
		Success: true,
		Data:    map[string]interface{}{"success": true, "removed": removed},
	}, nil
}

func (p *Provider) listSessions() (*types.Result, error) {
	sessions := p.registry.List()

	return &types.Result{
		Success: true,
		Data: map[string]interface{}{
			"sessions": sessions,
			"count":    len(sessions),
		},
	}, nil
}

func (p *Provider) getSession(params map[string]interface{}) (*types.Result, error) {
	sessionID, err := sessionIDParam("get", params)
	if err != nil {
		return nil, err
	}

	session, err := p.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}

	return &types.Result{
		Success: true,
		Data:    sessionData(session.Info()),
	}, nil
}

func (p *Provider) listKeys() (*types.Result, error) {
	keys := KeyNames()
	return &types.Result{
		Success: true,
		Data: map[string]interface{}{
			"keys":  keys,
			"count": len(keys),
		},
	}, nil
}

func (p *Provider) sizeParams(params map[string]interface{}) (Size, error) {
	rows, cols := int(p.size.Rows), int(p.size.Cols)
	if r, ok, err := intParam(params, "rows"); err != nil {
		return Size{}, err
	} else if ok {
		rows = r
	}
	if c, ok, err := intParam(params, "cols"); err != nil {
		return Size{}, err
	} else if ok {
		cols = c
	}
	return NewSize(rows, cols)
}

// intParam reads a numeric parameter. JSON decoders hand numbers over as
// float64 or json.Number; Go callers may pass ints.
func intParam(params map[string]interface{}, name string) (int, bool, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case float64:
		if n != float64(int(n)) {
			return 0, false, invalidConfig("params", "", "%s must be an integer, got %v", name, n)
		}
		return int(n), true, nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false, invalidConfig("params", "", "%s must be an integer, got %s", name, n)
		}
		return int(i), true, nil
	}
	return 0, false, invalidConfig("params", "", "%s must be a number, got %T", name, v)
}

func sessionData(info SessionInfo) map[string]interface{} {
	data := map[string]interface{}{
		"id":             info.ID,
		"command":        info.Command,
		"args":           info.Args,
		"working_dir":    info.WorkingDir,
		"rows":           info.Rows,
		"cols":           info.Cols,
		"pid":            info.Pid,
		"state":          string(info.State),
		"created_at":     info.CreatedAt,
		"last_activity":  info.LastActivity,
		"idle_seconds":   info.IdleSeconds,
		"buffered_bytes": info.Buffered,
		"active":         info.Active,
	}
	if info.Reason != "" {
		data["reason"] = string(info.Reason)
	}
	if info.Exit != nil {
		data["exit_code"] = info.Exit.Code
	}
	return data
}

func readData(res ReadResult) map[string]interface{} {
	data := map[string]interface{}{
		"text":   res.Text,
		"length": len(res.Text),
		"state":  string(res.State),
	}
	if res.Dropped > 0 {
		data["dropped_bytes"] = res.Dropped
	}
	if res.Reason != "" {
		data["reason"] = string(res.Reason)
	}
	if res.Exit != nil {
		data["exit_code"] = res.Exit.Code
		if res.Exit.Signal != "" {
			data["signal"] = res.Exit.Signal
		}
	}
	return data
}
