// Package types provides shared data structures for ptyd.
//
// Core Types:
//   - Service: Service provider definition
//   - Tool: A callable tool and its parameters
//   - Context: Execution context for tool calls
//   - Result: Standard operation result
//
// Request Types:
//   - ExecuteRequest: Service tool execution
//   - CreateSessionRequest, WriteRequest, KeyRequest, ResizeRequest: REST bodies
//   - WSMessage: WebSocket frames
//
// Example Usage:
//
//	result, err := registry.Execute(ctx, "terminal.write", map[string]interface{}{
//	    "session_id": "build",
//	    "text":       "make test\n",
//	}, nil)
package types
