// Package http serves the terminal engine over REST.
//
// Routes:
//   - GET  /, /health, /metrics, /keys
//   - GET  /sessions, POST /sessions
//   - GET  /sessions/:id, DELETE /sessions/:id
//   - POST /sessions/:id/write, POST /sessions/:id/keys
//   - GET  /sessions/:id/read?timeout_ms=&max_bytes=
//   - POST /sessions/:id/resize
//   - GET  /services, POST /services/execute
//
// Errors are returned as {"error", "code"} with the status chosen by
// StatusFor. Terminated sessions add exit_code, reason and final_output.
package http
