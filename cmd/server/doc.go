// Package main is the entry point for the ptyd server.
//
// ptyd keeps interactive programs running in pseudo-terminals and exposes
// them over HTTP so that scripts and agents can type, send keys, resize and
// read output across separate requests.
//
// Configuration:
//   - Defaults for local use (127.0.0.1:8080, $SHELL)
//   - Optional YAML or TOML file (-config), reloaded on change
//   - Environment variables (PTYD_*)
//   - CLI flags (override everything)
//
// Usage:
//
//	./server -config ptyd.yaml
//	PTYD_COMMAND=bash PTYD_IDLE_TIMEOUT_MINUTES=5 ./server -port 9000
//
// Startup fails with exit code 1 if the configuration is invalid, the
// session command cannot be resolved, or the host cannot allocate PTYs.
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown, every session is terminated
package main
