// Package server assembles ptyd: configuration, logging, metrics, the
// session registry and the REST and websocket surfaces.
//
// Middleware order is recovery, request id, access log, metrics, CORS and
// then the optional per-client rate limit. Responses outside /ws/ are
// gzipped when enabled.
//
// Only the idle timeout, log level and escape stripping are applied by
// ApplyConfig. Everything else needs a restart.
package server
