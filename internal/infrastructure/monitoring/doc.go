/*
Package monitoring provides Prometheus metrics for the terminal server.

# Overview

Metrics implements terminal.Observer, so the registry reports session
lifecycle, PTY byte flow and per-operation latency directly. HTTP traffic is
recorded by Middleware, tool calls by Timer, websocket streams by the
connection counters.

Collectors are registered on the registry passed to NewMetrics rather than
the global default, so several instances can coexist in tests.

# Usage

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	reg := terminal.NewRegistry(terminal.Options{Observer: metrics})
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(monitoring.Handler(metrics)))

	timer := monitoring.NewTimer(metrics, "terminal.write")
	// ... perform call ...
	timer.Stop("success")
*/
package monitoring
