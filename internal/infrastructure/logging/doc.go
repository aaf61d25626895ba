// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// The level is held in a zap.AtomicLevel shared by every logger derived
// through Named or With, so a config reload can raise or lower verbosity
// for the whole process with SetLevel.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Server starting", zap.String("addr", ":8080"))
//	_ = logger.SetLevel("debug")
package logging
