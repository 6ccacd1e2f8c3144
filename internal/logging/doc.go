// Package logging provides structured logging for sxn rule runs.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation, so a rule run can be reconstructed after the fact
// by filtering on run ID, phase or rule name.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Context propagation (run ID, phase, rule)
//   - Log rotation with configurable size limits
//   - Optional gzip compression for rotated logs
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Rules in the same
// phase log from separate goroutines through child loggers that share one
// underlying writer. The [RotatingWriter] type uses a mutex to protect file
// operations during rotation.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(logDir, "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Info("rules loaded", "count", 4)
//
// # Context Propagation
//
//	runLogger := logger.WithRun(runID)
//	ruleLogger := runLogger.WithPhase(1).WithRule("install-deps")
//	ruleLogger.Info("rule applied", "changes", 2)
//	// {"level":"INFO","msg":"rule applied","run_id":"...","phase":1,"rule":"install-deps","changes":2}
//
// # Log Rotation
//
//	logger, err := logging.NewLoggerWithRotation(logDir, "DEBUG", logging.RotationConfig{
//	    MaxSizeMB:  10,
//	    MaxBackups: 3,
//	    Compress:   true,
//	})
//
// # Disabled Logging
//
// Use [NopLogger] when logging is disabled or in tests.
package logging
