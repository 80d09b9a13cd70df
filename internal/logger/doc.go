// Package logger provides a simple, thread-safe logging facility.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each log entry includes a timestamp, level, optional component tag, and message.
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "Application started")
//	logger.Info("connector", "Listening on %s", addr)
//	logger.Error("worker", "Job panicked: %v", r)
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("connector", "Debug message")
//
// # Log Levels
//
// Messages below the configured level are filtered:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// ParseLevel converts the textual level used in configuration files.
//
// # Thread Safety
//
// All logging operations are protected by a mutex and safe for concurrent use.
package logger
