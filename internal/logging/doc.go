// Package logging provides structured logging for the forestNET network stack.
//
// This package wraps zap with convenience functions for the logging patterns
// used throughout the stack: connection lifecycle, TLS handshakes and HTTP
// request/response summaries.
//
// # Log Levels
//
//   - Debug: Raw bytes, parsed headers, session lookups
//   - Info: Connections, requests, listener state changes
//   - Warn: Rejected peers, handshake failures, corrupt session files
//   - Error: Listener failures, handler panics
//
// # Default and Per-Instance Loggers
//
// Components never reach for a hidden global. Each constructor takes a
// *zap.Logger; passing nil falls back to the process-wide default returned by
// GetLogger. The default is a Nop logger until Initialize or SetLogger is
// called, so library use stays silent unless the program opts in:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
//	srv := transport.NewServer(cfg, factory, logging.GetLogger().Named("transport"))
//
// # Specialized Logging
//
//	logging.LogConnection(logger, remoteAddr, "connection_accepted")
//	logging.LogTLSHandshake(logger, remoteAddr, state.Version, state.CipherSuite, state.ServerName)
//	logging.LogHTTPRequest(logger, remoteAddr, method, path, headers)
//
// # Thread Safety
//
// All functions are safe for concurrent use. Replacing the default logger while
// other goroutines log is safe; they observe either the old or the new logger.
package logging
