// Package log provides structured protocol capture for the MCTP stack.
//
// This is not operational logging (use log/slog for that): it is a
// machine-readable trace of what crossed each protocol layer, covering
// raw packets, assembled messages, control commands, state transitions
// and absorbed errors, for debugging against real bus-owner software.
//
// Applications pick a Logger implementation:
//
//	// Development: protocol events on the console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Capture to a binary file for offline analysis
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/mctp/device.mctplog")
//
//	// Both at once
//	cfg.ProtocolLogger = log.NewMultiLogger(adapter, fileLogger)
//
// Capture files are a stream of CBOR-encoded events with integer keys;
// Reader iterates them back, optionally filtered.
package log
