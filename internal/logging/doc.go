// Package logging provides structured logging for playbookd on top of Zap.
//
// Loggers are explicit objects passed by the caller. There is no process-wide
// logger cache: a session obtains its own child logger via ForSession and
// threads it through the bridge and cycle coordinator.
//
// Correlation data (session ID, task ID, request ID) travels in the
// context.Context and is appended to every entry by the context-aware
// logging methods.
package logging
