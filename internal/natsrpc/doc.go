// Package natsrpc provides the NATS transport for remote role invocations.
//
// Each invocation publishes one request to <prefix>.invoke.<role> with a
// reply inbox, then streams response messages from the inbox until the
// terminal result message or the drain timeout. The wire shape matches the
// bridge message model; no transport detail leaks past the Backend
// interface.
package natsrpc
