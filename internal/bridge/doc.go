// Package bridge implements the role invocation bridge: dual-path execution
// of the producer, critic, and curator roles with request/response
// correlation over an asynchronous message exchange.
//
// Each invocation emits a before-role event, attempts the remote backend if
// one is configured, falls back to the locally registered role
// implementation on transient remote failure, and emits an after-role event
// carrying the normalized output. The remote path is best-effort; the local
// path is the contract of last resort. Misconfiguration (a required backend
// that is absent, or no local role when the remote path yielded nothing)
// fails loudly instead of degrading.
//
// A Session is not safe for concurrent use: it owns at most one in-flight
// correlation envelope at a time.
package bridge
