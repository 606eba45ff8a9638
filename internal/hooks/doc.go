// Package hooks provides the best-effort event bus that notifies external
// observers of role invocations.
//
// Observers register a Matcher binding an event label to a callback. Emit
// invokes every matching callback in registration order; a failing or
// panicking callback is logged and skipped, never aborting the invocation
// that triggered the emission. Hooks are diagnostic and analytics consumers,
// not part of the control path.
package hooks
