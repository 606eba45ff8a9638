// Package playbook implements the shared strategy repository that the
// curator role updates through delta batches.
//
// A Playbook is an ordered collection of strategy bullets, each with a stable
// ID, free-text content, and usage tags. Mutation happens exclusively through
// Apply, which consumes an ordered DeltaBatch of ADD/UPDATE/TAG/REMOVE
// operations. The invocation bridge never mutates a playbook; callers apply
// the curator's delta after the bridge returns.
package playbook
