// Package roles defines the typed outputs of the producer, critic, and
// curator roles, the decoder that normalizes remote agent responses into
// those outputs, and the interfaces local role implementations satisfy.
//
// Remote agents answer with heterogeneous content: an already-structured
// object, a JSON string, or a list of text fragments. The decoder collapses
// all three shapes into one JSON object and maps it onto the typed outputs.
// Unknown or missing fields coerce to documented defaults; the full decoded
// object is always preserved in Raw for auditing.
package roles
