// Package transcript persists the events of a session as JSON lines, one
// independently parseable record per line, and replays them for
// inspection. Adapters bridge the hook bus and the phase machine's
// transition observer into the sink.
package transcript
