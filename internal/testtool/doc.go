// Package testtool runs the project test suite and reports a structured
// outcome. It never returns an error: start failures, timeouts, and failing
// tests all become a failed outcome so the phase machine can branch on it.
package testtool
