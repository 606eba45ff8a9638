// Package telemetry exposes Prometheus metrics for role invocations, hook
// delivery, phase transitions, and test runs.
package telemetry
