// Package otel publishes passkit metrics as OpenTelemetry observable
// instruments on a caller-supplied meter.
package otel
