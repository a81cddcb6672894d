// Package telemetry wires OpenTelemetry tracing, OpenTelemetry meters and the
// Prometheus registry of the gateway.
//
// It centralises trace provider setup, records per-unit execution metrics for
// policies, processors and chains, and offers helpers that annotate spans with
// execution failures while keeping credentials out of exported data.
package telemetry
