// Package otel publishes engine metrics through an OpenTelemetry Meter.
//
// [NewExporter] registers an Int64ObservableCounter per engine counter and,
// for the login latency histogram, a bucket gauge keyed by an "le"
// attribute plus a count gauge. The caller owns the MeterProvider.
package otel
