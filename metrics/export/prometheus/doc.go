// Package prometheus exposes engine metrics through client_golang.
//
// [Collector] turns each scrape into const metrics read from
// [accountguard.Engine.MetricsSnapshot]: securyflex_*_total counters, the
// securyflex_login_latency_seconds histogram and the audit drop counter.
// [Handler] wires a Collector into a private registry; callers that already
// own a registry register the Collector themselves.
package prometheus
