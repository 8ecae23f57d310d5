// Package telemetry bridges cache events to structured logs and
// Prometheus metrics. The Emitter implements types.TelemetrySink, counts
// events per cache instance, tracks per-cache gauges, and can serve a
// /metrics endpoint for scraping.
package telemetry
