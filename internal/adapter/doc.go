// Package adapter wires the cache subsystem together from configuration.
//
// The Adapter is the composition root: it builds the logger, selects and
// connects the blob store backend (filesystem, S3, or none), constructs
// the telemetry emitter, and creates the cache service with the preset
// cache instances declared in configuration. Callers obtain the service
// through Service and interact with caches from there.
package adapter
