// Package config provides layered configuration for the cache subsystem.
//
// Configuration is resolved in order of increasing precedence:
//
//  1. built-in defaults (NewDefault)
//  2. a YAML configuration file (LoadFromFile)
//  3. POOLCACHE_* environment variables (LoadFromEnv)
//
// The defaults section supplies per-cache limits applied when a preset
// leaves a field unset: 500MB of memory, 10000 entries, a 24 hour TTL, and
// hourly maintenance. Human-readable sizes such as "500MB" are parsed with
// ParseSize.
//
// Call Validate after loading; it rejects unknown strategies and storage
// backends, malformed sizes, and duplicate cache presets.
package config
