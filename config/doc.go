// Package config loads the orchestrator's configuration: scheduler
// concurrency and defaults, state store backend selection, and the
// connection parameters each backend needs. Values come from defaults,
// overridden by an optional YAML file, overridden by environment variables
// (ORCHESTRATOR_ prefixed by default).
package config
