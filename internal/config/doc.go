// Package config loads, normalizes, and validates tubemux configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TUBEMUX_API_TOKEN. The Config type centralizes every knob the daemon and CLI
// need, so scratch/output directories, the catalog backend, and external tool
// locations are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
