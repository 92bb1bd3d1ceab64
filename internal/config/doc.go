// ABOUTME: Package documentation for the config package
// ABOUTME: Describes configuration loading behavior and conventions

// Package config loads and validates YAML configuration for the proxy and
// fleet supervisor binaries.
//
// Configuration files support environment variable expansion using the
// ${VAR_NAME} syntax and human-readable duration strings ("30s", "5m") for
// all timing options. A single file can carry both the proxy and supervisor
// sections; each binary reads only the sections it needs.
//
// Setting cache_ttl to "0s" disables the authentication result cache.
package config
