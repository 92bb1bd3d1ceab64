// ABOUTME: Package documentation for the supervisor package
// ABOUTME: Describes process lifecycle management for the service fleet

// Package supervisor manages the fleet of upstream MCP services and their
// paired authenticating proxies.
//
// Each service gets its own OS process (and another for its proxy when auth
// is enabled), so a crash in one tool server never takes down its siblings.
// A single monitoring goroutine checks liveness on a fixed interval,
// additionally probing each proxy with an initialize-shaped JSON-RPC
// request, and restarts dead or unresponsive processes after a short fixed
// backoff. Restarts are unlimited; only a missing binary at start time is
// fatal for a service and never retried.
//
// The supervisor is the single writer of the managed-process table. Other
// components, such as the aggregate health server, read copies via
// Snapshot. Process spawning sits behind the Launcher interface so the
// state machine tests without real processes.
package supervisor
