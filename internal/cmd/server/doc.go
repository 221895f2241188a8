// Package serverrun composes the long-running server process: store,
// worker pool, gateway socket and the optional retention loop.
package serverrun
