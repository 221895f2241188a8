// Package gateway serves the store over HTTP on a unix socket inside the
// store directory. It is a thin boundary: POST streams content into the
// CAS and registers a frame, GET is a liveness placeholder. Requests run
// on the shared worker pool, which bounds gateway concurrency.
package gateway
