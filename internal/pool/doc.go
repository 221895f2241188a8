// Package pool provides a fixed-size worker pool with a quiescence barrier.
//
// Jobs are handed off on an unbuffered channel, so Execute blocks the
// submitter until a worker is free; a saturated pool slows producers rather
// than buffering unboundedly. WaitForCompletion blocks until the in-flight
// job count drains to zero.
package pool
