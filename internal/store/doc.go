// Package store implements the xs event store: an append-only, totally
// ordered log of typed frames, with payloads held in a content-addressed
// blob store.
//
// # Command loop
//
// Every append and read is serialized through a single goroutine that owns
// the frame partition and the subscriber list. Identifier assignment,
// persistence, and live fan-out all happen on that one timeline, which is
// what makes the subscription guarantee hold: a reader registered during a
// read command receives every frame appended by any later append command,
// in append order, with no gap and no duplicate.
//
// # Reads
//
// A read replays persisted history from an optional resume point, then
// optionally stays subscribed to live appends. A following read first
// receives one synthetic xs.threshold frame marking the boundary between
// history and live delivery, and can request periodic xs.pulse heartbeat
// frames. Replay can be compacted to the latest frame per caller-derived
// key, and filtered by a CEL expression over topic and metadata.
//
// # Retention
//
// Frames carry a TTL policy assigned at append time. Ephemeral frames skip
// persistence entirely. Time and Head policies mark frames for collection
// by Trim, which runs on the command loop; no background sweep runs unless
// the serve layer schedules one.
package store
