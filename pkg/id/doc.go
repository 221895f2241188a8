// Package id provides the 128-bit, lexicographically sortable frame
// identifier used as the ordering key of the event store.
//
// # Format
//
// The ID is 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence].
// Byte-wise comparison preserves chronological order, and IDs generated
// within the same millisecond remain strictly increasing by sequence. The
// text form is the 32-character lowercase hex encoding.
//
// # Monotonicity
//
// The Generator ensures per-process monotonicity:
//   - If the system clock regresses, it pins to the last seen millisecond and
//     increments the sequence to avoid going backwards.
//   - If the sequence would overflow within a millisecond, it waits for the
//     next millisecond before emitting the next ID.
//
// Usage
//
//	g := id.NewGenerator()
//	newID := g.Next()
//	key := newID.Bytes()          // 16-byte partition key
//	parsed, _ := id.Parse(newID.String())
package id
