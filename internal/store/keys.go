package store

import (
	"github.com/marvin-j97/xs/pkg/id"
)

// Keyspace helpers for the frame partition.
//
// Layout (byte-wise, lexicographically sortable):
//   - e/{id16} (frames, in append order)

var framePrefix = []byte("e/")

// keyFrame builds the partition key for a frame identifier.
func keyFrame(fid id.ID) []byte {
	k := make([]byte, 0, len(framePrefix)+16)
	k = append(k, framePrefix...)
	k = append(k, fid[:]...)
	return k
}

// frameKeyID recovers the identifier from a partition key.
func frameKeyID(key []byte) (id.ID, bool) {
	if len(key) != len(framePrefix)+16 {
		return id.Zero, false
	}
	fid, err := id.FromBytes(key[len(framePrefix):])
	if err != nil {
		return id.Zero, false
	}
	return fid, true
}

// frameScanBounds returns iterator bounds covering frames strictly after the
// given identifier (exclusive), or the whole frame range when after is zero.
func frameScanBounds(after id.ID) (lower, upper []byte) {
	if after.IsZero() {
		lower = append([]byte(nil), framePrefix...)
	} else {
		// A single appended zero byte turns the inclusive seek into an
		// exclusive resume point.
		lower = append(keyFrame(after), 0x00)
	}
	upper = keyUpperBound(framePrefix)
	return lower, upper
}

// keyUpperBound computes the smallest key greater than every key carrying
// the prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil // unbounded
}
