package id

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"sync"
	"time"
)

// ID is a 128-bit, lexicographically sortable identifier encoded as 16 bytes
// big-endian: [8 bytes ms_timestamp][8 bytes sequence].
type ID [16]byte

// Zero is the all-zero ID, used as an "absent" marker.
var Zero ID

// ErrInvalid is returned when parsing a malformed ID string.
var ErrInvalid = errors.New("id: invalid identifier")

// Bytes returns the raw 16-byte representation.
func (i ID) Bytes() []byte { b := make([]byte, 16); copy(b, i[:]); return b }

// String returns the 32-character lowercase hex encoding.
func (i ID) String() string { return hex.EncodeToString(i[:]) }

// IsZero reports whether the ID is the zero value.
func (i ID) IsZero() bool { return i == Zero }

// Time returns the creation timestamp embedded in the ID.
func (i ID) Time() time.Time {
	ms := int64(binary.BigEndian.Uint64(i[0:8]))
	return time.UnixMilli(ms)
}

// Compare returns -1, 0, 1 based on lexical comparison.
func (i ID) Compare(other ID) int {
	for idx := 0; idx < 16; idx++ {
		if i[idx] < other[idx] {
			return -1
		}
		if i[idx] > other[idx] {
			return 1
		}
	}
	return 0
}

// Parse decodes a 32-character hex string produced by String.
func Parse(s string) (ID, error) {
	if len(s) != 32 {
		return Zero, ErrInvalid
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, ErrInvalid
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// FromBytes builds an ID from a raw 16-byte key.
func FromBytes(b []byte) (ID, error) {
	if len(b) != 16 {
		return Zero, ErrInvalid
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Generator produces monotonically increasing IDs per process.
type Generator struct {
	mu       sync.Mutex
	lastMs   int64
	sequence uint64
}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator { return &Generator{} }

// NowMs returns current time in milliseconds since Unix epoch.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Next returns a new ID. If the clock goes backwards, it reuses lastMs and
// increments the sequence. If the sequence overflows within the same
// millisecond, it waits for the next ms.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := NowMs()
	if ms < g.lastMs {
		ms = g.lastMs
	}

	if ms == g.lastMs {
		if g.sequence == math.MaxUint64 {
			for {
				ms = NowMs()
				if ms > g.lastMs {
					break
				}
				time.Sleep(time.Millisecond / 8)
			}
			g.sequence = 0
		} else {
			g.sequence++
		}
	} else {
		g.sequence = 0
	}

	g.lastMs = ms
	return makeID(ms, g.sequence)
}

func makeID(ms int64, seq uint64) ID {
	var id ID
	binary.BigEndian.PutUint64(id[0:8], uint64(ms))
	binary.BigEndian.PutUint64(id[8:16], seq)
	return id
}
