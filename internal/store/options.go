package store

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/marvin-j97/xs/pkg/id"
)

// FollowMode enumerates live-tailing behavior for a read.
type FollowMode int

const (
	// FollowModeOff ends the read after replay.
	FollowModeOff FollowMode = iota
	// FollowModeOn keeps the channel open for live appends.
	FollowModeOn
	// FollowModeHeartbeat follows and additionally injects periodic pulse
	// frames at the configured interval.
	FollowModeHeartbeat
)

// FollowOption selects whether a read stays subscribed after replay.
type FollowOption struct {
	Mode     FollowMode
	Interval time.Duration // FollowModeHeartbeat only
}

// FollowOff ends the read after replay.
func FollowOff() FollowOption { return FollowOption{} }

// FollowOn keeps the read subscribed to live appends.
func FollowOn() FollowOption { return FollowOption{Mode: FollowModeOn} }

// FollowWithHeartbeat subscribes and emits a pulse frame every interval.
func FollowWithHeartbeat(interval time.Duration) FollowOption {
	return FollowOption{Mode: FollowModeHeartbeat, Interval: interval}
}

// Enabled reports whether the read subscribes to live appends.
func (f FollowOption) Enabled() bool { return f.Mode != FollowModeOff }

// ParseFollow decodes the query token for a present "follow" key: empty,
// "yes" and "true" mean on; "false" and "no" mean off; a numeric string is a
// heartbeat interval in milliseconds.
func ParseFollow(s string) (FollowOption, error) {
	switch s {
	case "", "yes", "true":
		return FollowOn(), nil
	case "false", "no":
		return FollowOff(), nil
	}
	if ms, err := strconv.ParseUint(s, 10, 64); err == nil {
		return FollowWithHeartbeat(time.Duration(ms) * time.Millisecond), nil
	}
	return FollowOption{}, fmt.Errorf("store: invalid follow option %q", s)
}

// CompactionStrategy maps a frame to a dedup key. Frames for which it
// returns false are exempt from compaction and dropped from a compacted
// replay only if another frame shares their key.
type CompactionStrategy func(Frame) (string, bool)

// CompactByTopic is the common strategy collapsing replay to the latest
// frame per topic.
func CompactByTopic(f Frame) (string, bool) { return f.Topic, true }

// ReadOptions describes one read request. The zero value replays all
// history and ends.
type ReadOptions struct {
	// Follow keeps the channel subscribed to live appends after replay.
	Follow FollowOption
	// Tail skips replay entirely and jumps straight to live delivery.
	Tail bool
	// LastID is the exclusive resume point; replay starts after it.
	LastID id.ID
	// Compaction, when set, collapses replay to the latest frame per dedup
	// key. Compacted emission order is key first-occurrence order, not
	// append order.
	Compaction CompactionStrategy
	// Filter is an optional CEL expression over frame topic and metadata;
	// frames failing it are not delivered. Compile errors reject the read.
	Filter string
}

// ReadOptionsFromQuery decodes the documented query-string encoding:
// "follow" (per ParseFollow), "tail" ("false"/"no"/"0" off, anything else
// on), "last-id" (a valid identifier or the whole query fails), "filter"
// (CEL source, validated when the read is issued).
func ReadOptionsFromQuery(q url.Values) (ReadOptions, error) {
	var opts ReadOptions

	if q.Has("follow") {
		follow, err := ParseFollow(q.Get("follow"))
		if err != nil {
			return ReadOptions{}, err
		}
		opts.Follow = follow
	}

	if q.Has("tail") {
		switch q.Get("tail") {
		case "false", "no", "0":
			opts.Tail = false
		default:
			opts.Tail = true
		}
	}

	if raw := q.Get("last-id"); raw != "" {
		lastID, err := id.Parse(raw)
		if err != nil {
			return ReadOptions{}, fmt.Errorf("store: invalid last-id %q", raw)
		}
		opts.LastID = lastID
	}

	opts.Filter = q.Get("filter")
	return opts, nil
}
