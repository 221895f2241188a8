package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marvin-j97/xs/internal/cas"
	"github.com/marvin-j97/xs/pkg/id"
)

// Reserved synthetic topics. Frames on these topics exist only on live
// subscriber channels and are never persisted.
const (
	// TopicThreshold marks the boundary between replayed history and live
	// delivery on a following read.
	TopicThreshold = "xs.threshold"
	// TopicPulse is the periodic heartbeat frame on a following read with a
	// heartbeat interval.
	TopicPulse = "xs.pulse"
)

// Frame is one immutable entry of the log.
type Frame struct {
	ID    id.ID           `json:"id"`
	Topic string          `json:"topic"`
	Hash  cas.Digest      `json:"hash,omitempty"`
	Meta  json.RawMessage `json:"meta,omitempty"`
	TTL   TTL             `json:"ttl"`
}

// Draft is a frame before the store assigns its identifier.
type Draft struct {
	Topic string
	Hash  cas.Digest
	Meta  json.RawMessage
	TTL   TTL
}

// TTLKind enumerates the closed set of retention policies.
type TTLKind int

const (
	// TTLForever never collects the frame. Zero value.
	TTLForever TTLKind = iota
	// TTLEphemeral skips persistence entirely; the frame is visible only to
	// live subscribers at append time.
	TTLEphemeral
	// TTLTime makes the frame eligible for removal once its duration has
	// elapsed since append.
	TTLTime
	// TTLHead retains only the most recent n frames per topic.
	TTLHead
)

// TTL is a frame's retention policy, attached at append time. Retention is
// independent of ordering: a frame's position in the log never changes, only
// whether a trim may remove it.
type TTL struct {
	Kind     TTLKind
	Duration time.Duration // TTLTime only
	N        int           // TTLHead only
}

// Forever returns the default retention policy.
func Forever() TTL { return TTL{} }

// Ephemeral returns the non-persisted retention policy.
func Ephemeral() TTL { return TTL{Kind: TTLEphemeral} }

// Time returns a policy collecting the frame after d has elapsed.
func Time(d time.Duration) TTL { return TTL{Kind: TTLTime, Duration: d} }

// Head returns a policy retaining the most recent n frames of the topic.
func Head(n int) TTL { return TTL{Kind: TTLHead, N: n} }

// IsEphemeral reports whether the frame bypasses persistence.
func (t TTL) IsEphemeral() bool { return t.Kind == TTLEphemeral }

// String renders the policy token: "forever", "ephemeral", "time:<dur>",
// "head:<n>".
func (t TTL) String() string {
	switch t.Kind {
	case TTLEphemeral:
		return "ephemeral"
	case TTLTime:
		return "time:" + t.Duration.String()
	case TTLHead:
		return "head:" + strconv.Itoa(t.N)
	default:
		return "forever"
	}
}

// ParseTTL decodes a policy token. An empty token means Forever. Invalid
// tokens are a request rejection, surfaced before any state mutation.
func ParseTTL(s string) (TTL, error) {
	switch s {
	case "", "forever":
		return Forever(), nil
	case "ephemeral":
		return Ephemeral(), nil
	}
	if rest, ok := strings.CutPrefix(s, "time:"); ok {
		d, err := time.ParseDuration(rest)
		if err != nil || d <= 0 {
			return TTL{}, fmt.Errorf("store: invalid ttl duration %q", rest)
		}
		return Time(d), nil
	}
	if rest, ok := strings.CutPrefix(s, "head:"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return TTL{}, fmt.Errorf("store: invalid ttl head count %q", rest)
		}
		return Head(n), nil
	}
	return TTL{}, fmt.Errorf("store: invalid ttl token %q", s)
}

// MarshalJSON encodes the policy as its token.
func (t TTL) MarshalJSON() ([]byte, error) { return json.Marshal(t.String()) }

// UnmarshalJSON decodes the token form.
func (t *TTL) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTTL(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
