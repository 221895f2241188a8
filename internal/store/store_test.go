package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pebblestore "github.com/marvin-j97/xs/internal/storage/pebble"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Spawn(t.TempDir(), Options{Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("spawn store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustAppend(t *testing.T, s *Store, draft Draft) Frame {
	t.Helper()
	f, err := s.Append(context.Background(), draft)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return f
}

func recvFrame(t *testing.T, ch <-chan Frame) Frame {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed unexpectedly")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for frame")
	}
	return Frame{}
}

// collect drains a non-follow read until its channel closes.
func collect(t *testing.T, ch <-chan Frame) []Frame {
	t.Helper()
	var frames []Frame
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return frames
			}
			frames = append(frames, f)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout draining read")
		}
	}
}

func TestAppendAndGet(t *testing.T) {
	s := newTestStore(t)
	meta := json.RawMessage(`{"key":"value"}`)
	f := mustAppend(t, s, Draft{Topic: "stream", Meta: meta})

	got, ok := s.Get(f.ID)
	if !ok {
		t.Fatalf("frame not found")
	}
	if got.ID != f.ID || got.Topic != "stream" || string(got.Meta) != `{"key":"value"}` {
		t.Fatalf("got %+v", got)
	}

	if _, ok := s.Get(mustAppend(t, s, Draft{Topic: "other", TTL: Ephemeral()}).ID); ok {
		t.Fatalf("ephemeral frame should not be persisted")
	}
}

func TestHead(t *testing.T) {
	s := newTestStore(t)
	mustAppend(t, s, Draft{Topic: "stream"})
	f2 := mustAppend(t, s, Draft{Topic: "stream"})
	mustAppend(t, s, Draft{Topic: "other"})

	head, ok := s.Head("stream")
	if !ok || head.ID != f2.ID {
		t.Fatalf("head = %+v, %v", head, ok)
	}
	if _, ok := s.Head("missing"); ok {
		t.Fatalf("expected no head for unknown topic")
	}
}

func TestReplayBasics(t *testing.T) {
	s := newTestStore(t)
	f1 := mustAppend(t, s, Draft{Topic: "stream"})
	f2 := mustAppend(t, s, Draft{Topic: "stream"})

	ch, err := s.Read(context.Background(), ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	frames := collect(t, ch)
	if len(frames) != 2 || frames[0].ID != f1.ID || frames[1].ID != f2.ID {
		t.Fatalf("replay mismatch: %+v", frames)
	}
}

func TestResumePoint(t *testing.T) {
	s := newTestStore(t)
	f1 := mustAppend(t, s, Draft{Topic: "stream"})
	f2 := mustAppend(t, s, Draft{Topic: "stream"})

	ch, err := s.Read(context.Background(), ReadOptions{LastID: f1.ID})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	frames := collect(t, ch)
	if len(frames) != 1 || frames[0].ID != f2.ID {
		t.Fatalf("resume mismatch: %+v", frames)
	}
}

func TestNoGapSubscription(t *testing.T) {
	s := newTestStore(t)
	a := mustAppend(t, s, Draft{Topic: "stream"})
	b := mustAppend(t, s, Draft{Topic: "stream"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := s.Read(ctx, ReadOptions{Follow: FollowOn()})
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if got := recvFrame(t, ch); got.ID != a.ID {
		t.Fatalf("want A, got %+v", got)
	}
	if got := recvFrame(t, ch); got.ID != b.ID {
		t.Fatalf("want B, got %+v", got)
	}
	if got := recvFrame(t, ch); got.Topic != TopicThreshold {
		t.Fatalf("want threshold, got %+v", got)
	}

	c := mustAppend(t, s, Draft{Topic: "stream"})
	d := mustAppend(t, s, Draft{Topic: "stream"})
	if got := recvFrame(t, ch); got.ID != c.ID {
		t.Fatalf("want C, got %+v", got)
	}
	if got := recvFrame(t, ch); got.ID != d.ID {
		t.Fatalf("want D, got %+v", got)
	}
}

func TestTailSkipsHistory(t *testing.T) {
	s := newTestStore(t)
	mustAppend(t, s, Draft{Topic: "stream"})
	mustAppend(t, s, Draft{Topic: "stream"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := s.Read(ctx, ReadOptions{Tail: true, Follow: FollowOn()})
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	// No history, no threshold: the first frame is the next live append.
	live := mustAppend(t, s, Draft{Topic: "stream"})
	if got := recvFrame(t, ch); got.ID != live.ID {
		t.Fatalf("want live frame, got %+v", got)
	}
}

func TestCompactionLatestPerTopic(t *testing.T) {
	s := newTestStore(t)
	mustAppend(t, s, Draft{Topic: "a"})
	fb := mustAppend(t, s, Draft{Topic: "b"})
	fa2 := mustAppend(t, s, Draft{Topic: "a"})

	ch, err := s.Read(context.Background(), ReadOptions{Compaction: CompactByTopic})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	frames := collect(t, ch)
	if len(frames) != 2 {
		t.Fatalf("want 2 compacted frames, got %+v", frames)
	}
	byTopic := map[string]Frame{}
	for _, f := range frames {
		byTopic[f.Topic] = f
	}
	if byTopic["a"].ID != fa2.ID || byTopic["b"].ID != fb.ID {
		t.Fatalf("compaction kept wrong frames: %+v", byTopic)
	}
}

func TestCompactedFollowSkipsThreshold(t *testing.T) {
	s := newTestStore(t)
	head := mustAppend(t, s, Draft{Topic: "stream"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := s.Read(ctx, ReadOptions{Follow: FollowOn(), Compaction: CompactByTopic})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := recvFrame(t, ch); got.ID != head.ID {
		t.Fatalf("want compacted head, got %+v", got)
	}

	// No threshold was emitted; the next frame is the next live append.
	live := mustAppend(t, s, Draft{Topic: "stream"})
	if got := recvFrame(t, ch); got.ID != live.ID {
		t.Fatalf("want live frame (no threshold), got %+v", got)
	}
}

func TestHeartbeatCadence(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	ch, err := s.Read(ctx, ReadOptions{Tail: true, Follow: FollowWithHeartbeat(5 * time.Millisecond)})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for i := 0; i < 3; i++ {
		if got := recvFrame(t, ch); got.Topic != TopicPulse {
			t.Fatalf("want pulse, got %+v", got)
		}
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("three pulses arrived too fast: %v", elapsed)
	}
}

func TestHeartbeatZeroInterval(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// "follow=0" is a documented heartbeat request; it must tick at the
	// floor cadence, not crash the process.
	follow, err := ParseFollow("0")
	if err != nil {
		t.Fatalf("parse follow: %v", err)
	}
	ch, err := s.Read(ctx, ReadOptions{Tail: true, Follow: follow})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for i := 0; i < 2; i++ {
		if got := recvFrame(t, ch); got.Topic != TopicPulse {
			t.Fatalf("want pulse, got %+v", got)
		}
	}
}

func TestEphemeralVisibleLiveOnly(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := s.Read(ctx, ReadOptions{Tail: true, Follow: FollowOn()})
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	eph := mustAppend(t, s, Draft{Topic: "signal", TTL: Ephemeral()})
	if got := recvFrame(t, ch); got.ID != eph.ID {
		t.Fatalf("live subscriber missed ephemeral frame: %+v", got)
	}

	replay, err := s.Read(context.Background(), ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if frames := collect(t, replay); len(frames) != 0 {
		t.Fatalf("ephemeral frame replayed: %+v", frames)
	}
}

func TestTotalOrderUnderConcurrentAppends(t *testing.T) {
	s := newTestStore(t)

	const writers = 8
	const perWriter = 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				mustAppend(t, s, Draft{Topic: "stream"})
			}
		}()
	}
	wg.Wait()

	ch, err := s.Read(context.Background(), ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	frames := collect(t, ch)
	if len(frames) != writers*perWriter {
		t.Fatalf("want %d frames, got %d", writers*perWriter, len(frames))
	}
	for i := 1; i < len(frames); i++ {
		if frames[i-1].ID.Compare(frames[i].ID) >= 0 {
			t.Fatalf("identifiers not strictly increasing at %d", i)
		}
	}
}

func TestFilterExpression(t *testing.T) {
	s := newTestStore(t)
	fa := mustAppend(t, s, Draft{Topic: "a"})
	mustAppend(t, s, Draft{Topic: "b"})
	fa2 := mustAppend(t, s, Draft{Topic: "a"})

	ch, err := s.Read(context.Background(), ReadOptions{Filter: `topic == "a"`})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	frames := collect(t, ch)
	if len(frames) != 2 || frames[0].ID != fa.ID || frames[1].ID != fa2.ID {
		t.Fatalf("filter mismatch: %+v", frames)
	}

	if _, err := s.Read(context.Background(), ReadOptions{Filter: "topic =="}); err == nil {
		t.Fatalf("expected rejection for malformed filter")
	}
}

func TestFilterAppliesToLiveDelivery(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Read(ctx, ReadOptions{Tail: true, Follow: FollowOn(), Filter: `topic == "keep"`})
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	mustAppend(t, s, Draft{Topic: "drop"})
	kept := mustAppend(t, s, Draft{Topic: "keep"})
	if got := recvFrame(t, ch); got.ID != kept.ID {
		t.Fatalf("filtered live delivery mismatch: %+v", got)
	}
}

func TestCancelledSubscriberIsDropped(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.Read(ctx, ReadOptions{Tail: true, Follow: FollowOn()})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	cancel()

	// Writers never observe subscriber failures.
	for i := 0; i < 3; i++ {
		mustAppend(t, s, Draft{Topic: "stream"})
	}
	// Drain whatever raced in before the drop; the channel must go quiet.
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case <-ch:
		case <-deadline:
			return
		}
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	s, err := Spawn(t.TempDir(), Options{Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.Append(context.Background(), Draft{Topic: "stream"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestDurableAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Spawn(dir, Options{Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	f := mustAppend(t, s, Draft{Topic: "stream"})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Spawn(dir, Options{Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("respawn: %v", err)
	}
	t.Cleanup(func() { _ = s2.Close() })
	got, ok := s2.Get(f.ID)
	if !ok || got.ID != f.ID {
		t.Fatalf("frame lost across reopen")
	}
}

func TestAppendWithContentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	f, err := s.AppendWithContent(context.Background(), "stream", []byte("payload bytes"), nil)
	if err != nil {
		t.Fatalf("append with content: %v", err)
	}
	if f.Hash == "" {
		t.Fatalf("frame carries no digest")
	}
	got, err := s.CASRead(f.Hash)
	if err != nil {
		t.Fatalf("cas read: %v", err)
	}
	if string(got) != "payload bytes" {
		t.Fatalf("payload mismatch: %q", got)
	}
}

func TestEmptyTopicRejected(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Append(context.Background(), Draft{}); err == nil {
		t.Fatalf("expected rejection for empty topic")
	}
}
