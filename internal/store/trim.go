package store

import (
	"context"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/marvin-j97/xs/pkg/id"
	logpkg "github.com/marvin-j97/xs/pkg/log"
)

const trimBatchLimit = 1024

// TrimResult reports what a retention pass removed.
type TrimResult struct {
	// TimeExpired counts frames collected because their Time TTL lapsed.
	TimeExpired int
	// HeadCollapsed counts frames collected by per-topic Head retention.
	HeadCollapsed int
}

// Deleted returns the total number of collected frames.
func (r TrimResult) Deleted() int { return r.TimeExpired + r.HeadCollapsed }

type trimCommand struct {
	reply chan trimReply
}

type trimReply struct {
	result TrimResult
	err    error
}

// Trim enforces Time and Head retention over persisted frames. It runs on
// the command loop, so it serializes with appends; ordering of surviving
// frames is untouched.
func (s *Store) Trim(ctx context.Context) (TrimResult, error) {
	cmd := trimCommand{reply: make(chan trimReply, 1)}
	if err := s.send(ctx, cmd); err != nil {
		return TrimResult{}, err
	}
	select {
	case r := <-cmd.reply:
		return r.result, r.err
	case <-ctx.Done():
		return TrimResult{}, ctx.Err()
	}
}

type headCandidate struct {
	fid id.ID
	n   int
}

func (s *Store) handleTrim(c trimCommand) {
	now := time.Now()

	lower, upper := frameScanBounds(id.Zero)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		c.reply <- trimReply{err: err}
		return
	}

	var result TrimResult
	var expired []id.ID
	headFrames := map[string][]headCandidate{}

	for ok := iter.First(); ok; ok = iter.Next() {
		frame := s.decodeFrame(iter.Key(), iter.Value())
		switch frame.TTL.Kind {
		case TTLTime:
			if now.Sub(frame.ID.Time()) >= frame.TTL.Duration {
				expired = append(expired, frame.ID)
			}
		case TTLHead:
			headFrames[frame.Topic] = append(headFrames[frame.Topic], headCandidate{fid: frame.ID, n: frame.TTL.N})
		}
	}
	_ = iter.Close()

	result.TimeExpired = len(expired)

	// Head retention keeps the most recent n frames per topic; n is taken
	// from the newest Head frame of that topic.
	var collapsed []id.ID
	for _, candidates := range headFrames {
		n := candidates[len(candidates)-1].n
		if len(candidates) <= n {
			continue
		}
		for _, old := range candidates[:len(candidates)-n] {
			collapsed = append(collapsed, old.fid)
		}
	}
	result.HeadCollapsed = len(collapsed)

	toDelete := append(expired, collapsed...)
	if err := s.deleteFrames(toDelete); err != nil {
		c.reply <- trimReply{err: err}
		return
	}

	if result.Deleted() > 0 {
		s.logger.Info("trim collected frames",
			logpkg.Int("time_expired", result.TimeExpired),
			logpkg.Int("head_collapsed", result.HeadCollapsed),
		)
	}
	c.reply <- trimReply{result: result}
}

// deleteFrames removes frame records in bounded batches.
func (s *Store) deleteFrames(ids []id.ID) error {
	for len(ids) > 0 {
		n := len(ids)
		if n > trimBatchLimit {
			n = trimBatchLimit
		}
		b := s.db.NewBatch()
		for _, fid := range ids[:n] {
			if err := b.Delete(keyFrame(fid), nil); err != nil {
				_ = b.Close()
				return err
			}
		}
		if err := s.db.CommitBatch(b); err != nil {
			_ = b.Close()
			return err
		}
		_ = b.Close()
		ids = ids[n:]
	}
	return nil
}
