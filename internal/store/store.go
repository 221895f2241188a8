package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/marvin-j97/xs/internal/cas"
	pebblestore "github.com/marvin-j97/xs/internal/storage/pebble"
	"github.com/marvin-j97/xs/pkg/id"
	logpkg "github.com/marvin-j97/xs/pkg/log"
)

const (
	defaultQueueSize  = 32
	defaultReadBuffer = 100
)

// ErrClosed is returned for operations issued after Close.
var ErrClosed = errors.New("store: closed")

// Options tunes a Store at spawn time. Zero values select defaults.
type Options struct {
	// QueueSize bounds the command channel; a full queue backpressures
	// writers and readers rather than dropping.
	QueueSize int
	// ReadBuffer is the per-reader frame channel capacity.
	ReadBuffer int
	// Fsync selects the partition's WAL durability policy.
	Fsync pebblestore.FsyncMode
	// FsyncInterval applies when Fsync is FsyncModeInterval.
	FsyncInterval time.Duration
	// Logger receives store diagnostics; defaults to a fresh text logger.
	Logger logpkg.Logger
}

// Store owns the ordered frame partition and the CAS, and serializes every
// append and read through a single command loop. Handles are not cloned in
// Go: one *Store is shared by all users of a storage directory.
type Store struct {
	path       string
	db         *pebblestore.DB
	cas        *cas.Store
	gen        *id.Generator
	logger     logpkg.Logger
	readBuffer int

	cmds     chan command
	loopDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

type command interface{ isCommand() }

type appendCommand struct {
	draft Draft
	reply chan appendResult
}

type appendResult struct {
	frame Frame
	err   error
}

type readCommand struct {
	ctx    context.Context
	opts   ReadOptions
	filter frameFilter
	out    chan Frame
}

func (appendCommand) isCommand() {}
func (readCommand) isCommand()   {}
func (trimCommand) isCommand()   {}

// Spawn opens (or creates) persistent state rooted at path and starts the
// command loop. The partition lives under path/frames, the CAS under
// path/cas.
func Spawn(path string, opts Options) (*Store, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = defaultReadBuffer
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewLogger()
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       filepath.Join(path, "frames"),
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open partition: %w", err)
	}
	casStore, err := cas.Open(filepath.Join(path, "cas"))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		path:       path,
		db:         db,
		cas:        casStore,
		gen:        id.NewGenerator(),
		logger:     opts.Logger.With(logpkg.Component("store")),
		readBuffer: opts.ReadBuffer,
		cmds:       make(chan command, opts.QueueSize),
		loopDone:   make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

// Path returns the storage directory the store was spawned at.
func (s *Store) Path() string { return s.path }

// Close stops the command loop and flushes persistent state. Pending
// commands already queued are processed first; operations issued after
// Close fail with ErrClosed.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.cmds)
		<-s.loopDone
		err := s.db.Close()
		if cerr := s.cas.Close(); err == nil {
			err = cerr
		}
		s.closeErr = err
	})
	return s.closeErr
}

// loop is the single serializing thread: identifier assignment, partition
// mutation, and subscriber bookkeeping all happen here.
func (s *Store) loop() {
	defer close(s.loopDone)
	var subscribers []subscriber
	for cmd := range s.cmds {
		switch c := cmd.(type) {
		case appendCommand:
			subscribers = s.handleAppend(c, subscribers)
		case readCommand:
			subscribers = s.handleRead(c, subscribers)
		case trimCommand:
			s.handleTrim(c)
		}
	}
}

type subscriber struct {
	ctx    context.Context
	out    chan Frame
	filter frameFilter
}

// deliver pushes a frame, blocking while the subscriber's buffer is full.
// Returns false once the subscriber's context is done, which deregisters it.
func (sub subscriber) deliver(f Frame) bool {
	if !sub.filter.Eval(f) {
		return sub.alive()
	}
	select {
	case sub.out <- f:
		return true
	case <-sub.ctx.Done():
		return false
	}
}

func (sub subscriber) alive() bool {
	select {
	case <-sub.ctx.Done():
		return false
	default:
		return true
	}
}

func (s *Store) handleAppend(c appendCommand, subscribers []subscriber) []subscriber {
	frame := Frame{
		ID:    s.gen.Next(),
		Topic: c.draft.Topic,
		Hash:  c.draft.Hash,
		Meta:  c.draft.Meta,
		TTL:   c.draft.TTL,
	}

	if !frame.TTL.IsEphemeral() {
		encoded, err := json.Marshal(frame)
		if err != nil {
			c.reply <- appendResult{err: fmt.Errorf("store: encode frame: %w", err)}
			return subscribers
		}
		if err := s.db.Set(keyFrame(frame.ID), encoded); err != nil {
			c.reply <- appendResult{err: fmt.Errorf("store: persist frame: %w", err)}
			return subscribers
		}
	}

	subscribers = s.fanOut(frame, subscribers)
	c.reply <- appendResult{frame: frame}
	return subscribers
}

// fanOut delivers a finalized frame to every live subscriber, dropping the
// ones whose context is done.
func (s *Store) fanOut(frame Frame, subscribers []subscriber) []subscriber {
	kept := subscribers[:0]
	for _, sub := range subscribers {
		if sub.deliver(frame) {
			kept = append(kept, sub)
		} else {
			s.logger.Debug("subscriber dropped", logpkg.Str("topic", frame.Topic))
		}
	}
	return kept
}

func (s *Store) handleRead(c readCommand, subscribers []subscriber) []subscriber {
	sub := subscriber{ctx: c.ctx, out: c.out, filter: c.filter}

	if !c.opts.Tail {
		if !s.replay(c, sub) {
			// Receiver went away mid-replay; cease without registering.
			return subscribers
		}
	}

	if !c.opts.Follow.Enabled() {
		close(c.out)
		return subscribers
	}

	// The threshold sentinel bounds replay. There is nothing to bound after
	// a tail, and a compacted replay already broke strict historical
	// correspondence.
	if !c.opts.Tail && c.opts.Compaction == nil {
		threshold := Frame{ID: s.gen.Next(), Topic: TopicThreshold}
		if !sub.deliver(threshold) {
			return subscribers
		}
	}
	return append(subscribers, sub)
}

// replay streams persisted frames after opts.LastID, in append order, to the
// subscriber. Returns false if the receiver went away.
func (s *Store) replay(c readCommand, sub subscriber) bool {
	lower, upper := frameScanBounds(c.opts.LastID)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		s.logger.Error("replay iterator", logpkg.Err(err))
		return false
	}
	defer iter.Close()

	var compacted map[string]Frame
	var keyOrder []string
	if c.opts.Compaction != nil {
		compacted = make(map[string]Frame)
	}

	for ok := iter.First(); ok; ok = iter.Next() {
		frame := s.decodeFrame(iter.Key(), iter.Value())
		if c.opts.Compaction != nil {
			if key, ok := c.opts.Compaction(frame); ok {
				if _, seen := compacted[key]; !seen {
					keyOrder = append(keyOrder, key)
				}
				compacted[key] = frame
			}
			continue
		}
		if !sub.deliver(frame) {
			return false
		}
	}

	for _, key := range keyOrder {
		if !sub.deliver(compacted[key]) {
			return false
		}
	}
	return true
}

// decodeFrame deserializes a persisted record. Failure means the partition
// is corrupt, which is unrecoverable: the process halts rather than
// continuing past data loss.
func (s *Store) decodeFrame(key, value []byte) Frame {
	var frame Frame
	if err := json.Unmarshal(value, &frame); err != nil {
		s.logger.Fatal("corrupt frame record",
			logpkg.Err(err),
			logpkg.Str("key", fmt.Sprintf("%x", key)),
		)
	}
	if kid, ok := frameKeyID(key); !ok || kid != frame.ID {
		s.logger.Fatal("frame key does not match record",
			logpkg.Str("key", fmt.Sprintf("%x", key)),
			logpkg.Str("id", frame.ID.String()),
		)
	}
	return frame
}

// Append assigns the next identifier, persists the frame (unless its TTL is
// ephemeral), fans it out to live subscribers, and returns the finalized
// frame.
func (s *Store) Append(ctx context.Context, draft Draft) (Frame, error) {
	if draft.Topic == "" {
		return Frame{}, errors.New("store: empty topic")
	}
	cmd := appendCommand{draft: draft, reply: make(chan appendResult, 1)}
	if err := s.send(ctx, cmd); err != nil {
		return Frame{}, err
	}
	select {
	case res := <-cmd.reply:
		return res.frame, res.err
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// AppendWithContent writes content to the CAS first, then appends a frame
// referencing its digest. A CAS failure aborts before any identifier is
// assigned.
func (s *Store) AppendWithContent(ctx context.Context, topic string, content []byte, meta json.RawMessage) (Frame, error) {
	digest, err := s.cas.Insert(content)
	if err != nil {
		return Frame{}, err
	}
	return s.Append(ctx, Draft{Topic: topic, Hash: digest, Meta: meta})
}

// Read issues a read request and returns the channel frames arrive on.
// Replay happens on the command loop; the channel is closed at end of
// replay unless the read follows. Cancelling ctx is the only way to detach
// a following reader.
func (s *Store) Read(ctx context.Context, opts ReadOptions) (<-chan Frame, error) {
	filter, err := newFrameFilter(opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("store: invalid filter: %w", err)
	}

	out := make(chan Frame, s.readBuffer)
	cmd := readCommand{ctx: ctx, opts: opts, filter: filter, out: out}
	if err := s.send(ctx, cmd); err != nil {
		return nil, err
	}

	if opts.Follow.Mode == FollowModeHeartbeat {
		go s.heartbeat(ctx, out, opts.Follow.Interval)
	}
	return out, nil
}

// heartbeat injects pulse frames directly into the subscriber's channel,
// bypassing the command loop. Pulses are therefore neither persisted nor
// ordered against concurrent appends beyond their position on this channel.
func (s *Store) heartbeat(ctx context.Context, out chan Frame, interval time.Duration) {
	// follow=0 is a valid request meaning "as fast as possible"; NewTicker
	// panics on non-positive intervals, so clamp to the tick floor.
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pulse := Frame{ID: s.gen.Next(), Topic: TopicPulse}
		select {
		case out <- pulse:
		case <-ctx.Done():
			return
		}
	}
}

// send enqueues a command, blocking while the queue is full.
func (s *Store) send(ctx context.Context, cmd command) (err error) {
	defer func() {
		if recover() != nil {
			err = ErrClosed
		}
	}()
	select {
	case s.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.loopDone:
		return ErrClosed
	}
}

// Get is a point lookup by identifier.
func (s *Store) Get(fid id.ID) (Frame, bool) {
	value, err := s.db.Get(keyFrame(fid))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return Frame{}, false
		}
		s.logger.Fatal("partition read", logpkg.Err(err))
	}
	return s.decodeFrame(keyFrame(fid), value), true
}

// Head returns the most recent persisted frame for a topic.
func (s *Store) Head(topic string) (Frame, bool) {
	lower, upper := frameScanBounds(id.Zero)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		s.logger.Error("head iterator", logpkg.Err(err))
		return Frame{}, false
	}
	defer iter.Close()

	for ok := iter.Last(); ok; ok = iter.Prev() {
		frame := s.decodeFrame(iter.Key(), iter.Value())
		if frame.Topic == topic {
			return frame, true
		}
	}
	return Frame{}, false
}

// CASWriter opens a streaming writer into the payload store.
func (s *Store) CASWriter() (*cas.Writer, error) { return s.cas.Writer() }

// CASReader opens a streaming reader for previously committed content.
func (s *Store) CASReader(d cas.Digest) (io.ReadCloser, error) { return s.cas.Reader(d) }

// CASInsert is the whole-buffer write convenience.
func (s *Store) CASInsert(content []byte) (cas.Digest, error) { return s.cas.Insert(content) }

// CASRead is the whole-buffer read convenience.
func (s *Store) CASRead(d cas.Digest) ([]byte, error) { return s.cas.Read(d) }
