package pebblestore

import (
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = pebble.ErrNotFound

// FsyncMode defines durability behavior for write operations.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways requests a WAL fsync on each committed write.
	FsyncModeAlways
	// FsyncModeInterval enables group-commit by letting Pebble coalesce WAL
	// syncs for writes within the configured interval.
	FsyncModeInterval
	// FsyncModeNever avoids forcing WAL syncs from the application.
	FsyncModeNever
)

// ParseFsyncMode maps a config token to an FsyncMode.
func ParseFsyncMode(s string) (FsyncMode, error) {
	switch s {
	case "", "always":
		return FsyncModeAlways, nil
	case "interval":
		return FsyncModeInterval, nil
	case "never":
		return FsyncModeNever, nil
	default:
		return FsyncModeUnspecified, errors.New("pebble: invalid fsync mode; use always|interval|never")
	}
}

// Options configures the Pebble store wrapper.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// Fsync determines when to sync the WAL.
	Fsync FsyncMode
	// FsyncInterval controls group-commit when Fsync=FsyncModeInterval.
	FsyncInterval time.Duration
}

// DB wraps a Pebble database with a fixed fsync policy and small helpers.
type DB struct {
	inner     *pebble.DB
	writeSync bool
}

// Open creates or opens a Pebble database with the provided options.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}

	po := &pebble.Options{}
	switch opts.Fsync {
	case FsyncModeAlways:
		// Sync is requested per write; no WAL coalescing.
	case FsyncModeInterval:
		if opts.FsyncInterval <= 0 {
			opts.FsyncInterval = 5 * time.Millisecond
		}
		interval := opts.FsyncInterval
		po.WALMinSyncInterval = func() time.Duration { return interval }
	case FsyncModeNever:
	default:
		po.WALMinSyncInterval = func() time.Duration { return 5 * time.Millisecond }
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, err
	}
	return &DB{inner: inner, writeSync: opts.Fsync == FsyncModeAlways}, nil
}

// Close closes the Pebble database.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

func (db *DB) writeOptions() *pebble.WriteOptions {
	if db.writeSync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// Set writes a key respecting the fsync policy.
func (db *DB) Set(key, value []byte) error {
	return db.inner.Set(key, value, db.writeOptions())
}

// Delete removes a key respecting the fsync policy.
func (db *DB) Delete(key []byte) error {
	return db.inner.Delete(key, db.writeOptions())
}

// Get copies the value for the given key. Returns ErrNotFound for absent keys.
func (db *DB) Get(key []byte) ([]byte, error) {
	val, closer, err := db.inner.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

// NewBatch creates a new batch for atomic multi-key updates.
func (db *DB) NewBatch() *pebble.Batch {
	return db.inner.NewBatch()
}

// CommitBatch commits the provided batch with the configured fsync policy.
func (db *DB) CommitBatch(b *pebble.Batch) error {
	if b == nil {
		return errors.New("pebble: nil batch")
	}
	return b.Commit(db.writeOptions())
}

// NewIter creates a raw Pebble iterator with the provided options.
func (db *DB) NewIter(opts *pebble.IterOptions) (*pebble.Iterator, error) {
	return db.inner.NewIter(opts)
}
