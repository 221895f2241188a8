package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// Digest identifies committed content by a hash of its bytes, rendered as
// "sha256-<hex>".
type Digest string

const digestPrefix = "sha256-"

// ErrNotFound is returned when a digest is unknown to the store.
var ErrNotFound = errors.New("cas: content not found")

// ErrCommitted is returned when writing to or committing an already
// committed writer.
var ErrCommitted = errors.New("cas: writer already committed")

// ParseDigest validates the textual form of a digest.
func ParseDigest(s string) (Digest, error) {
	if !strings.HasPrefix(s, digestPrefix) {
		return "", fmt.Errorf("cas: invalid digest %q", s)
	}
	raw := strings.TrimPrefix(s, digestPrefix)
	if len(raw) != sha256.Size*2 {
		return "", fmt.Errorf("cas: invalid digest %q", s)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("cas: invalid digest %q", s)
	}
	return Digest(s), nil
}

func digestFromSum(sum []byte) Digest {
	return Digest(digestPrefix + hex.EncodeToString(sum))
}

func (d Digest) hex() string { return strings.TrimPrefix(string(d), digestPrefix) }

// String returns the textual digest form.
func (d Digest) String() string { return string(d) }

// Info describes a committed blob.
type Info struct {
	Size        int64 `json:"size"`
	CreatedAtMs int64 `json:"createdAtMs"`
}

var bucketBlobs = []byte("blobs")

// Store is a content-addressed blob store: files on disk keyed by content
// digest, with a bbolt index of committed digests.
type Store struct {
	root  string
	index *bbolt.DB
}

// Open creates or opens a CAS rooted at dir.
func Open(dir string) (*Store, error) {
	for _, sub := range []string{"content", "tmp"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("cas: create %s dir: %w", sub, err)
		}
	}
	index, err := bbolt.Open(filepath.Join(dir, "index.db"), 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("cas: open index: %w", err)
	}
	if err := index.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBlobs)
		return err
	}); err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("cas: init index: %w", err)
	}
	return &Store{root: dir, index: index}, nil
}

// Close closes the digest index.
func (s *Store) Close() error {
	if s == nil || s.index == nil {
		return nil
	}
	return s.index.Close()
}

// contentPath fans blobs out over two directory levels to keep directories
// small.
func (s *Store) contentPath(d Digest) string {
	h := d.hex()
	return filepath.Join(s.root, "content", h[0:2], h[2:4], h)
}

// Writer returns a streaming writer. Bytes are digested incrementally and
// become visible only after Commit; a dropped writer leaves no trace.
func (s *Store) Writer() (*Writer, error) {
	f, err := os.CreateTemp(filepath.Join(s.root, "tmp"), "put-*")
	if err != nil {
		return nil, fmt.Errorf("cas: open temp file: %w", err)
	}
	return &Writer{store: s, file: f, hasher: sha256.New()}, nil
}

// Writer streams content into the store.
type Writer struct {
	store     *Store
	file      *os.File
	hasher    hash.Hash
	size      int64
	committed bool
	closed    bool
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	if w.committed || w.closed {
		return 0, ErrCommitted
	}
	n, err := w.file.Write(p)
	if n > 0 {
		w.hasher.Write(p[:n])
		w.size += int64(n)
	}
	return n, err
}

// Commit durably stores the written bytes under their digest and returns it.
// Committing identical content twice yields the same digest.
func (w *Writer) Commit() (Digest, error) {
	if w.committed || w.closed {
		return "", ErrCommitted
	}
	w.committed = true

	if err := w.file.Sync(); err != nil {
		w.abort()
		return "", fmt.Errorf("cas: sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		w.abort()
		return "", fmt.Errorf("cas: close temp: %w", err)
	}

	digest := digestFromSum(w.hasher.Sum(nil))
	dst := w.store.contentPath(digest)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		w.abort()
		return "", fmt.Errorf("cas: create content dir: %w", err)
	}
	if err := os.Rename(w.file.Name(), dst); err != nil {
		w.abort()
		return "", fmt.Errorf("cas: commit content: %w", err)
	}

	info := Info{Size: w.size, CreatedAtMs: time.Now().UnixMilli()}
	encoded, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("cas: encode index entry: %w", err)
	}
	if err := w.store.index.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put([]byte(digest), encoded)
	}); err != nil {
		// An unindexed blob is unreachable through Stat/Reader; remove it
		// so a failed commit leaves no trace, same as an aborted writer.
		_ = os.Remove(dst)
		return "", fmt.Errorf("cas: index digest: %w", err)
	}
	return digest, nil
}

// Close aborts the write if Commit has not been called.
func (w *Writer) Close() error {
	if w.committed || w.closed {
		return nil
	}
	w.closed = true
	w.abort()
	return nil
}

func (w *Writer) abort() {
	_ = w.file.Close()
	_ = os.Remove(w.file.Name())
}

// Reader opens a streaming reader for previously committed content.
func (s *Store) Reader(d Digest) (io.ReadCloser, error) {
	if _, ok, err := s.Stat(d); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrNotFound
	}
	f, err := os.Open(s.contentPath(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cas: open content: %w", err)
	}
	return f, nil
}

// Stat returns the index entry for a digest, if committed.
func (s *Store) Stat(d Digest) (Info, bool, error) {
	var info Info
	var found bool
	err := s.index.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketBlobs).Get([]byte(d))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &info)
	})
	if err != nil {
		return Info{}, false, fmt.Errorf("cas: read index: %w", err)
	}
	return info, found, nil
}

// Insert is the whole-buffer convenience variant of Writer/Commit.
func (s *Store) Insert(content []byte) (Digest, error) {
	w, err := s.Writer()
	if err != nil {
		return "", err
	}
	defer w.Close()
	if _, err := w.Write(content); err != nil {
		return "", err
	}
	return w.Commit()
}

// Read is the whole-buffer convenience variant of Reader.
func (s *Store) Read(d Digest) ([]byte, error) {
	r, err := s.Reader(d)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
