// Package pebblestore provides a thin wrapper around Pebble with a fixed
// fsync policy, point operations, batches, and iterators. It backs the
// ordered frame partition of the store.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: filepath.Join(dir, "frames"),
//	    Fsync:   pebblestore.FsyncModeAlways,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	_ = db.Set([]byte("k"), []byte("v"))
//	v, _ := db.Get([]byte("k"))
package pebblestore
