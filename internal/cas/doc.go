// Package cas implements the content-addressed payload store.
//
// Content is keyed by a sha256 digest of its bytes and laid out under
// content/<aa>/<bb>/<hex>. Writes stream into a temp file while the digest
// is computed incrementally; Commit fsyncs and renames the file into place,
// then records the digest in a bbolt index. Content never becomes visible
// partially written: a writer dropped without Commit removes its temp file.
//
//	w, _ := store.Writer()
//	io.Copy(w, body)
//	digest, _ := w.Commit()
//
//	r, _ := store.Reader(digest)
//	defer r.Close()
package cas
