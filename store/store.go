// Package store provides the small key-value interface the bag writer uses to
// persist tag files. Keys are slash separated paths relative to the bag root,
// e.g. "bag-info.txt" or "manifest-md5.txt".
//
// Writes are staged. Nothing written through Stage is visible until Commit
// is called on it, and Abort throws it away. The bag writer stages its whole
// set of tag files before committing any of them, so a failure part way
// through writing leaves the previous tag files in place.
//
// FileSystem is the implementation used for real bags. Memory is useful for
// testing.
package store

import (
	"errors"
	"io"
)

// Store defines the stream based key-value store used for tag files.
type Store interface {
	// Open returns a reader for the content of key.
	Open(key string) (io.ReadCloser, error)

	// Stat returns the size of key, or ErrNotExist.
	Stat(key string) (int64, error)

	// Stage starts a replacement of the content of key.
	Stage(key string) (Pending, error)

	// Delete removes key. It is not an error if key does not exist.
	Delete(key string) error

	// List returns the keys at the top level of the store, i.e. the ones
	// without a slash, sorted.
	List() ([]string, error)
}

// A Pending write collects the new content for a key. Exactly one of Commit
// or Abort should be called when done writing.
type Pending interface {
	io.Writer
	Key() string
	Commit() error
	Abort() error
}

var (
	// ErrNotExist means the key does not exist in the store.
	ErrNotExist = errors.New("key does not exist")

	// ErrKeyEscapes means the key is absolute or uses ".." to leave the
	// root of the store.
	ErrKeyEscapes = errors.New("key is outside the store")

	// ErrKeyContainsNonUnicode means the key provided contains a Non Unicode Rune
	ErrKeyContainsNonUnicode = errors.New("key contains non-unicode character")

	// ErrKeyContainsControlChar means the key provided contains Control Characters
	ErrKeyContainsControlChar = errors.New("key contains control characters")
)

// AbortAll aborts every pending write, ignoring errors. It is a convenience
// for cleaning up after a failure.
func AbortAll(pending []Pending) {
	for _, p := range pending {
		if p != nil {
			_ = p.Abort()
		}
	}
}

// CommitAll commits the pending writes in order. It stops at the first
// error, and aborts the ones not yet committed.
func CommitAll(pending []Pending) error {
	for i, p := range pending {
		if err := p.Commit(); err != nil {
			AbortAll(pending[i+1:])
			return err
		}
	}
	return nil
}
