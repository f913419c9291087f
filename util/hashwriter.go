package util

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrNoAlgorithms means none of the requested checksum algorithms are ones
// this package knows how to compute.
var ErrNoAlgorithms = errors.New("no supported checksum algorithms")

// constructors for every algorithm we can compute. The names are the ones
// used in manifest file names, e.g. "manifest-sha256.txt".
var hashers = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
	"blake3": func() hash.Hash { return blake3.New() },
}

// Supported returns true if the named algorithm can be computed.
func Supported(alg string) bool {
	_, ok := hashers[strings.ToLower(alg)]
	return ok
}

// Algorithms returns the names of all the supported algorithms, sorted.
func Algorithms() []string {
	var result []string
	for k := range hashers {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// FilterAlgorithms returns the supported algorithms in algs, lower cased, in
// their original order and without duplicates. Unsupported names are logged
// and dropped. ErrNoAlgorithms is returned if nothing is left.
func FilterAlgorithms(algs []string) ([]string, error) {
	var result []string
	seen := make(map[string]bool)
	for _, alg := range algs {
		alg = strings.ToLower(strings.TrimSpace(alg))
		if seen[alg] {
			continue
		}
		seen[alg] = true
		if !Supported(alg) {
			log.Printf("checksum: ignoring unsupported algorithm %q", alg)
			continue
		}
		result = append(result, alg)
	}
	if len(result) == 0 {
		return nil, ErrNoAlgorithms
	}
	return result, nil
}

// A HashWriter wraps an io.Writer and also calculates a hash of the bytes
// written for each requested algorithm.
type HashWriter struct {
	io.Writer // our io.MultiWriter
	hashes    map[string]hash.Hash
}

// NewHashWriter returns a HashWriter wrapping w which computes the given
// algorithms. Unsupported algorithms are silently skipped; use
// FilterAlgorithms first if that matters. If w is nil, the bytes are only
// hashed.
func NewHashWriter(w io.Writer, algs ...string) *HashWriter {
	hw := &HashWriter{hashes: make(map[string]hash.Hash)}
	var writers []io.Writer
	if w != nil {
		writers = append(writers, w)
	}
	for _, alg := range algs {
		alg = strings.ToLower(alg)
		mk, ok := hashers[alg]
		if !ok || hw.hashes[alg] != nil {
			continue
		}
		h := mk()
		hw.hashes[alg] = h
		writers = append(writers, h)
	}
	hw.Writer = io.MultiWriter(writers...)
	return hw
}

// NewHashWriterPlain returns a HashWriter that does not wrap an output
// stream. It will just compute the checksums of the data written to it.
func NewHashWriterPlain(algs ...string) *HashWriter {
	return NewHashWriter(nil, algs...)
}

// Sum returns the lowercase hex digest for the given algorithm, or "" if
// this writer is not computing it.
func (hw *HashWriter) Sum(alg string) string {
	h := hw.hashes[strings.ToLower(alg)]
	if h == nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Sums returns the lowercase hex digests for every algorithm this writer is
// computing.
func (hw *HashWriter) Sums() map[string]string {
	result := make(map[string]string, len(hw.hashes))
	for alg := range hw.hashes {
		result[alg] = hw.Sum(alg)
	}
	return result
}

// Check returns the digest for alg, and compares it for equality with the
// goal digest passed in. The comparison ignores case. If the goal is empty
// then it is treated as matching.
func (hw *HashWriter) Check(alg string, goal string) (string, bool) {
	computed := hw.Sum(alg)
	ok := goal == "" || strings.EqualFold(goal, computed)
	return computed, ok
}

// VerifyStreamHash checksums the given io.Reader and compares the result
// against the expected digests, which map algorithm names to hex strings.
// Algorithms that are not supported are ignored. It returns true if
// everything matches. An empty map always matches. The reader is not
// closed when finished.
func VerifyStreamHash(r io.Reader, expected map[string]string) (bool, error) {
	var algs []string
	for alg := range expected {
		algs = append(algs, alg)
	}
	if len(algs) == 0 {
		return true, nil
	}
	hw := NewHashWriterPlain(algs...)
	_, err := io.Copy(hw, r)
	var result = true
	for alg, goal := range expected {
		if !Supported(alg) {
			continue
		}
		_, ok := hw.Check(alg, goal)
		result = result && ok
	}
	return result, err
}
