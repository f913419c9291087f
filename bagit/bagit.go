// Package bagit implements the BagIt file layout used for holey bags: bags
// whose payload may be partly on the local disk and partly listed in a
// fetch.txt file to be downloaded later.
//
// A Bag is the in-memory form of the tag files: bagit.txt, bag-info.txt, one
// payload manifest per checksum algorithm, the tag manifests, and fetch.txt.
// Bags are read from and written to a store.Store, which lets the writer
// stage every tag file and only replace the old ones once all the new ones
// were written successfully.
//
// Payload files are never opened by this package except to scan their names
// and sizes. Checksums are computed by the caller (see package util) and
// merged into the manifests. The consistency functions (Diff and Complete)
// compare the manifests, the files on disk and the fetch list, and are pure
// set operations.
//
// The BagIt spec can be found at https://tools.ietf.org/html/rfc8493.
package bagit

import (
	"errors"
	"sort"
	"strings"

	"github.com/ndlib/holey/util"
)

const (
	// Version is the version of the BagIt specification this package writes.
	Version = "1.0"

	// Encoding is the character encoding used for all the tag files.
	Encoding = "UTF-8"

	// PayloadDir is the name of the payload directory. Every manifest and
	// fetch path begins with this followed by a slash.
	PayloadDir = "data"

	// names of the fixed tag files
	BagItFile   = "bagit.txt"
	BagInfoFile = "bag-info.txt"
	FetchFile   = "fetch.txt"
)

// Well known bag-info.txt tags which this package fills in.
const (
	TagPayloadOxum   = "Payload-Oxum"
	TagBaggingDate   = "Bagging-Date"
	TagBagSize       = "Bag-Size"
	TagSoftwareAgent = "Bag-Software-Agent"
)

var (
	// ErrNotBag means a directory or store does not contain a bagit.txt file.
	ErrNotBag = errors.New("not a bag: bagit.txt missing")

	// ErrMissingLength means a fetch.txt line did not give the length of its
	// file. Holey bags require every remote file to declare a length.
	ErrMissingLength = errors.New("fetch entry has no length")

	// ErrUnsupportedNested means a tag value was a map, slice or other
	// structure that cannot be written as a line in bag-info.txt.
	ErrUnsupportedNested = errors.New("unsupported nested value for tag")

	// ErrBadPath means a payload manifest or fetch path is not inside the
	// payload directory, or a tag manifest path leaves the bag.
	ErrBadPath = errors.New("path is outside the bag or its payload directory")
)

// A Manifest maps payload paths to the lowercase hex digest of that file for
// a single checksum algorithm.
type Manifest map[string]string

// Bag represents the tag files of a single bag.
type Bag struct {
	// Root is the directory holding this bag. It is empty for bags read
	// from a non file system store.
	Root string

	// Algorithms is the ordered list of active checksum algorithms. New
	// payload files are checksummed with each of them.
	Algorithms []string

	// Version and Encoding come from bagit.txt.
	Version  string
	Encoding string

	// Info holds the tags in bag-info.txt, in file order.
	Info *TagList

	// Manifests maps an algorithm name to the payload manifest for it.
	Manifests map[string]Manifest

	// TagManifests maps an algorithm name to the manifest of tag files.
	TagManifests map[string]Manifest

	// Fetch is the list of remote payload files.
	Fetch *FetchList

	// FoldWidth is the line length bag-info.txt values are folded at when
	// written. Zero means tags are never folded.
	FoldWidth int

	// the fetch paths as of the last time this bag was read or written
	synced map[string]bool
}

// New returns an empty bag rooted at root using the given algorithms.
// Unsupported algorithms are dropped.
func New(root string, algs []string) *Bag {
	algs, _ = util.FilterAlgorithms(algs)
	b := &Bag{
		Root:         root,
		Algorithms:   algs,
		Version:      Version,
		Encoding:     Encoding,
		Info:         new(TagList),
		Manifests:    make(map[string]Manifest),
		TagManifests: make(map[string]Manifest),
		Fetch:        NewFetchList(),
		synced:       make(map[string]bool),
	}
	for _, alg := range algs {
		b.Manifests[alg] = make(Manifest)
	}
	return b
}

// PayloadPaths returns every path listed in any payload manifest, sorted.
func (b *Bag) PayloadPaths() []string {
	seen := make(map[string]bool)
	for _, m := range b.Manifests {
		for p := range m {
			seen[p] = true
		}
	}
	return sortedKeys(seen)
}

// Checksums returns the digests recorded for path in every payload
// manifest, keyed by algorithm. It returns nil if path is in none of them.
func (b *Bag) Checksums(path string) map[string]string {
	var result map[string]string
	for alg, m := range b.Manifests {
		d, ok := m[path]
		if !ok {
			continue
		}
		if result == nil {
			result = make(map[string]string)
		}
		result[alg] = d
	}
	return result
}

// SetChecksums records the digests for path. Only active algorithms are
// stored; digests for other algorithms are ignored.
func (b *Bag) SetChecksums(path string, digests map[string]string) {
	for _, alg := range b.Algorithms {
		d, ok := digests[alg]
		if !ok || d == "" {
			continue
		}
		m := b.Manifests[alg]
		if m == nil {
			m = make(Manifest)
			b.Manifests[alg] = m
		}
		m[path] = strings.ToLower(d)
	}
}

// RemovePath removes path from every payload manifest.
func (b *Bag) RemovePath(path string) {
	for _, m := range b.Manifests {
		delete(m, path)
	}
}

// MissingAlgorithms returns the active algorithms whose manifest does not
// list path.
func (b *Bag) MissingAlgorithms(path string) []string {
	var result []string
	for _, alg := range b.Algorithms {
		if _, ok := b.Manifests[alg][path]; !ok {
			result = append(result, alg)
		}
	}
	return result
}

// SetAlgorithms changes the active algorithm list. Manifests for algorithms
// that are no longer active are kept unless prune is true. An empty manifest
// is created for each newly active algorithm.
func (b *Bag) SetAlgorithms(algs []string, prune bool) error {
	algs, err := util.FilterAlgorithms(algs)
	if err != nil {
		return err
	}
	b.Algorithms = algs
	active := make(map[string]bool)
	for _, alg := range algs {
		active[alg] = true
		if b.Manifests[alg] == nil {
			b.Manifests[alg] = make(Manifest)
		}
	}
	if prune {
		for alg := range b.Manifests {
			if !active[alg] {
				delete(b.Manifests, alg)
			}
		}
	}
	return nil
}

// RemoteChanged returns true if the set of paths in the fetch list differs
// from the set present when the bag was last read or written.
func (b *Bag) RemoteChanged() bool {
	paths := b.Fetch.Paths()
	if len(paths) != len(b.synced) {
		return true
	}
	for _, p := range paths {
		if !b.synced[p] {
			return true
		}
	}
	return false
}

// markSynced records the current fetch paths as the synchronized set.
func (b *Bag) markSynced() {
	b.synced = make(map[string]bool)
	for _, p := range b.Fetch.Paths() {
		b.synced[p] = true
	}
}

// Consistency compares the manifests and fetch list of this bag against the
// payload files given, which map paths to file sizes (see ScanPayload).
func (b *Bag) Consistency(files map[string]int64) Report {
	var fs []string
	for p := range files {
		fs = append(fs, p)
	}
	return Diff(b.PayloadPaths(), fs, b.Fetch.Paths())
}

// Oxum computes the Payload-Oxum for this bag given the local payload files.
// Remote files which are not yet present locally are counted using their
// declared length, so the Oxum describes the complete payload. Fetch
// entries no manifest lists are not part of the payload and are skipped.
func (b *Bag) Oxum(files map[string]int64) Oxum {
	var ox Oxum
	for _, size := range files {
		ox.Bytes += size
		ox.Count++
	}
	for _, e := range b.Fetch.Entries() {
		if _, ok := files[e.Path]; ok {
			continue
		}
		if b.Checksums(e.Path) == nil {
			continue
		}
		ox.Bytes += e.Length
		ox.Count++
	}
	return ox
}

// IsPayloadPath returns true if p is a relative slash separated path inside
// the payload directory.
func IsPayloadPath(p string) bool {
	if !strings.HasPrefix(p, PayloadDir+"/") || len(p) == len(PayloadDir)+1 {
		return false
	}
	for _, elem := range strings.Split(p, "/") {
		if elem == ".." || elem == "." || elem == "" {
			return false
		}
	}
	return true
}

// IsTagPath returns true if p is a relative slash separated path which
// stays inside the bag.
func IsTagPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") {
		return false
	}
	for _, elem := range strings.Split(p, "/") {
		if elem == ".." || elem == "." || elem == "" {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]bool) []string {
	result := make([]string, 0, len(m))
	for k := range m {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}
