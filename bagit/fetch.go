package bagit

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// A FetchEntry is a single remote payload file.
type FetchEntry struct {
	URL    string
	Length int64
	Path   string

	// Checksums holds the digests expected for this file, keyed by
	// algorithm. They are not stored in fetch.txt; the bag carries them in
	// its manifests.
	Checksums map[string]string
}

// A FetchList holds fetch entries keyed by their payload path. The zero
// value is not usable; use NewFetchList.
type FetchList struct {
	entries map[string]*FetchEntry
}

// NewFetchList returns an empty fetch list.
func NewFetchList() *FetchList {
	return &FetchList{entries: make(map[string]*FetchEntry)}
}

// Len returns the number of entries.
func (f *FetchList) Len() int {
	return len(f.entries)
}

// Add inserts e, replacing any entry with the same path.
func (f *FetchList) Add(e FetchEntry) {
	f.entries[e.Path] = &e
}

// Get returns the entry for path, or nil.
func (f *FetchList) Get(path string) *FetchEntry {
	return f.entries[path]
}

// Remove deletes the entry for path, if any.
func (f *FetchList) Remove(path string) {
	delete(f.entries, path)
}

// Paths returns the payload paths of every entry, sorted.
func (f *FetchList) Paths() []string {
	result := make([]string, 0, len(f.entries))
	for p := range f.entries {
		result = append(result, p)
	}
	sort.Strings(result)
	return result
}

// Entries returns every entry sorted by path.
func (f *FetchList) Entries() []*FetchEntry {
	var result []*FetchEntry
	for _, p := range f.Paths() {
		result = append(result, f.entries[p])
	}
	return result
}

// ParseFetch reads fetch.txt lines of the form "<url> <length> <path>".
// The fields may be separated by any white space. A length of "-" or a
// missing length returns ErrMissingLength, and a path outside the payload
// directory returns ErrBadPath.
func ParseFetch(r io.Reader) (*FetchList, error) {
	result := NewFetchList()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		u, rest := splitLine(strings.TrimLeft(line, " \t"))
		length, p := splitLine(rest)
		n, err := strconv.ParseInt(length, 10, 64)
		if length == "" || length == "-" || (p == "" && err != nil) {
			return nil, errors.Wrapf(ErrMissingLength, "%s line %d", FetchFile, lineno)
		}
		if err != nil || n < 0 {
			return nil, &ManifestError{File: FetchFile, Line: lineno, Msg: "bad length " + strconv.Quote(length)}
		}
		if p == "" {
			return nil, &ManifestError{File: FetchFile, Line: lineno, Msg: "missing path"}
		}
		p = DecodePath(p)
		if !IsPayloadPath(p) {
			return nil, errors.Wrapf(ErrBadPath, "%s line %d: %q", FetchFile, lineno, p)
		}
		result.Add(FetchEntry{URL: u, Length: n, Path: p})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Encode writes the fetch list sorted by path, one tab separated entry per
// line.
func (f *FetchList) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, e := range f.Entries() {
		fmt.Fprintf(bw, "%s\t%d\t%s\n", e.URL, e.Length, EncodePath(e.Path))
	}
	return bw.Flush()
}
