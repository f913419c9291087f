package bagit

import (
	"fmt"
	"strings"
)

// A ProblemKind classifies a single way a bag can fail validation.
type ProblemKind int

// The kinds of problems found when validating a bag.
const (
	FileMissing          ProblemKind = iota + 1 // listed in a manifest but not on disk nor in fetch.txt
	UnexpectedFile                              // on disk but not in any manifest
	UnexpectedRemoteFile                        // in fetch.txt but not in any manifest
	ChecksumMismatch
	SizeMismatch // a fetched file is not the length fetch.txt declares
	IncompleteManifest
	NormalizationDrift // a path matched only after unicode normalization
	OxumMismatch
	BadTagFile
)

var problemNames = map[ProblemKind]string{
	FileMissing:          "file missing",
	UnexpectedFile:       "unexpected file",
	UnexpectedRemoteFile: "unexpected remote file",
	ChecksumMismatch:     "checksum mismatch",
	SizeMismatch:         "size mismatch",
	IncompleteManifest:   "incomplete manifest",
	NormalizationDrift:   "normalization drift",
	OxumMismatch:         "oxum mismatch",
	BadTagFile:           "bad tag file",
}

func (k ProblemKind) String() string {
	if s, ok := problemNames[k]; ok {
		return s
	}
	return fmt.Sprintf("problem(%d)", int(k))
}

// A Problem is one thing wrong with a bag.
type Problem struct {
	Kind      ProblemKind
	Path      string
	Algorithm string // for ChecksumMismatch and IncompleteManifest
	Expected  string
	Actual    string
}

func (p Problem) String() string {
	var b strings.Builder
	b.WriteString(p.Kind.String())
	if p.Path != "" {
		b.WriteString(": ")
		b.WriteString(p.Path)
	}
	if p.Algorithm != "" {
		fmt.Fprintf(&b, " (%s)", p.Algorithm)
	}
	if p.Expected != "" || p.Actual != "" {
		fmt.Fprintf(&b, " expected %s, got %s", p.Expected, p.Actual)
	}
	return b.String()
}

// BagError collects every problem found while validating a bag.
type BagError struct {
	Problems []Problem
}

func (e BagError) Error() string {
	switch len(e.Problems) {
	case 0:
		return "bag invalid"
	case 1:
		return "bag invalid: " + e.Problems[0].String()
	}
	return fmt.Sprintf("bag invalid: %s (and %d more)", e.Problems[0], len(e.Problems)-1)
}

// Count returns the number of problems of the given kind.
func (e BagError) Count(kind ProblemKind) int {
	n := 0
	for _, p := range e.Problems {
		if p.Kind == kind {
			n++
		}
	}
	return n
}

// ConflictError means paths were declared both as local payload files and
// as remote files. It is raised before anything in the bag is changed.
type ConflictError struct {
	Paths []string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("remote paths conflict with payload files: %s", strings.Join(e.Paths, ", "))
}
