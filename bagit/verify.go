package bagit

import (
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/ndlib/holey/store"
	"github.com/ndlib/holey/util"
)

// CheckStructure returns the problems with the manifests themselves: any
// payload path not listed in the manifest of every active algorithm is an
// IncompleteManifest problem, and a bag without a payload manifest is a
// BadTagFile problem.
func (b *Bag) CheckStructure() []Problem {
	var result []Problem
	if len(b.Manifests) == 0 {
		result = append(result, Problem{Kind: BadTagFile, Path: ManifestName("*")})
	}
	for _, p := range b.PayloadPaths() {
		for _, alg := range b.MissingAlgorithms(p) {
			result = append(result, Problem{Kind: IncompleteManifest, Path: p, Algorithm: alg})
		}
	}
	if b.Info.Has(TagPayloadOxum) {
		if _, err := ParseOxum(b.Info.Get(TagPayloadOxum)); err != nil {
			result = append(result, Problem{Kind: BadTagFile, Path: BagInfoFile, Actual: b.Info.Get(TagPayloadOxum)})
		}
	}
	return result
}

// CompareDigests compares freshly computed digests for path against the
// manifests. If any algorithm differs a single ChecksumMismatch problem is
// returned; its Algorithm field lists every algorithm that differed,
// separated by commas, and Expected and Actual are for the first of them.
// Algorithms not in computed are not checked.
func (b *Bag) CompareDigests(path string, computed map[string]string) []Problem {
	expected := b.Checksums(path)
	var algs []string
	for alg := range expected {
		algs = append(algs, alg)
	}
	sort.Strings(algs)
	var bad []string
	var first Problem
	for _, alg := range algs {
		actual, ok := computed[alg]
		if !ok || strings.EqualFold(actual, expected[alg]) {
			continue
		}
		if bad == nil {
			first = Problem{
				Kind:     ChecksumMismatch,
				Path:     path,
				Expected: expected[alg],
				Actual:   actual,
			}
		}
		bad = append(bad, alg)
	}
	if bad == nil {
		return nil
	}
	first.Algorithm = strings.Join(bad, ",")
	return []Problem{first}
}

// VerifyTagFiles checks the tag files in s against the tag manifests. A
// listed file which is missing is a FileMissing problem, and a file whose
// content differs is a ChecksumMismatch problem, one per file as with
// CompareDigests. Manifests for unsupported algorithms are skipped.
func (b *Bag) VerifyTagFiles(s store.Store) ([]Problem, error) {
	var result []Problem
	listed := make(map[string][]string)
	for alg, m := range b.TagManifests {
		if !util.Supported(alg) {
			continue
		}
		for _, p := range m.Paths() {
			listed[p] = append(listed[p], alg)
		}
	}
	paths := make([]string, 0, len(listed))
	for p := range listed {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if _, err := s.Stat(p); err == store.ErrNotExist {
			result = append(result, Problem{Kind: FileMissing, Path: p})
			continue
		}
		rc, err := s.Open(p)
		if err != nil {
			return result, errors.Wrapf(err, "verify %s", p)
		}
		hw := util.NewHashWriterPlain(listed[p]...)
		_, err = io.Copy(hw, rc)
		rc.Close()
		if err != nil {
			return result, errors.Wrapf(err, "verify %s", p)
		}
		algs := listed[p]
		sort.Strings(algs)
		var bad []string
		var first Problem
		for _, alg := range algs {
			expected := b.TagManifests[alg][p]
			if actual, ok := hw.Check(alg, expected); !ok {
				if bad == nil {
					first = Problem{Kind: ChecksumMismatch, Path: p, Expected: expected, Actual: actual}
				}
				bad = append(bad, alg)
			}
		}
		if bad != nil {
			first.Algorithm = strings.Join(bad, ",")
			result = append(result, first)
		}
	}
	return result, nil
}
