package bagit

import (
	"sort"

	"golang.org/x/text/unicode/norm"
)

// A Report is the result of comparing the paths in a bag's manifests (M),
// the payload files on disk (F) and the fetch list (R). The first three
// lists are disjoint and together hold exactly the paths of M ∪ F ∪ R which
// are not in M ∩ (F ∪ R). Every list is sorted.
type Report struct {
	// OnlyInManifest is M \ F \ R: files which should be present but are
	// neither on disk nor promised by the fetch list.
	OnlyInManifest []string

	// OnlyOnFilesystem is F \ M \ R: files not described by the bag.
	OnlyOnFilesystem []string

	// OnlyInFetch is R \ M: fetch entries without manifest digests.
	OnlyInFetch []string

	// Pending is (M ∩ R) \ F: remote files not yet fetched. They are not
	// problems, but the bag is not complete until they arrive.
	Pending []string

	// Drift lists the files on disk whose names match a manifest path
	// only after unicode normalization.
	Drift []string
}

// Empty returns true if the report found nothing out of place. Pending
// files do not count.
func (r Report) Empty() bool {
	return len(r.OnlyInManifest) == 0 &&
		len(r.OnlyOnFilesystem) == 0 &&
		len(r.OnlyInFetch) == 0
}

// Problems returns the report as a list of problems.
func (r Report) Problems() []Problem {
	var result []Problem
	for _, p := range r.OnlyInManifest {
		result = append(result, Problem{Kind: FileMissing, Path: p})
	}
	for _, p := range r.OnlyOnFilesystem {
		result = append(result, Problem{Kind: UnexpectedFile, Path: p})
	}
	for _, p := range r.OnlyInFetch {
		result = append(result, Problem{Kind: UnexpectedRemoteFile, Path: p})
	}
	for _, p := range r.Drift {
		result = append(result, Problem{Kind: NormalizationDrift, Path: p})
	}
	return result
}

// pathset maps the NFC form of each path to the form it was given in.
type pathset map[string]string

func newPathset(paths []string) pathset {
	s := make(pathset, len(paths))
	for _, p := range paths {
		s[norm.NFC.String(p)] = p
	}
	return s
}

func (s pathset) has(key string) bool {
	_, ok := s[key]
	return ok
}

// Diff compares the manifest, filesystem and fetch path sets. Paths are
// compared after NFC normalization; the report lists them in the form they
// were given.
func Diff(manifest, filesystem, fetch []string) Report {
	m := newPathset(manifest)
	f := newPathset(filesystem)
	r := newPathset(fetch)
	var result Report
	for key, raw := range m {
		if f.has(key) {
			if f[key] != raw {
				result.Drift = append(result.Drift, f[key])
			}
			continue
		}
		if r.has(key) {
			result.Pending = append(result.Pending, raw)
			continue
		}
		result.OnlyInManifest = append(result.OnlyInManifest, raw)
	}
	for key, raw := range f {
		if !m.has(key) && !r.has(key) {
			result.OnlyOnFilesystem = append(result.OnlyOnFilesystem, raw)
		}
	}
	for key, raw := range r {
		if !m.has(key) {
			result.OnlyInFetch = append(result.OnlyInFetch, raw)
		}
	}
	sort.Strings(result.OnlyInManifest)
	sort.Strings(result.OnlyOnFilesystem)
	sort.Strings(result.OnlyInFetch)
	sort.Strings(result.Pending)
	sort.Strings(result.Drift)
	return result
}

// Complete decides whether the payload is consistent. Disagreement between
// the manifests and the files on disk always makes a bag incomplete. When
// skipRemote is false, a fetch entry without manifest digests, or a change
// in the set of remote files since the last synchronization, also does.
func Complete(r Report, remoteChanged bool, skipRemote bool) bool {
	if len(r.OnlyInManifest) > 0 || len(r.OnlyOnFilesystem) > 0 {
		return false
	}
	if skipRemote {
		return true
	}
	return len(r.OnlyInFetch) == 0 && !remoteChanged
}
