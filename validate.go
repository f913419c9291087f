package holey

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/ndlib/holey/bagit"
	"github.com/ndlib/holey/store"
	"github.com/ndlib/holey/util"
)

// ValidateOptions choose how thoroughly a bag is checked.
type ValidateOptions struct {
	// Fast only compares the Payload-Oxum with the files on disk.
	Fast bool

	// SkipRemote ignores the fetch list: files waiting to be fetched do
	// not make the bag incomplete, and fetch entries without checksums
	// are not reported.
	SkipRemote bool
}

// IncompleteError means nothing in a bag is corrupt, but its remote files
// are not settled: some have not been fetched yet, fetch.txt lists files no
// manifest describes, or fetch.txt was changed outside of holey.
type IncompleteError struct {
	Pending []string

	// Orphans has an UnexpectedRemoteFile problem for each fetch entry
	// without manifest digests.
	Orphans []bagit.Problem

	// RemoteChanged is set when fetch.txt does not match the remote set
	// recorded in the tag manifests.
	RemoteChanged bool
}

func (e IncompleteError) Error() string {
	var reasons []string
	if len(e.Pending) > 0 {
		reasons = append(reasons, fmt.Sprintf("%d remote files not fetched", len(e.Pending)))
	}
	if len(e.Orphans) > 0 {
		reasons = append(reasons, fmt.Sprintf("%d fetch entries not in a manifest", len(e.Orphans)))
	}
	if e.RemoteChanged {
		reasons = append(reasons, "fetch.txt changed since the bag was written")
	}
	if len(reasons) == 0 {
		return "bag incomplete"
	}
	return "bag incomplete: " + strings.Join(reasons, ", ")
}

// Validate checks the bag in dir. It returns StateValid and a nil error if
// the bag is good. A bag whose only faults are in its remote files (some
// not yet fetched, fetch entries missing from the manifests, or a fetch.txt
// changed since the bag was written) gives StateIncomplete and an
// IncompleteError. Anything else wrong gives StateInvalid and a
// bagit.BagError listing every problem found; other errors mean the bag
// could not be checked at all.
//
// A fast validation checks only that the Payload-Oxum agrees with the
// count and total size of the payload files on disk. A full one also
// checks the manifests against each other, the fetch list and the payload,
// checksums every payload file, compares the size of fetched files with
// their declared length, and verifies the tag manifests.
func (b *Bagger) Validate(ctx context.Context, dir string, opts ValidateOptions) (State, error) {
	dir, err := absDir(dir)
	if err != nil {
		return StateInvalid, err
	}
	unlock, err := lock(dir, true)
	if err != nil {
		return b.State(dir), err
	}
	defer unlock()
	b.setState(dir, StateValidating)
	state, err := b.validate(ctx, dir, opts)
	b.setState(dir, state)
	return state, err
}

func (b *Bagger) validate(ctx context.Context, dir string, opts ValidateOptions) (State, error) {
	bag, err := bagit.Load(dir)
	if err != nil {
		return StateInvalid, err
	}
	files, err := bagit.ScanPayload(dir)
	if err != nil {
		return StateInvalid, err
	}
	if opts.Fast {
		return fastValidate(bag, files)
	}

	report := bag.Consistency(files)
	pending := make(map[string]bool)
	for _, p := range report.Pending {
		pending[p] = true
	}
	var problems []bagit.Problem
	for _, p := range bag.CheckStructure() {
		// a remote file gets the rest of its digests once fetched
		if p.Kind == bagit.IncompleteManifest && pending[p.Path] {
			continue
		}
		problems = append(problems, p)
	}
	var orphans []bagit.Problem
	for _, p := range report.Problems() {
		if p.Kind == bagit.UnexpectedRemoteFile {
			if !opts.SkipRemote {
				log.Printf("validate %s: %s", dir, p)
				orphans = append(orphans, p)
			}
			continue
		}
		problems = append(problems, p)
	}
	if s := bag.Info.Get(bagit.TagPayloadOxum); s != "" {
		declared, err := bagit.ParseOxum(s)
		if actual := bag.Oxum(files); err == nil && declared != actual {
			problems = append(problems, bagit.Problem{
				Kind:     bagit.OxumMismatch,
				Path:     bagit.BagInfoFile,
				Expected: declared.String(),
				Actual:   actual.String(),
			})
		}
	}

	// checksum every listed file that is on disk
	var algs []string
	for alg := range bag.Manifests {
		if util.Supported(alg) {
			algs = append(algs, alg)
		}
	}
	sort.Strings(algs)
	var present []string
	for _, p := range bag.PayloadPaths() {
		if _, ok := files[p]; ok {
			present = append(present, p)
		}
	}
	if err := ctx.Err(); err != nil {
		return StateInvalid, err
	}
	if len(algs) > 0 {
		results, err := b.digest(dir, present, algs)
		if err != nil {
			return StateInvalid, err
		}
		for _, p := range present {
			problems = append(problems, bag.CompareDigests(p, results[p].Digests)...)
		}
	}
	for _, e := range bag.Fetch.Entries() {
		if size, ok := files[e.Path]; ok && size != e.Length {
			problems = append(problems, bagit.Problem{
				Kind:     bagit.SizeMismatch,
				Path:     e.Path,
				Expected: fmt.Sprint(e.Length),
				Actual:   fmt.Sprint(size),
			})
		}
	}
	tagProblems, err := bag.VerifyTagFiles(store.NewFileSystem(dir))
	if err != nil {
		return StateInvalid, errors.Wrap(err, "validate")
	}
	problems = append(problems, tagProblems...)

	if len(problems) > 0 {
		return StateInvalid, bagit.BagError{Problems: problems}
	}
	changed := bag.RemoteChanged()
	if changed && !opts.SkipRemote {
		log.Printf("validate %s: %s does not match the tag manifests", dir, bagit.FetchFile)
	}
	if !bagit.Complete(report, changed, opts.SkipRemote) || (!opts.SkipRemote && len(report.Pending) > 0) {
		return StateIncomplete, IncompleteError{
			Pending:       report.Pending,
			Orphans:       orphans,
			RemoteChanged: changed && !opts.SkipRemote,
		}
	}
	return StateValid, nil
}

// fastValidate compares the Payload-Oxum with the files present.
func fastValidate(bag *bagit.Bag, files map[string]int64) (State, error) {
	s := bag.Info.Get(bagit.TagPayloadOxum)
	if s == "" {
		return StateInvalid, bagit.BagError{Problems: []bagit.Problem{
			{Kind: bagit.BadTagFile, Path: bagit.BagInfoFile, Actual: "no " + bagit.TagPayloadOxum},
		}}
	}
	declared, err := bagit.ParseOxum(s)
	if err != nil {
		return StateInvalid, bagit.BagError{Problems: []bagit.Problem{
			{Kind: bagit.BadTagFile, Path: bagit.BagInfoFile, Actual: s},
		}}
	}
	var actual bagit.Oxum
	for _, size := range files {
		actual.Bytes += size
		actual.Count++
	}
	if declared != actual {
		return StateInvalid, bagit.BagError{Problems: []bagit.Problem{{
			Kind:     bagit.OxumMismatch,
			Path:     bagit.BagInfoFile,
			Expected: declared.String(),
			Actual:   actual.String(),
		}}}
	}
	return StateValid, nil
}
