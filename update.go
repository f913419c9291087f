package holey

import (
	"context"
	"log"
	"sort"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/ndlib/holey/bagit"
)

// UpdateOptions adjust what Update changes.
type UpdateOptions struct {
	// Algorithms, if not empty, becomes the active algorithm list.
	Algorithms []string

	// Prune removes the manifests of algorithms that are not active.
	Prune bool

	// Metadata is merged into bag-info.txt. Tags it names replace the
	// existing ones; other tags are kept.
	Metadata *bagit.TagList

	// Remote adds or replaces fetch entries.
	Remote []RemoteFile

	// ReplaceConflicts lets a remote file take over the path of a local
	// payload file. The manifest then carries the remote checksums, and the
	// local file is replaced when the bag is next fetched with Force.
	// Otherwise such a conflict is a bagit.ConflictError.
	ReplaceConflicts bool

	// Rehash checksums every payload file again.
	Rehash bool
}

// Update brings the manifests of the bag in dir up to date with its payload
// and applies opts. Only new files and files lacking a digest for an active
// algorithm are checksummed, unless Rehash is set. Files that were removed
// from the payload and are not in the fetch list are dropped from the
// manifests. The tag files are then rewritten.
func (b *Bagger) Update(ctx context.Context, dir string, opts UpdateOptions) (err error) {
	dir, err = absDir(dir)
	if err != nil {
		return err
	}
	unlock, err := lock(dir, false)
	if err != nil {
		return err
	}
	defer unlock()
	bag, err := bagit.Load(dir)
	if err != nil {
		return err
	}
	if bag.RemoteChanged() {
		log.Printf("update %s: accepting the changed %s", dir, bagit.FetchFile)
	}
	remote, err := b.expandRemote(ctx, opts.Remote)
	if err != nil {
		return err
	}
	files, err := bagit.ScanPayload(dir)
	if err != nil {
		return err
	}
	var conflicts []string
	for _, e := range remote {
		_, present := files[e.Path]
		if bag.Fetch.Get(e.Path) == nil && (present || bag.Checksums(e.Path) != nil) {
			conflicts = append(conflicts, e.Path)
		}
	}
	if len(conflicts) > 0 && !opts.ReplaceConflicts {
		return bagit.ConflictError{Paths: conflicts}
	}

	b.setState(dir, StateUpdating)
	defer func() {
		b.setState(dir, StateComplete)
		if err != nil {
			raven.CaptureError(err, map[string]string{"Bag": dir})
		}
	}()

	if len(opts.Algorithms) > 0 || opts.Prune {
		algs := opts.Algorithms
		if len(algs) == 0 {
			algs = bag.Algorithms
		}
		if err := bag.SetAlgorithms(algs, opts.Prune); err != nil {
			return err
		}
	}
	replaced := make(map[string]bool)
	for _, e := range remote {
		replaced[e.Path] = true
		bag.RemovePath(e.Path)
		bag.Fetch.Add(e)
		bag.SetChecksums(e.Path, e.Checksums)
	}

	report := bag.Consistency(files)
	for _, p := range report.OnlyInManifest {
		log.Printf("update %s: %s is gone, removing it from the manifests", dir, p)
		bag.RemovePath(p)
	}
	var todo []string
	if opts.Rehash {
		for p := range files {
			if bag.Fetch.Get(p) == nil {
				todo = append(todo, p)
			}
		}
	} else {
		todo = append(todo, report.OnlyOnFilesystem...)
		for p := range files {
			if !replaced[p] && bag.Checksums(p) != nil && len(bag.MissingAlgorithms(p)) > 0 {
				todo = append(todo, p)
			}
		}
	}
	sort.Strings(todo)
	results, err := b.digest(dir, todo, bag.Algorithms)
	if err != nil {
		return errors.Wrap(err, "update")
	}
	for _, p := range todo {
		if opts.Rehash {
			bag.RemovePath(p)
		}
		bag.SetChecksums(p, results[p].Digests)
	}
	bag.Info.Merge(opts.Metadata)
	if err := b.writeBag(bag, files); err != nil {
		return err
	}
	log.Printf("updated bag %s: %d files checksummed", dir, len(todo))
	return nil
}
