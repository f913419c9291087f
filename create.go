package holey

import (
	"context"
	"log"
	"os"
	"path/filepath"

	raven "github.com/getsentry/raven-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ndlib/holey/bagit"
	"github.com/ndlib/holey/util"
)

// CreateOptions adjust how a bag is made.
type CreateOptions struct {
	// Algorithms overrides the Bagger's algorithms for this bag.
	Algorithms []string

	// Metadata is copied into bag-info.txt.
	Metadata *bagit.TagList

	// Remote lists files that belong to the payload but are not present.
	// They become entries in fetch.txt.
	Remote []RemoteFile
}

// Create turns the directory dir into a bag. Everything in dir is moved
// into a new payload directory, checksummed, and the tag files are written.
//
// Nothing is changed if dir contains the working directory, is already a
// bag, has anything that cannot be read, or if a remote file would have the
// same path as a local one (a bagit.ConflictError). If the bag cannot be
// finished, the payload is moved back.
func (b *Bagger) Create(ctx context.Context, dir string, opts CreateOptions) (err error) {
	dir, err = absDir(dir)
	if err != nil {
		return err
	}
	if containsWorkingDir(dir) {
		return errors.Wrapf(ErrContainsWorkingDir, "%s", dir)
	}
	if IsBag(dir) {
		return errors.Wrapf(ErrAlreadyBag, "%s", dir)
	}
	unlock, err := lock(dir, false)
	if err != nil {
		return err
	}
	defer unlock()

	algs := opts.Algorithms
	if len(algs) == 0 {
		algs = b.Algorithms
	}
	if len(algs) == 0 {
		algs = DefaultAlgorithms
	}
	algs, err = util.FilterAlgorithms(algs)
	if err != nil {
		return err
	}
	if err := checkReadable(dir); err != nil {
		return err
	}
	remote, err := b.expandRemote(ctx, opts.Remote)
	if err != nil {
		return err
	}
	local, err := scanTree(dir)
	if err != nil {
		return errors.Wrap(err, "create")
	}
	var conflicts []string
	for _, e := range remote {
		if _, ok := local[e.Path[len(bagit.PayloadDir)+1:]]; ok {
			conflicts = append(conflicts, e.Path)
		}
	}
	if len(conflicts) > 0 {
		return bagit.ConflictError{Paths: conflicts}
	}

	b.setState(dir, StateBuilding)
	defer func() {
		if err != nil {
			b.setState(dir, StateNew)
			raven.CaptureError(err, map[string]string{"Bag": dir})
			return
		}
		b.setState(dir, StateComplete)
	}()
	moved, err := movePayload(dir)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := moved.undo(); rerr != nil {
				log.Printf("create %s: could not restore payload: %s", dir, rerr)
			}
		}
	}()

	files, err := bagit.ScanPayload(dir)
	if err != nil {
		return err
	}
	bag := bagit.New(dir, algs)
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	results, err := b.digest(dir, paths, algs)
	if err != nil {
		return err
	}
	for p, r := range results {
		bag.SetChecksums(p, r.Digests)
	}
	for _, e := range remote {
		bag.Fetch.Add(e)
		bag.SetChecksums(e.Path, e.Checksums)
	}
	bag.Info.Merge(opts.Metadata)
	if err := b.writeBag(bag, files); err != nil {
		return err
	}
	log.Printf("created bag %s: %d local files, %d remote", dir, len(files), len(remote))
	return nil
}

// payloadMove records the entries moved into the payload directory, so a
// failed create can put them back.
type payloadMove struct {
	dir     string
	entries []string
}

// movePayload moves every entry of dir into a fresh directory which is then
// renamed to the payload directory. An entry already named "data" is moved
// like any other.
func movePayload(dir string) (*payloadMove, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	names, err := f.Readdirnames(-1)
	f.Close()
	if err != nil {
		return nil, err
	}
	temp := filepath.Join(dir, ".holey-"+uuid.New().String())
	if err := os.Mkdir(temp, 0775); err != nil {
		return nil, errors.Wrap(err, "create")
	}
	pm := &payloadMove{dir: dir}
	for _, name := range names {
		if err := os.Rename(filepath.Join(dir, name), filepath.Join(temp, name)); err != nil {
			for _, back := range pm.entries {
				os.Rename(filepath.Join(temp, back), filepath.Join(dir, back))
			}
			os.Remove(temp)
			return nil, errors.Wrapf(err, "move %s", name)
		}
		pm.entries = append(pm.entries, name)
	}
	if err := os.Rename(temp, filepath.Join(dir, bagit.PayloadDir)); err != nil {
		for _, back := range pm.entries {
			os.Rename(filepath.Join(temp, back), filepath.Join(dir, back))
		}
		os.Remove(temp)
		return nil, errors.Wrap(err, "create payload directory")
	}
	return pm, nil
}

// undo moves the payload back and removes any tag files written.
func (pm *payloadMove) undo() error {
	payload := filepath.Join(pm.dir, bagit.PayloadDir)
	temp := filepath.Join(pm.dir, ".holey-"+uuid.New().String())
	if err := os.Rename(payload, temp); err != nil {
		return err
	}
	removeTagFiles(pm.dir)
	var first error
	for _, name := range pm.entries {
		if err := os.Rename(filepath.Join(temp, name), filepath.Join(pm.dir, name)); err != nil && first == nil {
			first = err
		}
	}
	if first == nil {
		first = os.Remove(temp)
	}
	return first
}
