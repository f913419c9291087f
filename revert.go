package holey

import (
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ndlib/holey/bagit"
	"github.com/ndlib/holey/store"
)

// Revert undoes Create: the payload is moved back into dir and the tag
// files are removed. Remote files which were never fetched are lost.
func (b *Bagger) Revert(dir string) error {
	dir, err := absDir(dir)
	if err != nil {
		return err
	}
	if !IsBag(dir) {
		return errors.Wrapf(bagit.ErrNotBag, "%s", dir)
	}
	if containsWorkingDir(filepath.Join(dir, bagit.PayloadDir)) {
		return errors.Wrapf(ErrContainsWorkingDir, "%s", dir)
	}
	unlock, err := lock(dir, false)
	if err != nil {
		return err
	}
	defer unlock()

	payload := filepath.Join(dir, bagit.PayloadDir)
	f, err := os.Open(payload)
	if err != nil {
		return errors.Wrap(err, "revert")
	}
	names, err := f.Readdirnames(-1)
	f.Close()
	if err != nil {
		return errors.Wrap(err, "revert")
	}
	// the payload may itself hold an entry named "data", so it is moved
	// aside before its contents come out
	temp := filepath.Join(dir, ".holey-"+uuid.New().String())
	if err := os.Rename(payload, temp); err != nil {
		return errors.Wrap(err, "revert")
	}
	removeTagFiles(dir)
	for _, name := range names {
		target := filepath.Join(dir, name)
		if _, err := os.Lstat(target); err == nil {
			return errors.Errorf("revert: %s already exists", target)
		}
		if err := os.Rename(filepath.Join(temp, name), target); err != nil {
			return errors.Wrap(err, "revert")
		}
	}
	if err := os.Remove(temp); err != nil {
		return errors.Wrap(err, "revert")
	}
	b.setState(dir, StateNew)
	return nil
}

// removeTagFiles deletes the tag files of the bag in dir. Files listed in
// a tag manifest are removed along with the standard ones, and directories
// left empty by that are removed too.
func removeTagFiles(dir string) {
	var listed []string
	if bag, err := bagit.Load(dir); err == nil {
		seen := make(map[string]bool)
		for _, m := range bag.TagManifests {
			for _, p := range m.Paths() {
				if !seen[p] {
					seen[p] = true
					listed = append(listed, p)
				}
			}
		}
	}
	fs := store.NewFileSystem(dir)
	for _, p := range listed {
		if strings.HasPrefix(p, bagit.PayloadDir+"/") {
			continue
		}
		if err := fs.Delete(p); err != nil {
			log.Printf("revert %s: %s: %s", dir, p, err)
			continue
		}
		for d := path.Dir(p); d != "."; d = path.Dir(d) {
			if os.Remove(filepath.Join(dir, filepath.FromSlash(d))) != nil {
				break
			}
		}
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		name := e.Name()
		switch {
		case name == bagit.BagItFile, name == bagit.BagInfoFile, name == bagit.FetchFile,
			strings.HasPrefix(name, "manifest-") && strings.HasSuffix(name, ".txt"),
			strings.HasPrefix(name, "tagmanifest-") && strings.HasSuffix(name, ".txt"):
			os.Remove(filepath.Join(dir, name))
		}
	}
	os.RemoveAll(filepath.Join(dir, ".holey-scratch"))
}
