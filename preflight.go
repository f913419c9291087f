package holey

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// checkReadable walks the tree at root depth first and makes sure every
// file can be read and every directory can be listed and entered. The first
// problem found is returned. Directories are read in batches so very large
// ones are not loaded at once.
func checkReadable(root string) error {
	if err := unix.Access(root, unix.R_OK|unix.X_OK); err != nil {
		return errors.Wrapf(ErrNotReadable, "%s", root)
	}
	f, err := os.Open(root)
	if err != nil {
		return errors.Wrap(err, "preflight")
	}
	defer f.Close()
	for {
		entries, err := f.Readdir(1000)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return errors.Wrapf(err, "preflight %s", root)
		}
		for _, e := range entries {
			p := filepath.Join(root, e.Name())
			if e.IsDir() {
				if err := checkReadable(p); err != nil {
					return err
				}
				continue
			}
			if e.Mode()&os.ModeSymlink != 0 {
				// a dangling link cannot be bagged
				if _, err := os.Stat(p); err != nil {
					return errors.Wrapf(err, "preflight %s", p)
				}
			}
			if err := unix.Access(p, unix.R_OK); err != nil {
				return errors.Wrapf(ErrNotReadable, "%s", p)
			}
		}
	}
}

// scanTree returns every regular file under root mapped to its size, keyed
// by its slash separated path relative to root. It follows the same rules
// as bagit.ScanPayload.
func scanTree(root string) (map[string]int64, error) {
	result := make(map[string]int64)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			info, err = os.Stat(path)
			if err != nil || info.IsDir() {
				return err
			}
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		result[filepath.ToSlash(rel)] = info.Size()
		return nil
	})
	return result, err
}
