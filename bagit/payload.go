package bagit

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ScanPayload walks the payload directory of the bag at root and returns
// every regular file in it, mapped to its size. The keys are slash
// separated paths beginning with "data/". A missing payload directory gives
// an empty result. Symbolic links to files are followed; links to
// directories are not.
func ScanPayload(root string) (map[string]int64, error) {
	result := make(map[string]int64)
	base := filepath.Join(root, PayloadDir)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return result, nil
	}
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			info, err = os.Stat(path)
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
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
	if err != nil {
		return nil, errors.Wrap(err, "scan payload")
	}
	return result, nil
}
