package store

import (
	"io"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// FileSystem implements the store on a directory of the local file system,
// usually the root of a bag. Staged writes go to a scratch subdirectory
// first and are renamed into place when committed. The scratch directory
// is on the same file system as the target, so the rename is atomic.
type FileSystem struct {
	root string
}

const (
	// the subdir to store files while they are being written to.
	scratchdir = ".holey-scratch"
)

var (
	// make sure it implements the Store interface
	_ Store = &FileSystem{}
)

// NewFileSystem creates a new FileSystem store based at the given root path.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: root}
}

// Root returns the directory this store is based at.
func (s *FileSystem) Root() string {
	return s.root
}

func (s *FileSystem) path(key string) (string, error) {
	if err := isKeyValid(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Open returns a reader for the given key.
func (s *FileSystem) Open(key string) (io.ReadCloser, error) {
	fname, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fname)
	if os.IsNotExist(err) {
		return nil, ErrNotExist
	}
	return f, err
}

// Stat returns the size of the given key.
func (s *FileSystem) Stat(key string) (int64, error) {
	fname, err := s.path(key)
	if err != nil {
		return 0, err
	}
	fi, err := os.Stat(fname)
	if os.IsNotExist(err) {
		return 0, ErrNotExist
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Stage returns a Pending write for key. The data is written to a file in
// the scratch directory, which is moved over the target on Commit.
func (s *FileSystem) Stage(key string) (Pending, error) {
	target, err := s.path(key)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, scratchdir)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, errors.Wrap(err, "stage")
	}
	temp := filepath.Join(dir, strings.Replace(key, "/", "_", -1)+"."+uuid.New().String())
	// pass the O_EXCL flag explicitly to prevent reusing a scratch file
	f, err := os.OpenFile(temp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "stage")
	}
	return &moveCloser{f: f, key: key, source: temp, target: target, scratch: dir}, nil
}

// track the file so when it is committed, we can move it into the correct
// place
type moveCloser struct {
	f       *os.File
	key     string
	source  string
	target  string
	scratch string
}

func (w *moveCloser) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *moveCloser) Key() string { return w.key }

func (w *moveCloser) Commit() error {
	err := w.f.Sync()
	if err2 := w.f.Close(); err == nil {
		err = err2
	}
	if err == nil {
		err = os.MkdirAll(filepath.Dir(w.target), 0775)
	}
	if err == nil {
		err = os.Rename(w.source, w.target)
	}
	if err != nil {
		os.Remove(w.source)
		return errors.Wrapf(err, "commit %s", w.key)
	}
	// only succeeds once the scratch directory is empty
	os.Remove(w.scratch)
	return nil
}

func (w *moveCloser) Abort() error {
	w.f.Close()
	err := os.Remove(w.source)
	os.Remove(w.scratch)
	return err
}

// Delete the given key from the store. It is not an error if the key doesn't
// exist.
func (s *FileSystem) Delete(key string) error {
	fname, err := s.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(fname)
	// don't report a missing file as an error
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

// List returns the names of the regular files in the root directory.
func (s *FileSystem) List() ([]string, error) {
	entries, err := ioutil.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var result []string
	for _, e := range entries {
		if e.Mode().IsRegular() {
			result = append(result, e.Name())
		}
	}
	sort.Strings(result)
	return result, nil
}

// Some simple key validations. Keys name files inside the bag, so they
// must stay inside the root.
func isKeyValid(key string) error {
	if !utf8.ValidString(key) {
		return ErrKeyContainsNonUnicode
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return ErrKeyContainsControlChar
		}
	}
	if key == "" || strings.HasPrefix(key, "/") {
		return ErrKeyEscapes
	}
	clean := path.Clean(key)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return ErrKeyEscapes
	}
	return nil
}
