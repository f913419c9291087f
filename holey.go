// Package holey creates, updates, validates and completes BagIt bags whose
// payload may be partly remote.
//
// A Bagger holds everything the operations share: the checksum algorithms
// for new bags, the transport registry and keychain used to download
// remote files, the identifier resolver chain and a clock. Every operation
// takes the path of the bag directory. Operations that change a bag take an
// exclusive lock on it first, so two processes cannot modify one bag at the
// same time; validation takes a shared lock.
//
// The life of a bag directory goes through these states:
//
//	New -> Building -> Complete             Create
//	Complete -> Updating -> Complete        Update
//	Complete -> Fetching -> Complete        ResolveFetch
//	Complete -> Validating -> Valid         Validate
//	                       -> Incomplete
//	                       -> Invalid
//
// Bagger.State reports where a directory is as seen by this Bagger.
package holey

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/facebookgo/clock"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/ndlib/holey/bagit"
	"github.com/ndlib/holey/keychain"
	"github.com/ndlib/holey/resolve"
	"github.com/ndlib/holey/store"
	"github.com/ndlib/holey/transport"
	"github.com/ndlib/holey/util"
)

// A State is the stage of a bag directory's life.
type State int

// The possible states.
const (
	StateNew State = iota
	StateBuilding
	StateComplete
	StateUpdating
	StateFetching
	StateValidating
	StateValid
	StateIncomplete
	StateInvalid
)

var stateNames = []string{
	StateNew:        "new",
	StateBuilding:   "building",
	StateComplete:   "complete",
	StateUpdating:   "updating",
	StateFetching:   "fetching",
	StateValidating: "validating",
	StateValid:      "valid",
	StateIncomplete: "incomplete",
	StateInvalid:    "invalid",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

var (
	// ErrAlreadyBag means Create was given a directory that is already a
	// bag.
	ErrAlreadyBag = errors.New("directory is already a bag")

	// ErrContainsWorkingDir means the bag directory contains the current
	// working directory, which would be moved out from under us.
	ErrContainsWorkingDir = errors.New("bag directory contains the working directory")

	// ErrLocked means another process holds the lock on a bag.
	ErrLocked = errors.New("bag is locked by another process")

	// ErrNotReadable means some file or directory in the tree cannot be
	// read.
	ErrNotReadable = errors.New("permission denied")

	// ErrNoChecksum means a remote file did not give a digest for any
	// supported algorithm.
	ErrNoChecksum = errors.New("remote file has no supported checksum")

	// ErrRemoteChanged means fetch.txt differs from the one recorded in
	// the tag manifests. Update accepts the new list.
	ErrRemoteChanged = errors.New("fetch.txt changed since the bag was written")

	// ErrNotInManifest means a fetch entry has no manifest digests, so a
	// fetched file could not be checked.
	ErrNotInManifest = errors.New("fetch entry is not in any manifest")

	// ErrUnresolved means an identifier gave no locations.
	ErrUnresolved = errors.New("identifier did not resolve to any location")
)

// DefaultAlgorithms are used for new bags when a Bagger has none.
var DefaultAlgorithms = []string{"md5", "sha256"}

// DefaultAgent is written as the Bag-Software-Agent of new bags.
const DefaultAgent = "holey (https://github.com/ndlib/holey)"

// A Bagger performs the bag operations. The zero value works for local
// bags; Registry and Resolver are needed to fetch remote files and to
// resolve identifiers when creating bags.
type Bagger struct {
	// Algorithms are the checksum algorithms used for new bags.
	Algorithms []string

	// Workers is the number of files checksummed in parallel. Values less
	// than 2 mean one at a time.
	Workers int

	// Throttle, if not nil, limits the rate payload files are read while
	// checksumming.
	Throttle *util.RateCounter

	// FoldWidth is passed on to bags as they are written.
	FoldWidth int

	// Agent is recorded as the Bag-Software-Agent.
	Agent string

	Keys     keychain.Keychain
	Registry *transport.Registry
	Resolver *resolve.Chain
	Clock    clock.Clock

	m      sync.Mutex
	states map[string]State // keyed by absolute path
}

// State returns the state of the bag in dir as last seen by this Bagger.
// Directories this Bagger has not touched are StateNew, or StateComplete
// if they are already bags.
func (b *Bagger) State(dir string) State {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return StateNew
	}
	b.m.Lock()
	s, ok := b.states[abs]
	b.m.Unlock()
	if ok {
		return s
	}
	if IsBag(abs) {
		return StateComplete
	}
	return StateNew
}

func (b *Bagger) setState(dir string, s State) {
	b.m.Lock()
	if b.states == nil {
		b.states = make(map[string]State)
	}
	b.states[dir] = s
	b.m.Unlock()
}

func (b *Bagger) clock() clock.Clock {
	if b.Clock == nil {
		return clock.New()
	}
	return b.Clock
}

func (b *Bagger) agent() string {
	if b.Agent == "" {
		return DefaultAgent
	}
	return b.Agent
}

func (b *Bagger) digestOptions() util.DigestOptions {
	opts := util.DigestOptions{Workers: b.Workers}
	if b.Throttle != nil {
		opts.Wrap = b.Throttle.Wrap
	}
	return opts
}

// digest checksums paths in the bag at dir. Any file that cannot be read
// makes the whole operation fail.
func (b *Bagger) digest(dir string, paths []string, algs []string) (map[string]util.DigestResult, error) {
	results := util.DigestFiles(dir, paths, algs, b.digestOptions())
	for _, p := range paths {
		if err := results[p].Err; err != nil {
			return nil, errors.Wrapf(err, "checksum %s", p)
		}
	}
	return results, nil
}

// IsBag returns true if dir holds a bagit.txt file declaring a BagIt
// version.
func IsBag(dir string) bool {
	return bagit.IsBag(store.NewFileSystem(dir))
}

// lockPath returns the lock file for the bag at dir. It lives beside the
// bag so it never appears in the payload or the tag files.
func lockPath(dir string) string {
	return filepath.Join(filepath.Dir(dir), "."+filepath.Base(dir)+".lock")
}

// lock takes the lock on dir, shared or exclusive, without waiting. The
// returned function releases it.
func lock(dir string, shared bool) (func(), error) {
	fl := flock.New(lockPath(dir))
	var ok bool
	var err error
	if shared {
		ok, err = fl.TryRLock()
	} else {
		ok, err = fl.TryLock()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "lock %s", dir)
	}
	if !ok {
		return nil, errors.Wrapf(ErrLocked, "%s", dir)
	}
	return func() { fl.Unlock() }, nil
}

// absDir returns the absolute form of dir, checking it is a directory.
func absDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return "", errors.Errorf("%s is not a directory", dir)
	}
	return abs, nil
}

// containsWorkingDir returns true if the current directory is dir or is
// inside it.
func containsWorkingDir(dir string) bool {
	wd, err := os.Getwd()
	if err != nil {
		return false
	}
	if resolved, err := filepath.EvalSymlinks(wd); err == nil {
		wd = resolved
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	rel, err := filepath.Rel(dir, wd)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// writeBag stamps and saves the tag files of bag.
func (b *Bagger) writeBag(bag *bagit.Bag, files map[string]int64) error {
	if b.FoldWidth > 0 {
		bag.FoldWidth = b.FoldWidth
	}
	bag.Stamp(b.clock().Now(), b.agent(), files)
	return bag.Write(store.NewFileSystem(bag.Root))
}
