package bagit

import (
	"io"
	"log"
	"sort"

	"github.com/pkg/errors"

	"github.com/ndlib/holey/store"
	"github.com/ndlib/holey/util"
)

// Load reads the tag files of the bag in the directory root.
func Load(root string) (*Bag, error) {
	b, err := Read(store.NewFileSystem(root))
	if err != nil {
		return nil, err
	}
	b.Root = root
	return b, nil
}

// Read loads the tag files from s. The payload is not checked. bagit.txt
// must be present; bag-info.txt and fetch.txt are optional. Every file
// named "manifest-<alg>.txt" or "tagmanifest-<alg>.txt" is read, and the
// supported algorithms among the payload manifests become the active
// algorithm list.
func Read(s store.Store) (*Bag, error) {
	declaration, err := readTags(s, BagItFile)
	if err == store.ErrNotExist {
		return nil, ErrNotBag
	}
	if err != nil {
		return nil, err
	}
	b := &Bag{
		Version:      declaration.Get("BagIt-Version"),
		Encoding:     declaration.Get("Tag-File-Character-Encoding"),
		Manifests:    make(map[string]Manifest),
		TagManifests: make(map[string]Manifest),
	}
	if b.Version == "" {
		return nil, errors.Wrap(ErrNotBag, "no BagIt-Version")
	}

	b.Info, err = readTags(s, BagInfoFile)
	if err == store.ErrNotExist {
		b.Info, err = new(TagList), nil
	}
	if err != nil {
		return nil, err
	}

	keys, err := s.List()
	if err != nil {
		return nil, errors.Wrap(err, "read bag")
	}
	for _, key := range keys {
		alg, tag, ok := parseManifestName(key)
		if !ok {
			continue
		}
		m, err := readManifest(s, key)
		if err != nil {
			return nil, err
		}
		if tag {
			for p := range m {
				if !IsTagPath(p) {
					return nil, errors.Wrapf(ErrBadPath, "%s: %q", key, p)
				}
			}
			b.TagManifests[alg] = m
			continue
		}
		for p := range m {
			if !IsPayloadPath(p) {
				return nil, errors.Wrapf(ErrBadPath, "%s: %q", key, p)
			}
		}
		b.Manifests[alg] = m
		if util.Supported(alg) {
			b.Algorithms = append(b.Algorithms, alg)
		} else {
			log.Printf("bagit: manifest for unsupported algorithm %q will not be verified", alg)
		}
	}
	sort.Strings(b.Algorithms)

	b.Fetch = NewFetchList()
	recorded := b.tagAlgorithms(FetchFile)
	hw := util.NewHashWriterPlain(recorded...)
	rc, err := s.Open(FetchFile)
	present := err == nil
	if present {
		b.Fetch, err = ParseFetch(io.TeeReader(rc, hw))
		rc.Close()
	} else if err == store.ErrNotExist {
		err = nil
	}
	if err != nil {
		return nil, err
	}
	for _, e := range b.Fetch.Entries() {
		e.Checksums = b.Checksums(e.Path)
	}
	b.markSynced()
	if present && !b.fetchRecorded(recorded, hw) {
		// fetch.txt was changed after the bag was last written
		b.synced = make(map[string]bool)
	}
	return b, nil
}

// tagAlgorithms returns the supported algorithms whose tag manifest lists
// key.
func (b *Bag) tagAlgorithms(key string) []string {
	var result []string
	for alg, m := range b.TagManifests {
		if _, ok := m[key]; ok && util.Supported(alg) {
			result = append(result, alg)
		}
	}
	sort.Strings(result)
	return result
}

// fetchRecorded returns true if the fetch.txt just read, hashed into hw,
// is the one the tag manifests describe. A bag without supported tag
// manifests records nothing, and every fetch.txt is accepted.
func (b *Bag) fetchRecorded(algs []string, hw *util.HashWriter) bool {
	hasTags := false
	for alg := range b.TagManifests {
		if util.Supported(alg) {
			hasTags = true
		}
	}
	if !hasTags {
		return true
	}
	if len(algs) == 0 {
		return false
	}
	for _, alg := range algs {
		if _, ok := hw.Check(alg, b.TagManifests[alg][FetchFile]); !ok {
			return false
		}
	}
	return true
}

// IsBag returns true if s holds a readable bagit.txt file declaring a
// BagIt version.
func IsBag(s store.Store) bool {
	tags, err := readTags(s, BagItFile)
	return err == nil && tags.Get("BagIt-Version") != ""
}

func readTags(s store.Store, key string) (*TagList, error) {
	rc, err := s.Open(key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	tags, err := ParseTags(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", key)
	}
	return tags, nil
}

func readManifest(s store.Store, key string) (Manifest, error) {
	rc, err := s.Open(key)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", key)
	}
	defer rc.Close()
	return ParseManifest(rc, key)
}
