package bagit

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/pkg/errors"

	"github.com/ndlib/holey/store"
	"github.com/ndlib/holey/util"
)

// Stamp fills in the bag-info.txt tags every bag should have. Payload-Oxum
// and Bag-Size are always recomputed from files (see ScanPayload) and the
// fetch list. Bagging-Date and Bag-Software-Agent are only set if they are
// missing.
func (b *Bag) Stamp(now time.Time, agent string, files map[string]int64) {
	ox := b.Oxum(files)
	b.Info.Set(TagPayloadOxum, ox.String())
	b.Info.Set(TagBagSize, humansize(ox.Bytes))
	if !b.Info.Has(TagBaggingDate) {
		b.Info.Set(TagBaggingDate, now.Format("2006-01-02"))
	}
	if !b.Info.Has(TagSoftwareAgent) && agent != "" {
		b.Info.Set(TagSoftwareAgent, agent)
	}
}

// Write saves every tag file of the bag into s. The files are first staged,
// and the tag manifests are computed from the bytes as they are staged. If
// anything fails before the commit, every staged file is discarded and the
// bag on disk is left as it was. After a successful commit, manifests for
// algorithms no longer in the bag are deleted, as is fetch.txt if the fetch
// list is empty.
//
// Tag files other than the ones this package writes (e.g. files under a
// "metadata/" directory) stay in the tag manifests if they were listed
// there before and still exist.
func (b *Bag) Write(s store.Store) error {
	algs := b.Algorithms
	if len(algs) == 0 {
		return util.ErrNoAlgorithms
	}
	w := &tagWriter{s: s, sums: make(map[string]Manifest)}
	for _, alg := range algs {
		w.sums[alg] = make(Manifest)
	}
	written := make(map[string]bool)

	w.stage(BagItFile, algs, func(out io.Writer) error {
		version, encoding := b.Version, b.Encoding
		if version == "" {
			version = Version
		}
		if encoding == "" {
			encoding = Encoding
		}
		_, err := fmt.Fprintf(out, "BagIt-Version: %s\nTag-File-Character-Encoding: %s\n", version, encoding)
		return err
	})
	w.stage(BagInfoFile, algs, func(out io.Writer) error {
		return b.Info.Encode(out, b.FoldWidth)
	})
	for alg, m := range b.Manifests {
		if len(m) == 0 && !b.isActive(alg) {
			continue
		}
		name := ManifestName(alg)
		written[name] = true
		w.stage(name, algs, m.Encode)
	}
	if b.Fetch.Len() > 0 {
		w.stage(FetchFile, algs, b.Fetch.Encode)
	}
	for _, key := range b.extraTagFiles() {
		w.rehash(key, algs)
	}
	for _, alg := range algs {
		name := TagManifestName(alg)
		written[name] = true
		w.stage(name, nil, w.sums[alg].Encode)
	}

	if w.err != nil {
		store.AbortAll(w.pending)
		return errors.Wrap(w.err, "write bag")
	}
	if err := store.CommitAll(w.pending); err != nil {
		return errors.Wrap(err, "write bag")
	}

	keys, err := s.List()
	if err != nil {
		return errors.Wrap(err, "write bag")
	}
	for _, key := range keys {
		if _, _, ok := parseManifestName(key); ok && !written[key] {
			if err := s.Delete(key); err != nil {
				return errors.Wrapf(err, "remove %s", key)
			}
		}
	}
	if b.Fetch.Len() == 0 {
		if err := s.Delete(FetchFile); err != nil {
			return errors.Wrapf(err, "remove %s", FetchFile)
		}
	}
	b.TagManifests = w.sums
	b.markSynced()
	return nil
}

func (b *Bag) isActive(alg string) bool {
	for _, a := range b.Algorithms {
		if a == alg {
			return true
		}
	}
	return false
}

// extraTagFiles returns the tag files listed in the current tag manifests
// which Write does not produce itself.
func (b *Bag) extraTagFiles() []string {
	seen := make(map[string]bool)
	for _, m := range b.TagManifests {
		for p := range m {
			if p == BagItFile || p == BagInfoFile || p == FetchFile {
				continue
			}
			if _, _, ok := parseManifestName(p); ok {
				continue
			}
			seen[p] = true
		}
	}
	return sortedKeys(seen)
}

// tagWriter stages tag files and accumulates their digests. The first
// error stops any further staging.
type tagWriter struct {
	s       store.Store
	pending []store.Pending
	sums    map[string]Manifest
	err     error
}

// stage writes the output of encode to key, recording digests for algs.
func (w *tagWriter) stage(key string, algs []string, encode func(io.Writer) error) {
	if w.err != nil {
		return
	}
	p, err := w.s.Stage(key)
	if err != nil {
		w.err = err
		return
	}
	w.pending = append(w.pending, p)
	hw := util.NewHashWriter(p, algs...)
	if err := encode(hw); err != nil {
		w.err = errors.Wrapf(err, "stage %s", key)
		return
	}
	for alg, sum := range hw.Sums() {
		w.sums[alg][key] = sum
	}
}

// rehash records the digests of a tag file already in the store.
func (w *tagWriter) rehash(key string, algs []string) {
	if w.err != nil {
		return
	}
	rc, err := w.s.Open(key)
	if err == store.ErrNotExist {
		log.Printf("bagit: tag file %s no longer exists, dropping it from the tag manifests", key)
		return
	}
	if err != nil {
		w.err = err
		return
	}
	defer rc.Close()
	hw := util.NewHashWriterPlain(algs...)
	if _, err := io.Copy(hw, rc); err != nil {
		w.err = errors.Wrapf(err, "read %s", key)
		return
	}
	for alg, sum := range hw.Sums() {
		w.sums[alg][key] = sum
	}
}
