package holey

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"

	"github.com/ndlib/holey/bagit"
	"github.com/ndlib/holey/util"
)

// A RemoteFile describes a payload file kept somewhere else. URL may be a
// direct URL or an identifier the resolver chain understands. Filename is
// relative to the payload directory.
type RemoteFile struct {
	URL       string
	Length    int64 // -1 if not known
	Filename  string
	Checksums map[string]string
}

// ErrBadRemoteFile means a remote file manifest record is malformed.
var ErrBadRemoteFile = errors.New("bad remote file record")

// LoadRemoteManifest reads the remote file manifest in the file fname.
func LoadRemoteManifest(fname string) ([]RemoteFile, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseRemoteManifest(f)
}

// ParseRemoteManifest reads a remote file manifest. It is either a JSON
// array of objects or one JSON object per line. Each object has the keys
// "url", "length" and "filename", and one or more checksums keyed by
// algorithm name, e.g.
//
//	{"url": "https://example.org/a.csv", "length": 1024,
//	 "filename": "tables/a.csv", "sha256": "..."}
func ParseRemoteManifest(r io.Reader) ([]RemoteFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	var objects []*jason.Object
	if bytes.HasPrefix(data, []byte("[")) {
		v, err := jason.NewValueFromBytes(data)
		if err != nil {
			return nil, errors.Wrap(err, "remote file manifest")
		}
		objects, err = v.ObjectArray()
		if err != nil {
			return nil, errors.Wrap(err, "remote file manifest")
		}
	} else {
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		line := 0
		for scanner.Scan() {
			line++
			text := bytes.TrimSpace(scanner.Bytes())
			if len(text) == 0 {
				continue
			}
			obj, err := jason.NewObjectFromBytes(text)
			if err != nil {
				return nil, errors.Wrapf(err, "remote file manifest line %d", line)
			}
			objects = append(objects, obj)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}
	result := make([]RemoteFile, 0, len(objects))
	for i, obj := range objects {
		rf, err := remoteFile(obj)
		if err != nil {
			return nil, errors.Wrapf(err, "remote file manifest record %d", i+1)
		}
		result = append(result, rf)
	}
	return result, nil
}

func remoteFile(obj *jason.Object) (RemoteFile, error) {
	rf := RemoteFile{Length: -1, Checksums: make(map[string]string)}
	var err error
	rf.URL, err = obj.GetString("url")
	if err != nil || rf.URL == "" {
		return rf, errors.Wrap(ErrBadRemoteFile, "missing url")
	}
	rf.Filename, err = obj.GetString("filename")
	if err != nil || rf.Filename == "" {
		return rf, errors.Wrap(ErrBadRemoteFile, "missing filename")
	}
	if n, err := obj.GetInt64("length"); err == nil {
		rf.Length = n
	} else if s, err := obj.GetString("length"); err == nil {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return rf, errors.Wrapf(ErrBadRemoteFile, "length %q", s)
		}
		rf.Length = n
	}
	for _, alg := range util.Algorithms() {
		if s, err := obj.GetString(alg); err == nil && s != "" {
			rf.Checksums[alg] = strings.ToLower(s)
		}
	}
	return rf, nil
}

// payloadPath returns the bag path for a remote filename.
func payloadPath(filename string) (string, error) {
	clean := path.Clean("/" + strings.TrimPrefix(filename, "/"))
	p := bagit.PayloadDir + clean
	if !bagit.IsPayloadPath(p) {
		return "", errors.Wrapf(bagit.ErrBadPath, "%q", filename)
	}
	return p, nil
}

// expandRemote turns remote files into fetch entries. Identifiers are
// resolved to fill in a missing length or checksums; the identifier itself
// stays the URL of the entry so it is resolved again when fetched. Every
// entry needs a length and a checksum for a supported algorithm.
func (b *Bagger) expandRemote(ctx context.Context, files []RemoteFile) ([]bagit.FetchEntry, error) {
	var result []bagit.FetchEntry
	for _, rf := range files {
		p, err := payloadPath(rf.Filename)
		if err != nil {
			return nil, err
		}
		e := bagit.FetchEntry{URL: rf.URL, Length: rf.Length, Path: p, Checksums: make(map[string]string)}
		for alg, sum := range rf.Checksums {
			e.Checksums[strings.ToLower(alg)] = strings.ToLower(sum)
		}
		if b.isIdentifier(rf.URL) && (e.Length < 0 || !hasSupported(e.Checksums)) {
			b.fillFromResolver(ctx, &e)
		}
		if e.Length < 0 {
			return nil, errors.Wrapf(bagit.ErrMissingLength, "%s", rf.URL)
		}
		if !hasSupported(e.Checksums) {
			return nil, errors.Wrapf(ErrNoChecksum, "%s", rf.URL)
		}
		result = append(result, e)
	}
	return result, nil
}

// fillFromResolver copies the length and checksums of the first location
// an identifier resolves to into e, where e lacks them.
func (b *Bagger) fillFromResolver(ctx context.Context, e *bagit.FetchEntry) {
	locs, err := b.Resolver.Resolve(ctx, e.URL)
	if err != nil {
		log.Printf("resolve: %s: %s", e.URL, err)
		return
	}
	for _, loc := range locs {
		if e.Length < 0 && loc.Length >= 0 {
			e.Length = loc.Length
		}
		for alg, sum := range loc.Checksums {
			if _, ok := e.Checksums[alg]; !ok {
				e.Checksums[alg] = sum
			}
		}
	}
}

// isIdentifier returns true if rawurl should be resolved rather than
// fetched directly.
func (b *Bagger) isIdentifier(rawurl string) bool {
	if b.Resolver == nil {
		return false
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return false
	}
	return b.Resolver.Handles(u.Scheme)
}

func hasSupported(sums map[string]string) bool {
	for alg := range sums {
		if util.Supported(alg) {
			return true
		}
	}
	return false
}
