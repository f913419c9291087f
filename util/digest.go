package util

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// BlockSize is the size of the reads used when checksumming a file.
const BlockSize = 1 << 20 // 1 MiB

// DigestFile computes the given algorithms over the contents of the file
// at path in a single pass. The result maps each algorithm name to its
// lowercase hex digest. Unsupported algorithms are dropped with a warning,
// and ErrNoAlgorithms is returned if none remain. Errors opening or reading
// the file are returned, and in that case no digests are returned.
func DigestFile(path string, algs []string) (map[string]string, error) {
	return digestFile(path, algs, nil)
}

func digestFile(path string, algs []string, wrap func(io.Reader) io.Reader) (map[string]string, error) {
	algs, err := FilterAlgorithms(algs)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "digest")
	}
	defer f.Close()
	var r io.Reader = f
	if wrap != nil {
		r = wrap(r)
	}
	hw := NewHashWriterPlain(algs...)
	buf := make([]byte, BlockSize)
	if _, err := io.CopyBuffer(hw, r, buf); err != nil {
		return nil, errors.Wrapf(err, "digest %s", path)
	}
	return hw.Sums(), nil
}

// A DigestResult is the outcome of checksumming a single file with
// DigestFiles.
type DigestResult struct {
	Path    string            // the path as given to DigestFiles
	Size    int64             // number of bytes read
	Digests map[string]string // algorithm -> hex digest
	Err     error
}

// DigestOptions tune DigestFiles.
type DigestOptions struct {
	// Workers is the number of files checksummed at the same time. Values
	// less than 2 mean everything happens in the calling goroutine.
	Workers int

	// Wrap, if not nil, is applied to every file reader. It can be used to
	// throttle the checksumming, e.g. with a RateCounter.
	Wrap func(io.Reader) io.Reader
}

// DigestFiles checksums every path, interpreted relative to root, with the
// given algorithms. The files are processed by a bounded pool of workers,
// each of which sends its results back to a single collecting goroutine, so
// the returned map is only ever written from one place. The result is the
// same no matter how many workers are used.
func DigestFiles(root string, paths []string, algs []string, opts DigestOptions) map[string]DigestResult {
	result := make(map[string]DigestResult, len(paths))
	one := func(p string) DigestResult {
		full := filepath.Join(root, filepath.FromSlash(p))
		var size int64
		if fi, err := os.Stat(full); err == nil {
			size = fi.Size()
		}
		digests, err := digestFile(full, algs, opts.Wrap)
		return DigestResult{Path: p, Size: size, Digests: digests, Err: err}
	}

	if opts.Workers < 2 {
		for _, p := range paths {
			result[p] = one(p)
		}
		return result
	}

	gate := NewGate(opts.Workers)
	out := make(chan DigestResult)
	done := make(chan struct{})
	go func() {
		for r := range out {
			result[r.Path] = r
		}
		close(done)
	}()
	finished := make(chan struct{}, len(paths))
	for _, p := range paths {
		gate.Enter()
		go func(p string) {
			defer gate.Leave()
			out <- one(p)
			finished <- struct{}{}
		}(p)
	}
	for range paths {
		<-finished
	}
	close(out)
	<-done
	return result
}
