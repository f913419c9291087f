package holey

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/ndlib/holey/bagit"
	"github.com/ndlib/holey/transport"
	"github.com/ndlib/holey/util"
)

// FetchOptions adjust ResolveFetch.
type FetchOptions struct {
	// Force fetches every entry, even ones already present at the
	// declared size.
	Force bool

	// Filter, if not empty, is an expression choosing the entries to
	// fetch. See ParseFilter.
	Filter string

	// Progress, if not nil, is called after each entry is finished with
	// the number finished so far and the number to do. Returning false
	// stops the fetch: no new transfers are started, and files already
	// fetched are kept.
	Progress func(done, total int) bool

	// Concurrency is the number of transfers run at once. Values less
	// than 2 mean one at a time.
	Concurrency int
}

// A FetchFailure records why one entry was not fetched.
type FetchFailure struct {
	Path string
	URL  string
	Err  error
}

func (f FetchFailure) String() string {
	return fmt.Sprintf("%s (%s): %s", f.Path, f.URL, f.Err)
}

// FetchResult summarizes a ResolveFetch.
type FetchResult struct {
	Total     int // entries in the fetch list
	Fetched   int
	Deferred  int // entries which cannot be fetched automatically
	Skipped   int // already present
	Filtered  int // excluded by the filter
	Cancelled int // not attempted because the fetch was stopped
	Failures  []FetchFailure
}

// OK returns true if every entry chosen was fetched or deferred.
func (r FetchResult) OK() bool {
	return len(r.Failures) == 0 && r.Cancelled == 0
}

// ResolveFetch downloads the remote files of the bag in dir. Entries whose
// file is present with the declared length are skipped unless Force is
// set. An entry whose URL is an identifier is first resolved, and each
// location is tried in turn until one works. Failures are recorded in the
// result and the remaining entries are still fetched; the error return is
// only for problems with the bag itself. Entries no manifest lists are
// never fetched, and a fetch.txt changed since the bag was written gives
// ErrRemoteChanged. The cached transport sessions are released at the end.
func (b *Bagger) ResolveFetch(ctx context.Context, dir string, opts FetchOptions) (FetchResult, error) {
	var result FetchResult
	if b.Registry == nil {
		return result, errors.New("no transport registry")
	}
	dir, err := absDir(dir)
	if err != nil {
		return result, err
	}
	var filter *Filter
	if opts.Filter != "" {
		filter, err = ParseFilter(opts.Filter)
		if err != nil {
			return result, err
		}
	}
	unlock, err := lock(dir, false)
	if err != nil {
		return result, err
	}
	defer unlock()
	bag, err := bagit.Load(dir)
	if err != nil {
		return result, err
	}
	files, err := bagit.ScanPayload(dir)
	if err != nil {
		return result, err
	}
	if bag.RemoteChanged() {
		return result, errors.Wrapf(ErrRemoteChanged, "%s", dir)
	}
	defer b.Registry.Close()

	orphans := make(map[string]bool)
	for _, p := range bag.Consistency(files).OnlyInFetch {
		orphans[p] = true
	}
	entries := bag.Fetch.Entries()
	result.Total = len(entries)
	var todo []*bagit.FetchEntry
	for _, e := range entries {
		if orphans[e.Path] {
			result.Failures = append(result.Failures, FetchFailure{Path: e.Path, URL: e.URL, Err: ErrNotInManifest})
			continue
		}
		if size, ok := files[e.Path]; ok && size == e.Length && !opts.Force {
			result.Skipped++
			continue
		}
		if filter != nil && !filter.Match(e) {
			result.Filtered++
			continue
		}
		todo = append(todo, e)
	}

	b.setState(dir, StateFetching)
	defer b.setState(dir, StateComplete)
	learned := make(map[string]map[string]string)
	var fetched []string
	record := func(r fetchOne) {
		switch {
		case r.err != nil:
			result.Failures = append(result.Failures, FetchFailure{Path: r.entry.Path, URL: r.entry.URL, Err: r.err})
		case r.outcome == transport.Deferred:
			result.Deferred++
		default:
			result.Fetched++
			fetched = append(fetched, r.entry.Path)
		}
		if r.err == nil && len(r.checksums) > 0 {
			learned[r.entry.Path] = r.checksums
		}
	}
	done := b.fetchAll(ctx, dir, todo, opts, record)
	result.Cancelled = len(todo) - done

	// checksums learned from resolvers fill gaps in the manifests, and
	// whatever is still missing is computed from the fetched file
	changed := false
	for p, sums := range learned {
		for _, alg := range bag.MissingAlgorithms(p) {
			if sum, ok := sums[alg]; ok {
				bag.SetChecksums(p, map[string]string{alg: sum})
				changed = true
			}
		}
	}
	var gaps []string
	for _, p := range fetched {
		if len(bag.MissingAlgorithms(p)) > 0 {
			gaps = append(gaps, p)
		}
	}
	if len(gaps) > 0 {
		results, err := b.digest(dir, gaps, bag.Algorithms)
		if err != nil {
			return result, err
		}
		for _, p := range gaps {
			missing := make(map[string]string)
			for _, alg := range bag.MissingAlgorithms(p) {
				missing[alg] = results[p].Digests[alg]
			}
			bag.SetChecksums(p, missing)
		}
		changed = true
	}
	if changed {
		files, err = bagit.ScanPayload(dir)
		if err == nil {
			err = b.writeBag(bag, files)
		}
		if err != nil {
			return result, err
		}
	}
	log.Printf("fetch %s: %d fetched, %d deferred, %d failed, %d skipped, %d cancelled",
		dir, result.Fetched, result.Deferred, len(result.Failures), result.Skipped, result.Cancelled)
	return result, nil
}

// fetchOne is the outcome of fetching one entry.
type fetchOne struct {
	entry     *bagit.FetchEntry
	outcome   transport.Outcome
	err       error
	checksums map[string]string // from the resolver, if any
}

// fetchAll fetches todo, passing each outcome to record from a single
// goroutine and calling the progress function after each. It returns the
// number of entries finished.
func (b *Bagger) fetchAll(ctx context.Context, dir string, todo []*bagit.FetchEntry, opts FetchOptions, record func(fetchOne)) int {
	total := len(todo)
	done := 0
	if opts.Concurrency < 2 {
		for _, e := range todo {
			if ctx.Err() != nil {
				break
			}
			record(b.fetchEntry(ctx, dir, e))
			done++
			if opts.Progress != nil && !opts.Progress(done, total) {
				break
			}
		}
		return done
	}

	gate := util.NewGate(opts.Concurrency)
	results := make(chan fetchOne, total)
	var wg sync.WaitGroup
	go func() {
		for _, e := range todo {
			if ctx.Err() != nil || !gate.Enter() {
				break
			}
			wg.Add(1)
			go func(e *bagit.FetchEntry) {
				defer wg.Done()
				defer gate.Leave()
				results <- b.fetchEntry(ctx, dir, e)
			}(e)
		}
		wg.Wait()
		close(results)
	}()
	stopped := false
	for r := range results {
		record(r)
		done++
		if !stopped && opts.Progress != nil && !opts.Progress(done, total) {
			stopped = true
			go gate.Stop()
		}
	}
	return done
}

// fetchEntry downloads a single entry, resolving its URL first if it is an
// identifier.
func (b *Bagger) fetchEntry(ctx context.Context, dir string, e *bagit.FetchEntry) fetchOne {
	r := fetchOne{entry: e}
	candidates := []string{e.URL}
	if b.isIdentifier(e.URL) {
		locs, err := b.Resolver.Resolve(ctx, e.URL)
		if err != nil {
			r.err = err
			return r
		}
		if len(locs) == 0 {
			r.err = errors.Wrapf(ErrUnresolved, "%s", e.URL)
			return r
		}
		candidates = candidates[:0]
		for _, loc := range locs {
			candidates = append(candidates, loc.URL)
			if len(loc.Checksums) > 0 && r.checksums == nil {
				r.checksums = loc.Checksums
			}
		}
	}
	dest := filepath.Join(dir, filepath.FromSlash(e.Path))
	for _, u := range candidates {
		outcome, err := b.Registry.Dispatch(ctx, u, dest, b.Keys)
		if err != nil {
			r.err = err
			continue
		}
		r.outcome = outcome
		if outcome == transport.Deferred {
			r.err = nil
			return r
		}
		fi, err := os.Stat(dest)
		if err != nil {
			r.err = err
			continue
		}
		if fi.Size() != e.Length {
			r.err = errors.Errorf("%s: got %d bytes, expected %d", u, fi.Size(), e.Length)
			os.Remove(dest)
			continue
		}
		r.err = nil
		return r
	}
	r.outcome = transport.Failed
	return r
}
