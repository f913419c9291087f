package holey

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/holey/bagit"
	"github.com/ndlib/holey/resolve"
)

var remoteContent = map[string]string{
	"/a.txt": "alpha",
	"/b.txt": "bravo!",
	"/c.txt": "charlie",
}

// newMinidServer answers minid lookups for "minid:c" with a location on
// the content server at base.
func newMinidServer(t *testing.T, base string) *httptest.Server {
	r := httprouter.New()
	r.GET("/minid/*id", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		if ps.ByName("id") != "/minid:c" {
			w.WriteHeader(404)
			return
		}
		fmt.Fprintf(w, `{"locations": [{"link": %q}], "checksums": [{"function": "sha256", "value": %q}], "metadata": {"contentSize": 7}}`,
			base+"/files/c.txt", sum("sha256", "charlie"))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newHoleyBagger(t *testing.T, files *httptest.Server) *Bagger {
	b := newBagger()
	b.Registry = newRegistry(t)
	minid := newMinidServer(t, files.URL)
	chain, err := resolve.NewChain([]resolve.Service{
		{Scheme: "minid", Endpoint: minid.URL + "/minid/", Kind: resolve.KindMinid},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	b.Resolver = chain
	return b
}

func TestHoleyBag(t *testing.T) {
	ctx := context.Background()
	files := newContentServer(t, remoteContent)
	b := newHoleyBagger(t, files)
	dir := newTree(t, map[string]string{"local.txt": "here"})
	remote := []RemoteFile{
		{URL: files.URL + "/files/a.txt", Length: 5, Filename: "remote/a.txt", Checksums: map[string]string{"md5": sum("md5", "alpha")}},
		{URL: files.URL + "/files/b.txt", Length: 6, Filename: "remote/b.txt", Checksums: map[string]string{"MD5": sum("md5", "bravo!")}},
		// length and checksum come from the resolver
		{URL: "minid:c", Length: -1, Filename: "c.txt"},
	}
	if err := b.Create(ctx, dir, CreateOptions{Remote: remote}); err != nil {
		t.Fatal(err)
	}
	bag, err := bagit.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if e := bag.Fetch.Get("data/c.txt"); e == nil || e.URL != "minid:c" || e.Length != 7 {
		t.Errorf("fetch entry for c.txt = %v", e)
	}
	if got := bag.Info.Get(bagit.TagPayloadOxum); got != "22.4" {
		t.Errorf("Payload-Oxum = %s", got)
	}

	state, err := b.Validate(ctx, dir, ValidateOptions{})
	if ie, ok := err.(IncompleteError); state != StateIncomplete || !ok || len(ie.Pending) != 3 {
		t.Errorf("before fetch: %s, %v", state, err)
	}
	if state, _ = b.Validate(ctx, dir, ValidateOptions{Fast: true}); state != StateInvalid {
		t.Errorf("fast validation before fetch gave %s", state)
	}
	if state, err = b.Validate(ctx, dir, ValidateOptions{SkipRemote: true}); state != StateValid {
		t.Errorf("skipping remote files: %s, %v", state, err)
	}

	result, err := b.ResolveFetch(ctx, dir, FetchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Fetched != 3 || !result.OK() {
		t.Errorf("fetch result = %+v", result)
	}
	if got := readFile(t, filepath.Join(dir, "data", "c.txt")); got != "charlie" {
		t.Errorf("c.txt = %q", got)
	}
	if b.State(dir) != StateComplete {
		t.Errorf("state after fetch = %s", b.State(dir))
	}
	for _, mode := range []ValidateOptions{{}, {Fast: true}} {
		if state, err = b.Validate(ctx, dir, mode); state != StateValid {
			t.Errorf("after fetch (%+v): %s, %v", mode, state, err)
		}
	}

	result, err = b.ResolveFetch(ctx, dir, FetchOptions{})
	if err != nil || result.Skipped != 3 || result.Fetched != 0 {
		t.Errorf("second fetch = %+v, %v", result, err)
	}
	result, err = b.ResolveFetch(ctx, dir, FetchOptions{Force: true, Filter: "filename$*b.txt"})
	if err != nil || result.Fetched != 1 || result.Filtered != 2 {
		t.Errorf("forced fetch = %+v, %v", result, err)
	}
}

func TestFetchFailures(t *testing.T) {
	ctx := context.Background()
	files := newContentServer(t, remoteContent)
	b := newHoleyBagger(t, files)
	dir := newTree(t, map[string]string{"local.txt": "here"})
	md5 := map[string]string{"md5": "0123456789abcdef0123456789abcdef"}
	remote := []RemoteFile{
		{URL: files.URL + "/files/a.txt", Length: 5, Filename: "ok.txt", Checksums: md5},
		{URL: files.URL + "/files/nothing", Length: 5, Filename: "missing.txt", Checksums: md5},
		{URL: files.URL + "/files/b.txt", Length: 9, Filename: "short.txt", Checksums: md5},
		{URL: "tag:library.nd.edu,2026:box-12", Length: 100, Filename: "box.tif", Checksums: md5},
	}
	if err := b.Create(ctx, dir, CreateOptions{Remote: remote}); err != nil {
		t.Fatal(err)
	}
	result, err := b.ResolveFetch(ctx, dir, FetchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Fetched != 1 || result.Deferred != 1 || len(result.Failures) != 2 || result.OK() {
		t.Errorf("fetch result = %+v", result)
	}
	for _, name := range []string{"missing.txt", "short.txt", "box.tif"} {
		if _, err := os.Stat(filepath.Join(dir, "data", name)); !os.IsNotExist(err) {
			t.Errorf("%s: expected no file, got %v", name, err)
		}
	}
}

func TestFetchCancel(t *testing.T) {
	ctx := context.Background()
	content := make(map[string]string)
	var remote []RemoteFile
	for i := 0; i < 6; i++ {
		body := fmt.Sprintf("file number %d", i)
		content[fmt.Sprintf("/%d", i)] = body
		remote = append(remote, RemoteFile{
			URL:       fmt.Sprintf("/files/%d", i),
			Length:    int64(len(body)),
			Filename:  fmt.Sprintf("f%d", i),
			Checksums: map[string]string{"md5": sum("md5", body)},
		})
	}
	files := newContentServer(t, content)
	for i := range remote {
		remote[i].URL = files.URL + remote[i].URL
	}

	for _, concurrency := range []int{1, 3} {
		b := newHoleyBagger(t, files)
		dir := newTree(t, map[string]string{"local.txt": "here"})
		if err := b.Create(ctx, dir, CreateOptions{Remote: remote}); err != nil {
			t.Fatal(err)
		}
		calls := 0
		stopAfter := 2
		result, err := b.ResolveFetch(ctx, dir, FetchOptions{
			Concurrency: concurrency,
			Progress: func(done, total int) bool {
				calls++
				if total != 6 {
					t.Errorf("total = %d", total)
				}
				return done < stopAfter
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if calls != stopAfter {
			t.Errorf("concurrency %d: progress called %d times", concurrency, calls)
		}
		if result.Fetched+result.Cancelled != 6 || result.Fetched < stopAfter || len(result.Failures) != 0 {
			t.Errorf("concurrency %d: result = %+v", concurrency, result)
		}
		// transfers already running when the fetch is stopped still finish
		if concurrency == 1 && result.Fetched != stopAfter {
			t.Errorf("fetched %d, expected %d", result.Fetched, stopAfter)
		}
		present, _ := bagit.ScanPayload(dir)
		if len(present) != result.Fetched+1 {
			t.Errorf("concurrency %d: %d files on disk, %d fetched", concurrency, len(present)-1, result.Fetched)
		}
		// the rest can still be fetched later
		result, err = b.ResolveFetch(ctx, dir, FetchOptions{Concurrency: concurrency})
		if err != nil || !result.OK() || result.Fetched+result.Skipped != 6 {
			t.Errorf("concurrency %d: resumed fetch = %+v, %v", concurrency, result, err)
		}
	}
}

func TestFetchNeedsRegistry(t *testing.T) {
	b := newBagger()
	if _, err := b.ResolveFetch(context.Background(), t.TempDir(), FetchOptions{}); err == nil {
		t.Errorf("expected an error without a transport registry")
	}
}
