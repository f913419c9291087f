package transport

import (
	"context"
	"io"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/stats"
	"github.com/pkg/errors"

	"github.com/ndlib/holey/keychain"
)

func TestParseKind(t *testing.T) {
	for name, kind := range kindNames {
		k, err := ParseKind(" " + name + " ")
		if err != nil || k != kind {
			t.Errorf("ParseKind(%q) = %v, %v", name, k, err)
		}
		if kind.String() != name {
			t.Errorf("%d.String() = %q, expected %q", int(kind), kind.String(), name)
		}
	}
	_, err := ParseKind("carrier-pigeon")
	if errors.Cause(err) != ErrUnknownKind {
		t.Errorf("got %v, expected ErrUnknownKind", err)
	}
}

func TestNewRegistry(t *testing.T) {
	_, err := NewRegistry(Config{Schemes: map[string]string{"pigeon": "avian"}})
	if errors.Cause(err) != ErrUnknownKind {
		t.Errorf("got %v, expected ErrUnknownKind", err)
	}
	reg, err := NewRegistry(Config{Schemes: map[string]string{"DAV": "http"}})
	if err != nil {
		t.Fatal(err)
	}
	for _, scheme := range []string{"http", "https", "ftp", "ftps", "s3", "gs", "globus", "irods", "tag", "dav"} {
		if !reg.Handles(scheme) {
			t.Errorf("no handler for %s", scheme)
		}
	}
	if reg.Handles("gopher") {
		t.Errorf("unexpected handler for gopher")
	}
}

// countingClient records the sums given to it.
type countingClient struct {
	m    sync.Mutex
	sums map[string]float64
}

func (c *countingClient) hook() stats.Client {
	c.sums = make(map[string]float64)
	return &stats.HookClient{
		BumpSumHook: func(key string, val float64) {
			c.m.Lock()
			c.sums[key] += val
			c.m.Unlock()
		},
	}
}

func (c *countingClient) get(key string) float64 {
	c.m.Lock()
	defer c.m.Unlock()
	return c.sums[key]
}

type stubHandler struct {
	outcome Outcome
	err     error
	calls   int
}

func (h *stubHandler) Fetch(ctx context.Context, u *url.URL, dest string, keys keychain.Keychain) (Outcome, error) {
	h.calls++
	if h.outcome == Fetched {
		if _, err := writeFile(dest, stringReader("stub")); err != nil {
			return Failed, err
		}
	}
	return h.outcome, h.err
}

func stringReader(s string) io.Reader {
	r, w := io.Pipe()
	go func() {
		io.WriteString(w, s)
		w.Close()
	}()
	return r
}

func TestDispatch(t *testing.T) {
	var counts countingClient
	cfg := testConfig
	cfg.Stats = counts.hook()
	reg, err := NewRegistry(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()
	ok := &stubHandler{outcome: Fetched}
	bad := &stubHandler{outcome: Failed, err: errors.New("nope")}
	silent := &stubHandler{outcome: Failed}
	reg.Register("ok", ok)
	reg.Register("BAD", bad)
	reg.Register("silent", silent)

	dir := t.TempDir()
	ctx := context.Background()
	var table = []struct {
		url     string
		outcome Outcome
		isErr   bool
	}{
		{"ok://a/b", Fetched, false},
		{"bad://a/b", Failed, true},
		{"silent://a/b", Failed, true},
		{"tag:example.org,2020:thing", Deferred, false},
		{"gopher://a/b", Failed, true},
		{"ok://a/c", Fetched, false},
	}
	for i, tab := range table {
		outcome, err := reg.Dispatch(ctx, tab.url, filepath.Join(dir, "f", string(rune('a'+i))), nil)
		if outcome != tab.outcome || (err != nil) != tab.isErr {
			t.Errorf("%s: got %s, %v", tab.url, outcome, err)
		}
	}
	if _, err := reg.Dispatch(ctx, "gopher://x", filepath.Join(dir, "g"), nil); errors.Cause(err) != ErrNoHandler {
		t.Errorf("got %v, expected ErrNoHandler", err)
	}
	if ok.calls != 2 || bad.calls != 1 {
		t.Errorf("handler calls ok=%d bad=%d", ok.calls, bad.calls)
	}
	var expected = map[string]float64{
		"fetch.ok":       2,
		"fetch.failed":   4,
		"fetch.deferred": 1,
		"fetch.bytes":    8,
	}
	for key, want := range expected {
		if got := counts.get(key); got != want {
			t.Errorf("%s = %v, expected %v", key, got, want)
		}
	}
}

type closeCounter struct {
	m      *sync.Mutex
	closed *int
}

func (c closeCounter) Close() error {
	c.m.Lock()
	*c.closed++
	c.m.Unlock()
	return nil
}

func TestSessions(t *testing.T) {
	var m sync.Mutex
	var closed int
	s := NewSessions()
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	fills := 0
	fill := func() (io.Closer, error) {
		fills++
		return closeCounter{m: &m, closed: &closed}, nil
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Get("a", fill); err != nil {
			t.Fatal(err)
		}
	}
	if fills != 1 {
		t.Errorf("got %d fills, expected 1", fills)
	}
	s.Get("b", fill)
	if s.Len() != 2 {
		t.Errorf("Len = %d, expected 2", s.Len())
	}
	s.Drop("b")
	if s.Len() != 1 || closed != 1 {
		t.Errorf("after Drop: Len = %d, closed = %d", s.Len(), closed)
	}
	_, err := s.Get("c", func() (io.Closer, error) { return nil, errors.New("refused") })
	if err == nil || s.Len() != 1 {
		t.Errorf("failed fill: %v, Len = %d", err, s.Len())
	}

	// an expired session is replaced
	now = now.Add(2 * defaultSessionTTL)
	s.Get("a", fill)
	if fills != 3 {
		t.Errorf("got %d fills, expected 3", fills)
	}
	if err := s.Close(); err != nil {
		t.Error(err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after Close", s.Len())
	}
}

func TestBackoff(t *testing.T) {
	cfg := Config{Retries: 2, Backoff: time.Microsecond}.withDefaults()
	b := newBackoff(cfg)
	ctx := context.Background()
	if !b.wait(ctx) || !b.wait(ctx) {
		t.Fatal("expected two retries")
	}
	if b.wait(ctx) {
		t.Error("expected retries to be exhausted")
	}
	if b.delay != 4*time.Microsecond {
		t.Errorf("delay = %v", b.delay)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	cfg.Backoff = time.Hour
	if newBackoff(cfg).wait(cancelled) {
		t.Error("wait returned true on a cancelled context")
	}
}

func TestObjectPath(t *testing.T) {
	var table = []struct {
		input  string
		bucket string
		key    string
		isErr  bool
	}{
		{"s3://bucket/a/b.txt", "bucket", "a/b.txt", false},
		{"gs://b/k", "b", "k", false},
		{"s3://bucket/", "", "", true},
		{"s3:///key", "", "", true},
	}
	for _, tab := range table {
		u, _ := url.Parse(tab.input)
		bucket, key, err := objectPath(u)
		if bucket != tab.bucket || key != tab.key || (err != nil) != tab.isErr {
			t.Errorf("%s: got %q %q %v", tab.input, bucket, key, err)
		}
	}
}
