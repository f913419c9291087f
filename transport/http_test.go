package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/holey/keychain"
)

// testConfig retries quickly.
var testConfig = Config{
	ConnectTimeout: time.Second,
	ReadTimeout:    2 * time.Second,
	Retries:        2,
	Backoff:        time.Millisecond,
	GlobusPoll:     time.Millisecond,
}

// hits counts requests by path
type hits struct {
	m sync.Mutex
	n map[string]int
}

func (h *hits) bump(path string) int {
	h.m.Lock()
	defer h.m.Unlock()
	if h.n == nil {
		h.n = make(map[string]int)
	}
	h.n[path]++
	return h.n[path]
}

func newFileServer(t *testing.T) *httptest.Server {
	var count hits
	var loggedIn sync.Map
	r := httprouter.New()
	r.GET("/plain", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		fmt.Fprint(w, "hello")
	})
	r.GET("/flaky", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		if count.bump("/flaky") == 1 {
			w.WriteHeader(503)
			return
		}
		fmt.Fprint(w, "second time")
	})
	r.GET("/down", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		w.WriteHeader(503)
	})
	r.GET("/basic", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		u, p, ok := req.BasicAuth()
		if !ok || u != "alice" || p != "secret" {
			w.WriteHeader(401)
			return
		}
		fmt.Fprint(w, "basic ok")
	})
	r.GET("/bearer", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		if req.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(401)
			return
		}
		fmt.Fprint(w, "bearer ok")
	})
	r.GET("/cookie", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		c, err := req.Cookie("session")
		if err != nil || c.Value != "abc" {
			w.WriteHeader(401)
			return
		}
		fmt.Fprint(w, "cookie ok")
	})
	r.POST("/login", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		req.ParseForm()
		if req.PostForm.Get("user") != "bob" || req.PostForm.Get("pass") != "pw" {
			w.WriteHeader(403)
			return
		}
		id := fmt.Sprintf("s%d", count.bump("/login"))
		loggedIn.Store(id, true)
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: id, Path: "/"})
	})
	r.GET("/form", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		c, err := req.Cookie("sid")
		if err != nil {
			w.WriteHeader(401)
			return
		}
		// the first session expires after one use
		if _, ok := loggedIn.Load(c.Value); !ok || c.Value == "s1" && count.bump("/form") > 1 {
			w.WriteHeader(401)
			return
		}
		fmt.Fprint(w, "form ok "+c.Value)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newTestRegistry(t *testing.T) *Registry {
	reg, err := NewRegistry(testConfig)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func fileContents(t *testing.T, fname string) string {
	b, err := os.ReadFile(fname)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestHTTPFetch(t *testing.T) {
	srv := newFileServer(t)
	keys := keychain.Keychain{
		{URI: srv.URL + "/basic", AuthType: keychain.HTTPBasic, Params: map[string]string{"username": "alice", "password": "secret"}},
		{URI: srv.URL + "/bearer", AuthType: keychain.BearerToken, Params: map[string]string{"token": "tok"}},
		{URI: srv.URL + "/cookie", AuthType: keychain.Cookie, Params: map[string]string{"cookie": "session=abc"}},
	}
	var table = []struct {
		path    string
		outcome Outcome
		content string
	}{
		{"/plain", Fetched, "hello"},
		{"/flaky", Fetched, "second time"},
		{"/down", Failed, ""},
		{"/missing", Failed, ""},
		{"/basic", Fetched, "basic ok"},
		{"/bearer", Fetched, "bearer ok"},
		{"/cookie", Fetched, "cookie ok"},
	}
	reg := newTestRegistry(t)
	dir := t.TempDir()
	for _, tab := range table {
		dest := filepath.Join(dir, "data", tab.path)
		outcome, err := reg.Dispatch(context.Background(), srv.URL+tab.path, dest, keys)
		if outcome != tab.outcome {
			t.Errorf("%s: got %s (%v), expected %s", tab.path, outcome, err, tab.outcome)
			continue
		}
		if outcome != Fetched {
			if _, err := os.Stat(dest); !os.IsNotExist(err) {
				t.Errorf("%s: destination exists after failure", tab.path)
			}
			continue
		}
		if got := fileContents(t, dest); got != tab.content {
			t.Errorf("%s: got %q, expected %q", tab.path, got, tab.content)
		}
	}
	// no part files are left behind
	matches, _ := filepath.Glob(filepath.Join(dir, "data", ".*part*"))
	if len(matches) > 0 {
		t.Errorf("part files left: %v", matches)
	}
}

func TestHTTPFormLogin(t *testing.T) {
	srv := newFileServer(t)
	keys := keychain.Keychain{
		{URI: srv.URL, AuthType: keychain.HTTPForm, Params: map[string]string{
			"auth_uri":       srv.URL + "/login",
			"username":       "bob",
			"password":       "pw",
			"username_field": "user",
			"password_field": "pass",
		}},
	}
	reg := newTestRegistry(t)
	dir := t.TempDir()
	var expected = []string{"form ok s1", "form ok s2"}
	for i, want := range expected {
		dest := filepath.Join(dir, fmt.Sprintf("f%d", i))
		outcome, err := reg.Dispatch(context.Background(), srv.URL+"/form", dest, keys)
		if outcome != Fetched {
			t.Fatalf("fetch %d: got %s, %v", i, outcome, err)
		}
		if got := fileContents(t, dest); got != want {
			t.Errorf("fetch %d: got %q, expected %q", i, got, want)
		}
	}
}

func TestHTTPBadLogin(t *testing.T) {
	srv := newFileServer(t)
	keys := keychain.Keychain{
		{URI: srv.URL, AuthType: keychain.HTTPForm, Params: map[string]string{
			"auth_uri": srv.URL + "/login",
			"username": "bob",
			"password": "wrong",
		}},
	}
	reg := newTestRegistry(t)
	outcome, err := reg.Dispatch(context.Background(), srv.URL+"/form", filepath.Join(t.TempDir(), "f"), keys)
	if outcome != Failed || err == nil {
		t.Errorf("got %s, %v, expected failure", outcome, err)
	}
}

func TestRedirectDropsCredentials(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") != "" {
			w.WriteHeader(400)
			return
		}
		fmt.Fprint(w, "elsewhere")
	}))
	defer other.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, other.URL+"/x", http.StatusFound)
	}))
	defer srv.Close()
	keys := keychain.Keychain{
		{URI: srv.URL, AuthType: keychain.BearerToken, Params: map[string]string{"token": "tok"}},
	}
	reg := newTestRegistry(t)
	dest := filepath.Join(t.TempDir(), "f")
	outcome, err := reg.Dispatch(context.Background(), srv.URL+"/start", dest, keys)
	if outcome != Fetched {
		t.Fatalf("got %s, %v", outcome, err)
	}
	if got := fileContents(t, dest); got != "elsewhere" {
		t.Errorf("got %q", got)
	}
}

func TestReadTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-req.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()
	cfg := testConfig
	cfg.ReadTimeout = 50 * time.Millisecond
	cfg.Retries = 0
	reg, err := NewRegistry(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()
	dest := filepath.Join(t.TempDir(), "f")
	outcome, err := reg.Dispatch(context.Background(), srv.URL, dest, nil)
	if outcome != Failed || !isTimeout(err) {
		t.Errorf("got %s, %v, expected a timeout", outcome, err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("partial file left at destination")
	}
}
