package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/certifi/gocertifi"
	"github.com/pkg/errors"

	"github.com/ndlib/holey/keychain"
)

// the auth types the HTTP handler understands
var httpAuthTypes = []keychain.AuthType{
	keychain.HTTPBasic,
	keychain.HTTPForm,
	keychain.BearerToken,
	keychain.Cookie,
}

type httpHandler struct {
	cfg      Config
	sessions *Sessions
}

// an httpSession is a client for one host and set of credentials. Form
// logins leave their cookies in the client's jar.
type httpSession struct {
	client *http.Client
}

func (s *httpSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// NewHTTPClient returns a client with the connect and read timeouts of cfg,
// for other packages making requests on behalf of a fetch.
func NewHTTPClient(cfg Config) (*http.Client, error) {
	return newHTTPClient(cfg)
}

// newHTTPClient returns a client using the configured timeouts. Credentials
// set on a request are not sent on to a different host when redirected.
func newHTTPClient(cfg Config) (*http.Client, error) {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		IdleConnTimeout:       90 * time.Second,
	}
	if cfg.BundledRoots {
		roots, err := gocertifi.CACerts()
		if err != nil {
			return nil, errors.Wrap(err, "loading bundled CA roots")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: roots}
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: tr,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			if req.URL.Host != via[0].URL.Host {
				req.Header.Del("Authorization")
				req.Header.Del("Cookie")
			}
			return nil
		},
	}, nil
}

func (h *httpHandler) session(ctx context.Context, key string, entry keychain.Entry, hasAuth bool) (*httpSession, error) {
	s, err := h.sessions.Get(key, func() (io.Closer, error) {
		client, err := newHTTPClient(h.cfg)
		if err != nil {
			return nil, err
		}
		if hasAuth && entry.AuthType == keychain.HTTPForm {
			if err := formLogin(ctx, client, entry); err != nil {
				return nil, err
			}
		}
		return &httpSession{client: client}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.(*httpSession), nil
}

// formLogin posts the username and password to the entry's auth_uri. The
// form field names default to "username" and "password".
func formLogin(ctx context.Context, client *http.Client, entry keychain.Entry) error {
	userField := entry.Param("username_field")
	if userField == "" {
		userField = "username"
	}
	passField := entry.Param("password_field")
	if passField == "" {
		passField = "password"
	}
	form := url.Values{}
	form.Set(userField, entry.Param("username"))
	form.Set(passField, entry.Param("password"))
	req, err := http.NewRequestWithContext(ctx, "POST", entry.Param("auth_uri"), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "form login")
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return errors.Wrapf(ErrStatus, "form login %s: %s", entry.Param("auth_uri"), resp.Status)
	}
	return nil
}

// authorize adds the entry's credentials to req.
func authorize(req *http.Request, entry keychain.Entry) {
	switch entry.AuthType {
	case keychain.HTTPBasic:
		req.SetBasicAuth(entry.Param("username"), entry.Param("password"))
	case keychain.BearerToken:
		req.Header.Set("Authorization", "Bearer "+entry.Param("token"))
	case keychain.Cookie:
		req.Header.Add("Cookie", entry.Param("cookie"))
	}
}

func (h *httpHandler) Fetch(ctx context.Context, u *url.URL, dest string, keys keychain.Keychain) (Outcome, error) {
	entry, hasAuth := keys.Select(u.String(), httpAuthTypes...)
	key := "http:" + u.Host + "|" + entry.URI
	reauthed := false
	retry := newBackoff(h.cfg)
	for {
		sess, err := h.session(ctx, key, entry, hasAuth)
		if err != nil {
			return Failed, err
		}
		status, err := h.get(ctx, sess, u, dest, entry, hasAuth)
		switch {
		case err == nil:
			return Fetched, nil
		case status == http.StatusUnauthorized && hasAuth && !reauthed:
			// the session may have expired. log in again, once.
			h.sessions.Drop(key)
			reauthed = true
			continue
		case (isTimeout(err) || h.cfg.retryCode(status)) && retry.wait(ctx):
			continue
		}
		return Failed, err
	}
}

// get makes one attempt at downloading u. It returns the response status,
// or 0 if there was no response.
func (h *httpHandler) get(ctx context.Context, sess *httpSession, u *url.URL, dest string, entry keychain.Entry, hasAuth bool) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return 0, err
	}
	if hasAuth {
		authorize(req, entry)
	}
	resp, err := sess.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, errors.Wrapf(ErrStatus, "GET %s: %s", u, resp.Status)
	}
	body := newIdleReader(resp.Body, h.cfg.ReadTimeout, cancel)
	defer body.stop()
	_, err = writeFile(dest, body)
	if err != nil && body.expired() {
		err = errors.Wrapf(context.DeadlineExceeded, "GET %s: no data for %s", u, h.cfg.ReadTimeout)
	}
	return resp.StatusCode, err
}

// idleReader cancels a transfer when no data arrives for the timeout.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer

	m    sync.Mutex
	done bool
}

func newIdleReader(r io.Reader, timeout time.Duration, cancel func()) *idleReader {
	ir := &idleReader{r: r, timeout: timeout}
	ir.timer = time.AfterFunc(timeout, func() {
		ir.m.Lock()
		ir.done = true
		ir.m.Unlock()
		cancel()
	})
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.timeout)
	}
	return n, err
}

func (ir *idleReader) stop() {
	ir.timer.Stop()
}

func (ir *idleReader) expired() bool {
	ir.m.Lock()
	defer ir.m.Unlock()
	return ir.done
}
