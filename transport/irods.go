package transport

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/ndlib/holey/keychain"
)

// An irodsHandler reads data objects through the iRODS HTTP API. URLs have
// the form irods://host/zone/path/to/object. The API is expected at
// https://host/irods-http-api/0.5.0 unless the keychain entry gives an "api"
// base URL.
type irodsHandler struct {
	cfg      Config
	sessions *Sessions
}

// an irodsSession holds the bearer token returned by the API.
type irodsSession struct {
	client *http.Client
	base   string
	token  string
}

func (s *irodsSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func irodsBase(u *url.URL, entry keychain.Entry) string {
	if api := entry.Param("api"); api != "" {
		return strings.TrimSuffix(api, "/")
	}
	return "https://" + u.Host + "/irods-http-api/0.5.0"
}

func (h *irodsHandler) login(ctx context.Context, u *url.URL, entry keychain.Entry) (*irodsSession, error) {
	client, err := newHTTPClient(h.cfg)
	if err != nil {
		return nil, err
	}
	client.Jar = nil
	base := irodsBase(u, entry)
	req, err := http.NewRequestWithContext(ctx, "POST", base+"/authenticate", nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(entry.Param("username"), entry.Param("password"))
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "irods authenticate")
	}
	defer resp.Body.Close()
	token, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, errors.Wrap(err, "irods authenticate")
	}
	if resp.StatusCode/100 != 2 {
		return nil, errors.Wrapf(ErrStatus, "irods authenticate: %s", resp.Status)
	}
	return &irodsSession{client: client, base: base, token: strings.TrimSpace(string(token))}, nil
}

func (h *irodsHandler) Fetch(ctx context.Context, u *url.URL, dest string, keys keychain.Keychain) (Outcome, error) {
	entry, ok := keys.Select(u.String(), keychain.IRODS)
	if !ok {
		return Failed, errors.Errorf("%s: no irods credentials", u)
	}
	key := "irods:" + u.Host + "|" + entry.URI
	reauthed := false
	retry := newBackoff(h.cfg)
	for {
		s, err := h.sessions.Get(key, func() (io.Closer, error) {
			return h.login(ctx, u, entry)
		})
		if err != nil {
			return Failed, err
		}
		status, err := h.read(ctx, s.(*irodsSession), u.Path, dest)
		switch {
		case err == nil:
			return Fetched, nil
		case status == http.StatusUnauthorized && !reauthed:
			h.sessions.Drop(key)
			reauthed = true
			continue
		case (isTimeout(err) || h.cfg.retryCode(status)) && retry.wait(ctx):
			continue
		}
		return Failed, err
	}
}

func (h *irodsHandler) read(ctx context.Context, s *irodsSession, lpath, dest string) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	q := url.Values{}
	q.Set("op", "read")
	q.Set("lpath", lpath)
	req, err := http.NewRequestWithContext(ctx, "GET", s.base+"/data-objects?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return resp.StatusCode, errors.Wrapf(ErrStatus, "irods read %s: %s", lpath, resp.Status)
	}
	body := newIdleReader(resp.Body, h.cfg.ReadTimeout, cancel)
	defer body.stop()
	_, err = writeFile(dest, body)
	if err != nil && body.expired() {
		err = errors.Wrapf(context.DeadlineExceeded, "irods read %s", lpath)
	}
	return resp.StatusCode, err
}
