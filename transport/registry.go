package transport

import (
	"context"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/facebookgo/stats"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/ndlib/holey/keychain"
)

// A Registry dispatches fetches to the handler for each URL scheme.
type Registry struct {
	cfg      Config
	sessions *Sessions

	m        sync.RWMutex       // protects handlers
	handlers map[string]Handler // keyed by lowercase scheme
}

// NewRegistry returns a registry with a handler for every default scheme and
// for the schemes in cfg.Schemes. An error is returned if cfg.Schemes names
// a handler kind that does not exist.
func NewRegistry(cfg Config) (*Registry, error) {
	cfg = cfg.withDefaults()
	r := &Registry{
		cfg:      cfg,
		sessions: NewSessions(),
		handlers: make(map[string]Handler),
	}
	schemes := make(map[string]Kind)
	for scheme, kind := range defaultSchemes {
		schemes[scheme] = kind
	}
	for scheme, name := range cfg.Schemes {
		kind, err := ParseKind(name)
		if err != nil {
			return nil, errors.Wrapf(err, "scheme %s", scheme)
		}
		schemes[strings.ToLower(scheme)] = kind
	}
	for scheme, kind := range schemes {
		r.handlers[scheme] = r.newHandler(kind)
	}
	return r, nil
}

func (r *Registry) newHandler(kind Kind) Handler {
	switch kind {
	case KindHTTP:
		return &httpHandler{cfg: r.cfg, sessions: r.sessions}
	case KindFTP:
		return &ftpHandler{cfg: r.cfg, sessions: r.sessions}
	case KindS3:
		return &s3Handler{cfg: r.cfg, sessions: r.sessions}
	case KindGCS:
		return &gcsHandler{cfg: r.cfg, sessions: r.sessions}
	case KindGlobus:
		return &globusHandler{cfg: r.cfg, sessions: r.sessions}
	case KindIRODS:
		return &irodsHandler{cfg: r.cfg, sessions: r.sessions}
	}
	return tagHandler{}
}

// Register sets the handler for scheme, replacing any existing one.
func (r *Registry) Register(scheme string, h Handler) {
	r.m.Lock()
	r.handlers[strings.ToLower(scheme)] = h
	r.m.Unlock()
}

// Handles returns true if there is a handler for scheme.
func (r *Registry) Handles(scheme string) bool {
	r.m.RLock()
	defer r.m.RUnlock()
	_, ok := r.handlers[strings.ToLower(scheme)]
	return ok
}

// Sessions returns the session cache shared by the built in handlers.
func (r *Registry) Sessions() *Sessions {
	return r.sessions
}

// Dispatch fetches rawurl into dest with the handler for its scheme. A
// scheme without a handler gives ErrNoHandler. Failures are logged and
// reported here, so callers can go on to the next file.
func (r *Registry) Dispatch(ctx context.Context, rawurl string, dest string, keys keychain.Keychain) (Outcome, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		r.failed(rawurl, err)
		return Failed, err
	}
	r.m.RLock()
	h, ok := r.handlers[strings.ToLower(u.Scheme)]
	r.m.RUnlock()
	if !ok {
		err = errors.Wrapf(ErrNoHandler, "%q", u.Scheme)
		log.Printf("fetch: warning: %s: %s", rawurl, err)
		stats.BumpSum(r.cfg.Stats, "fetch.failed", 1)
		return Failed, err
	}
	outcome, err := h.Fetch(ctx, u, dest, keys)
	if err == nil && outcome == Failed {
		err = errors.Errorf("%s: fetch failed", rawurl)
	}
	switch {
	case err != nil:
		r.failed(rawurl, err)
		return Failed, err
	case outcome == Deferred:
		log.Printf("fetch: %s cannot be retrieved automatically", rawurl)
		stats.BumpSum(r.cfg.Stats, "fetch.deferred", 1)
	default:
		stats.BumpSum(r.cfg.Stats, "fetch.ok", 1)
		if fi, err := os.Stat(dest); err == nil {
			stats.BumpSum(r.cfg.Stats, "fetch.bytes", float64(fi.Size()))
		}
	}
	return outcome, nil
}

func (r *Registry) failed(rawurl string, err error) {
	log.Println("fetch:", rawurl, err)
	stats.BumpSum(r.cfg.Stats, "fetch.failed", 1)
	raven.CaptureError(err, map[string]string{"URL": rawurl})
}

// Close releases every cached session.
func (r *Registry) Close() error {
	return r.sessions.Close()
}

// tagHandler serves the tag scheme. Tag URLs record provenance and are
// never transferred.
type tagHandler struct{}

func (tagHandler) Fetch(ctx context.Context, u *url.URL, dest string, keys keychain.Keychain) (Outcome, error) {
	return Deferred, nil
}
