// Package transport copies remote files onto the local disk.
//
// Each URL scheme is served by a Handler. The Registry maps schemes to
// handlers, chooses credentials for them from a keychain, and keeps a cache
// of sessions (HTTP clients, FTP connections, cloud SDK clients) keyed by
// the authority they talk to, so a batch of fetches from one place reuses a
// single connection. Call Registry.Close at the end of a batch to release
// the sessions.
//
// Handlers never return partial files. Data is streamed into a part file
// next to the destination, and only renamed into place once it has been
// completely received.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/facebookgo/stats"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ndlib/holey/keychain"
)

// An Outcome is the result of fetching one file.
type Outcome int

const (
	// Failed means the file was not retrieved.
	Failed Outcome = iota
	// Fetched means the destination now holds the remote file.
	Fetched
	// Deferred means the entry cannot be retrieved automatically, for
	// example because it records where a file came from outside of any
	// system we can talk to. It is not a failure.
	Deferred
)

func (o Outcome) String() string {
	switch o {
	case Fetched:
		return "fetched"
	case Deferred:
		return "deferred"
	}
	return "failed"
}

// A Handler retrieves files for one or more URL schemes.
type Handler interface {
	// Fetch copies the file at u into the local path dest, using
	// credentials from keys if the remote needs them. Parent directories
	// of dest are created as needed.
	Fetch(ctx context.Context, u *url.URL, dest string, keys keychain.Keychain) (Outcome, error)
}

// A Kind identifies one of the built in handlers.
type Kind int

// The built in handlers.
const (
	KindHTTP Kind = iota + 1
	KindFTP
	KindS3
	KindGCS
	KindGlobus
	KindIRODS
	KindTag
)

var kindNames = map[string]Kind{
	"http":   KindHTTP,
	"ftp":    KindFTP,
	"s3":     KindS3,
	"gcs":    KindGCS,
	"globus": KindGlobus,
	"irods":  KindIRODS,
	"tag":    KindTag,
}

// ParseKind returns the Kind with the given name.
func ParseKind(s string) (Kind, error) {
	k, ok := kindNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownKind, "%q", s)
	}
	return k, nil
}

func (k Kind) String() string {
	for name, v := range kindNames {
		if v == k {
			return name
		}
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// defaultSchemes maps URL schemes to the handler serving them.
var defaultSchemes = map[string]Kind{
	"http":   KindHTTP,
	"https":  KindHTTP,
	"ftp":    KindFTP,
	"ftps":   KindFTP,
	"s3":     KindS3,
	"gs":     KindGCS,
	"globus": KindGlobus,
	"irods":  KindIRODS,
	"tag":    KindTag,
}

var (
	// ErrNoHandler means no handler is registered for a URL's scheme.
	ErrNoHandler = errors.New("no handler for scheme")

	// ErrUnknownKind means a configured handler kind does not exist.
	ErrUnknownKind = errors.New("unknown handler kind")

	// ErrStatus means a server answered with a status that is not success.
	ErrStatus = errors.New("unexpected status")
)

// Config holds the settings shared by the handlers.
type Config struct {
	// ConnectTimeout bounds establishing a connection. ReadTimeout bounds
	// waiting for a response and any pause while receiving data.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// Retries is the number of times a failed transfer is retried when
	// the failure is transient. Backoff is the delay before the first
	// retry; it doubles after each one.
	Retries int
	Backoff time.Duration

	// RetryCodes are the HTTP status codes treated as transient.
	RetryCodes []int

	// BundledRoots verifies TLS servers against a bundled copy of the
	// Mozilla CA list instead of the system roots.
	BundledRoots bool

	// Schemes adds to or replaces the scheme to handler mapping. The
	// values are handler kind names, e.g. "http" or "s3".
	Schemes map[string]string

	// GlobusAPI is the base URL of the Globus Transfer API and
	// GlobusPoll how often a submitted task is checked.
	GlobusAPI  string
	GlobusPoll time.Duration

	// Clock is used for backoff delays and polling. Stats receives
	// counters for every fetch. Both may be nil.
	Clock clock.Clock
	Stats stats.Client
}

// Default values for unset Config fields.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultReadTimeout    = 60 * time.Second
	DefaultRetries        = 3
	DefaultBackoff        = time.Second
	DefaultGlobusAPI      = "https://transfer.api.globus.org/v0.10"
	DefaultGlobusPoll     = 10 * time.Second
)

// DefaultRetryCodes are the HTTP status codes retried when none are given.
var DefaultRetryCodes = []int{500, 502, 503, 504}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.RetryCodes == nil {
		c.RetryCodes = DefaultRetryCodes
	}
	if c.GlobusAPI == "" {
		c.GlobusAPI = DefaultGlobusAPI
	}
	if c.GlobusPoll <= 0 {
		c.GlobusPoll = DefaultGlobusPoll
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

func (c Config) retryCode(status int) bool {
	for _, code := range c.RetryCodes {
		if code == status {
			return true
		}
	}
	return false
}

// backoff tracks the retries of a single transfer.
type backoff struct {
	cfg     Config
	attempt int
	delay   time.Duration
}

func newBackoff(cfg Config) *backoff {
	return &backoff{cfg: cfg, delay: cfg.Backoff}
}

// wait sleeps before the next attempt. It returns false if no attempts are
// left or the context was cancelled while waiting.
func (b *backoff) wait(ctx context.Context) bool {
	if b.attempt >= b.cfg.Retries {
		return false
	}
	b.attempt++
	select {
	case <-b.cfg.Clock.After(b.delay):
	case <-ctx.Done():
		return false
	}
	b.delay *= 2
	return true
}

// isTimeout returns true for network timeouts, which are always retried.
func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// writeFile streams r into dest. The data goes into a uniquely named part
// file in the same directory which is renamed over dest once complete. The
// number of bytes written is returned.
func writeFile(dest string, r io.Reader) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return 0, err
	}
	part := filepath.Join(dir, "."+filepath.Base(dest)+".part-"+uuid.New().String())
	f, err := os.OpenFile(part, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(part, dest)
	}
	if err != nil {
		os.Remove(part)
		return n, err
	}
	return n, nil
}

// objectPath splits a URL of the form scheme://bucket/key into its bucket
// and key.
func objectPath(u *url.URL) (string, string, error) {
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", errors.Errorf("%s: expected %s://bucket/key", u, u.Scheme)
	}
	return u.Host, key, nil
}
