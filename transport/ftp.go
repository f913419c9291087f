package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"

	"github.com/ndlib/holey/keychain"
)

type ftpHandler struct {
	cfg      Config
	sessions *Sessions
}

// an ftpSession is a logged in control connection. Only one transfer can
// use it at a time.
type ftpSession struct {
	m    sync.Mutex
	conn *ftp.ServerConn
}

func (s *ftpSession) Close() error {
	return s.conn.Quit()
}

// deadlineConn gives each read and write on a connection its own deadline,
// so a server which stops sending fails the transfer instead of holding
// the session forever.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if c.timeout > 0 {
		c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Write(p)
}

// ftpDialer returns the dial function used for both the control and the
// data connections.
func ftpDialer(cfg Config) func(network, address string) (net.Conn, error) {
	d := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return func(network, address string) (net.Conn, error) {
		conn, err := d.Dial(network, address)
		if err != nil {
			return nil, err
		}
		return &deadlineConn{Conn: conn, timeout: cfg.ReadTimeout}, nil
	}
}

// ftpAddr returns host:port for u, using the default FTP port if none is
// given.
func ftpAddr(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), "21")
}

// ftpLogin returns the user and password to use for u. Credentials in the
// URL come first, then the keychain, and anonymous access otherwise.
func ftpLogin(u *url.URL, keys keychain.Keychain) (string, string, string) {
	if u.User != nil {
		pass, _ := u.User.Password()
		return u.User.Username(), pass, "url"
	}
	if e, ok := keys.Select(u.String(), keychain.FTPBasic); ok {
		return e.Param("username"), e.Param("password"), e.URI
	}
	return "anonymous", "anonymous@", ""
}

func (h *ftpHandler) Fetch(ctx context.Context, u *url.URL, dest string, keys keychain.Keychain) (Outcome, error) {
	user, pass, source := ftpLogin(u, keys)
	key := "ftp:" + u.Host + "|" + user + "|" + source
	retry := newBackoff(h.cfg)
	for {
		err := h.fetch(ctx, key, u, dest, user, pass)
		if err == nil {
			return Fetched, nil
		}
		if !isTimeout(err) {
			return Failed, err
		}
		// a timed out control connection is not reused
		h.sessions.Drop(key)
		if !retry.wait(ctx) {
			return Failed, err
		}
	}
}

func (h *ftpHandler) fetch(ctx context.Context, key string, u *url.URL, dest, user, pass string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := h.sessions.Get(key, func() (io.Closer, error) {
		opts := []ftp.DialOption{
			ftp.DialWithDialFunc(ftpDialer(h.cfg)),
		}
		if u.Scheme == "ftps" {
			opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: u.Hostname()}))
		}
		conn, err := ftp.Dial(ftpAddr(u), opts...)
		if err != nil {
			return nil, errors.Wrapf(err, "ftp dial %s", u.Host)
		}
		if err := conn.Login(user, pass); err != nil {
			conn.Quit()
			return nil, errors.Wrapf(err, "ftp login %s", u.Host)
		}
		return &ftpSession{conn: conn}, nil
	})
	if err != nil {
		return err
	}
	sess := s.(*ftpSession)
	sess.m.Lock()
	defer sess.m.Unlock()
	resp, err := sess.conn.Retr(u.Path)
	if err != nil {
		return errors.Wrapf(err, "ftp retr %s", u)
	}
	_, err = writeFile(dest, resp)
	if cerr := resp.Close(); err == nil {
		err = cerr
	}
	return err
}
