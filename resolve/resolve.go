// Package resolve turns persistent identifiers such as ARKs, minids and
// DOIs into the URLs where their content can be retrieved.
//
// A Chain holds the resolver services for each identifier scheme. To
// resolve an identifier, the services registered for its scheme are
// checked in order and the first whose prefix occurs in the identifier is
// used. If none matches, the first service for the scheme without a prefix
// is used. Template services just join their endpoint and the identifier
// without making a request; the other kinds query the service and parse
// the JSON reply.
package resolve

import (
	"context"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// A Kind selects how a service's response is interpreted.
type Kind int

// The service kinds.
const (
	KindTemplate Kind = iota + 1
	KindMinid
	KindDataGUID
	KindDataCite
)

var kindNames = map[string]Kind{
	"template": KindTemplate,
	"minid":    KindMinid,
	"dataguid": KindDataGUID,
	"datacite": KindDataCite,
}

// ParseKind returns the Kind having the given name.
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
	return "unknown"
}

var (
	// ErrUnknownKind means a service was configured with a kind that
	// does not exist.
	ErrUnknownKind = errors.New("unknown resolver kind")

	// ErrNoResolver means no service is registered for an identifier.
	ErrNoResolver = errors.New("no resolver for identifier")
)

// A Service is one resolver for a scheme.
type Service struct {
	Scheme   string // e.g. "ark"
	Prefix   string // chooses this service when found in the identifier
	Endpoint string // base URL
	Kind     Kind
}

// A Location is one place the content of an identifier may be found.
// Length is -1 if the service did not say.
type Location struct {
	URL       string
	Length    int64
	Checksums map[string]string
}

// DefaultServices are used when no resolvers are configured.
var DefaultServices = []Service{
	{Scheme: "ark", Prefix: "57799/", Endpoint: "https://identifiers.org/", Kind: KindMinid},
	{Scheme: "ark", Prefix: "99999/fk4", Endpoint: "https://identifiers.org/", Kind: KindMinid},
	{Scheme: "ark", Endpoint: "https://n2t.net/", Kind: KindTemplate},
	{Scheme: "minid", Endpoint: "https://identifiers.org/", Kind: KindMinid},
	{Scheme: "doi", Endpoint: "https://doi.org/", Kind: KindDataCite},
	{Scheme: "dg", Endpoint: "https://dataguid.org/index/", Kind: KindDataGUID},
}

// A Chain resolves identifiers through the services registered for their
// scheme.
type Chain struct {
	client   *http.Client
	services map[string][]Service // by lowercase scheme, in order
}

// Timeouts of the client NewChain makes when given none.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultReadTimeout    = time.Minute
)

func defaultClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   DefaultConnectTimeout,
			ResponseHeaderTimeout: DefaultReadTimeout,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// NewChain returns a chain holding services. Services keep their order
// within a scheme. A nil client means one with DefaultConnectTimeout and
// DefaultReadTimeout. An error is returned if a service has no scheme or an
// unknown kind.
func NewChain(services []Service, client *http.Client) (*Chain, error) {
	if client == nil {
		client = defaultClient()
	}
	c := &Chain{client: client, services: make(map[string][]Service)}
	for _, s := range services {
		if _, ok := parsers[s.Kind]; !ok {
			return nil, errors.Wrapf(ErrUnknownKind, "%s resolver %s", s.Scheme, s.Endpoint)
		}
		scheme := strings.ToLower(s.Scheme)
		if scheme == "" {
			return nil, errors.Errorf("resolver %s has no scheme", s.Endpoint)
		}
		c.services[scheme] = append(c.services[scheme], s)
	}
	return c, nil
}

// Handles returns true if identifiers with the given scheme are resolved
// by this chain rather than fetched directly.
func (c *Chain) Handles(scheme string) bool {
	_, ok := c.services[strings.ToLower(scheme)]
	return ok
}

// splitIdentifier returns the scheme of id and the part after the colon.
func splitIdentifier(id string) (string, string) {
	i := strings.Index(id, ":")
	if i <= 0 {
		return "", id
	}
	return strings.ToLower(id[:i]), id[i+1:]
}

// choose returns the service to use for id.
func (c *Chain) choose(scheme, rest string) (Service, bool) {
	candidates := c.services[scheme]
	for _, s := range candidates {
		if s.Prefix != "" && strings.Contains(rest, s.Prefix) {
			return s, true
		}
	}
	for _, s := range candidates {
		if s.Prefix == "" {
			return s, true
		}
	}
	return Service{}, false
}

// Resolve returns the locations for id, in the order the service gave them.
// An error is returned when no service handles the identifier or the
// service could not be reached. A response that cannot be understood is
// logged and gives no locations, which is not an error.
func (c *Chain) Resolve(ctx context.Context, id string) ([]Location, error) {
	scheme, rest := splitIdentifier(id)
	s, ok := c.choose(scheme, rest)
	if !ok {
		return nil, errors.Wrapf(ErrNoResolver, "%q", id)
	}
	if s.Kind == KindTemplate {
		return []Location{{URL: s.Endpoint + id, Length: -1}}, nil
	}
	p := parsers[s.Kind]
	target := s.Endpoint + id
	if p.bare {
		target = s.Endpoint + strings.TrimLeft(rest, "/")
	}
	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", p.accept)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", id)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("resolving %s: %s returned %s", id, target, resp.Status)
	}
	locs, err := p.parse(resp.Body)
	if err != nil {
		log.Printf("resolve: %s: cannot parse response from %s: %s", id, target, err)
		return nil, nil
	}
	if len(locs) == 0 {
		log.Printf("resolve: %s: no locations in response from %s", id, target)
	}
	return locs, nil
}
